package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dreschagin/desertyard/internal/application/usecase"
	"github.com/dreschagin/desertyard/internal/infrastructure/scheduler"
	"github.com/dreschagin/desertyard/pkg/logger"
)

// CaptureRunner описывает то, что handler'у нужно от раннера захвата
type CaptureRunner interface {
	Snapshot() scheduler.Status
	TryRunOnce(ctx context.Context) (*usecase.CaptureRunResult, error)
}

// NextRunFunc возвращает время следующего запуска по расписанию
type NextRunFunc func() time.Time

// CaptureHandler отдает health-пробы, статус и ручной запуск захвата
type CaptureHandler struct {
	runner     CaptureRunner
	nextRun    NextRunFunc
	staleAfter time.Duration
	logger     *logger.Logger
}

func NewCaptureHandler(runner CaptureRunner, nextRun NextRunFunc, staleAfter time.Duration, log *logger.Logger) *CaptureHandler {
	if nextRun == nil {
		nextRun = func() time.Time { return time.Time{} }
	}
	return &CaptureHandler{
		runner:     runner,
		nextRun:    nextRun,
		staleAfter: staleAfter,
		logger:     log,
	}
}

type sourceResultResponse struct {
	SourceID  string `json:"source_id"`
	Outcome   string `json:"outcome"`
	Attempts  int    `json:"attempts"`
	Key       string `json:"key,omitempty"`
	SizeBytes int    `json:"size_bytes,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

type captureRunResponse struct {
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	DurationMs int64                  `json:"duration_ms"`
	Sources    []sourceResultResponse `json:"sources"`
}

type captureStatusResponse struct {
	Schedule  string              `json:"schedule"`
	Running   bool                `json:"running"`
	Runs      int                 `json:"runs"`
	Uptime    string              `json:"uptime"`
	LastRunAt *time.Time          `json:"last_run_at,omitempty"`
	NextRunAt *time.Time          `json:"next_run_at,omitempty"`
	LastError string              `json:"last_error,omitempty"`
	LastRun   *captureRunResponse `json:"last_run,omitempty"`
}

func (h *CaptureHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := h.runner.Snapshot()
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "ok",
		"uptime":     time.Since(status.StartedAt).Round(time.Second).String(),
		"last_error": status.LastError,
	})
}

// Readyz готов после первого завершенного прогона и пока он не устарел
func (h *CaptureHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := h.runner.Snapshot()
	if status.LastRunAt.IsZero() {
		http.Error(w, "not ready: no completed capture run yet", http.StatusServiceUnavailable)
		return
	}
	if h.staleAfter > 0 && time.Since(status.LastRunAt) > h.staleAfter {
		http.Error(w, "not ready: stale capture run", http.StatusServiceUnavailable)
		return
	}
	if status.LastError != "" {
		http.Error(w, "not ready: last capture run failed", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *CaptureHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := h.runner.Snapshot()
	response := captureStatusResponse{
		Schedule:  status.Schedule,
		Running:   status.Running,
		Runs:      status.Runs,
		Uptime:    time.Since(status.StartedAt).Round(time.Second).String(),
		LastError: status.LastError,
		LastRun:   toCaptureRunResponse(status.LastResult),
	}
	if !status.LastRunAt.IsZero() {
		lastRun := status.LastRunAt.UTC()
		response.LastRunAt = &lastRun
	}
	if next := h.nextRun(); !next.IsZero() {
		next = next.UTC()
		response.NextRunAt = &next
	}

	writeJSON(w, http.StatusOK, response)
}

// RunNow запускает захват вне расписания. Параллельный запуск отклоняется с 409.
func (h *CaptureHandler) RunNow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Захват не должен обрываться вместе с HTTP запросом
	result, err := h.runner.TryRunOnce(context.WithoutCancel(r.Context()))
	if err != nil {
		if errors.Is(err, scheduler.ErrRunInProgress) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"status": "busy",
				"error":  err.Error(),
			})
			return
		}

		h.logger.Error("Manual capture run failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, toCaptureRunResponse(result))
}

func toCaptureRunResponse(result *usecase.CaptureRunResult) *captureRunResponse {
	if result == nil {
		return nil
	}

	sources := make([]sourceResultResponse, 0, len(result.Sources))
	for _, src := range result.Sources {
		lastError := ""
		if src.LastError != nil {
			lastError = src.LastError.Error()
		}
		sources = append(sources, sourceResultResponse{
			SourceID:  src.SourceID,
			Outcome:   string(src.Outcome),
			Attempts:  src.Attempts,
			Key:       src.Key,
			SizeBytes: src.SizeBytes,
			LastError: lastError,
		})
	}

	return &captureRunResponse{
		StartedAt:  result.StartedAt.UTC(),
		FinishedAt: result.FinishedAt.UTC(),
		DurationMs: result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
		Sources:    sources,
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(data)
}
