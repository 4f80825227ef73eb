package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dreschagin/desertyard/internal/application/usecase"
	"github.com/dreschagin/desertyard/pkg/logger"
)

// SnapshotIndexReader отдает сериализованный индекс снимков
type SnapshotIndexReader interface {
	Execute(ctx context.Context) ([]byte, error)
}

// SnapshotIndexHandler обслуживает GET / и GET /imgs
type SnapshotIndexHandler struct {
	index  SnapshotIndexReader
	origin string
	maxAge time.Duration
	logger *logger.Logger
}

// NewSnapshotIndexHandler создает handler индекса. Пустой origin означает "*".
func NewSnapshotIndexHandler(index SnapshotIndexReader, origin string, maxAge time.Duration, log *logger.Logger) *SnapshotIndexHandler {
	if origin == "" {
		origin = "*"
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &SnapshotIndexHandler{
		index:  index,
		origin: origin,
		maxAge: maxAge,
		logger: log,
	}
}

func (h *SnapshotIndexHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/imgs" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = fmt.Fprintf(w, "Not found: %s", r.URL.Path)
		return
	}

	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.serveIndex(w, r)
}

func (h *SnapshotIndexHandler) serveIndex(w http.ResponseWriter, r *http.Request) {
	body, err := h.index.Execute(r.Context())
	if err != nil {
		if errors.Is(err, usecase.ErrIndexNotFound) {
			h.setIndexHeaders(w)
			w.WriteHeader(http.StatusNoContent)
			return
		}

		h.logger.Error("Failed to serve snapshot index", err, "path", r.URL.Path)
		h.setIndexHeaders(w)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.setIndexHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *SnapshotIndexHandler) setIndexHeaders(w http.ResponseWriter) {
	header := w.Header()
	header.Set("Access-Control-Allow-Methods", "GET")
	header.Set("Access-Control-Allow-Origin", h.origin)
	header.Set("Access-Control-Max-Age", strconv.Itoa(int(h.maxAge/time.Second)))
	header.Set("Cache-Control", usecase.IndexCacheControl)
}
