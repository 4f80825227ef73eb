package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dreschagin/desertyard/internal/application/dto"
	"github.com/dreschagin/desertyard/internal/application/port"
	"github.com/dreschagin/desertyard/internal/domain/entity"
	"github.com/dreschagin/desertyard/internal/domain/service"
	"github.com/dreschagin/desertyard/internal/domain/valueobject"
	"github.com/dreschagin/desertyard/pkg/logger"
)

const (
	// SnapshotCacheControl - снимки неизменяемы, CDN может держать их неделю
	SnapshotCacheControl = "max-age=604800, public"
	SnapshotContentType  = "image/jpeg"

	// SnapshotStoredSubject - subject события о новом снимке по умолчанию
	SnapshotStoredSubject = "desertyard.snapshot.stored"

	defaultMaxAttempts    = 5
	defaultPostRunTimeout = 30 * time.Second
)

// attemptState - состояние цикла повторов одного источника
type attemptState int

const (
	stateAttempting attemptState = iota
	stateSucceeded
	stateExhausted
)

// CaptureSnapshotsConfig параметры pipeline.
// PostRunTimeout ограничивает побочные шаги после записи (журнал, события, метрики, индекс)
type CaptureSnapshotsConfig struct {
	MaxAttempts    int
	RetryDelay     time.Duration
	EventSubject   string
	PostRunTimeout time.Duration
}

// CaptureSnapshotsDeps - опциональные зависимости pipeline.
// Любая может быть nil; их ошибки логируются и не влияют на результат захвата
type CaptureSnapshotsDeps struct {
	DigestCache  port.DigestCache
	Ledger       port.SnapshotLedger
	Events       port.EventPublisher
	Metrics      port.MetricsPublisher
	Observer     port.CaptureObserver
	IndexBuilder *BuildSnapshotIndexUseCase
}

// SourceCaptureResult - итог обработки одного источника
type SourceCaptureResult struct {
	SourceID  string
	Outcome   port.CaptureOutcome
	Attempts  int
	Key       string
	SizeBytes int
	LastError error
}

// CaptureRunResult - итог запуска по всем источникам (в порядке registry)
type CaptureRunResult struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Sources    []SourceCaptureResult
}

// Count возвращает число источников с заданным исходом
func (r *CaptureRunResult) Count(outcome port.CaptureOutcome) int {
	n := 0
	for _, source := range r.Sources {
		if source.Outcome == outcome {
			n++
		}
	}
	return n
}

// CaptureSnapshotsUseCase загружает снимки всех источников и сохраняет их по content-addressed ключу
type CaptureSnapshotsUseCase struct {
	registry *service.SourceRegistry
	fetcher  port.ImageFetcher
	storage  port.SnapshotStorage
	deps     CaptureSnapshotsDeps
	config   CaptureSnapshotsConfig
	logger   *logger.Logger
	now      func() time.Time
}

// NewCaptureSnapshotsUseCase создает pipeline захвата
func NewCaptureSnapshotsUseCase(
	registry *service.SourceRegistry,
	fetcher port.ImageFetcher,
	storage port.SnapshotStorage,
	deps CaptureSnapshotsDeps,
	config CaptureSnapshotsConfig,
	log *logger.Logger,
) *CaptureSnapshotsUseCase {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaultMaxAttempts
	}
	if config.RetryDelay < 0 {
		config.RetryDelay = 0
	}
	if config.EventSubject == "" {
		config.EventSubject = SnapshotStoredSubject
	}
	if config.PostRunTimeout <= 0 {
		config.PostRunTimeout = defaultPostRunTimeout
	}
	return &CaptureSnapshotsUseCase{
		registry: registry,
		fetcher:  fetcher,
		storage:  storage,
		deps:     deps,
		config:   config,
		logger:   log,
		now:      time.Now,
	}
}

// Execute запускает захват всех источников параллельно и ждет завершения каждого.
// Неудача одного источника не прерывает остальные; ошибка возвращается только
// при неверной конфигурации
func (uc *CaptureSnapshotsUseCase) Execute(ctx context.Context) (*CaptureRunResult, error) {
	if uc.registry == nil || uc.fetcher == nil || uc.storage == nil {
		return nil, fmt.Errorf("capture pipeline is not configured")
	}

	sources := uc.registry.All()
	result := &CaptureRunResult{
		StartedAt: uc.now().UTC(),
		Sources:   make([]SourceCaptureResult, len(sources)),
	}

	// 1. Fan-out: одна горутина на источник, каждая пишет только свой слот
	var wg sync.WaitGroup
	for i, source := range sources {
		wg.Add(1)
		go func(i int, source entity.Source) {
			defer wg.Done()
			result.Sources[i] = uc.captureSource(ctx, source)
		}(i, source)
	}

	// 2. Fan-in: ждем все источники без short-circuit
	wg.Wait()
	result.FinishedAt = uc.now().UTC()

	uc.logger.Info("Capture run finished",
		"stored", result.Count(port.CaptureOutcomeStored),
		"unchanged", result.Count(port.CaptureOutcomeUnchanged),
		"failed", result.Count(port.CaptureOutcomeExhausted),
		"duration", result.FinishedAt.Sub(result.StartedAt).String(),
	)

	// 3. Дальнейшие шаги не зависят от отмены запуска: записанные объекты
	// должны попасть в метрики и индекс, даже если медленный источник съел дедлайн
	postCtx, cancel := uc.postRunContext(ctx)
	defer cancel()

	uc.publishRunMetrics(postCtx, result)

	// 4. Пересборка предвычисленного индекса (best-effort)
	if uc.deps.IndexBuilder != nil {
		if err := uc.deps.IndexBuilder.Persist(postCtx); err != nil {
			uc.logger.Error("Failed to rebuild snapshot index", err)
		}
	}

	return result, nil
}

func (uc *CaptureSnapshotsUseCase) postRunContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), uc.config.PostRunTimeout)
}

// captureSource выполняет цикл Attempting(n) -> Succeeded | Attempting(n+1) | Exhausted
func (uc *CaptureSnapshotsUseCase) captureSource(ctx context.Context, source entity.Source) SourceCaptureResult {
	res := SourceCaptureResult{SourceID: source.ID()}

	state := stateAttempting
	for state == stateAttempting {
		res.Attempts++

		outcome, key, size, err := uc.attempt(ctx, source)
		if uc.deps.Observer != nil {
			uc.deps.Observer.ObserveAttempt(source.ID(), err)
		}

		switch {
		case err == nil:
			res.Outcome, res.Key, res.SizeBytes, res.LastError = outcome, key, size, nil
			state = stateSucceeded
		case res.Attempts >= uc.config.MaxAttempts:
			res.LastError = err
			state = stateExhausted
		default:
			res.LastError = err
			uc.logger.Warn("Snapshot capture attempt failed",
				"source_id", source.ID(),
				"attempt", res.Attempts,
				"error", err.Error(),
			)
			if !uc.waitRetry(ctx) {
				state = stateExhausted
			}
		}
	}

	if state == stateExhausted {
		res.Outcome = port.CaptureOutcomeExhausted
		uc.logger.Error("Snapshot capture exhausted", res.LastError,
			"source_id", source.ID(),
			"attempts", res.Attempts,
		)
	}

	if uc.deps.Observer != nil {
		uc.deps.Observer.ObserveOutcome(source.ID(), res.Outcome, res.Attempts, res.SizeBytes)
	}
	if res.Outcome == port.CaptureOutcomeStored {
		storeCtx, cancel := uc.postRunContext(ctx)
		uc.afterStore(storeCtx, source, res)
		cancel()
	}

	return res
}

// attempt - одна попытка: загрузка, digest, запись
func (uc *CaptureSnapshotsUseCase) attempt(
	ctx context.Context,
	source entity.Source,
) (port.CaptureOutcome, string, int, error) {
	fetchedAt := uc.now().UTC()
	uc.logger.Info("Fetching snapshot",
		"source_id", source.ID(),
		"epoch", fetchedAt.Unix(),
	)

	data, err := uc.fetcher.Fetch(ctx, source.URL(), fetchedAt)
	if err != nil {
		return "", "", 0, err
	}
	capture := entity.Capture{SourceID: source.ID(), Data: data, FetchedAt: fetchedAt}
	uc.logger.Info("Downloaded snapshot",
		"source_id", capture.SourceID,
		"kib", len(capture.Data)/1024,
	)

	digest := valueobject.NewContentDigest(capture.Data)
	key := valueobject.BuildSnapshotKey(capture.SourceID, digest).String()

	if uc.sameAsLast(ctx, capture.SourceID, digest) {
		uc.logger.Debug("Snapshot unchanged, skipping upload",
			"source_id", capture.SourceID,
			"key", key,
		)
		return port.CaptureOutcomeUnchanged, key, len(capture.Data), nil
	}

	err = uc.storage.PutObject(ctx, key, capture.Data, port.PutOptions{
		ContentType:  SnapshotContentType,
		CacheControl: SnapshotCacheControl,
	})
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to upload %s: %w", key, err)
	}

	uc.logger.Info("Uploaded snapshot", "key", key)
	return port.CaptureOutcomeStored, key, len(capture.Data), nil
}

func (uc *CaptureSnapshotsUseCase) sameAsLast(ctx context.Context, sourceID string, digest valueobject.ContentDigest) bool {
	if uc.deps.DigestCache == nil {
		return false
	}
	last, ok, err := uc.deps.DigestCache.LastDigest(ctx, sourceID)
	if err != nil {
		uc.logger.Warn("Digest cache lookup failed", "source_id", sourceID, "error", err.Error())
		return false
	}
	return ok && last == digest.String()
}

// waitRetry ждет RetryDelay; false, если контекст отменен
func (uc *CaptureSnapshotsUseCase) waitRetry(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if uc.config.RetryDelay <= 0 {
		return true
	}

	timer := time.NewTimer(uc.config.RetryDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// afterStore обновляет кеш, журнал и публикует событие для записанного объекта
func (uc *CaptureSnapshotsUseCase) afterStore(ctx context.Context, source entity.Source, res SourceCaptureResult) {
	parsed, err := valueobject.ParseSnapshotKey(res.Key)
	if err != nil {
		uc.logger.Error("Stored snapshot has malformed key", err, "key", res.Key)
		return
	}
	digest := parsed.Digest().String()
	now := uc.now().UTC()

	if uc.deps.DigestCache != nil {
		if err := uc.deps.DigestCache.RememberDigest(ctx, source.ID(), digest); err != nil {
			uc.logger.Warn("Failed to remember digest", "source_id", source.ID(), "error", err.Error())
		}
	}

	if uc.deps.Ledger != nil {
		created, err := uc.deps.Ledger.Record(ctx, port.SnapshotRecord{
			SourceID:    source.ID(),
			Key:         res.Key,
			Digest:      digest,
			SizeBytes:   int64(res.SizeBytes),
			FirstSeenAt: now,
		})
		if err != nil {
			uc.logger.Warn("Failed to record snapshot in ledger", "key", res.Key, "error", err.Error())
		} else if !created {
			uc.logger.Debug("Snapshot already present in ledger", "key", res.Key)
		}
	}

	if uc.deps.Events != nil {
		event := dto.NewSnapshotStoredEventDTO(source.ID(), res.Key, digest, res.SizeBytes, res.Attempts, now)
		if err := uc.deps.Events.PublishEvent(ctx, uc.config.EventSubject, event); err != nil {
			uc.logger.Warn("Failed to publish snapshot event", "key", res.Key, "error", err.Error())
		}
	}
}

func (uc *CaptureSnapshotsUseCase) publishRunMetrics(ctx context.Context, result *CaptureRunResult) {
	if uc.deps.Metrics == nil {
		return
	}

	ts := result.FinishedAt
	datums := make([]port.MetricDatum, 0, len(result.Sources)*3+1)
	for _, source := range result.Sources {
		dims := map[string]string{"SourceID": source.SourceID}
		stored := 0.0
		if source.Outcome == port.CaptureOutcomeStored {
			stored = 1
		}
		failed := 0.0
		if source.Outcome == port.CaptureOutcomeExhausted {
			failed = 1
		}
		datums = append(datums,
			port.MetricDatum{Name: "SnapshotsStored", Value: stored, Unit: "count", Dimensions: dims, Timestamp: ts},
			port.MetricDatum{Name: "CaptureFailures", Value: failed, Unit: "count", Dimensions: dims, Timestamp: ts},
			port.MetricDatum{Name: "CaptureAttempts", Value: float64(source.Attempts), Unit: "count", Dimensions: dims, Timestamp: ts},
		)
	}
	datums = append(datums, port.MetricDatum{
		Name:      "CaptureRunDuration",
		Value:     float64(result.FinishedAt.Sub(result.StartedAt).Milliseconds()),
		Unit:      "ms",
		Timestamp: ts,
	})

	if err := uc.deps.Metrics.PublishBatch(ctx, datums); err != nil {
		uc.logger.Warn("Failed to publish capture metrics", "error", err.Error())
	}
}
