package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	// Application
	"github.com/dreschagin/desertyard/internal/application/port"
	"github.com/dreschagin/desertyard/internal/application/usecase"

	// Domain
	"github.com/dreschagin/desertyard/internal/domain/entity"
	"github.com/dreschagin/desertyard/internal/domain/service"
	"github.com/dreschagin/desertyard/internal/domain/valueobject"

	// Infrastructure
	redisCache "github.com/dreschagin/desertyard/internal/infrastructure/cache/redis"
	"github.com/dreschagin/desertyard/internal/infrastructure/fetcher"
	natsInfra "github.com/dreschagin/desertyard/internal/infrastructure/messaging/nats"
	"github.com/dreschagin/desertyard/internal/infrastructure/observability/cloudwatch"
	"github.com/dreschagin/desertyard/internal/infrastructure/observability/metrics"
	dynamodbRepo "github.com/dreschagin/desertyard/internal/infrastructure/persistence/dynamodb"
	s3storage "github.com/dreschagin/desertyard/internal/infrastructure/storage/s3"

	// Shared
	"github.com/dreschagin/desertyard/pkg/config"
	"github.com/dreschagin/desertyard/pkg/logger"
)

// app - собранный граф зависимостей, общий для всех команд
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	metrics  *metrics.Metrics
	registry *service.SourceRegistry
	capture  *usecase.CaptureSnapshotsUseCase
	builder  *usecase.BuildSnapshotIndexUseCase
	getIndex *usecase.GetSnapshotIndexUseCase

	closers []func(context.Context) error
}

// newApp собирает зависимости. Обязательны только источники и S3;
// остальные интеграции опциональны и при недоступности отключаются с предупреждением.
func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		log:     log,
		metrics: metrics.NewWithRuntime(),
	}

	// 1. Источники
	registry, err := buildRegistry(cfg.Capture.Sources)
	if err != nil {
		return nil, err
	}
	a.registry = registry

	mode := valueobject.IndexMode(cfg.Index.Mode)
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	order := valueobject.ListOrder(cfg.Index.Order)
	if err := order.Validate(); err != nil {
		return nil, err
	}

	// 2. CloudWatch Logs подключаем первым, чтобы дальнейшие сообщения тоже ушли в sink
	if cfg.CloudWatch.LogsEnabled {
		logsPublisher, initErr := cloudwatch.NewLogsPublisher(ctx, cloudwatch.LogsPublisherConfig{
			LogGroupName:    cfg.CloudWatch.LogGroupName,
			LogStreamName:   cfg.CloudWatch.LogStreamName,
			Region:          cfg.CloudWatch.Region,
			Endpoint:        cfg.CloudWatch.Endpoint,
			AccessKeyID:     cfg.CloudWatch.AccessKeyID,
			SecretAccessKey: cfg.CloudWatch.SecretAccessKey,
			BufferSize:      cfg.CloudWatch.LogsBufferSize,
			FlushInterval:   cfg.CloudWatch.LogsFlushInterval,
			AutoCreate:      true,
			OnError: func(err error) {
				fmt.Fprintf(os.Stderr, "cloudwatch logs flush failed: %v\n", err)
			},
		})
		if initErr != nil {
			return nil, fmt.Errorf("failed to initialize CloudWatch logs publisher: %w", initErr)
		}
		log.SetLogPublisher(logsPublisher)
		a.closers = append(a.closers, func(ctx context.Context) error {
			log.SetLogPublisher(nil)
			return logsPublisher.Close(ctx)
		})
		log.Info("CloudWatch logs publisher initialized", "group", cfg.CloudWatch.LogGroupName)
	}

	// 3. Хранилище снимков
	storage, err := s3storage.NewSnapshotStorage(ctx, s3storage.Config{
		Bucket:          cfg.S3.Bucket,
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		UsePathStyle:    cfg.S3.UsePathStyle,
		PageSize:        cfg.S3.PageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize snapshot storage: %w", err)
	}

	lister := usecase.NewListSnapshotsUseCase(storage, log)
	a.builder = usecase.NewBuildSnapshotIndexUseCase(registry, lister, storage, order, log)
	a.getIndex = usecase.NewGetSnapshotIndexUseCase(mode, order, a.builder, storage, log)

	// 4. Опциональные зависимости pipeline
	deps := usecase.CaptureSnapshotsDeps{Observer: a.metrics}
	if mode == valueobject.IndexModePrecomputed {
		deps.IndexBuilder = a.builder
	}

	if cfg.Redis.Enabled {
		cache, initErr := redisCache.NewDigestCache(ctx, redisCache.Config{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		if initErr != nil {
			log.Warn("Failed to connect to Redis, continuing without digest cache", "error", initErr.Error())
		} else {
			deps.DigestCache = cache
			a.closers = append(a.closers, func(context.Context) error { return cache.Close() })
			log.Info("Redis digest cache initialized", "addr", cfg.Redis.Host+":"+cfg.Redis.Port)
		}
	}

	if cfg.Dynamo.Enabled {
		ledger, initErr := dynamodbRepo.NewSnapshotLedgerRepository(ctx, dynamodbRepo.Config{
			TableName:       cfg.Dynamo.TableSnapshots,
			Region:          cfg.Dynamo.Region,
			Endpoint:        cfg.Dynamo.Endpoint,
			AccessKeyID:     cfg.Dynamo.AccessKeyID,
			SecretAccessKey: cfg.Dynamo.SecretAccessKey,
		})
		if initErr != nil {
			return nil, fmt.Errorf("failed to initialize snapshot ledger: %w", initErr)
		}
		deps.Ledger = ledger
		log.Info("DynamoDB snapshot ledger initialized", "table", cfg.Dynamo.TableSnapshots)
	}

	if cfg.NATS.Enabled {
		publisher, initErr := natsInfra.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.Stream, cfg.NATS.Subject, log)
		if initErr != nil {
			log.Warn("Failed to connect to NATS, continuing without event publishing", "error", initErr.Error())
		} else {
			deps.Events = publisher
			a.closers = append(a.closers, func(context.Context) error { return publisher.Close() })
			log.Info("NATS event publisher initialized", "url", cfg.NATS.URL, "stream", cfg.NATS.Stream)
		}
	}

	if cfg.CloudWatch.MetricsEnabled {
		metricsPublisher, initErr := cloudwatch.NewMetricsPublisher(ctx, cloudwatch.MetricsPublisherConfig{
			Namespace:         cfg.CloudWatch.MetricsNamespace,
			Region:            cfg.CloudWatch.Region,
			Endpoint:          cfg.CloudWatch.Endpoint,
			AccessKeyID:       cfg.CloudWatch.AccessKeyID,
			SecretAccessKey:   cfg.CloudWatch.SecretAccessKey,
			DefaultDimensions: map[string]string{"Service": "desertyard"},
			BufferSize:        cfg.CloudWatch.MetricsBufferSize,
			FlushInterval:     cfg.CloudWatch.MetricsFlushInterval,
			OnError: func(err error) {
				log.Error("CloudWatch metrics flush failed", err)
			},
		})
		if initErr != nil {
			return nil, fmt.Errorf("failed to initialize CloudWatch metrics publisher: %w", initErr)
		}
		deps.Metrics = metricsPublisher
		a.closers = append(a.closers, metricsPublisher.Close)
		log.Info("CloudWatch metrics publisher initialized", "namespace", cfg.CloudWatch.MetricsNamespace)
	}

	// 5. Pipeline захвата
	userAgent := cfg.Fetch.UserAgent
	if userAgent == "" {
		userAgent = fetcher.UserAgent(Commit)
	}
	imageFetcher := fetcher.NewHTTPImageFetcher(fetcher.Config{
		Timeout:   cfg.Fetch.Timeout,
		MaxBytes:  cfg.Fetch.MaxBytes,
		UserAgent: userAgent,
	}, log)

	a.capture = usecase.NewCaptureSnapshotsUseCase(
		registry,
		imageFetcher,
		storage,
		deps,
		usecase.CaptureSnapshotsConfig{
			MaxAttempts:    cfg.Capture.MaxAttempts,
			RetryDelay:     cfg.Capture.RetryDelay,
			EventSubject:   cfg.NATS.Subject,
			PostRunTimeout: cfg.Capture.PostRunTimeout,
		},
		log,
	)

	return a, nil
}

// close закрывает интеграции в обратном порядке; sink логов закрывается последним
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildRegistry(sources []config.SourceConfig) (*service.SourceRegistry, error) {
	entities := make([]entity.Source, 0, len(sources))
	for _, src := range sources {
		source, err := entity.NewSource(src.ID, src.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid source %s: %w", src.ID, err)
		}
		entities = append(entities, source)
	}
	return service.NewSourceRegistry(entities...)
}

// summarize печатает итог прогона построчно по источникам
func summarize(result *usecase.CaptureRunResult) []string {
	lines := make([]string, 0, len(result.Sources)+1)
	for _, src := range result.Sources {
		line := fmt.Sprintf("%-8s %-9s attempts=%d", src.SourceID, src.Outcome, src.Attempts)
		if src.Key != "" {
			line += " key=" + src.Key
		}
		if src.LastError != nil {
			line += " error=" + src.LastError.Error()
		}
		lines = append(lines, line)
	}
	lines = append(lines, fmt.Sprintf("stored=%d unchanged=%d exhausted=%d duration=%s",
		result.Count(port.CaptureOutcomeStored),
		result.Count(port.CaptureOutcomeUnchanged),
		result.Count(port.CaptureOutcomeExhausted),
		result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond),
	))
	return lines
}
