package usecase

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dreschagin/desertyard/internal/application/port"
	"github.com/dreschagin/desertyard/internal/domain/service"
	"github.com/dreschagin/desertyard/internal/domain/valueobject"
	"github.com/dreschagin/desertyard/pkg/logger"
)

// IndexCacheControl - индекс меняется каждый запуск, кешировать нельзя
const IndexCacheControl = "no-cache"

// ErrIndexEncoding - индекс не удалось сериализовать (нарушение инварианта, а не ошибка ввода)
var ErrIndexEncoding = errors.New("snapshot index encoding failed")

// BuildSnapshotIndexUseCase собирает индекс source_id -> ключи по всем источникам
type BuildSnapshotIndexUseCase struct {
	registry *service.SourceRegistry
	lister   *ListSnapshotsUseCase
	storage  port.SnapshotStorage
	order    valueobject.ListOrder
	logger   *logger.Logger
}

// NewBuildSnapshotIndexUseCase создает сборщик индекса с порядком по умолчанию
func NewBuildSnapshotIndexUseCase(
	registry *service.SourceRegistry,
	lister *ListSnapshotsUseCase,
	storage port.SnapshotStorage,
	order valueobject.ListOrder,
	log *logger.Logger,
) *BuildSnapshotIndexUseCase {
	return &BuildSnapshotIndexUseCase{
		registry: registry,
		lister:   lister,
		storage:  storage,
		order:    order,
		logger:   log,
	}
}

// Build листает все источники параллельно. Первая ошибка отменяет остальные листинги:
// частичный индекс не отдается
func (uc *BuildSnapshotIndexUseCase) Build(ctx context.Context, order valueobject.ListOrder) (*service.SnapshotIndex, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}

	sources := uc.registry.All()
	keys := make([][]string, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, source := range sources {
		g.Go(func() error {
			snapshots, err := uc.lister.Execute(gctx, valueobject.SourcePrefix(source.ID()), order)
			if err != nil {
				return err
			}

			valid := make([]string, 0, len(snapshots))
			for _, key := range snapshotKeys(snapshots) {
				parsed, err := valueobject.ParseSnapshotKey(key)
				if err != nil || parsed.SourceID() != source.ID() {
					uc.logger.Debug("Skipping foreign object in listing", "key", key)
					continue
				}
				valid = append(valid, key)
			}
			keys[i] = valid
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	index := service.NewSnapshotIndex()
	for i, source := range sources {
		index.Set(source.ID(), keys[i])
	}
	return index, nil
}

// Encode собирает индекс и сериализует его в JSON
func (uc *BuildSnapshotIndexUseCase) Encode(ctx context.Context, order valueobject.ListOrder) ([]byte, error) {
	index, err := uc.Build(ctx, order)
	if err != nil {
		return nil, err
	}

	body, err := index.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexEncoding, err)
	}
	return body, nil
}

// Persist пересобирает индекс в порядке по умолчанию и записывает его в imgs.json
func (uc *BuildSnapshotIndexUseCase) Persist(ctx context.Context) error {
	body, err := uc.Encode(ctx, uc.order)
	if err != nil {
		return fmt.Errorf("failed to build snapshot index: %w", err)
	}

	err = uc.storage.PutObject(ctx, valueobject.IndexArtifactKey, body, port.PutOptions{
		ContentType:  "application/json",
		CacheControl: IndexCacheControl,
	})
	if err != nil {
		return fmt.Errorf("failed to persist snapshot index: %w", err)
	}

	uc.logger.Info("Snapshot index persisted",
		"key", valueobject.IndexArtifactKey,
		"bytes", len(body),
	)
	return nil
}
