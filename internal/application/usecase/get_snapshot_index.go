package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/dreschagin/desertyard/internal/application/port"
	"github.com/dreschagin/desertyard/internal/domain/valueobject"
	"github.com/dreschagin/desertyard/pkg/logger"
)

// ErrIndexNotFound - предвычисленный индекс еще не записан
var ErrIndexNotFound = errors.New("snapshot index not found")

// GetSnapshotIndexUseCase отдает тело индекса для HTTP-ответа
type GetSnapshotIndexUseCase struct {
	mode    valueobject.IndexMode
	order   valueobject.ListOrder
	builder *BuildSnapshotIndexUseCase
	storage port.SnapshotStorage
	logger  *logger.Logger
}

// NewGetSnapshotIndexUseCase создает use case чтения индекса.
// order используется только в режиме on_demand
func NewGetSnapshotIndexUseCase(
	mode valueobject.IndexMode,
	order valueobject.ListOrder,
	builder *BuildSnapshotIndexUseCase,
	storage port.SnapshotStorage,
	log *logger.Logger,
) *GetSnapshotIndexUseCase {
	return &GetSnapshotIndexUseCase{
		mode:    mode,
		order:   order,
		builder: builder,
		storage: storage,
		logger:  log,
	}
}

// Mode возвращает режим обслуживания индекса
func (uc *GetSnapshotIndexUseCase) Mode() valueobject.IndexMode {
	return uc.mode
}

// Execute возвращает JSON индекса
func (uc *GetSnapshotIndexUseCase) Execute(ctx context.Context) ([]byte, error) {
	switch uc.mode {
	case valueobject.IndexModeOnDemand:
		return uc.builder.Encode(ctx, uc.order)
	case valueobject.IndexModePrecomputed:
		body, err := uc.storage.GetObject(ctx, valueobject.IndexArtifactKey)
		if errors.Is(err, port.ErrObjectNotFound) {
			return nil, ErrIndexNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read snapshot index: %w", err)
		}
		return body, nil
	default:
		return nil, fmt.Errorf("unsupported index mode: %s", uc.mode)
	}
}
