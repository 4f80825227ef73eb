package usecase

import (
	"context"
	"fmt"
	"sort"

	"github.com/dreschagin/desertyard/internal/application/port"
	"github.com/dreschagin/desertyard/internal/domain/entity"
	"github.com/dreschagin/desertyard/internal/domain/valueobject"
	"github.com/dreschagin/desertyard/pkg/logger"
)

// maxListPages ограничивает число страниц одного листинга.
// Backend, возвращающий один и тот же курсор, иначе зациклит запрос
const maxListPages = 10000

// ListSnapshotsUseCase собирает полный листинг префикса, проходя все страницы хранилища
type ListSnapshotsUseCase struct {
	storage port.SnapshotStorage
	logger  *logger.Logger
}

// NewListSnapshotsUseCase создает use case листинга
func NewListSnapshotsUseCase(storage port.SnapshotStorage, log *logger.Logger) *ListSnapshotsUseCase {
	return &ListSnapshotsUseCase{
		storage: storage,
		logger:  log,
	}
}

// Execute возвращает все объекты под prefix в заданном порядке.
// Пустой результат - пустой срез, а не ошибка
func (uc *ListSnapshotsUseCase) Execute(
	ctx context.Context,
	prefix string,
	order valueobject.ListOrder,
) ([]entity.StoredSnapshot, error) {
	if uc.storage == nil {
		return nil, fmt.Errorf("snapshot storage is not configured")
	}
	if err := order.Validate(); err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	seen := make(map[string]struct{})
	snapshots := make([]entity.StoredSnapshot, 0)

	cursor := ""
	for pages := 0; ; pages++ {
		if pages >= maxListPages {
			return nil, fmt.Errorf("list %s: exceeded %d pages", prefix, maxListPages)
		}

		page, err := uc.storage.ListPage(ctx, prefix, cursor)
		if err != nil {
			return nil, fmt.Errorf("failed to list snapshots under %s: %w", prefix, err)
		}

		for _, object := range page.Objects {
			// Объект может попасть на две страницы, если листинг пересекся с записью
			if _, dup := seen[object.Key]; dup {
				continue
			}
			seen[object.Key] = struct{}{}

			snapshots = append(snapshots, entity.StoredSnapshot{
				Key:        object.Key,
				UploadedAt: object.UploadedAt.UTC(),
				Size:       object.Size,
			})
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	sortSnapshots(snapshots, order)

	if uc.logger != nil {
		uc.logger.Debug("Listed snapshots",
			"prefix", prefix,
			"count", len(snapshots),
			"order", order.String(),
		)
	}

	return snapshots, nil
}

func sortSnapshots(snapshots []entity.StoredSnapshot, order valueobject.ListOrder) {
	sort.SliceStable(snapshots, func(i, j int) bool {
		a, b := snapshots[i], snapshots[j]
		if !a.UploadedAt.Equal(b.UploadedAt) {
			if order == valueobject.NewestFirst {
				return a.UploadedAt.After(b.UploadedAt)
			}
			return a.UploadedAt.Before(b.UploadedAt)
		}
		return a.Key < b.Key
	})
}

// snapshotKeys извлекает ключи в порядке листинга
func snapshotKeys(snapshots []entity.StoredSnapshot) []string {
	keys := make([]string, 0, len(snapshots))
	for _, snapshot := range snapshots {
		keys = append(keys, snapshot.Key)
	}
	return keys
}
