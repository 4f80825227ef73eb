package service

import (
	"fmt"
	"sort"

	"github.com/dreschagin/desertyard/internal/domain/entity"
)

// SourceRegistry - неизменяемый набор источников на время жизни процесса
// Итерация всегда идет в порядке id, чтобы логи одного запуска были воспроизводимы
type SourceRegistry struct {
	sources []entity.Source
	byID    map[string]entity.Source
}

// NewSourceRegistry создает registry, отклоняя дубликаты
func NewSourceRegistry(sources ...entity.Source) (*SourceRegistry, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one source is required")
	}

	byID := make(map[string]entity.Source, len(sources))
	ordered := make([]entity.Source, 0, len(sources))
	for _, source := range sources {
		if _, exists := byID[source.ID()]; exists {
			return nil, fmt.Errorf("duplicate source id: %s", source.ID())
		}
		byID[source.ID()] = source
		ordered = append(ordered, source)
	}

	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].ID() < ordered[j].ID()
	})

	return &SourceRegistry{
		sources: ordered,
		byID:    byID,
	}, nil
}

// All возвращает копию списка источников, отсортированного по id
func (r *SourceRegistry) All() []entity.Source {
	return append([]entity.Source(nil), r.sources...)
}

// Lookup ищет источник по id
func (r *SourceRegistry) Lookup(id string) (entity.Source, bool) {
	source, ok := r.byID[id]
	return source, ok
}

// IDs возвращает отсортированные id
func (r *SourceRegistry) IDs() []string {
	ids := make([]string, 0, len(r.sources))
	for _, source := range r.sources {
		ids = append(ids, source.ID())
	}
	return ids
}

// Len возвращает количество источников
func (r *SourceRegistry) Len() int {
	return len(r.sources)
}
