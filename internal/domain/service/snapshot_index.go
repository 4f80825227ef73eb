package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// SnapshotIndex - отображение source_id -> упорядоченный список ключей
// Порядок ключей внутри источника задается при сборке, источники сериализуются по id
type SnapshotIndex struct {
	entries map[string][]string
}

// NewSnapshotIndex создает пустой индекс
func NewSnapshotIndex() *SnapshotIndex {
	return &SnapshotIndex{entries: make(map[string][]string)}
}

// Set задает список ключей для источника (nil превращается в пустой список)
func (i *SnapshotIndex) Set(sourceID string, keys []string) {
	if keys == nil {
		keys = []string{}
	}
	i.entries[sourceID] = append([]string(nil), keys...)
}

// Keys возвращает копию ключей источника
func (i *SnapshotIndex) Keys(sourceID string) []string {
	return append([]string(nil), i.entries[sourceID]...)
}

// SourceIDs возвращает отсортированные id источников
func (i *SnapshotIndex) SourceIDs() []string {
	ids := make([]string, 0, len(i.entries))
	for id := range i.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TotalKeys возвращает суммарное число ключей
func (i *SnapshotIndex) TotalKeys() int {
	total := 0
	for _, keys := range i.entries {
		total += len(keys)
	}
	return total
}

// MarshalJSON сериализует индекс в компактный JSON-объект с детерминированным порядком
func (i *SnapshotIndex) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for n, id := range i.SourceIDs() {
		if n > 0 {
			buf.WriteByte(',')
		}

		name, err := json.Marshal(id)
		if err != nil {
			return nil, fmt.Errorf("encode source id %s: %w", id, err)
		}
		keys, err := json.Marshal(i.entries[id])
		if err != nil {
			return nil, fmt.Errorf("encode keys for %s: %w", id, err)
		}

		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(keys)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}
