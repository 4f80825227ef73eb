package dto

import (
	"time"

	"github.com/google/uuid"
)

// SnapshotStoredEventDTO публикуется в брокер после записи нового снимка
type SnapshotStoredEventDTO struct {
	EventID    string    `json:"event_id"`
	SourceID   string    `json:"source_id"`
	Key        string    `json:"key"`
	Digest     string    `json:"digest"`
	SizeBytes  int       `json:"size_bytes"`
	Attempts   int       `json:"attempts"`
	CapturedAt time.Time `json:"captured_at"`
}

// NewSnapshotStoredEventDTO создает событие с уникальным идентификатором
func NewSnapshotStoredEventDTO(sourceID, key, digest string, sizeBytes, attempts int, capturedAt time.Time) *SnapshotStoredEventDTO {
	return &SnapshotStoredEventDTO{
		EventID:    uuid.New().String(),
		SourceID:   sourceID,
		Key:        key,
		Digest:     digest,
		SizeBytes:  sizeBytes,
		Attempts:   attempts,
		CapturedAt: capturedAt.UTC(),
	}
}

// MessageID используется брокером для дедупликации повторной публикации
func (e *SnapshotStoredEventDTO) MessageID() string {
	return e.EventID
}
