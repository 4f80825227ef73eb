package port

import (
	"context"
	"time"
)

// SnapshotRecord - запись о впервые увиденном содержимом источника.
type SnapshotRecord struct {
	SourceID    string
	Key         string
	Digest      string
	SizeBytes   int64
	FirstSeenAt time.Time
}

// SnapshotLedger ведет журнал сохраненных снимков.
type SnapshotLedger interface {
	// Record сохраняет запись, если ключ еще не встречался; created=false для дубликата.
	Record(ctx context.Context, record SnapshotRecord) (created bool, err error)
}
