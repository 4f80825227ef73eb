package port

import (
	"context"
	"time"
)

// MetricDatum is one data point for an external metrics backend.
type MetricDatum struct {
	Name       string
	Value      float64
	Unit       string // "count", "bytes", "ms", "s", "%"
	Dimensions map[string]string
	Timestamp  time.Time
}

// MetricsPublisher defines the interface for publishing metrics to external observability platforms.
type MetricsPublisher interface {
	// PublishBatch buffers metrics for the next flush.
	// Implementations should handle batching constraints (e.g., CloudWatch's 1000 metrics/request limit).
	PublishBatch(ctx context.Context, metrics []MetricDatum) error

	// Flush forces immediate publication of any buffered metrics.
	// Should be called during graceful shutdown to prevent data loss.
	Flush(ctx context.Context) error
}
