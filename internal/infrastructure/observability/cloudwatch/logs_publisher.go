package cloudwatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	"github.com/dreschagin/desertyard/internal/application/port"
)

// PutLogEvents limits.
const (
	maxEventsPerBatch = 10000
	maxBatchBytes     = 1048576
	perEventOverhead  = 26
	maxLogEventSize   = 256000
)

// LogsAPI is the subset of the CloudWatch Logs client used by LogsPublisher.
type LogsAPI interface {
	PutLogEvents(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
	CreateLogGroup(ctx context.Context, params *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error)
	CreateLogStream(ctx context.Context, params *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
}

type LogsPublisherConfig struct {
	LogGroupName    string
	LogStreamName   string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	// BufferSize is the number of entries that triggers an early background flush.
	BufferSize int
	// MaxBuffered caps memory while CloudWatch is unreachable; the oldest entries go first.
	MaxBuffered   int
	FlushInterval time.Duration
	AutoCreate    bool
	// OnError receives background flush failures. It must not log through a
	// logger that forwards to this publisher.
	OnError func(error)
}

// LogsPublisher ships log entries to CloudWatch Logs from a background goroutine.
// Publish only appends to memory, so the logger never waits on the network.
type LogsPublisher struct {
	client    LogsAPI
	group     string
	stream    string
	threshold int
	capacity  int

	mu      sync.Mutex
	pending []port.LogEntry
	dropped int

	sendMu sync.Mutex

	kick      chan struct{}
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewLogsPublisher(ctx context.Context, cfg LogsPublisherConfig) (*LogsPublisher, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("region is required")
	}
	awsCfg, err := buildAWSConfig(ctx, cfg.Region, cfg.Endpoint, cfg.AccessKeyID, cfg.SecretAccessKey)
	if err != nil {
		return nil, fmt.Errorf("failed to build AWS config: %w", err)
	}
	return NewLogsPublisherWithClient(ctx, cloudwatchlogs.NewFromConfig(awsCfg), cfg)
}

func NewLogsPublisherWithClient(ctx context.Context, client LogsAPI, cfg LogsPublisherConfig) (*LogsPublisher, error) {
	if cfg.LogGroupName == "" || cfg.LogStreamName == "" {
		return nil, fmt.Errorf("log group and log stream names are required")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 50
	}
	if cfg.MaxBuffered < cfg.BufferSize {
		cfg.MaxBuffered = cfg.BufferSize * 20
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	p := &LogsPublisher{
		client:    client,
		group:     cfg.LogGroupName,
		stream:    cfg.LogStreamName,
		threshold: cfg.BufferSize,
		capacity:  cfg.MaxBuffered,
		kick:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}

	if cfg.AutoCreate {
		if err := p.ensureDestination(ctx); err != nil {
			return nil, err
		}
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		flushLoop(cfg.FlushInterval, p.kick, p.stopCh, p.Flush, cfg.OnError)
	}()

	return p, nil
}

func (p *LogsPublisher) Publish(ctx context.Context, entry port.LogEntry) error {
	return p.PublishBatch(ctx, []port.LogEntry{entry})
}

func (p *LogsPublisher) PublishBatch(_ context.Context, entries []port.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	p.mu.Lock()
	p.pending = append(p.pending, entries...)
	if overflow := len(p.pending) - p.capacity; overflow > 0 {
		p.pending = append(p.pending[:0], p.pending[overflow:]...)
		p.dropped += overflow
	}
	full := len(p.pending) >= p.threshold
	p.mu.Unlock()

	if full {
		select {
		case p.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Dropped reports how many entries were discarded because the buffer overflowed.
func (p *LogsPublisher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Flush sends everything buffered so far. Entries of a failed batch are put back
// in front of the buffer and retried on the next flush.
func (p *LogsPublisher) Flush(ctx context.Context) error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	p.mu.Lock()
	entries := p.pending
	p.pending = nil
	p.mu.Unlock()

	if len(entries) == 0 {
		return nil
	}

	// PutLogEvents rejects batches that are not in chronological order
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	for _, batch := range splitBatches(entries) {
		if err := p.send(ctx, batch.events); err != nil {
			p.requeue(entries[batch.start:])
			return fmt.Errorf("failed to publish %d log events: %w", len(entries)-batch.start, err)
		}
	}
	return nil
}

func (p *LogsPublisher) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()

	return p.Flush(ctx)
}

func (p *LogsPublisher) requeue(entries []port.LogEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	merged := make([]port.LogEntry, 0, len(entries)+len(p.pending))
	merged = append(merged, entries...)
	merged = append(merged, p.pending...)
	if overflow := len(merged) - p.capacity; overflow > 0 {
		merged = merged[overflow:]
		p.dropped += overflow
	}
	p.pending = merged
}

func (p *LogsPublisher) send(ctx context.Context, events []types.InputLogEvent) error {
	var lastErr error
	backoff := initialBackoff

	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := p.client.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
			LogGroupName:  aws.String(p.group),
			LogStreamName: aws.String(p.stream),
			LogEvents:     events,
		})
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < maxRetries-1 {
			if err := sleepBackoff(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
		}
	}

	return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

type logBatch struct {
	start  int
	events []types.InputLogEvent
}

// splitBatches packs events into requests that respect both the count and the byte limit.
// start is the index of the first entry of each batch in the sorted input.
func splitBatches(entries []port.LogEntry) []logBatch {
	batches := make([]logBatch, 0, 1)
	current := logBatch{}
	size := 0

	for i, entry := range entries {
		event := convertToLogEvent(entry)
		eventSize := len(aws.ToString(event.Message)) + perEventOverhead

		if len(current.events) > 0 && (len(current.events) == maxEventsPerBatch || size+eventSize > maxBatchBytes) {
			batches = append(batches, current)
			current = logBatch{}
			size = 0
		}
		if len(current.events) == 0 {
			current.start = i
		}
		current.events = append(current.events, event)
		size += eventSize
	}

	if len(current.events) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func convertToLogEvent(entry port.LogEntry) types.InputLogEvent {
	record := struct {
		Time    string                 `json:"time"`
		Level   port.LogLevel          `json:"level"`
		Message string                 `json:"message"`
		Fields  map[string]interface{} `json:"fields,omitempty"`
	}{
		Time:    entry.Timestamp.UTC().Format(time.RFC3339Nano),
		Level:   entry.Level,
		Message: entry.Message,
		Fields:  entry.Fields,
	}

	payload, err := json.Marshal(record)
	if err != nil {
		// unsupported field values: keep the line, lose the fields
		record.Fields = map[string]interface{}{"fields_error": err.Error()}
		payload, _ = json.Marshal(record)
	}

	message := string(payload)
	if len(message) > maxLogEventSize {
		message = message[:maxLogEventSize-3] + "..."
	}

	return types.InputLogEvent{
		Message:   aws.String(message),
		Timestamp: aws.Int64(entry.Timestamp.UnixMilli()),
	}
}

func (p *LogsPublisher) ensureDestination(ctx context.Context) error {
	var exists *types.ResourceAlreadyExistsException

	if _, err := p.client.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: aws.String(p.group),
	}); err != nil && !errors.As(err, &exists) {
		return fmt.Errorf("failed to create log group %s: %w", p.group, err)
	}

	if _, err := p.client.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(p.group),
		LogStreamName: aws.String(p.stream),
	}); err != nil && !errors.As(err, &exists) {
		return fmt.Errorf("failed to create log stream %s: %w", p.stream, err)
	}

	return nil
}
