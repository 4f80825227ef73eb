package cloudwatch

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	"github.com/dreschagin/desertyard/internal/application/port"
)

type fakeLogsAPI struct {
	mu       sync.Mutex
	inputs   []*cloudwatchlogs.PutLogEventsInput
	groups   int
	streams  int
	failures int
	sent     chan struct{}
}

func (f *fakeLogsAPI) PutLogEvents(_ context.Context, in *cloudwatchlogs.PutLogEventsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("throttled")
	}
	f.inputs = append(f.inputs, in)
	if f.sent != nil {
		select {
		case f.sent <- struct{}{}:
		default:
		}
	}
	return &cloudwatchlogs.PutLogEventsOutput{}, nil
}

func (f *fakeLogsAPI) CreateLogGroup(_ context.Context, _ *cloudwatchlogs.CreateLogGroupInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error) {
	f.groups++
	if f.groups > 1 {
		return nil, &types.ResourceAlreadyExistsException{}
	}
	return &cloudwatchlogs.CreateLogGroupOutput{}, nil
}

func (f *fakeLogsAPI) CreateLogStream(_ context.Context, _ *cloudwatchlogs.CreateLogStreamInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error) {
	f.streams++
	return &cloudwatchlogs.CreateLogStreamOutput{}, nil
}

func (f *fakeLogsAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

func newTestLogsPublisher(t *testing.T, client *fakeLogsAPI, cfg LogsPublisherConfig) *LogsPublisher {
	t.Helper()
	cfg.LogGroupName = "/desertyard/worker"
	cfg.LogStreamName = "host-1"
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Hour
	}
	p, err := NewLogsPublisherWithClient(context.Background(), client, cfg)
	if err != nil {
		t.Fatalf("NewLogsPublisherWithClient() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestConvertToLogEvent(t *testing.T) {
	timestamp := time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC)
	event := convertToLogEvent(port.LogEntry{
		Timestamp: timestamp,
		Level:     port.LogLevelInfo,
		Message:   "Uploaded snapshot",
		Fields: map[string]interface{}{
			"key":  "tv721/abc.jpg",
			"size": 42,
		},
	})

	if aws.ToInt64(event.Timestamp) != timestamp.UnixMilli() {
		t.Errorf("unexpected timestamp: %v", event.Timestamp)
	}

	var record map[string]interface{}
	if err := json.Unmarshal([]byte(aws.ToString(event.Message)), &record); err != nil {
		t.Fatalf("message is not JSON: %v", err)
	}
	if record["level"] != "INFO" || record["message"] != "Uploaded snapshot" || record["time"] != "2026-02-08T12:00:00Z" {
		t.Errorf("unexpected record: %v", record)
	}
	fields, ok := record["fields"].(map[string]interface{})
	if !ok || fields["key"] != "tv721/abc.jpg" || fields["size"] != float64(42) {
		t.Errorf("unexpected fields: %v", record["fields"])
	}
}

func TestConvertToLogEvent_UnencodableFields(t *testing.T) {
	event := convertToLogEvent(port.LogEntry{
		Timestamp: time.Now(),
		Level:     port.LogLevelWarn,
		Message:   "odd value",
		Fields:    map[string]interface{}{"ratio": math.Inf(1)},
	})

	message := aws.ToString(event.Message)
	if !strings.Contains(message, `"message":"odd value"`) || !strings.Contains(message, "fields_error") {
		t.Fatalf("expected message to survive with a fields error, got %s", message)
	}
}

func TestConvertToLogEvent_Truncation(t *testing.T) {
	event := convertToLogEvent(port.LogEntry{
		Timestamp: time.Now(),
		Level:     port.LogLevelInfo,
		Message:   strings.Repeat("x", maxLogEventSize+1000),
	})

	message := aws.ToString(event.Message)
	if len(message) > maxLogEventSize {
		t.Errorf("expected message truncated to %d bytes, got %d", maxLogEventSize, len(message))
	}
	if !strings.HasSuffix(message, "...") {
		t.Error("expected truncation marker")
	}
}

func TestSplitBatches_RespectsByteLimit(t *testing.T) {
	now := time.Now()
	entries := make([]port.LogEntry, 0, 10)
	for i := 0; i < 10; i++ {
		entries = append(entries, port.LogEntry{
			Timestamp: now.Add(time.Duration(i) * time.Millisecond),
			Level:     port.LogLevelInfo,
			Message:   strings.Repeat("y", 200000),
		})
	}

	batches := splitBatches(entries)
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(batches))
	}
	if batches[0].start != 0 || len(batches[0].events) != 5 || batches[1].start != 5 {
		t.Fatalf("unexpected split: start0=%d len0=%d start1=%d", batches[0].start, len(batches[0].events), batches[1].start)
	}
}

func TestLogsPublisher_FlushSortsChronologically(t *testing.T) {
	client := &fakeLogsAPI{}
	p := newTestLogsPublisher(t, client, LogsPublisherConfig{})

	now := time.Now()
	entries := []port.LogEntry{
		{Timestamp: now.Add(5 * time.Second), Level: port.LogLevelInfo, Message: "Third"},
		{Timestamp: now, Level: port.LogLevelInfo, Message: "First"},
		{Timestamp: now.Add(2 * time.Second), Level: port.LogLevelInfo, Message: "Second"},
	}
	if err := p.PublishBatch(context.Background(), entries); err != nil {
		t.Fatalf("PublishBatch() error = %v", err)
	}
	if client.calls() != 0 {
		t.Fatalf("publish must not hit the API below the threshold")
	}
	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if client.calls() != 1 {
		t.Fatalf("expected 1 PutLogEvents call, got %d", client.calls())
	}
	events := client.inputs[0].LogEvents
	for i, want := range []string{"First", "Second", "Third"} {
		if !strings.Contains(aws.ToString(events[i].Message), `"message":"`+want+`"`) {
			t.Fatalf("event %d out of order: %s", i, aws.ToString(events[i].Message))
		}
	}
}

func TestLogsPublisher_ThresholdTriggersBackgroundFlush(t *testing.T) {
	client := &fakeLogsAPI{sent: make(chan struct{}, 1)}
	p := newTestLogsPublisher(t, client, LogsPublisherConfig{BufferSize: 2})

	for _, msg := range []string{"one", "two"} {
		_ = p.Publish(context.Background(), port.LogEntry{Timestamp: time.Now(), Level: port.LogLevelInfo, Message: msg})
	}

	select {
	case <-client.sent:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected background flush once threshold was reached")
	}
}

func TestLogsPublisher_FailedBatchIsRequeued(t *testing.T) {
	client := &fakeLogsAPI{failures: maxRetries}
	p := newTestLogsPublisher(t, client, LogsPublisherConfig{})

	_ = p.Publish(context.Background(), port.LogEntry{Timestamp: time.Now(), Level: port.LogLevelError, Message: "capture exhausted"})

	if err := p.Flush(context.Background()); err == nil {
		t.Fatalf("expected flush error while API fails")
	}
	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("second Flush() error = %v", err)
	}
	if client.calls() != 1 || !strings.Contains(aws.ToString(client.inputs[0].LogEvents[0].Message), "capture exhausted") {
		t.Fatalf("expected requeued entry to be delivered, got %d calls", client.calls())
	}
}

func TestLogsPublisher_OverflowDropsOldest(t *testing.T) {
	client := &fakeLogsAPI{}
	p := newTestLogsPublisher(t, client, LogsPublisherConfig{BufferSize: 100, MaxBuffered: 100})
	// stop the background loop so the buffer is inspected as-is
	p.closeOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	now := time.Now()
	for i := 0; i < 105; i++ {
		p.mu.Lock()
		p.pending = append(p.pending, port.LogEntry{Timestamp: now.Add(time.Duration(i)), Message: "old"})
		p.mu.Unlock()
	}
	_ = p.PublishBatch(context.Background(), []port.LogEntry{{Timestamp: now.Add(time.Hour), Message: "newest"}})

	if p.Dropped() != 6 {
		t.Fatalf("expected 6 dropped entries, got %d", p.Dropped())
	}
	p.mu.Lock()
	last := p.pending[len(p.pending)-1].Message
	size := len(p.pending)
	p.mu.Unlock()
	if size != 100 || last != "newest" {
		t.Fatalf("expected newest entry kept within capacity, size=%d last=%s", size, last)
	}
}

func TestLogsPublisher_AutoCreateIgnoresExisting(t *testing.T) {
	client := &fakeLogsAPI{groups: 1}
	newTestLogsPublisher(t, client, LogsPublisherConfig{AutoCreate: true})

	if client.streams != 1 {
		t.Fatalf("expected stream creation, got %d", client.streams)
	}
}

func TestLogsPublisher_ConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config LogsPublisherConfig
	}{
		{name: "missing log group", config: LogsPublisherConfig{LogStreamName: "s"}},
		{name: "missing log stream", config: LogsPublisherConfig{LogGroupName: "/g"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLogsPublisherWithClient(context.Background(), &fakeLogsAPI{}, tt.config); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
