package usecase

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dreschagin/desertyard/internal/application/port"
	"github.com/dreschagin/desertyard/internal/domain/entity"
	"github.com/dreschagin/desertyard/internal/domain/service"
)

type storedObject struct {
	body       []byte
	opts       port.PutOptions
	uploadedAt time.Time
}

// memoryStorage - in-memory SnapshotStorage с постраничным листингом
type memoryStorage struct {
	mu       sync.Mutex
	objects  map[string]storedObject
	puts     []string
	pageSize int
	listErr  map[string]error
	putErr   error
	getErr   error
	clock    time.Time
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{
		objects:  make(map[string]storedObject),
		pageSize: 1000,
		listErr:  make(map[string]error),
		clock:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (m *memoryStorage) PutObject(_ context.Context, key string, body []byte, opts port.PutOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.puts = append(m.puts, key)
	if m.putErr != nil {
		return &port.StorageError{Op: port.StorageOpPut, Key: key, Err: m.putErr}
	}
	m.clock = m.clock.Add(time.Second)
	m.objects[key] = storedObject{body: append([]byte(nil), body...), opts: opts, uploadedAt: m.clock}
	return nil
}

func (m *memoryStorage) GetObject(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, &port.StorageError{Op: port.StorageOpGet, Key: key, Err: m.getErr}
	}
	obj, ok := m.objects[key]
	if !ok {
		return nil, port.ErrObjectNotFound
	}
	return obj.body, nil
}

func (m *memoryStorage) ListPage(_ context.Context, prefix, cursor string) (port.ObjectPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.listErr[prefix]; ok {
		return port.ObjectPage{}, &port.StorageError{Op: port.StorageOpList, Key: prefix, Err: err}
	}

	keys := make([]string, 0)
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return port.ObjectPage{}, errors.New("bad cursor")
		}
		start = n
	}
	end := start + m.pageSize
	if end > len(keys) {
		end = len(keys)
	}

	page := port.ObjectPage{}
	for _, key := range keys[start:end] {
		obj := m.objects[key]
		page.Objects = append(page.Objects, port.ObjectInfo{Key: key, UploadedAt: obj.uploadedAt, Size: int64(len(obj.body))})
	}
	if end < len(keys) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (m *memoryStorage) putAt(key string, uploadedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = storedObject{body: []byte(key), uploadedAt: uploadedAt}
}

func (m *memoryStorage) keysWithPrefix(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0)
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func (m *memoryStorage) putCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.puts)
}

// scriptedPagesStorage возвращает заранее заданные страницы по курсору
type scriptedPagesStorage struct {
	memoryStorage
	pages   map[string]port.ObjectPage
	cursors []string
}

func (s *scriptedPagesStorage) ListPage(_ context.Context, _ string, cursor string) (port.ObjectPage, error) {
	s.cursors = append(s.cursors, cursor)
	return s.pages[cursor], nil
}

// scriptedFetcher отдает ответы по URL по очереди; последний ответ повторяется
type fetchResponse struct {
	data []byte
	err  error
}

type scriptedFetcher struct {
	mu        sync.Mutex
	responses map[string][]fetchResponse
	calls     map[string]int
	times     map[string][]time.Time
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		responses: make(map[string][]fetchResponse),
		calls:     make(map[string]int),
		times:     make(map[string][]time.Time),
	}
}

func (f *scriptedFetcher) on(url string, responses ...fetchResponse) {
	f.responses[url] = responses
}

func (f *scriptedFetcher) Fetch(_ context.Context, url string, at time.Time) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.calls[url]
	f.calls[url] = n + 1
	f.times[url] = append(f.times[url], at)

	script := f.responses[url]
	if len(script) == 0 {
		return nil, &port.FetchError{Kind: port.FetchErrorTransport, URL: url, Err: errors.New("no route")}
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	return script[n].data, script[n].err
}

func (f *scriptedFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func badStatus(url string) fetchResponse {
	return fetchResponse{err: &port.FetchError{Kind: port.FetchErrorBadStatus, URL: url, StatusCode: 503}}
}

func image(data string) fetchResponse {
	return fetchResponse{data: []byte(data)}
}

type mockDigestCache struct {
	mu      sync.Mutex
	digests map[string]string
}

func (c *mockDigestCache) LastDigest(_ context.Context, sourceID string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.digests[sourceID]
	return d, ok, nil
}

func (c *mockDigestCache) RememberDigest(_ context.Context, sourceID, digest string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.digests == nil {
		c.digests = make(map[string]string)
	}
	c.digests[sourceID] = digest
	return nil
}

func (c *mockDigestCache) Close() error { return nil }

type mockLedger struct {
	mu      sync.Mutex
	records map[string]port.SnapshotRecord
}

func (l *mockLedger) Record(_ context.Context, record port.SnapshotRecord) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.records == nil {
		l.records = make(map[string]port.SnapshotRecord)
	}
	if _, ok := l.records[record.Key]; ok {
		return false, nil
	}
	l.records[record.Key] = record
	return true, nil
}

type publishedEvent struct {
	subject string
	event   interface{}
}

type mockEventPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *mockEventPublisher) PublishEvent(_ context.Context, subject string, event interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{subject: subject, event: event})
	return nil
}

func (p *mockEventPublisher) Close() error { return nil }

type mockMetricsPublisher struct {
	datums []port.MetricDatum
}

func (p *mockMetricsPublisher) PublishBatch(_ context.Context, datums []port.MetricDatum) error {
	p.datums = append(p.datums, datums...)
	return nil
}

func (p *mockMetricsPublisher) Flush(_ context.Context) error { return nil }

type mockObserver struct {
	mu       sync.Mutex
	attempts map[string]int
	outcomes map[string]port.CaptureOutcome
}

func (o *mockObserver) ObserveAttempt(sourceID string, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.attempts == nil {
		o.attempts = make(map[string]int)
	}
	o.attempts[sourceID]++
}

func (o *mockObserver) ObserveOutcome(sourceID string, outcome port.CaptureOutcome, _ int, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = make(map[string]port.CaptureOutcome)
	}
	o.outcomes[sourceID] = outcome
}

func mustRegistry(pairs ...string) *service.SourceRegistry {
	sources := make([]entity.Source, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		source, err := entity.NewSource(pairs[i], pairs[i+1])
		if err != nil {
			panic(err)
		}
		sources = append(sources, source)
	}
	registry, err := service.NewSourceRegistry(sources...)
	if err != nil {
		panic(err)
	}
	return registry
}

// deadlineStorage отказывает в операциях на отмененном контексте, как это делает S3 SDK
type deadlineStorage struct {
	*memoryStorage
}

func (s deadlineStorage) PutObject(ctx context.Context, key string, body []byte, opts port.PutOptions) error {
	if err := ctx.Err(); err != nil {
		return &port.StorageError{Op: port.StorageOpPut, Key: key, Err: err}
	}
	return s.memoryStorage.PutObject(ctx, key, body, opts)
}

func (s deadlineStorage) ListPage(ctx context.Context, prefix, cursor string) (port.ObjectPage, error) {
	if err := ctx.Err(); err != nil {
		return port.ObjectPage{}, err
	}
	return s.memoryStorage.ListPage(ctx, prefix, cursor)
}

// hangingFetcher зависает на url до отмены контекста, остальные URL отдает scriptedFetcher
type hangingFetcher struct {
	*scriptedFetcher
	url string
}

func (f hangingFetcher) Fetch(ctx context.Context, url string, at time.Time) ([]byte, error) {
	if url != f.url {
		return f.scriptedFetcher.Fetch(ctx, url, at)
	}
	f.mu.Lock()
	f.calls[url]++
	f.mu.Unlock()
	<-ctx.Done()
	return nil, &port.FetchError{Kind: port.FetchErrorTransport, URL: url, Err: ctx.Err()}
}
