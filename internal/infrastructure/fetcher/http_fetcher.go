package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dreschagin/desertyard/internal/application/port"
	"github.com/dreschagin/desertyard/pkg/logger"
)

const (
	defaultTimeout  = 20 * time.Second
	defaultMaxBytes = 8 << 20
)

// ErrBodyTooLarge is returned when a response exceeds Config.MaxBytes.
var ErrBodyTooLarge = errors.New("response body exceeds limit")

// Config controls the HTTP client used for camera downloads. Zero values fall
// back to a 20s timeout, an 8 MiB body cap and the localdev user agent.
type Config struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string
}

// HTTPImageFetcher downloads camera images. The underlying client is built on
// first use and shared by all goroutines afterwards.
type HTTPImageFetcher struct {
	config Config
	client func() *http.Client
	logger *logger.Logger
}

// NewHTTPImageFetcher creates a fetcher. The http.Client is not built until the
// first Fetch.
func NewHTTPImageFetcher(cfg Config, log *logger.Logger) *HTTPImageFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = "desertyard / localdev"
	}

	f := &HTTPImageFetcher{
		config: cfg,
		logger: log,
	}
	f.client = sync.OnceValue(func() *http.Client {
		f.logger.Info("Initializing http client", "user_agent", cfg.UserAgent)
		return &http.Client{Timeout: cfg.Timeout}
	})
	return f
}

// Fetch downloads url with a cache-busting query suffix derived from at.
func (f *HTTPImageFetcher) Fetch(ctx context.Context, url string, at time.Time) ([]byte, error) {
	target := CacheBustedURL(url, at)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &port.FetchError{Kind: port.FetchErrorTransport, URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "image/jpeg,image/*;q=0.8")

	resp, err := f.client().Do(req)
	if err != nil {
		return nil, &port.FetchError{Kind: port.FetchErrorTransport, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &port.FetchError{Kind: port.FetchErrorBadStatus, URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes+1))
	if err != nil {
		return nil, &port.FetchError{Kind: port.FetchErrorTransport, URL: url, Err: err}
	}
	if int64(len(body)) > f.config.MaxBytes {
		return nil, &port.FetchError{
			Kind: port.FetchErrorTransport,
			URL:  url,
			Err:  fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, f.config.MaxBytes),
		}
	}

	return body, nil
}

// CacheBustedURL appends the unix time in seconds as a query component.
func CacheBustedURL(url string, at time.Time) string {
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + strconv.FormatInt(at.Unix(), 10)
}

// UserAgent builds the product token sent with every request.
func UserAgent(commit string) string {
	if strings.TrimSpace(commit) == "" {
		commit = "localdev"
	}
	return "desertyard / " + commit
}
