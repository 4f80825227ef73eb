package port

import (
	"context"
	"fmt"
	"time"
)

// FetchErrorKind classifies fetch failures.
type FetchErrorKind string

const (
	FetchErrorBadStatus FetchErrorKind = "bad_status"
	FetchErrorTransport FetchErrorKind = "transport"
)

// FetchError is returned by ImageFetcher for any failed download.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchErrorBadStatus {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ImageFetcher загружает изображение по URL источника.
// at - момент попытки, из него строится cache-buster запроса
type ImageFetcher interface {
	Fetch(ctx context.Context, url string, at time.Time) ([]byte, error)
}
