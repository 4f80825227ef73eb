package port

import "context"

// DigestCache хранит последний сохраненный digest каждого источника.
// Позволяет пропустить повторную запись идентичного снимка.
type DigestCache interface {
	// LastDigest возвращает digest и true, если он известен.
	LastDigest(ctx context.Context, sourceID string) (string, bool, error)

	// RememberDigest запоминает digest последнего сохраненного снимка.
	RememberDigest(ctx context.Context, sourceID, digest string) error

	// Close закрывает соединение.
	Close() error
}
