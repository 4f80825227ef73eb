package port

import "context"

// EventPublisher доставляет доменные события (например, "снимок сохранен") в брокер.
// event сериализуется реализацией; события с методом MessageID() дедуплицируются брокером.
type EventPublisher interface {
	PublishEvent(ctx context.Context, subject string, event interface{}) error
	Close() error
}
