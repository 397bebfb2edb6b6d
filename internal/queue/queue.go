package queue

import "context"

const (
	// DispatchQueue carries one message per emitted event; workers fan the
	// event out to its subscribed endpoints.
	DispatchQueue = "webhook.dispatch"
	// DispatchDLQ receives messages rejected as unparseable or invalid.
	DispatchDLQ = "dlq.webhook.dispatch"

	dispatchRoutingKey = "webhook.dispatch"
)

// Publisher publishes dispatch messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg DispatchMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg DispatchMessage) error

// Consumer consumes dispatch messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}
