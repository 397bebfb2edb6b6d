package provider

import "context"

// Message is the content handed to a channel sender.
type Message struct {
	Title string
	Body  string
}

// SendResult stores channel provider call metadata for audit and persistence.
type SendResult struct {
	StatusCode        int
	ProviderMessageID string
}

// Sender delivers one notification message over a single external channel
// (email, SMS, or push). Implementations are best-effort collaborators: a
// returned error is recorded against the notification, never raised to the
// notifying caller.
type Sender interface {
	Send(ctx context.Context, recipient string, msg Message) (*SendResult, error)
}
