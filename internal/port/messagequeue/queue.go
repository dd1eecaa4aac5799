// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Close shuts down the queue connection.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Publisher publishes events that may be redelivered. msgID lets the broker
// drop duplicates of the same logical event.
type Publisher interface {
	PublishDedup(ctx context.Context, subject string, data []byte, msgID string) error
}

// Subject prefixes for projectchat messages.
const (
	// SubjectConversationPrefix scopes conversation events: conversations.{project_id}.messages
	SubjectConversationPrefix = "conversations"
	// SubjectMessagesSuffix is the leaf token for message-appended events.
	SubjectMessagesSuffix = "messages"
)

// MessageSubject returns the subject for message-appended events of a project.
func MessageSubject(projectID string) string {
	return SubjectConversationPrefix + "." + projectID + "." + SubjectMessagesSuffix
}
