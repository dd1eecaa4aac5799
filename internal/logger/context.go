package logger

import "context"

type contextKey int

const (
	requestIDKey contextKey = iota
	projectIDKey
)

// WithRequestID returns a new context with the given request ID stored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request ID from the context.
// Returns an empty string if no request ID is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithProjectID tags every record logged with ctx with the conversation's project.
func WithProjectID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, projectIDKey, id)
}

// ProjectID extracts the project ID from the context.
func ProjectID(ctx context.Context) string {
	id, _ := ctx.Value(projectIDKey).(string)
	return id
}
