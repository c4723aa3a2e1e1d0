package dispatch

import "context"

// Handler extracts a summary from the payload of one event type.
// The status and event_type keys of the returned Result are set by the
// Dispatcher.
// Handlers must tolerate missing fields, an error is only returned if the
// payload has an unexpected structure.
type Handler interface {
	Handle(ctx context.Context, payload map[string]any) (Result, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, payload map[string]any) (Result, error)

func (f HandlerFunc) Handle(ctx context.Context, payload map[string]any) (Result, error) {
	return f(ctx, payload)
}
