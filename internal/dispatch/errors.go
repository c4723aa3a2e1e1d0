package dispatch

import (
	"errors"
	"fmt"
)

// ErrInvalidPayload is returned when the body of an event that has a
// registered handler is not a JSON object.
var ErrInvalidPayload = errors.New("payload is not a json object")

// ErrHandlerExists is returned when a handler is registered for an event
// type that already has one.
var ErrHandlerExists = errors.New("handler already registered")

// HandlerError is returned when a Handler failed or panicked.
type HandlerError struct {
	EventType string
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handling %s event failed: %s", e.EventType, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
