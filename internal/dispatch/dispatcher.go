// Package dispatch routes verified webhook events to the handler registered
// for their event type.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/simplesurance/hookd/internal/logfields"
)

const loggerName = "dispatcher"

// Dispatcher maps event types to Handlers.
// Handlers are usually registered once on startup, Dispatch can be called
// concurrently.
type Dispatcher struct {
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

func New() *Dispatcher {
	return &Dispatcher{
		logger:   zap.L().Named(loggerName),
		handlers: map[string]Handler{},
	}
}

// NewWithBuiltins returns a Dispatcher that has the handlers for push,
// pull_request and issues events registered.
func NewWithBuiltins() *Dispatcher {
	d := New()

	for eventType, h := range builtinHandlers() {
		if err := d.Register(eventType, h); err != nil {
			// can only happen if builtinHandlers() is broken
			panic(err)
		}
	}

	return d
}

// Register registers h as handler for events of type eventType.
// If a handler is already registered for the type an error wrapping
// ErrHandlerExists is returned.
func (d *Dispatcher) Register(eventType string, h Handler) error {
	if eventType == "" {
		return errors.New("event type is empty")
	}

	if h == nil {
		return fmt.Errorf("%s: handler is nil", eventType)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.handlers[eventType]; exists {
		return fmt.Errorf("%s: %w", eventType, ErrHandlerExists)
	}

	d.handlers[eventType] = h

	d.logger.Debug(
		"handler registered",
		logfields.Event("dispatch_handler_registered"),
		logfields.WebhookType(eventType),
	)

	return nil
}

// EventTypes returns the sorted list of event types that have a handler.
func (d *Dispatcher) EventTypes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]string, 0, len(d.handlers))
	for k := range d.handlers {
		result = append(result, k)
	}

	sort.Strings(result)

	return result
}

func (d *Dispatcher) handler(eventType string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	h, ok := d.handlers[eventType]
	return h, ok
}

// Dispatch runs the handler registered for eventType with the JSON decoded
// body.
// If no handler is registered, a Result with status StatusSkipped is
// returned and body is not parsed.
// If body is not a JSON object an error wrapping ErrInvalidPayload is
// returned. Errors and panics of the handler are returned as *HandlerError.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, body []byte) (Result, error) {
	logger := d.logger.With(logfields.WebhookType(eventType))

	h, exists := d.handler(eventType)
	if !exists {
		logger.Debug(
			"skipping event, no handler registered for event type",
			logfields.Event("dispatch_event_skipped"),
		)

		return newSkippedResult(eventType), nil
	}

	payload, err := decodePayload(body)
	if err != nil {
		return nil, err
	}

	result, err := runHandler(ctx, h, payload)
	if err != nil {
		return nil, &HandlerError{EventType: eventType, Err: err}
	}

	if result == nil {
		result = Result{}
	}

	result[KeyStatus] = StatusProcessed
	result[KeyEventType] = eventType

	logger.Debug(
		"event processed",
		logfields.Event("dispatch_event_processed"),
	)

	return result, nil
}

func runHandler(ctx context.Context, h Handler, payload map[string]any) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	return h.Handle(ctx, payload)
}

func decodePayload(body []byte) (map[string]any, error) {
	var payload map[string]any

	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, err)
	}

	if payload == nil {
		return nil, fmt.Errorf("%w: payload is null", ErrInvalidPayload)
	}

	return payload, nil
}
