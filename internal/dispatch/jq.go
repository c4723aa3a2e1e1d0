package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/itchyny/gojq"

	"github.com/simplesurance/hookd/internal/cfg"
)

// JQHandler extracts result fields from a payload with jq queries.
// It is used for event types that are configured in the config file.
type JQHandler struct {
	fields []jqField
}

type jqField struct {
	name  string
	query string
	code  *gojq.Code
}

// NewJQHandler compiles the queries in fields.
// The keys of fields are the names of the result fields, values are the jq
// queries that are run against the event payload.
func NewJQHandler(fields map[string]string) (*JQHandler, error) {
	if len(fields) == 0 {
		return nil, errors.New("no fields defined")
	}

	result := JQHandler{fields: make([]jqField, 0, len(fields))}

	for name, query := range fields {
		if isReservedKey(name) {
			return nil, fmt.Errorf("field %q: name is reserved", name)
		}

		parsed, err := gojq.Parse(query)
		if err != nil {
			return nil, fmt.Errorf("field %q: parsing query %q failed: %w", name, query, err)
		}

		code, err := gojq.Compile(parsed)
		if err != nil {
			return nil, fmt.Errorf("field %q: compiling query %q failed: %w", name, query, err)
		}

		result.fields = append(result.fields, jqField{
			name:  name,
			query: query,
			code:  code,
		})
	}

	sort.Slice(result.fields, func(i, j int) bool {
		return result.fields[i].name < result.fields[j].name
	})

	return &result, nil
}

// Handle runs all queries of the handler against payload.
// The first value returned by a query is stored in the result, if a query
// returns no value or null, Unknown is stored.
func (h *JQHandler) Handle(ctx context.Context, payload map[string]any) (Result, error) {
	result := make(Result, len(h.fields))

	for _, f := range h.fields {
		val, err := f.eval(ctx, payload)
		if err != nil {
			return nil, err
		}

		result[f.name] = val
	}

	return result, nil
}

func (f *jqField) eval(ctx context.Context, payload map[string]any) (any, error) {
	iter := f.code.RunWithContext(ctx, payload)

	val, ok := iter.Next()
	if !ok || val == nil {
		return Unknown, nil
	}

	if err, isErr := val.(error); isErr {
		return nil, fmt.Errorf("field %q: query %q failed: %w", f.name, f.query, err)
	}

	return val, nil
}

// String returns the field definitions of the handler.
func (h *JQHandler) String() string {
	var result string

	for i, f := range h.fields {
		if i > 0 {
			result += ", "
		}

		result += fmt.Sprintf("%s=%s", f.name, f.query)
	}

	return result
}

// RegisterCfgHandlers registers a JQHandler for each handler definition of
// the configuration.
func (d *Dispatcher) RegisterCfgHandlers(handlers []*cfg.Handler) error {
	for _, h := range handlers {
		jqHandler, err := NewJQHandler(h.Fields)
		if err != nil {
			return fmt.Errorf("handler %s: %w", h.EventType, err)
		}

		if err := d.Register(h.EventType, jqHandler); err != nil {
			return fmt.Errorf("handler %s: %w", h.EventType, err)
		}
	}

	return nil
}
