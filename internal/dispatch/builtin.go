package dispatch

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// Event types that have a builtin handler.
const (
	EventTypePush        = "push"
	EventTypePullRequest = "pull_request"
	EventTypeIssues      = "issues"
)

func builtinHandlers() map[string]Handler {
	return map[string]Handler{
		EventTypePush:        HandlerFunc(handlePush),
		EventTypePullRequest: HandlerFunc(handlePullRequest),
		EventTypeIssues:      HandlerFunc(handleIssues),
	}
}

func handlePush(_ context.Context, payload map[string]any) (Result, error) {
	ex := newExtractor(payload)

	ex.str("repository", "repository", "full_name")
	ex.str("pusher", "pusher", "name")
	ex.str("ref", "ref")
	ex.count("commits", "commits")
	ex.str("head_commit", "head_commit", "id")

	return ex.finish()
}

func handlePullRequest(_ context.Context, payload map[string]any) (Result, error) {
	ex := newExtractor(payload)

	ex.str("repository", "repository", "full_name")
	ex.str("action", "action")
	ex.integer("number", "number")
	ex.str("title", "pull_request", "title")
	ex.str("actor", "sender", "login")
	ex.boolean("merged", "pull_request", "merged")

	return ex.finish()
}

func handleIssues(_ context.Context, payload map[string]any) (Result, error) {
	ex := newExtractor(payload)

	ex.str("repository", "repository", "full_name")
	ex.str("action", "action")
	ex.integer("number", "issue", "number")
	ex.str("title", "issue", "title")
	ex.str("actor", "sender", "login")

	return ex.finish()
}

// extractor copies values from a decoded JSON payload into a Result.
// Absent or null values are replaced by a default, values with an
// unexpected type cause an error.
// After the first error all further calls are noops.
type extractor struct {
	payload map[string]any
	result  Result
	err     error
}

func newExtractor(payload map[string]any) *extractor {
	return &extractor{
		payload: payload,
		result:  Result{},
	}
}

func (e *extractor) finish() (Result, error) {
	if e.err != nil {
		return nil, e.err
	}

	return e.result, nil
}

// lookup returns the value at path, ok is false if an element of the path
// does not exist or is null.
func (e *extractor) lookup(path []string) (val any, ok bool) {
	if e.err != nil {
		return nil, false
	}

	var cur any = e.payload

	for i, key := range path {
		m, isMap := cur.(map[string]any)
		if !isMap {
			e.err = fmt.Errorf("field %s: expected an object, got %s",
				strings.Join(path[:i], "."), jsonTypeName(cur),
			)
			return nil, false
		}

		cur, ok = m[key]
		if !ok || cur == nil {
			return nil, false
		}
	}

	return cur, true
}

func (e *extractor) typeErr(path []string, expected string, got any) {
	e.err = fmt.Errorf("field %s: expected %s, got %s",
		strings.Join(path, "."), expected, jsonTypeName(got),
	)
}

func (e *extractor) str(key string, path ...string) {
	val, ok := e.lookup(path)
	if !ok {
		e.result[key] = Unknown
		return
	}

	s, ok := val.(string)
	if !ok {
		e.typeErr(path, "string", val)
		return
	}

	e.result[key] = s
}

func (e *extractor) integer(key string, path ...string) {
	val, ok := e.lookup(path)
	if !ok {
		e.result[key] = 0
		return
	}

	f, ok := val.(float64)
	if !ok {
		e.typeErr(path, "number", val)
		return
	}

	if f != math.Trunc(f) || f < math.MinInt || f >= -math.MinInt {
		e.err = fmt.Errorf("field %s: expected an integer, got %v",
			strings.Join(path, "."), f,
		)
		return
	}

	e.result[key] = int(f)
}

func (e *extractor) boolean(key string, path ...string) {
	val, ok := e.lookup(path)
	if !ok {
		e.result[key] = false
		return
	}

	b, ok := val.(bool)
	if !ok {
		e.typeErr(path, "boolean", val)
		return
	}

	e.result[key] = b
}

// count stores the number of elements of the array at path.
func (e *extractor) count(key string, path ...string) {
	val, ok := e.lookup(path)
	if !ok {
		e.result[key] = 0
		return
	}

	arr, ok := val.([]any)
	if !ok {
		e.typeErr(path, "array", val)
		return
	}

	e.result[key] = len(arr)
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
