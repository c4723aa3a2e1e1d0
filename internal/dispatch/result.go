package dispatch

// Result is the structured summary of a webhook event.
// It is marshalled as the JSON body of the webhook response.
type Result map[string]any

const (
	StatusProcessed = "processed"
	StatusSkipped   = "skipped"
	StatusError     = "error"
)

// Keys that every Result carries.
const (
	KeyStatus     = "status"
	KeyEventType  = "event_type"
	KeyError      = "error"
	KeyDeliveryID = "delivery_id"
)

// Unknown is the value of string fields that are missing in a payload.
const Unknown = "unknown"

// NewErrorResult returns a Result with status "error" and msg as error
// description. msg is sent to the client, it must not contain internal
// details.
func NewErrorResult(eventType, msg string) Result {
	return Result{
		KeyStatus:    StatusError,
		KeyEventType: eventType,
		KeyError:     msg,
	}
}

func newSkippedResult(eventType string) Result {
	return Result{
		KeyStatus:    StatusSkipped,
		KeyEventType: eventType,
	}
}

func (r Result) Status() string {
	s, _ := r[KeyStatus].(string)
	return s
}

func (r Result) EventType() string {
	s, _ := r[KeyEventType].(string)
	return s
}

// String returns the value of key if it is a string, otherwise an empty
// string.
func (r Result) String(key string) string {
	s, _ := r[key].(string)
	return s
}

func isReservedKey(key string) bool {
	switch key {
	case KeyStatus, KeyEventType, KeyError, KeyDeliveryID:
		return true
	default:
		return false
	}
}

// Clone returns a deep copy of r.
// Nested objects and arrays are copied, the returned Result shares no
// mutable state with r.
func (r Result) Clone() Result {
	return Result(cloneObject(r))
}

func cloneObject(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = cloneValue(v)
	}

	return result
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneObject(val)

	case Result:
		return val.Clone()

	case []any:
		result := make([]any, len(val))
		for i, elem := range val {
			result[i] = cloneValue(elem)
		}

		return result

	default:
		return v
	}
}
