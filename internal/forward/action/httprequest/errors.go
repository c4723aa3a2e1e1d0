package httprequest

import "fmt"

type ErrorHTTPRequest struct {
	Body   []byte
	Status int
}

func (e *ErrorHTTPRequest) Error() string {
	return fmt.Sprintf("http request failed with status code: %d, response: %q", e.Status, string(e.Body))
}

// isRetryableStatus returns true for status codes that can change when the
// request is sent again.
func isRetryableStatus(code int) bool {
	return code == 408 || code == 425 || code == 429 || code >= 500
}
