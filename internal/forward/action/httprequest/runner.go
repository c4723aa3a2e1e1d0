package httprequest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/hookd/internal/dispatch"
	"github.com/simplesurance/hookd/internal/hookderr"
	"github.com/simplesurance/hookd/internal/logfields"
)

const DefaultHTTPClientTimeout = time.Minute

// maxLoggedRespBytes limits how much of a response body is kept.
const maxLoggedRespBytes = 4096

// Runner executes a http request.
type Runner struct {
	*Config
	client      *http.Client
	contentType string
}

// NewRunner returns a new Runner struct.
// The HTTPClient of the runner uses a timeout of DefaultHTTPClientTimeout.
func NewRunner(cfg *Config) *Runner {
	return &Runner{
		Config: cfg,
		client: &http.Client{
			Timeout: DefaultHTTPClientTimeout,
		},
	}
}

// NewJSONRunner returns a Runner that sends the JSON encoded result as
// request body.
func NewJSONRunner(cfg *Config, result dispatch.Result) (*Runner, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding result as json failed: %w", err)
	}

	newConfig := *cfg
	newConfig.data = string(data)

	r := NewRunner(&newConfig)
	r.contentType = "application/json"

	return r, nil
}

func (h *Runner) String() string {
	return h.Config.String()
}

// Run sends the http request.
// Errors that can be resolved by sending the request again are wrapped in
// a hookderr.RetryableError.
func (h *Runner) Run(ctx context.Context) error {
	logger := h.logger.With(h.LogFields()...)

	var body io.Reader
	if h.data != "" {
		body = bytes.NewBufferString(h.data)
	}

	req, err := http.NewRequestWithContext(ctx, h.method, h.url, body)
	if err != nil {
		return err
	}

	if h.user != "" || h.password != "" {
		req.SetBasicAuth(h.user, h.password)
	}

	if h.contentType != "" {
		req.Header.Set("Content-Type", h.contentType)
	}

	for k, v := range h.headers {
		req.Header.Add(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return hookderr.NewRetryableAnytimeError(err)
	}

	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxLoggedRespBytes))
	if err != nil {
		logger.Warn(
			"reading http response body failed",
			logfields.Event("http_request_reading_response_body_failed"),
			zap.Int("http_response_code", resp.StatusCode),
		)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reqErr := &ErrorHTTPRequest{
			Body:   respBody,
			Status: resp.StatusCode,
		}

		if isRetryableStatus(resp.StatusCode) {
			return hookderr.NewRetryableAnytimeError(reqErr)
		}

		return reqErr
	}

	logger.Debug(
		fmt.Sprintf("http response: %s", string(respBody)),
		logfields.Event("http_request_sent"),
		zap.Int("http_response_code", resp.StatusCode),
	)

	return nil
}

// LogFields returns fields that should be used when logging messages related
// to the action.
func (h *Runner) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("action", "httprequest"),
		zap.String("http_url", h.url),
		zap.String("http_method", h.method),
	}
}
