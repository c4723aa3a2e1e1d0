// Package httprequest implements an action that sends a result to a http
// endpoint.
package httprequest

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/simplesurance/hookd/internal/dispatch"
	"github.com/simplesurance/hookd/internal/forward/action"
	"github.com/simplesurance/hookd/internal/maputils"
)

const loggerName = "action.httprequest"

// Config is the configuration of a HTTP-Request action.
// url, data and header values are templates.
type Config struct {
	url      string
	user     string
	password string
	method   string
	headers  map[string]string
	data     string
	logger   *zap.Logger
}

// NewConfigFromMap instantiates a config from a configuration map.
// The map is usually an action table of the forward section of the config
// file.
func NewConfigFromMap(m map[string]any) (*Config, error) {
	url, err := maputils.StrVal(m, "url")
	if err != nil {
		return nil, err
	}
	if url == "" {
		return nil, errors.New("url must be set")
	}

	user, err := maputils.StrVal(m, "user")
	if err != nil {
		return nil, err
	}

	password, err := maputils.StrVal(m, "password")
	if err != nil {
		return nil, err
	}

	data, err := maputils.StrVal(m, "data")
	if err != nil {
		return nil, err
	}

	method, err := maputils.StrVal(m, "method")
	if err != nil {
		return nil, err
	}

	if method == "" {
		method = http.MethodPost
	}

	headers, err := maputils.MapVal(m, "headers")
	if err != nil {
		return nil, err
	}
	strHeaders, err := maputils.ToStrMap(headers)
	if err != nil {
		return nil, fmt.Errorf("headers: %w", err)
	}

	return &Config{
		url:      url,
		user:     user,
		password: password,
		headers:  strHeaders,
		method:   strings.ToUpper(method),
		data:     data,
		logger:   zap.L().Named(loggerName),
	}, nil
}

// Render runs renderFunc on all configuration options that can contain
// template strings and returns a runner using the rendered values.
// If no data is configured, the request body is the JSON encoded result.
func (c *Config) Render(result dispatch.Result, renderFunc func(string) (string, error)) (action.Runner, error) {
	var err error
	newConfig := *c

	newConfig.url, err = renderFunc(c.url)
	if err != nil {
		return nil, fmt.Errorf("templating url failed: %w", err)
	}

	newConfig.headers = make(map[string]string, len(c.headers))
	for k, v := range c.headers {
		newConfig.headers[k], err = renderFunc(v)
		if err != nil {
			return nil, fmt.Errorf("templating header %q failed: %w", k, err)
		}
	}

	if c.data == "" {
		runner, err := NewJSONRunner(&newConfig, result)
		if err != nil {
			return nil, err
		}

		return runner, nil
	}

	newConfig.data, err = renderFunc(c.data)
	if err != nil {
		return nil, fmt.Errorf("templating data failed: %w", err)
	}

	return NewRunner(&newConfig), nil
}

func (c *Config) String() string {
	return fmt.Sprintf("httprequest: %s to %s", c.method, c.url)
}

func (c *Config) DetailedString() string {
	const maskedStr = "************"
	var result strings.Builder

	result.WriteString("http-request:\n")
	result.WriteString(fmt.Sprintf("  url: %s\n", c.url))
	result.WriteString(fmt.Sprintf("  method: %s\n", c.method))
	if c.user != "" {
		result.WriteString("  user: " + maskedStr + "\n")
	}

	if c.password != "" {
		result.WriteString("  password: " + maskedStr + "\n")
	}

	if c.data != "" {
		result.WriteString(fmt.Sprintf("  data: %s\n", c.data))
	}

	if len(c.headers) > 0 {
		result.WriteString("  headers:\n")
	}

	keys := make([]string, 0, len(c.headers))
	for k := range c.headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		result.WriteString(fmt.Sprintf("    %s: %s\n", k, maskedStr))
	}

	return result.String()
}
