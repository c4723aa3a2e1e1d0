// Package cfg loads the hookd configuration.
package cfg

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml"
)

// Environment variables that override values of the config file.
const (
	EnvWebhookSecret = "GITHUB_WEBHOOK_SECRET"
	EnvPort          = "PORT"
)

const (
	DefHTTPListenAddr            = ":8080"
	DefHTTPGithubWebhookEndpoint = "/webhook"
	DefHTTPMetricsEndpoint       = "/metrics"
	DefLogFormat                 = "logfmt"
	DefLogTimeKey                = "time_iso8601"
	DefLogLevel                  = "info"
	DefMaxPayloadBytes           = 25 << 20
	DefForwardQueueSize          = 512
)

type Config struct {
	HTTPListenAddr            string `toml:"http_server_listen_addr"`
	HTTPSListenAddr           string `toml:"https_server_listen_addr"`
	HTTPSCertFile             string `toml:"https_ssl_cert_file"`
	HTTPSKeyFile              string `toml:"https_ssl_key_file"`
	HTTPGithubWebhookEndpoint string `toml:"github_webhook_endpoint"`
	HTTPMetricsEndpoint       string `toml:"metrics_endpoint"`
	GithubWebHookSecret       string `toml:"github_webhook_secret"`
	MaxPayloadBytes           int64  `toml:"max_payload_bytes"`
	LogFormat                 string `toml:"log_format"`
	LogTimeKey                string `toml:"log_time_key"`
	LogLevel                  string `toml:"log_level"`
	ForwardQueueSize          int    `toml:"forward_queue_size"`

	Handlers []*Handler     `toml:"handler"`
	Forward  []*ForwardRule `toml:"forward"`
}

// Handler defines fields that are extracted with jq queries from events of
// a type that has no builtin handler.
type Handler struct {
	EventType string            `toml:"event_type"`
	Fields    map[string]string `toml:"fields"`
}

// ForwardRule defines actions that are run for results matching FilterQuery.
type ForwardRule struct {
	Name        string           `toml:"name"`
	FilterQuery string           `toml:"filter_query"`
	Actions     []map[string]any `toml:"action"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		HTTPListenAddr:            DefHTTPListenAddr,
		HTTPGithubWebhookEndpoint: DefHTTPGithubWebhookEndpoint,
		HTTPMetricsEndpoint:       DefHTTPMetricsEndpoint,
		MaxPayloadBytes:           DefMaxPayloadBytes,
		LogFormat:                 DefLogFormat,
		LogTimeKey:                DefLogTimeKey,
		LogLevel:                  DefLogLevel,
		ForwardQueueSize:          DefForwardQueueSize,
	}
}

// Load reads a TOML configuration from reader.
// Settings missing in the file have their default value.
func Load(reader io.Reader) (*Config, error) {
	result := Default()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, result); err != nil {
		return nil, err
	}

	return result, nil
}

// LoadFile loads the configuration from path.
// If path is empty the default configuration is returned.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Load(f)
}

// LoadEnvFile sets environment variables from a dotenv file.
// Variables that are already set in the environment are not overwritten.
func LoadEnvFile(path string) error {
	return godotenv.Load(path)
}

// ApplyEnv overrides config values with values of set environment
// variables.
func (c *Config) ApplyEnv(lookupEnv func(string) (string, bool)) error {
	if secret, ok := lookupEnv(EnvWebhookSecret); ok {
		c.GithubWebHookSecret = secret
	}

	if port, ok := lookupEnv(EnvPort); ok && port != "" {
		if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			return fmt.Errorf("%s: invalid port %q: %w", EnvPort, port, err)
		}

		host, _, err := net.SplitHostPort(c.HTTPListenAddr)
		if err != nil {
			host = ""
		}

		c.HTTPListenAddr = net.JoinHostPort(host, port)
	}

	return nil
}

// Validate returns an error if the configuration can not be used to run
// the server.
func (c *Config) Validate() error {
	if c.HTTPListenAddr == "" && c.HTTPSListenAddr == "" {
		return errors.New("https_server_listen_addr or http_server_listen_addr must be defined, both are unset")
	}

	if c.HTTPSListenAddr != "" && (c.HTTPSCertFile == "" || c.HTTPSKeyFile == "") {
		return errors.New("https_ssl_cert_file and https_ssl_key_file must be set when https_server_listen_addr is defined")
	}

	if c.HTTPGithubWebhookEndpoint == "" {
		return errors.New("github_webhook_endpoint is empty")
	}

	if c.MaxPayloadBytes <= 0 {
		return fmt.Errorf("max_payload_bytes must be positive, is: %d", c.MaxPayloadBytes)
	}

	if c.ForwardQueueSize <= 0 {
		return fmt.Errorf("forward_queue_size must be positive, is: %d", c.ForwardQueueSize)
	}

	for i, h := range c.Handlers {
		if h.EventType == "" {
			return fmt.Errorf("handler %d: event_type is empty", i)
		}
	}

	return nil
}

func (c *Config) Marshal(writer io.Writer) error {
	return toml.NewEncoder(writer).Encode(c)
}
