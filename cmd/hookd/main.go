package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"github.com/thecodeteam/goodbye"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simplesurance/hookd/internal/cfg"
	"github.com/simplesurance/hookd/internal/dispatch"
	"github.com/simplesurance/hookd/internal/forward"
	"github.com/simplesurance/hookd/internal/logfields"
	"github.com/simplesurance/hookd/internal/provider/github"
	"github.com/simplesurance/hookd/internal/signature"
)

const appName = "hookd"

var logger *zap.Logger

// Version is set via a ldflag on compilation
var Version = "unknown"

const readHeaderTimeout = 10 * time.Second

func exitOnErr(msg string, err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "ERROR:", msg+", error:", err.Error())
	os.Exit(1)
}

func panicHandler() {
	if r := recover(); r != nil {
		logger.Info(
			"panic caught , terminating gracefully",
			zap.String("panic", fmt.Sprintf("%v", r)),
			zap.StackSkip("stacktrace", 1),
		)

		ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
		defer cancelFn()

		goodbye.Exit(ctx, 1)
	}
}

type serveFunc func(*http.Server) error

func startServer(name, listenAddr string, mux *http.ServeMux, serve serveFunc) {
	srv := http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	goodbye.Register(func(context.Context, os.Signal) {
		const shutdownTimeout = 30 * time.Second
		ctx, cancelFn := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelFn()

		logger.Debug(
			"terminating "+name+" server",
			logfields.Event(name+"_server_terminating"),
			zap.Duration("shutdown_timeout", shutdownTimeout),
		)

		err := srv.Shutdown(ctx)
		if err != nil {
			logger.Warn(
				"shutting down "+name+" server failed",
				logfields.Event(name+"_server_termination_failed"),
				zap.Error(err),
			)
		}
	})

	go func() {
		defer panicHandler()

		logger.Info(
			name+" server started",
			logfields.Event(name+"_server_started"),
			zap.String("listenAddr", listenAddr),
		)

		err := serve(&srv)
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info(name+" server terminated", logfields.Event(name+"_server_terminated"))
			return
		}

		logger.Fatal(
			name+" server terminated unexpectedly",
			logfields.Event(name+"_server_terminated_unexpectedly"),
			zap.Error(err),
		)
	}()
}

func startHTTPServer(listenAddr string, mux *http.ServeMux) {
	startServer("http", listenAddr, mux, func(srv *http.Server) error {
		return srv.ListenAndServe()
	})
}

func startHTTPSServer(listenAddr, certFile, keyFile string, mux *http.ServeMux) {
	startServer("https", listenAddr, mux, func(srv *http.Server) error {
		return srv.ListenAndServeTLS(certFile, keyFile)
	})
}

type arguments struct {
	Verbose     *bool
	ConfigFile  *string
	EnvFile     *string
	ShowVersion *bool
}

var args arguments

func mustParseCommandlineParams() {
	args = arguments{
		Verbose: pflag.BoolP(
			"verbose",
			"v",
			false,
			"enable verbose logging",
		),
		ConfigFile: pflag.StringP(
			"cfg-file",
			"c",
			"",
			"path to the hookd configuration file, defaults are used if unset",
		),
		EnvFile: pflag.StringP(
			"env-file",
			"e",
			"",
			"path to a dotenv file, its variables are loaded into the environment if they are not set already",
		),
		ShowVersion: pflag.Bool(
			"version",
			false,
			"print the version and exit",
		),
	}

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]\nReceive GitHub webhook events, verify their signature and summarize them.\n", appName)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment:\n")
		fmt.Fprintf(os.Stderr, "  %s\tshared secret of the webhook, overrides github_webhook_secret\n", cfg.EnvWebhookSecret)
		fmt.Fprintf(os.Stderr, "  %s\t\t\tport of the http server, overrides the port of http_server_listen_addr\n", cfg.EnvPort)
	}
	flag.Usage = pflag.Usage

	pflag.Parse()
}

func mustParseCfg() *cfg.Config {
	// we use exitOnErr in this function instead of logger.Fatal() because
	// the logger is not initialized yet

	if *args.EnvFile != "" {
		err := cfg.LoadEnvFile(*args.EnvFile)
		exitOnErr(fmt.Sprintf("could not load env file: %s", *args.EnvFile), err)
	}

	config, err := cfg.LoadFile(*args.ConfigFile)
	exitOnErr(fmt.Sprintf("could not load configuration file: %s", *args.ConfigFile), err)

	err = config.ApplyEnv(os.LookupEnv)
	exitOnErr("could not apply environment variables", err)

	err = config.Validate()
	exitOnErr("invalid configuration", err)

	return config
}

func zapEncoderConfig(config *cfg.Config) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()

	cfg.LevelKey = "loglevel"
	cfg.TimeKey = config.LogTimeKey
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder

	return cfg
}

func initLogFmtLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	return zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(zapEncoderConfig(config)),
		os.Stdout,
		logLevel),
	)
}

func mustInitZapFormatLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.EncoderConfig = zapEncoderConfig(config)
	cfg.OutputPaths = []string{"stdout"}
	cfg.Encoding = config.LogFormat
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	logger, err := cfg.Build()
	exitOnErr("could not initialize logger", err)

	return logger
}

func mustInitLogger(config *cfg.Config) {
	var logLevel zapcore.Level
	if *args.Verbose {
		logLevel = zapcore.DebugLevel
	} else {
		if err := (&logLevel).Set(config.LogLevel); err != nil {
			fmt.Fprintf(os.Stderr, "can not set log level to %q: %s \n", config.LogLevel, err)
			os.Exit(2)
		}
	}

	switch config.LogFormat {
	case "logfmt":
		logger = initLogFmtLogger(config, logLevel)
	case "console", "json":
		logger = mustInitZapFormatLogger(config, logLevel)
	default:
		fmt.Fprintf(os.Stderr, "unsupported log-format argument: %q\n", config.LogFormat)
		os.Exit(2)
	}

	logger = logger.Named("main")
	zap.ReplaceGlobals(logger)

	goodbye.Register(func(context.Context, os.Signal) {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "flushing logs failed: %s\n", err)
		}
	})
}

func hide(in string) string {
	if in == "" {
		return in
	}

	return "**hidden**"
}

func mustStartForwarder(config *cfg.Config) []chan<- dispatch.Result {
	rules, err := forward.RulesFromCfg(config.Forward)
	exitOnErr("could not parse forward rules from configuration", err)

	if len(rules) == 0 {
		logger.Info(
			"no forward rules configured, results are not forwarded",
			logfields.Event("forwarder_disabled"),
		)
		return nil
	}

	evLoop := forward.NewEventLoop(
		rules,
		forward.WithChannelBufferSize(config.ForwardQueueSize),
		forward.WithActionRoutineDeferFunc(panicHandler),
	)

	go func() {
		defer panicHandler()
		evLoop.Start()
	}()

	goodbye.Register(func(context.Context, os.Signal) {
		logger.Debug(
			"stopping forwarder",
			logfields.Event("forwarder_stopping"),
		)
		evLoop.Stop()
	})

	logger.Info(
		"forwarder started",
		logfields.Event("forwarder_started"),
		zap.String("rules", rules.String()),
	)

	return []chan<- dispatch.Result{evLoop.C()}
}

func main() {
	defer panicHandler()

	defer goodbye.Exit(context.Background(), 1)
	goodbye.Notify(context.Background())

	mustParseCommandlineParams()

	if *args.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		os.Exit(0) // nolint:gocritic // defer functions won't run
	}

	config := mustParseCfg()

	mustInitLogger(config)

	dispatcher := dispatch.NewWithBuiltins()
	err := dispatcher.RegisterCfgHandlers(config.Handlers)
	exitOnErr("could not register handlers from configuration", err)

	logger.Info(
		"loaded cfg",
		logfields.Event("cfg_loaded"),
		zap.String("cfg_file", *args.ConfigFile),
		zap.String("env_file", *args.EnvFile),
		zap.String("http_server_listen_addr", config.HTTPListenAddr),
		zap.String("https_server_listen_addr", config.HTTPSListenAddr),
		zap.String("github_webhook_endpoint", config.HTTPGithubWebhookEndpoint),
		zap.String("metrics_endpoint", config.HTTPMetricsEndpoint),
		zap.String("github_webhook_secret", hide(config.GithubWebHookSecret)),
		zap.Int64("max_payload_bytes", config.MaxPayloadBytes),
		zap.String("log_format", config.LogFormat),
		zap.String("log_time_key", config.LogTimeKey),
		zap.String("log_level", config.LogLevel),
		zap.Strings("handled_event_types", dispatcher.EventTypes()),
	)

	if config.GithubWebHookSecret == "" {
		logger.Warn(
			"webhook secret is not set, all deliveries will be rejected",
			logfields.Event("webhook_secret_missing"),
			zap.String("env_var", cfg.EnvWebhookSecret),
		)
	}

	goodbye.Register(func(_ context.Context, sig os.Signal) {
		logger.Info(fmt.Sprintf("terminating, received signal %s", sig.String()))
	})

	gh := github.New(
		signature.New(config.GithubWebHookSecret),
		dispatcher,
		github.WithMaxPayloadBytes(config.MaxPayloadBytes),
		github.WithForwardChannels(mustStartForwarder(config)...),
	)

	mux := http.NewServeMux()

	mux.HandleFunc(config.HTTPGithubWebhookEndpoint, gh.HTTPHandler)
	logger.Info(
		"registered github webhook event http endpoint",
		logfields.Event("github_http_handler_registered"),
		zap.String("endpoint", config.HTTPGithubWebhookEndpoint),
	)

	if config.HTTPMetricsEndpoint != "" {
		mux.Handle(config.HTTPMetricsEndpoint, promhttp.Handler())
		logger.Info(
			"registered prometheus metrics http endpoint",
			logfields.Event("metrics_http_handler_registered"),
			zap.String("endpoint", config.HTTPMetricsEndpoint),
		)
	}

	if config.HTTPListenAddr != "" {
		startHTTPServer(config.HTTPListenAddr, mux)
	}

	if config.HTTPSListenAddr != "" {
		startHTTPSServer(
			config.HTTPSListenAddr,
			config.HTTPSCertFile,
			config.HTTPSKeyFile,
			mux,
		)
	}

	select {} // goodbye terminates the process when a signal is received
}
