// Package cli provides the bootstrap shared by cmd/fintrack and
// cmd/session-events: env file, logger, configuration and the wiring of
// session store, gateway and API client.
package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"fintrack/internal/api"
	"fintrack/internal/config"
	"fintrack/internal/events"
	"fintrack/internal/gateway"
	"fintrack/internal/log"
	"fintrack/internal/metrics"
	"fintrack/internal/session"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger from LOG_LEVEL and LOG_FORMAT and
// makes it the slog default.
func SetupLogger(level, format, component string) *log.Logger {
	cfg := log.DefaultConfig()
	if lvl, err := log.ParseLevel(level); err == nil {
		cfg.Level = lvl
	}
	cfg.Format = format
	cfg.Component = component

	logger := log.New(cfg)
	log.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig loads configuration from the environment and validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// App is a wired client: everything a command needs to talk to the API.
type App struct {
	Config    *config.Config
	Logger    *log.Logger
	Store     session.Store
	Gateway   *gateway.Gateway
	API       *api.Client
	Registry  *prometheus.Registry
	Publisher *events.Publisher // nil when AMQP_URL is empty

	cleanups []func() error
}

// Bootstrap opens the session backend, the optional event publisher, and
// builds gateway and API client. notifier receives forced logouts in
// addition to the event publisher.
func Bootstrap(ctx context.Context, cfg *config.Config, logger *log.Logger, notifier gateway.LogoutNotifier) (*App, error) {
	app := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}

	// Runs last on Close, after every request of the command has been counted.
	if cfg.MetricsPushURL != "" {
		app.cleanups = append(app.cleanups, pushMetrics(cfg.MetricsPushURL, app.Registry))
	}

	sessCfg, err := session.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, cleanup, err := session.NewStore(ctx, sessCfg, logger.WithComponent(log.ComponentSession).Logger)
	if err != nil {
		return nil, err
	}
	app.Store = store
	app.cleanups = append(app.cleanups, cleanup)

	notifiers := gateway.Notifiers{}
	if notifier != nil {
		notifiers = append(notifiers, notifier)
	}

	if cfg.AMQPURL != "" {
		client, err := events.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			// Events are optional; the client still works without them.
			logger.Warn("Failed to initialize AMQP client, continuing without session events", "error", err)
		} else {
			app.cleanups = append(app.cleanups, client.Close)
			app.Publisher = events.NewPublisher(client, logger.WithComponent(log.ComponentEvents).Logger)
			app.cleanups = append(app.cleanups, app.Publisher.Close)
			notifiers = append(notifiers, app.Publisher)
			logger.Info("Initialized AMQP client",
				"exchange", cfg.AMQPExchange,
				"queue", cfg.AMQPQueue)
		}
	}

	gw, err := gateway.New(cfg.APIBaseURL, store,
		gateway.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		gateway.WithUserAgent(cfg.UserAgent),
		gateway.WithLogger(logger.WithComponent(log.ComponentGateway).Logger),
		gateway.WithMetrics(metrics.New(app.Registry)),
		gateway.WithLogoutNotifier(notifiers),
	)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Gateway = gw

	opts := []api.Option{
		api.WithCategoryTTL(cfg.CategoryCacheTTL),
		api.WithLogger(logger.WithComponent(log.ComponentAPI).Logger),
	}
	if app.Publisher != nil {
		opts = append(opts, api.WithLogoutNotifier(app.Publisher))
	}
	app.API = api.New(gw, opts...)

	return app, nil
}

// Close releases everything Bootstrap opened, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		if err := a.cleanups[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.cleanups = nil
	if len(errs) > 0 {
		return fmt.Errorf("close: %w", errors.Join(errs...))
	}
	return nil
}

const (
	pushJob     = "fintrack"
	pushTimeout = 5 * time.Second
)

// pushMetrics sends the gateway counters of this run to a Pushgateway,
// grouped by host so machines do not overwrite each other.
func pushMetrics(url string, reg *prometheus.Registry) func() error {
	host, _ := os.Hostname()
	pusher := push.New(url, pushJob).Gatherer(reg)
	if host != "" {
		pusher = pusher.Grouping("instance", host)
	}
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()
		if err := pusher.PushContext(ctx); err != nil {
			return fmt.Errorf("push metrics: %w", err)
		}
		return nil
	}
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
