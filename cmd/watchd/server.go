package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/kavymi/meepo-sub001/internal/api"
	"github.com/kavymi/meepo-sub001/internal/backoff"
	"github.com/kavymi/meepo-sub001/internal/checker"
	"github.com/kavymi/meepo-sub001/internal/checker/calendar"
	"github.com/kavymi/meepo-sub001/internal/checker/file"
	"github.com/kavymi/meepo-sub001/internal/checker/github"
	"github.com/kavymi/meepo-sub001/internal/checker/gitrepo"
	"github.com/kavymi/meepo-sub001/internal/checker/interval"
	"github.com/kavymi/meepo-sub001/internal/checker/mail"
	"github.com/kavymi/meepo-sub001/internal/checker/message"
	"github.com/kavymi/meepo-sub001/internal/checker/schedule"
	"github.com/kavymi/meepo-sub001/internal/config"
	"github.com/kavymi/meepo-sub001/internal/event"
	"github.com/kavymi/meepo-sub001/internal/logging"
	"github.com/kavymi/meepo-sub001/internal/metrics"
	"github.com/kavymi/meepo-sub001/internal/otel"
	"github.com/kavymi/meepo-sub001/internal/sink"
	"github.com/kavymi/meepo-sub001/internal/store"
	"github.com/kavymi/meepo-sub001/internal/supervisor"
	"github.com/kavymi/meepo-sub001/internal/version"
	"github.com/kavymi/meepo-sub001/internal/watcher"
)

const readHeaderTimeout = 5 * time.Second

// daemon is a fully wired watchd process.
type daemon struct {
	cfg        config.Config
	logger     *logging.Logger
	metrics    *metrics.Registry
	store      store.Store
	checkers   *checker.Registry
	events     *event.Bus[watcher.Event]
	lifecycle  *event.Bus[event.LifecycleEvent]
	messages   *event.Bus[event.MessageEvent]
	supervisor *supervisor.Supervisor
	server     *http.Server
	shutdown   *shutdownCoordinator
}

// newDaemon builds every component without starting loops or listening.
// On error, whatever was already opened is released.
func newDaemon(ctx context.Context, cfg config.Config, logger *logging.Logger) (_ *daemon, err error) {
	d := &daemon{
		cfg:      cfg,
		logger:   logger,
		metrics:  &metrics.Registry{},
		shutdown: newShutdownCoordinator(logger),
	}
	defer func() {
		if err != nil {
			_ = d.shutdown.Run(context.Background())
		}
	}()

	shutdownOtel, err := otel.SetupSDK(ctx, otel.SDKOptions{
		Enabled:            cfg.OTel.Enabled,
		HTTPEndpoint:       cfg.OTel.Endpoint,
		ServiceName:        cfg.OTel.ServiceName,
		ServiceVersion:     version.GetVersionInfo().Version,
		ResourceAttributes: cfg.OTel.ResourceAttributes,
	})
	if err != nil {
		return nil, fmt.Errorf("setup otel: %w", err)
	}

	busContext, closeBuses := context.WithCancel(context.Background())
	d.events = event.NewBus[watcher.Event](busContext, event.BusOptions{
		Name:        "events",
		HistorySize: cfg.Server.EventHistory,
		Registry:    d.metrics,
		Logger:      logger,
	})
	d.lifecycle = event.NewBus[event.LifecycleEvent](busContext, event.BusOptions{
		Name:        "lifecycle",
		HistorySize: cfg.Server.EventHistory,
		Registry:    d.metrics,
		Logger:      logger,
	})
	d.messages = event.NewBus[event.MessageEvent](busContext, event.BusOptions{
		Name:     "messages",
		Registry: d.metrics,
		Logger:   logger,
	})

	d.store, err = store.Open(ctx, store.Options{
		Driver: cfg.Store.Driver,
		Path:   cfg.Store.Path,
		SQLite: store.SQLiteOptions{BusyTimeout: cfg.Store.BusyTimeout},
	})
	if err != nil {
		closeBuses()
		_ = shutdownOtel(context.Background())
		return nil, fmt.Errorf("open store: %w", err)
	}

	d.checkers, err = buildCheckers(cfg, logger, d.messages)

	// Registered in stop order: loops first, then what they depend on.
	d.shutdown.Add("supervisor", func(ctx context.Context) error {
		if d.supervisor == nil {
			return nil
		}
		return d.supervisor.Shutdown(ctx)
	})
	d.shutdown.AddCloser("checkers", func() error {
		if d.checkers == nil {
			return nil
		}
		return d.checkers.Close()
	})
	d.shutdown.AddCloser("buses", func() error {
		d.events.Close()
		d.lifecycle.Close()
		d.messages.Close()
		closeBuses()
		return nil
	})
	d.shutdown.AddCloser("store", d.store.Close)
	d.shutdown.Add("otel", shutdownOtel)
	if err != nil {
		return nil, err
	}

	instruments, err := otel.NewSchedulerInstruments(nil, nil)
	if err != nil {
		logger.Warn("otel scheduler instruments unavailable", map[string]string{"error": err.Error()})
		instruments = nil
	}

	out := sink.Multi{sink.NewBusSink(d.events), sink.NewLogSink(logger)}
	if cfg.Webhook.URL != "" {
		webhook, err := sink.NewWebhookSink(sink.WebhookOptions{
			URL:     cfg.Webhook.URL,
			Token:   cfg.Webhook.Token,
			Timeout: cfg.Webhook.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("webhook sink: %w", err)
		}
		out = append(out, webhook)
	}

	d.supervisor = supervisor.New(d.store, d.checkers, out, supervisor.Options{
		CheckTimeout:   cfg.Scheduler.CheckTimeout,
		PublishTimeout: cfg.Scheduler.PublishTimeout,
		DrainTimeout:   cfg.Scheduler.DrainTimeout,
		CommandBuffer:  cfg.Scheduler.CommandBuffer,
		Backoff: backoff.Policy{
			Base:                   cfg.Scheduler.BackoffBase,
			Max:                    cfg.Scheduler.BackoffMax,
			MaxConsecutiveFailures: cfg.Scheduler.MaxConsecutiveFailures,
			Jitter:                 cfg.Scheduler.Jitter,
		},
		Logger:      logger,
		Metrics:     d.metrics,
		Lifecycle:   d.lifecycle,
		Instruments: instruments,
	})

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.Options{
		Scheduler:   d.supervisor,
		Events:      d.events,
		Lifecycle:   d.lifecycle,
		Messages:    d.messages,
		Metrics:     d.metrics,
		Logger:      logger,
		AuthToken:   cfg.Server.AuthToken,
		EventReplay: min(cfg.Server.EventHistory, 50),
	})
	d.server = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return d, nil
}

// buildCheckers registers a checker for every kind the configuration can
// serve. Mail and calendar need a configured source; without one their
// watchers are rejected when added.
func buildCheckers(cfg config.Config, logger *logging.Logger, messages *event.Bus[event.MessageEvent]) (*checker.Registry, error) {
	registry := checker.NewRegistry()
	registry.MustRegister(watcher.KindInterval, interval.New())

	scheduled := schedule.New()
	registry.MustRegister(watcher.KindScheduled, scheduled)
	registry.MustRegister(watcher.KindOneShot, scheduled)
	registry.MustRegister(watcher.KindGit, gitrepo.New())
	registry.MustRegister(watcher.KindMessage, message.New(messages, message.Options{
		HistorySize: cfg.Messages.HistorySize,
		Logger:      logger,
	}))

	files, err := file.New(file.Options{
		Logger:     logger,
		Debounce:   cfg.Files.Debounce,
		MaxWatches: cfg.Files.MaxWatches,
	})
	if err != nil {
		_ = registry.Close()
		return nil, fmt.Errorf("file checker: %w", err)
	}
	registry.MustRegister(watcher.KindFile, files)

	gh, err := github.New(github.Options{
		BaseURL: cfg.GitHub.APIURL,
		Token:   cfg.GitHub.Token,
		Logger:  logger,
	})
	if err != nil {
		_ = registry.Close()
		return nil, fmt.Errorf("github checker: %w", err)
	}
	registry.MustRegister(watcher.KindGitHub, checker.NewLimited(gh, cfg.GitHub.RatePerMinute, cfg.GitHub.Burst))

	if cfg.Mail.Maildir != "" {
		inbox, err := mail.New(mail.Options{Source: mail.Maildir{Root: cfg.Mail.Maildir}})
		if err != nil {
			_ = registry.Close()
			return nil, fmt.Errorf("mail checker: %w", err)
		}
		registry.MustRegister(watcher.KindEmail, inbox)
	}
	if cfg.Calendar.File != "" {
		agenda, err := calendar.New(calendar.Options{Source: calendar.File{Path: cfg.Calendar.File}})
		if err != nil {
			_ = registry.Close()
			return nil, fmt.Errorf("calendar checker: %w", err)
		}
		registry.MustRegister(watcher.KindCalendar, agenda)
	}
	return registry, nil
}

// Run starts the loops and serves the API until ctx is done, then drains.
func (d *daemon) Run(ctx context.Context, listener net.Listener) error {
	if err := d.supervisor.Start(ctx); err != nil {
		_ = d.shutdown.Run(context.Background())
		return fmt.Errorf("start supervisor: %w", err)
	}
	kinds := d.checkers.Kinds()
	d.logger.Info("watchd listening", map[string]string{
		"addr":    listener.Addr().String(),
		"version": version.GetVersionInfo().Version,
		"kinds":   strconv.Itoa(len(kinds)),
		"store":   d.cfg.Store.Driver,
	})

	runner := &serverRunner{Logger: d.logger, ShutdownTimeout: d.cfg.Server.ShutdownTimeout}
	serveErr := runner.Run(ctx, managedServer{
		Name:     "api",
		Serve:    func() error { return d.server.Serve(listener) },
		Shutdown: d.server.Shutdown,
	})

	shutdownContext, cancel := context.WithTimeout(context.Background(), d.shutdownBudget())
	defer cancel()
	return errors.Join(serveErr, d.shutdown.Run(shutdownContext))
}

func (d *daemon) shutdownBudget() time.Duration {
	budget := d.cfg.Scheduler.DrainTimeout + d.cfg.Server.ShutdownTimeout
	if budget <= 0 {
		return defaultShutdownTimeout
	}
	return budget
}
