// Package api exposes the watcher supervisor over HTTP and websockets.
package api

import (
	"context"
	"net/http"
	"time"

	otelapi "go.opentelemetry.io/otel"

	"github.com/kavymi/meepo-sub001/internal/event"
	"github.com/kavymi/meepo-sub001/internal/logging"
	"github.com/kavymi/meepo-sub001/internal/metrics"
	"github.com/kavymi/meepo-sub001/internal/otel"
	"github.com/kavymi/meepo-sub001/internal/supervisor"
	"github.com/kavymi/meepo-sub001/internal/watcher"
)

const defaultEventReplay = 50

// Scheduler is the supervisor surface the API drives.
type Scheduler interface {
	Add(ctx context.Context, w watcher.Watcher) error
	Replace(ctx context.Context, id string, definition watcher.Definition) (watcher.Watcher, error)
	Get(ctx context.Context, id string) (watcher.Watcher, error)
	ListWatchers(ctx context.Context) ([]watcher.Watcher, error)
	Remove(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Reload(ctx context.Context) error
	Status(ctx context.Context) ([]supervisor.LoopStatus, error)
	Kinds() []watcher.KindType
}

type Options struct {
	Scheduler      Scheduler
	Events         *event.Bus[watcher.Event]
	Lifecycle      *event.Bus[event.LifecycleEvent]
	Messages       *event.Bus[event.MessageEvent]
	Metrics        *metrics.Registry
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
	// EventReplay is how many past events a new websocket client receives.
	EventReplay int
	StartedAt   time.Time
}

func RegisterRoutes(mux *http.ServeMux, options Options) {
	if options.Metrics == nil {
		options.Metrics = metrics.Default
	}
	if options.EventReplay <= 0 {
		options.EventReplay = defaultEventReplay
	}
	if options.Logger == nil {
		options.Logger = logging.Discard()
	}
	if options.StartedAt.IsZero() {
		options.StartedAt = time.Now()
	}
	logger := options.Logger
	authToken := options.AuthToken
	rest := &RestHandler{
		Scheduler: options.Scheduler,
		Events:    options.Events,
		Messages:  options.Messages,
		Metrics:   options.Metrics,
		Logger:    logger,
		StartedAt: options.StartedAt,
	}

	meter := otelapi.GetMeterProvider().Meter(otel.ScopeAPI)
	tracer := otelapi.Tracer(otel.ScopeAPI)
	instrument, err := otel.NewAPIInstrumentationMiddleware(meter, tracer)
	if err != nil {
		logger.Warn("otel api middleware unavailable", map[string]string{"error": err.Error()})
	}
	if instrument == nil {
		instrument = func(next http.Handler) http.Handler { return next }
	}
	wrap := func(route, category, operation string, handler http.Handler) http.Handler {
		return otel.WithRouteInfo(instrument(loggingMiddleware(logger, handler)), otel.RouteInfo{
			Route:     route,
			Category:  category,
			Operation: operation,
		})
	}

	mux.Handle("/ws/events", securityHeadersMiddleware(cacheControlNoStore, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		watcherID := r.URL.Query().Get("watcher_id")
		serveWSBusStream(w, r, wsBusStreamConfig[watcher.Event]{
			Logger:         logger,
			AuthToken:      authToken,
			AllowedOrigins: options.AllowedOrigins,
			Bus:            options.Events,
			Replay:         replayCount(r, options.EventReplay),
			Filter: func(fired watcher.Event) bool {
				return watcherID == "" || fired.WatcherID == watcherID
			},
		})
	})))
	mux.Handle("/ws/lifecycle", securityHeadersMiddleware(cacheControlNoStore, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveWSBusStream(w, r, wsBusStreamConfig[event.LifecycleEvent]{
			Logger:         logger,
			AuthToken:      authToken,
			AllowedOrigins: options.AllowedOrigins,
			Bus:            options.Lifecycle,
			Replay:         replayCount(r, 0),
		})
	})))

	mux.Handle("/ws/logs", securityHeadersMiddleware(cacheControlNoStore, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveWSLogStream(w, r, logger, authToken, options.AllowedOrigins)
	})))

	mux.Handle("/api/watchers", wrap("/api/watchers", "watchers", "auto", restHandler(authToken, rest.handleWatchers)))
	mux.Handle("/api/watchers/", wrap("/api/watchers/:id", "watchers", "auto", restHandler(authToken, rest.handleWatcher)))
	mux.Handle("/api/status", wrap("/api/status", "status", "read", restHandler(authToken, rest.handleStatus)))
	mux.Handle("/api/reload", wrap("/api/reload", "watchers", "update", restHandler(authToken, rest.handleReload)))
	mux.Handle("/api/events", wrap("/api/events", "watchers", "query", restHandler(authToken, rest.handleEvents)))
	mux.Handle("/api/messages", wrap("/api/messages", "messages", "create", restHandler(authToken, rest.handleMessages)))
	mux.Handle("/api/logs", wrap("/api/logs", "logs", "query", restHandler(authToken, rest.handleLogs)))
	mux.Handle("/api/", securityHeadersMiddleware(cacheControlNoStore, http.NotFoundHandler()))
	mux.Handle("/metrics", securityHeadersMiddleware(cacheControlNoStore, restHandler(authToken, rest.handleMetrics)))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, cacheControlNoCache)
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if authToken != "" {
			w.Header().Set("X-Watchd-Auth", "required")
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("watchd ok\n"))
	})
}
