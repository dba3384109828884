package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kavymi/meepo-sub001/internal/event"
	"github.com/kavymi/meepo-sub001/internal/logging"
	"github.com/kavymi/meepo-sub001/internal/metrics"
	"github.com/kavymi/meepo-sub001/internal/supervisor"
	"github.com/kavymi/meepo-sub001/internal/version"
	"github.com/kavymi/meepo-sub001/internal/watcher"
)

const maxEventLimit = 500

type RestHandler struct {
	Scheduler Scheduler
	Events    *event.Bus[watcher.Event]
	Messages  *event.Bus[event.MessageEvent]
	Metrics   *metrics.Registry
	Logger    *logging.Logger
	StartedAt time.Time
}

type statusResponse struct {
	Version       version.VersionInfo     `json:"version"`
	StartedAt     time.Time               `json:"started_at"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Kinds         []watcher.KindType      `json:"kinds"`
	Loops         []supervisor.LoopStatus `json:"loops"`
	Metrics       metrics.Snapshot        `json:"metrics"`
}

type messageRequest struct {
	Channel string `json:"channel"`
	Sender  string `json:"sender"`
	Text    string `json:"text"`
}

type acceptedResponse struct {
	Status string `json:"status"`
}

func (h *RestHandler) requireScheduler() *apiError {
	if h.Scheduler == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "scheduler unavailable"}
	}
	return nil
}

// handleWatchers serves GET (list, ?active=true filters) and POST (create).
func (h *RestHandler) handleWatchers(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireScheduler(); err != nil {
		return err
	}
	switch r.Method {
	case http.MethodGet:
		watchers, err := h.Scheduler.ListWatchers(r.Context())
		if err != nil {
			return schedulerError(err, "")
		}
		if active, _ := strconv.ParseBool(r.URL.Query().Get("active")); active {
			filtered := watchers[:0]
			for _, candidate := range watchers {
				if candidate.Active {
					filtered = append(filtered, candidate)
				}
			}
			watchers = filtered
		}
		if watchers == nil {
			watchers = []watcher.Watcher{}
		}
		writeJSON(w, http.StatusOK, watchers)
		return nil
	case http.MethodPost:
		var definition watcher.Definition
		if err := decodeJSON(w, r, &definition); err != nil {
			return err
		}
		created, err := watcher.New(definition.Kind, definition.Action, definition.ReplyChannel)
		if err != nil {
			return schedulerError(err, "")
		}
		if err := h.Scheduler.Add(r.Context(), created); err != nil {
			return schedulerError(err, created.ID)
		}
		w.Header().Set("Location", "/api/watchers/"+created.ID)
		writeJSON(w, http.StatusCreated, created)
		return nil
	default:
		return methodNotAllowed(w, "GET, POST")
	}
}

// handleWatcher serves /api/watchers/{id} and its pause and resume actions.
func (h *RestHandler) handleWatcher(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireScheduler(); err != nil {
		return err
	}
	id, action, err := parseWatcherPath(r.URL.Path)
	if err != nil {
		return err
	}
	switch action {
	case "":
		return h.handleWatcherResource(w, r, id)
	case "pause", "resume":
		if r.Method != http.MethodPost {
			return methodNotAllowed(w, "POST")
		}
		run := h.Scheduler.Pause
		if action == "resume" {
			run = h.Scheduler.Resume
		}
		if err := run(r.Context(), id); err != nil {
			return schedulerError(err, id)
		}
		current, err := h.Scheduler.Get(r.Context(), id)
		if err != nil {
			return schedulerError(err, id)
		}
		writeJSON(w, http.StatusOK, current)
		return nil
	default:
		return &apiError{Status: http.StatusNotFound, Message: "unknown watcher action " + action, WatcherID: id}
	}
}

func (h *RestHandler) handleWatcherResource(w http.ResponseWriter, r *http.Request, id string) *apiError {
	switch r.Method {
	case http.MethodGet:
		found, err := h.Scheduler.Get(r.Context(), id)
		if err != nil {
			return schedulerError(err, id)
		}
		writeJSON(w, http.StatusOK, found)
		return nil
	case http.MethodPut:
		// replaces the definition in place, keeping id and creation time
		var definition watcher.Definition
		if err := decodeJSON(w, r, &definition); err != nil {
			return err
		}
		replaced, err := h.Scheduler.Replace(r.Context(), id, definition)
		if err != nil {
			return schedulerError(err, id)
		}
		writeJSON(w, http.StatusOK, replaced)
		return nil
	case http.MethodDelete:
		if err := h.Scheduler.Remove(r.Context(), id); err != nil {
			return schedulerError(err, id)
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	default:
		return methodNotAllowed(w, "GET, PUT, DELETE")
	}
}

func (h *RestHandler) handleStatus(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	if err := h.requireScheduler(); err != nil {
		return err
	}
	loops, err := h.Scheduler.Status(r.Context())
	if err != nil {
		return schedulerError(err, "")
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Version:       version.GetVersionInfo(),
		StartedAt:     h.StartedAt.UTC(),
		UptimeSeconds: int64(time.Since(h.StartedAt).Seconds()),
		Kinds:         h.Scheduler.Kinds(),
		Loops:         loops,
		Metrics:       h.Metrics.Snapshot(),
	})
	return nil
}

func (h *RestHandler) handleReload(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}
	if err := h.requireScheduler(); err != nil {
		return err
	}
	if err := h.Scheduler.Reload(r.Context()); err != nil {
		return schedulerError(err, "")
	}
	writeJSON(w, http.StatusOK, acceptedResponse{Status: "reloaded"})
	return nil
}

// handleEvents returns recent fired events, oldest first.
func (h *RestHandler) handleEvents(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return &apiError{Status: http.StatusBadRequest, Message: "limit must be a positive integer"}
		}
		limit = min(parsed, maxEventLimit)
	}
	watcherID := r.URL.Query().Get("watcher_id")
	events := []watcher.Event{}
	for _, fired := range h.Events.History(maxEventLimit) {
		if watcherID == "" || fired.WatcherID == watcherID {
			events = append(events, fired)
		}
	}
	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	writeJSON(w, http.StatusOK, events)
	return nil
}

// handleMessages feeds an inbound chat message to message watchers.
func (h *RestHandler) handleMessages(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}
	if h.Messages == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "message inbox unavailable"}
	}
	var request messageRequest
	if err := decodeJSON(w, r, &request); err != nil {
		return err
	}
	if strings.TrimSpace(request.Text) == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "text is required"}
	}
	h.Messages.Publish(event.NewMessageEvent(request.Channel, request.Sender, request.Text))
	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted"})
	return nil
}

// handleLogs returns buffered daemon log entries, oldest first.
func (h *RestHandler) handleLogs(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	level, ok := parseLevelParam(r)
	if !ok {
		return &apiError{Status: http.StatusBadRequest, Message: "unknown log level"}
	}
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return &apiError{Status: http.StatusBadRequest, Message: "limit must be a positive integer"}
		}
		limit = min(parsed, maxEventLimit)
	}
	watcherID := r.URL.Query().Get("watcher_id")
	entries := []logging.LogEntry{}
	for _, entry := range h.Logger.Buffer().Query(level, 0) {
		if watcherID == "" || entry.WatcherID() == watcherID {
			entries = append(entries, entry)
		}
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	writeJSON(w, http.StatusOK, entries)
	return nil
}

func (h *RestHandler) handleMetrics(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	if err := h.Metrics.WritePrometheus(w); err != nil {
		h.Logger.Warn("metrics write failed", map[string]string{"error": err.Error()})
	}
	return nil
}

func parseWatcherPath(path string) (string, string, *apiError) {
	rest := strings.Trim(strings.TrimPrefix(path, "/api/watchers/"), "/")
	if rest == "" {
		return "", "", &apiError{Status: http.StatusNotFound, Message: "watcher id is required"}
	}
	parts := strings.Split(rest, "/")
	if len(parts) > 2 {
		return "", "", &apiError{Status: http.StatusNotFound, Message: "not found"}
	}
	if len(parts) == 2 {
		return parts[0], parts[1], nil
	}
	return parts[0], "", nil
}

func parseLevelParam(r *http.Request) (logging.Level, bool) {
	raw := r.URL.Query().Get("level")
	if strings.TrimSpace(raw) == "" {
		return "", true
	}
	return logging.ParseLevel(raw)
}

func replayCount(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("replay")
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return min(parsed, maxEventLimit)
}

// schedulerError maps domain errors to HTTP statuses.
func schedulerError(err error, watcherID string) *apiError {
	var configErr *watcher.ConfigError
	switch {
	case errors.As(err, &configErr):
		return &apiError{Status: http.StatusBadRequest, Code: "invalid_watcher", Message: configErr.Error(), WatcherID: watcherID}
	case errors.Is(err, watcher.ErrNotFound):
		return &apiError{Status: http.StatusNotFound, Message: "watcher not found", WatcherID: watcherID}
	case errors.Is(err, supervisor.ErrStopped):
		return &apiError{Status: http.StatusServiceUnavailable, Message: "scheduler stopped", WatcherID: watcherID}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &apiError{Status: http.StatusServiceUnavailable, Message: "request cancelled", WatcherID: watcherID}
	default:
		return &apiError{Status: http.StatusInternalServerError, Message: err.Error(), WatcherID: watcherID}
	}
}

func requestError(err error) *apiError {
	var configErr *watcher.ConfigError
	if errors.As(err, &configErr) {
		return &apiError{Status: http.StatusBadRequest, Code: "invalid_watcher", Message: configErr.Error()}
	}
	return &apiError{Status: http.StatusBadRequest, Message: "invalid JSON body: " + err.Error()}
}
