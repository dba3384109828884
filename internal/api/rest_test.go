package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kavymi/meepo-sub001/internal/checker"
	"github.com/kavymi/meepo-sub001/internal/checker/interval"
	"github.com/kavymi/meepo-sub001/internal/event"
	"github.com/kavymi/meepo-sub001/internal/logging"
	"github.com/kavymi/meepo-sub001/internal/metrics"
	"github.com/kavymi/meepo-sub001/internal/sink"
	"github.com/kavymi/meepo-sub001/internal/store"
	"github.com/kavymi/meepo-sub001/internal/supervisor"
	"github.com/kavymi/meepo-sub001/internal/watcher"
)

type testServer struct {
	server    *httptest.Server
	token     string
	events    *event.Bus[watcher.Event]
	lifecycle *event.Bus[event.LifecycleEvent]
	messages  *event.Bus[event.MessageEvent]
	sup       *supervisor.Supervisor
	logger    *logging.Logger
}

func newTestServer(t *testing.T, token string) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	registry := &metrics.Registry{}
	events := event.NewBus[watcher.Event](ctx, event.BusOptions{Name: "events", HistorySize: 100, Registry: registry})
	lifecycle := event.NewBus[event.LifecycleEvent](ctx, event.BusOptions{Name: "lifecycle", HistorySize: 100, Registry: registry})
	messages := event.NewBus[event.MessageEvent](ctx, event.BusOptions{Name: "messages", Registry: registry})

	logger := logging.Discard()
	checkers := checker.NewRegistry()
	checkers.MustRegister(watcher.KindInterval, interval.New())
	sup := supervisor.New(store.NewMemoryStore(), checkers, sink.NewBusSink(events), supervisor.Options{
		Metrics:   registry,
		Lifecycle: lifecycle,
		Logger:    logger,
	})

	mux := http.NewServeMux()
	RegisterRoutes(mux, Options{
		Scheduler: sup,
		Events:    events,
		Lifecycle: lifecycle,
		Messages:  messages,
		Metrics:   registry,
		Logger:    logger,
		AuthToken: token,
	})
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		server.Close()
		_ = sup.Shutdown(context.Background())
		cancel()
	})
	return &testServer{server: server, token: token, events: events, lifecycle: lifecycle, messages: messages, sup: sup, logger: logger}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		switch typed := body.(type) {
		case string:
			reader = strings.NewReader(typed)
		default:
			payload, err := json.Marshal(body)
			require.NoError(t, err)
			reader = bytes.NewReader(payload)
		}
	}
	request, err := http.NewRequest(method, ts.server.URL+path, reader)
	require.NoError(t, err)
	if ts.token != "" {
		request.Header.Set("Authorization", "Bearer "+ts.token)
	}
	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	t.Cleanup(func() { _ = response.Body.Close() })
	return response
}

func decode[T any](t *testing.T, response *http.Response) T {
	t.Helper()
	var value T
	require.NoError(t, json.NewDecoder(response.Body).Decode(&value))
	return value
}

const intervalDefinition = `{"kind":{"type":"IntervalWatch","interval_secs":3600},"action":"ping","reply_channel":"chat:1"}`

func TestWatcherLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t, "")

	created := ts.do(t, http.MethodPost, "/api/watchers", intervalDefinition)
	require.Equal(t, http.StatusCreated, created.StatusCode)
	w := decode[watcher.Watcher](t, created)
	assert.NotEmpty(t, w.ID)
	assert.True(t, w.Active)
	assert.Equal(t, "ping", w.Action)
	assert.Equal(t, "/api/watchers/"+w.ID, created.Header.Get("Location"))

	listed := decode[[]watcher.Watcher](t, ts.do(t, http.MethodGet, "/api/watchers", nil))
	require.Len(t, listed, 1)
	assert.Equal(t, w.ID, listed[0].ID)

	paused := ts.do(t, http.MethodPost, "/api/watchers/"+w.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, paused.StatusCode)
	assert.False(t, decode[watcher.Watcher](t, paused).Active)

	active := decode[[]watcher.Watcher](t, ts.do(t, http.MethodGet, "/api/watchers?active=true", nil))
	assert.Empty(t, active)

	resumed := ts.do(t, http.MethodPost, "/api/watchers/"+w.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, resumed.StatusCode)
	assert.True(t, decode[watcher.Watcher](t, resumed).Active)

	removed := ts.do(t, http.MethodDelete, "/api/watchers/"+w.ID, nil)
	assert.Equal(t, http.StatusNoContent, removed.StatusCode)
	again := ts.do(t, http.MethodDelete, "/api/watchers/"+w.ID, nil)
	assert.Equal(t, http.StatusNoContent, again.StatusCode)

	missing := ts.do(t, http.MethodGet, "/api/watchers/"+w.ID, nil)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
	assert.Equal(t, "not_found", decode[errorResponse](t, missing).Code)
}

func TestReplaceWatcherKeepsID(t *testing.T) {
	ts := newTestServer(t, "")
	w := decode[watcher.Watcher](t, ts.do(t, http.MethodPost, "/api/watchers", intervalDefinition))

	replaced := ts.do(t, http.MethodPut, "/api/watchers/"+w.ID,
		`{"kind":{"type":"IntervalWatch","interval_secs":7200},"action":"pong"}`)
	require.Equal(t, http.StatusOK, replaced.StatusCode)

	got := decode[watcher.Watcher](t, ts.do(t, http.MethodGet, "/api/watchers/"+w.ID, nil))
	assert.Equal(t, "pong", got.Action)
	assert.Equal(t, 2*time.Hour, got.Interval())
	assert.True(t, got.CreatedAt.Equal(w.CreatedAt))
}

func TestReplaceRemovedWatcherIsNotFound(t *testing.T) {
	ts := newTestServer(t, "")
	w := decode[watcher.Watcher](t, ts.do(t, http.MethodPost, "/api/watchers", intervalDefinition))
	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/api/watchers/"+w.ID, nil).StatusCode)

	response := ts.do(t, http.MethodPut, "/api/watchers/"+w.ID, intervalDefinition)
	assert.Equal(t, http.StatusNotFound, response.StatusCode)
	assert.Equal(t, "not_found", decode[errorResponse](t, response).Code)

	listed := decode[[]watcher.Watcher](t, ts.do(t, http.MethodGet, "/api/watchers", nil))
	assert.Empty(t, listed)
	status, err := ts.sup.Status(context.Background())
	require.NoError(t, err)
	assert.Empty(t, status)
}

func TestInvalidDefinitionsAreRejected(t *testing.T) {
	ts := newTestServer(t, "")
	cases := map[string]string{
		"zero interval": `{"kind":{"type":"IntervalWatch","interval_secs":0}}`,
		"unknown kind":  `{"kind":{"type":"PagerWatch","interval_secs":10}}`,
		"missing kind":  `{"action":"x"}`,
		"no checker":    `{"kind":{"type":"MessageWatch","keyword":"deploy","interval_secs":10}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			response := ts.do(t, http.MethodPost, "/api/watchers", body)
			assert.Equal(t, http.StatusBadRequest, response.StatusCode)
			assert.Equal(t, "invalid_watcher", decode[errorResponse](t, response).Code)
		})
	}

	malformed := ts.do(t, http.MethodPost, "/api/watchers", "{")
	assert.Equal(t, http.StatusBadRequest, malformed.StatusCode)

	listed := decode[[]watcher.Watcher](t, ts.do(t, http.MethodGet, "/api/watchers", nil))
	assert.Empty(t, listed)
}

func TestPauseUnknownWatcherIsNotFound(t *testing.T) {
	ts := newTestServer(t, "")
	response := ts.do(t, http.MethodPost, "/api/watchers/nope/pause", nil)
	assert.Equal(t, http.StatusNotFound, response.StatusCode)

	action := ts.do(t, http.MethodPost, "/api/watchers/nope/explode", nil)
	assert.Equal(t, http.StatusNotFound, action.StatusCode)

	wrongMethod := ts.do(t, http.MethodGet, "/api/watchers/nope/pause", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, wrongMethod.StatusCode)
	assert.Equal(t, "POST", wrongMethod.Header.Get("Allow"))
}

func TestAuthTokenIsRequired(t *testing.T) {
	ts := newTestServer(t, "secret")

	response, err := http.Get(ts.server.URL + "/api/watchers")
	require.NoError(t, err)
	defer response.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)

	authorized := ts.do(t, http.MethodGet, "/api/watchers", nil)
	assert.Equal(t, http.StatusOK, authorized.StatusCode)

	query, err := http.Get(ts.server.URL + "/api/status?token=secret")
	require.NoError(t, err)
	defer query.Body.Close()
	assert.Equal(t, http.StatusOK, query.StatusCode)
}

func TestStatusReportsLoops(t *testing.T) {
	ts := newTestServer(t, "")
	w := decode[watcher.Watcher](t, ts.do(t, http.MethodPost, "/api/watchers", intervalDefinition))

	status := decode[statusResponse](t, ts.do(t, http.MethodGet, "/api/status", nil))
	require.Len(t, status.Loops, 1)
	assert.Equal(t, w.ID, status.Loops[0].WatcherID)
	assert.Equal(t, []watcher.KindType{watcher.KindInterval}, status.Kinds)
	assert.Equal(t, int64(1), status.Metrics.LoopsStarted)
}

func TestReload(t *testing.T) {
	ts := newTestServer(t, "")
	response := ts.do(t, http.MethodPost, "/api/reload", nil)
	assert.Equal(t, http.StatusOK, response.StatusCode)

	wrong := ts.do(t, http.MethodGet, "/api/reload", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, wrong.StatusCode)
}

func TestFiredEventsHistory(t *testing.T) {
	ts := newTestServer(t, "")
	w := decode[watcher.Watcher](t, ts.do(t, http.MethodPost, "/api/watchers", intervalDefinition))

	require.Eventually(t, func() bool {
		events := decode[[]watcher.Event](t, ts.do(t, http.MethodGet, "/api/events?watcher_id="+w.ID, nil))
		return len(events) == 1 && events[0].Kind == interval.TriggerKind && events[0].Action == "ping"
	}, 2*time.Second, 10*time.Millisecond)

	other := decode[[]watcher.Event](t, ts.do(t, http.MethodGet, "/api/events?watcher_id=other", nil))
	assert.Empty(t, other)

	bad := ts.do(t, http.MethodGet, "/api/events?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestMessagesArePublished(t *testing.T) {
	ts := newTestServer(t, "")
	inbox, cancel := ts.messages.Subscribe()
	defer cancel()

	response := ts.do(t, http.MethodPost, "/api/messages", messageRequest{Channel: "ops", Sender: "sam", Text: "deploy done"})
	require.Equal(t, http.StatusAccepted, response.StatusCode)

	got := event.ReceiveWithTimeout(t, inbox, time.Second)
	assert.Equal(t, "ops", got.Channel)
	assert.Equal(t, "deploy done", got.Text)

	empty := ts.do(t, http.MethodPost, "/api/messages", messageRequest{Channel: "ops"})
	assert.Equal(t, http.StatusBadRequest, empty.StatusCode)
}

func TestMetricsExposition(t *testing.T) {
	ts := newTestServer(t, "")
	ts.do(t, http.MethodPost, "/api/watchers", intervalDefinition)

	response := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	body, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "watchd_loops_started_total 1")
	assert.True(t, strings.HasPrefix(response.Header.Get("Content-Type"), "text/plain"))
}

func TestLifecycleWebsocketStream(t *testing.T) {
	ts := newTestServer(t, "secret")
	url := "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/ws/lifecycle?token=secret"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return ts.lifecycle.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	w := decode[watcher.Watcher](t, ts.do(t, http.MethodPost, "/api/watchers", intervalDefinition))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got event.LifecycleEvent
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, event.WatcherAdded, got.EventType)
	assert.Equal(t, w.ID, got.WatcherID)
}

func TestEventsWebsocketRejectsBadToken(t *testing.T) {
	ts := newTestServer(t, "secret")
	url := "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/ws/events?token=wrong"
	_, response, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, response)
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
}

func TestRootAndUnknownRoutes(t *testing.T) {
	ts := newTestServer(t, "secret")
	root, err := http.Get(ts.server.URL + "/")
	require.NoError(t, err)
	defer root.Body.Close()
	assert.Equal(t, http.StatusOK, root.StatusCode)
	assert.Equal(t, "required", root.Header.Get("X-Watchd-Auth"))

	unknown := ts.do(t, http.MethodGet, "/api/nothing", nil)
	assert.Equal(t, http.StatusNotFound, unknown.StatusCode)
}

func TestLogsQuery(t *testing.T) {
	ts := newTestServer(t, "")
	ts.logger.Info("routine", map[string]string{"watcher_id": "w9"})
	ts.logger.Warn("check slow", map[string]string{"watcher_id": "w9"})
	ts.logger.Warn("other watcher", map[string]string{"watcher_id": "w8"})

	entries := decode[[]logging.LogEntry](t, ts.do(t, http.MethodGet, "/api/logs?level=warn&watcher_id=w9", nil))
	require.Len(t, entries, 1)
	assert.Equal(t, "check slow", entries[0].Message)

	bad := ts.do(t, http.MethodGet, "/api/logs?level=loud", nil)
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestLogsWebsocketStream(t *testing.T) {
	ts := newTestServer(t, "")
	url := "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/ws/logs?level=error"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return ts.logger.Hub().SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	ts.logger.Warn("ignored", nil)
	ts.logger.Error("store unavailable", map[string]string{"error": "locked"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got logging.LogEntry
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "store unavailable", got.Message)
	assert.Equal(t, logging.LevelError, got.Level)
}
