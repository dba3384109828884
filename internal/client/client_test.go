package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kavymi/meepo-sub001/internal/watcher"
)

func TestCreateWatcherSendsDefinition(t *testing.T) {
	requireLocalListener(t)
	var gotAuth string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/watchers" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"w1","kind":{"type":"IntervalWatch","interval_secs":60},"action":"ping","reply_channel":"","active":true,"created_at":"2026-01-01T00:00:00Z"}`)
	}))
	t.Cleanup(server.Close)

	c := &Client{HTTP: server.Client(), BaseURL: server.URL + "/", Token: "token"}
	created, err := c.CreateWatcher(context.Background(), watcher.Definition{
		Kind:   watcher.IntervalWatch{Cadence: watcher.Cadence{IntervalSecs: 60}},
		Action: "ping",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer token", gotAuth)
	assert.Equal(t, "w1", created.ID)
	assert.True(t, created.Active)
	assert.Equal(t, "ping", gotBody["action"])
	kind, _ := gotBody["kind"].(map[string]any)
	assert.Equal(t, "IntervalWatch", kind["type"])
}

func TestHTTPErrorCarriesServerMessage(t *testing.T) {
	requireLocalListener(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message":"watcher not found","error":"watcher not found","code":"not_found"}`)
	}))
	t.Cleanup(server.Close)

	c := &Client{HTTP: server.Client(), BaseURL: server.URL}
	_, err := c.GetWatcher(context.Background(), "missing")
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Equal(t, "not_found", httpErr.Code)
	assert.Equal(t, "watcher not found", httpErr.Message)
	assert.True(t, IsNotFound(err))
}

func TestPlainTextErrorBody(t *testing.T) {
	requireLocalListener(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "upstream down")
	}))
	t.Cleanup(server.Close)

	c := &Client{HTTP: server.Client(), BaseURL: server.URL}
	err := c.Reload(context.Background())
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, "upstream down", httpErr.Message)
}

func TestWatcherActionsUsePaths(t *testing.T) {
	requireLocalListener(t)
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		switch r.Method {
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			_, _ = io.WriteString(w, `{"id":"w1","kind":{"type":"IntervalWatch","interval_secs":60},"active":false}`)
		}
	}))
	t.Cleanup(server.Close)

	c := &Client{HTTP: server.Client(), BaseURL: server.URL}
	paused, err := c.PauseWatcher(context.Background(), "w1")
	require.NoError(t, err)
	assert.False(t, paused.Active)
	_, err = c.ResumeWatcher(context.Background(), "w1")
	require.NoError(t, err)
	require.NoError(t, c.RemoveWatcher(context.Background(), "w1"))

	assert.Equal(t, []string{
		"POST /api/watchers/w1/pause",
		"POST /api/watchers/w1/resume",
		"DELETE /api/watchers/w1",
	}, paths)
}

func TestClientValidatesInput(t *testing.T) {
	c := New("", "")
	_, err := c.ListWatchers(context.Background(), false)
	assert.EqualError(t, err, "base URL is required")

	c = New("http://127.0.0.1:1", "")
	_, err = c.GetWatcher(context.Background(), " ")
	assert.EqualError(t, err, "watcher id is required")
	assert.EqualError(t, c.SendMessage(context.Background(), "ops", "", ""), "message text is required")
}

func requireLocalListener(t *testing.T) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skip("local listener unavailable for httptest")
	}
	_ = listener.Close()
}
