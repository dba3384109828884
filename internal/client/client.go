// Package client talks to a running watchd server over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kavymi/meepo-sub001/internal/metrics"
	"github.com/kavymi/meepo-sub001/internal/supervisor"
	"github.com/kavymi/meepo-sub001/internal/version"
	"github.com/kavymi/meepo-sub001/internal/watcher"
)

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound
}

type Status struct {
	Version       version.VersionInfo     `json:"version"`
	StartedAt     time.Time               `json:"started_at"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Kinds         []watcher.KindType      `json:"kinds"`
	Loops         []supervisor.LoopStatus `json:"loops"`
	Metrics       metrics.Snapshot        `json:"metrics"`
}

type Client struct {
	HTTP    *http.Client
	BaseURL string
	Token   string
}

func New(baseURL, token string) *Client {
	return &Client{BaseURL: baseURL, Token: token}
}

func (c *Client) CreateWatcher(ctx context.Context, definition watcher.Definition) (watcher.Watcher, error) {
	var created watcher.Watcher
	err := c.do(ctx, http.MethodPost, "/api/watchers", definition, &created, http.StatusCreated)
	return created, err
}

func (c *Client) ListWatchers(ctx context.Context, activeOnly bool) ([]watcher.Watcher, error) {
	path := "/api/watchers"
	if activeOnly {
		path += "?active=true"
	}
	var watchers []watcher.Watcher
	err := c.do(ctx, http.MethodGet, path, nil, &watchers, http.StatusOK)
	return watchers, err
}

func (c *Client) GetWatcher(ctx context.Context, id string) (watcher.Watcher, error) {
	var found watcher.Watcher
	path, err := watcherPath(id, "")
	if err != nil {
		return found, err
	}
	err = c.do(ctx, http.MethodGet, path, nil, &found, http.StatusOK)
	return found, err
}

func (c *Client) RemoveWatcher(ctx context.Context, id string) error {
	path, err := watcherPath(id, "")
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil, http.StatusNoContent)
}

func (c *Client) PauseWatcher(ctx context.Context, id string) (watcher.Watcher, error) {
	return c.watcherAction(ctx, id, "pause")
}

func (c *Client) ResumeWatcher(ctx context.Context, id string) (watcher.Watcher, error) {
	return c.watcherAction(ctx, id, "resume")
}

func (c *Client) Reload(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/reload", nil, nil, http.StatusOK)
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var status Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &status, http.StatusOK)
	return status, err
}

// SendMessage offers a chat message to message watchers.
func (c *Client) SendMessage(ctx context.Context, channel, sender, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("message text is required")
	}
	payload := map[string]string{"channel": channel, "sender": sender, "text": text}
	return c.do(ctx, http.MethodPost, "/api/messages", payload, nil, http.StatusAccepted)
}

func (c *Client) watcherAction(ctx context.Context, id, action string) (watcher.Watcher, error) {
	var current watcher.Watcher
	path, err := watcherPath(id, action)
	if err != nil {
		return current, err
	}
	err = c.do(ctx, http.MethodPost, path, nil, &current, http.StatusOK)
	return current, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, expected int) error {
	baseURL := strings.TrimRight(c.BaseURL, "/")
	if baseURL == "" {
		return errors.New("base URL is required")
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s request: %w", method, path, err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	addToken(request, c.Token)

	response, err := ensureClient(c.HTTP).Do(request)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode != expected {
		return readError(response)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func watcherPath(id, action string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("watcher id is required")
	}
	path := "/api/watchers/" + url.PathEscape(id)
	if action != "" {
		path += "/" + action
	}
	return path, nil
}

func ensureClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return http.DefaultClient
}

func addToken(request *http.Request, token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	request.Header.Set("Authorization", "Bearer "+token)
}

func readError(response *http.Response) *HTTPError {
	httpErr := &HTTPError{StatusCode: response.StatusCode, Message: response.Status}
	body, _ := io.ReadAll(response.Body)
	text := strings.TrimSpace(string(body))
	if text == "" {
		return httpErr
	}
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && strings.TrimSpace(payload.Error) != "" {
		httpErr.Message = payload.Error
		httpErr.Code = payload.Code
		return httpErr
	}
	httpErr.Message = text
	return httpErr
}
