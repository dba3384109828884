package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kavymi/meepo-sub001/internal/watcher"
)

const defaultWebhookTimeout = 10 * time.Second

var ErrWebhookURL = errors.New("webhook url is required")

type WebhookOptions struct {
	URL     string
	Timeout time.Duration
	// Token is sent as a bearer token when set.
	Token  string
	Client *http.Client
}

// WebhookSink POSTs each event as JSON.
type WebhookSink struct {
	url    string
	token  string
	client *http.Client
}

func NewWebhookSink(options WebhookOptions) (*WebhookSink, error) {
	url := strings.TrimSpace(options.URL)
	if url == "" {
		return nil, ErrWebhookURL
	}
	client := options.Client
	if client == nil {
		timeout := options.Timeout
		if timeout <= 0 {
			timeout = defaultWebhookTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &WebhookSink{url: url, token: options.Token, client: client}, nil
}

func (sink *WebhookSink) Publish(ctx context.Context, event watcher.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return &watcher.SinkError{Sink: "webhook", Err: fmt.Errorf("encode event: %w", err)}
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, sink.url, bytes.NewReader(body))
	if err != nil {
		return &watcher.SinkError{Sink: "webhook", Err: err}
	}
	request.Header.Set("Content-Type", "application/json")
	if sink.token != "" {
		request.Header.Set("Authorization", "Bearer "+sink.token)
	}
	response, err := sink.client.Do(request)
	if err != nil {
		return &watcher.SinkError{Sink: "webhook", Err: err}
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(response.Body, 256))
		return &watcher.SinkError{
			Sink: "webhook",
			Err:  fmt.Errorf("status %d: %s", response.StatusCode, strings.TrimSpace(string(snippet))),
		}
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}
