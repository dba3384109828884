// Package github fires GitHubWatch watchers on new repository events read
// from the GitHub REST API.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/oauth2"

	"github.com/kavymi/meepo-sub001/internal/checker"
	"github.com/kavymi/meepo-sub001/internal/logging"
	"github.com/kavymi/meepo-sub001/internal/watcher"
)

const (
	DefaultBaseURL    = "https://api.github.com"
	GenericKind       = "github_event"
	defaultStateSize  = 512
	defaultClientSize = 32
	defaultPageSize   = 30
	seenLimit         = 300
	maxErrorBody      = 512
)

type Options struct {
	BaseURL string
	// Token is used when a watcher carries no token of its own.
	Token      string
	HTTPClient *http.Client
	Logger     *logging.Logger
	StateSize  int
}

type Actor struct {
	Login string `json:"login"`
}

type Repo struct {
	Name string `json:"name"`
}

type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Actor     Actor           `json:"actor"`
	Repo      Repo            `json:"repo"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type Payload struct {
	Repo   string  `json:"repo"`
	Events []Event `json:"events"`
}

// APIError is a non-success response from the events endpoint.
type APIError struct {
	StatusCode int
	Message    string
	ResetAt    time.Time
}

func (e *APIError) Error() string {
	if !e.ResetAt.IsZero() {
		return fmt.Sprintf("github api %d: %s (rate limit resets at %s)", e.StatusCode, e.Message, e.ResetAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("github api %d: %s", e.StatusCode, e.Message)
}

type repoState struct {
	mu       sync.Mutex
	etag     string
	baseline bool
	seen     map[string]struct{}
	order    []string
}

func (state *repoState) remember(id string) bool {
	if _, ok := state.seen[id]; ok {
		return false
	}
	state.seen[id] = struct{}{}
	state.order = append(state.order, id)
	if len(state.order) > seenLimit {
		delete(state.seen, state.order[0])
		state.order = state.order[1:]
	}
	return true
}

type Checker struct {
	baseURL string
	token   string
	base    *http.Client
	logger  *logging.Logger
	states  *lru.Cache[string, *repoState]
	clients *lru.Cache[string, *http.Client]
}

func New(options Options) (*Checker, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(options.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	size := options.StateSize
	if size <= 0 {
		size = defaultStateSize
	}
	states, err := lru.New[string, *repoState](size)
	if err != nil {
		return nil, err
	}
	clients, err := lru.New[string, *http.Client](defaultClientSize)
	if err != nil {
		return nil, err
	}
	base := options.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 20 * time.Second}
	}
	return &Checker{
		baseURL: baseURL,
		token:   options.Token,
		base:    base,
		logger:  options.Logger,
		states:  states,
		clients: clients,
	}, nil
}

func (c *Checker) Check(ctx context.Context, w watcher.Watcher) (*checker.Trigger, error) {
	kind, ok := w.Kind.(watcher.GitHubWatch)
	if !ok {
		return nil, fmt.Errorf("github checker cannot evaluate %s", w.KindType())
	}
	state := c.state(w.ID)
	state.mu.Lock()
	defer state.mu.Unlock()

	events, etag, notModified, err := c.fetch(ctx, kind, state.etag)
	if err != nil {
		return nil, err
	}
	if notModified {
		return nil, nil
	}
	state.etag = etag

	wanted := normalizeTypes(kind.Events)
	var fresh []Event
	// The API lists newest first; triggers carry events oldest first.
	for index := len(events) - 1; index >= 0; index-- {
		event := events[index]
		if !state.remember(event.ID) {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[event.Type]; !ok {
				continue
			}
		}
		fresh = append(fresh, event)
	}
	if !state.baseline {
		state.baseline = true
		c.logger.Debug("github baseline recorded", map[string]string{
			"watcher_id": w.ID,
			"repo":       kind.Repo,
		})
		return nil, nil
	}
	if len(fresh) == 0 {
		return nil, nil
	}
	return checker.Fire(triggerKind(fresh), Payload{Repo: kind.Repo, Events: fresh}), nil
}

func (c *Checker) Forget(watcherID string) {
	c.states.Remove(watcherID)
}

func (c *Checker) state(watcherID string) *repoState {
	if state, ok := c.states.Get(watcherID); ok {
		return state
	}
	state := &repoState{seen: make(map[string]struct{})}
	if existing, ok, _ := c.states.PeekOrAdd(watcherID, state); ok {
		return existing
	}
	return state
}

func (c *Checker) client(token string) *http.Client {
	if token == "" {
		return c.base
	}
	if client, ok := c.clients.Get(token); ok {
		return client
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.base)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	client.Timeout = c.base.Timeout
	c.clients.Add(token, client)
	return client
}

func (c *Checker) fetch(ctx context.Context, kind watcher.GitHubWatch, etag string) ([]Event, string, bool, error) {
	url := fmt.Sprintf("%s/repos/%s/events?per_page=%d", c.baseURL, kind.Repo, defaultPageSize)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", false, err
	}
	request.Header.Set("Accept", "application/vnd.github+json")
	request.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if etag != "" {
		request.Header.Set("If-None-Match", etag)
	}

	token := kind.GitHubToken
	if token == "" {
		token = c.token
	}
	response, err := c.client(token).Do(request)
	if err != nil {
		return nil, "", false, fmt.Errorf("fetch events for %s: %w", kind.Repo, err)
	}
	defer response.Body.Close()

	switch {
	case response.StatusCode == http.StatusNotModified:
		return nil, etag, true, nil
	case response.StatusCode < 200 || response.StatusCode > 299:
		return nil, "", false, apiError(response)
	}

	var events []Event
	if err := json.NewDecoder(response.Body).Decode(&events); err != nil {
		return nil, "", false, fmt.Errorf("decode events for %s: %w", kind.Repo, err)
	}
	return events, response.Header.Get("ETag"), false, nil
}

func apiError(response *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBody))
	message := strings.TrimSpace(string(body))
	var decoded struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &decoded) == nil && decoded.Message != "" {
		message = decoded.Message
	}
	if message == "" {
		message = http.StatusText(response.StatusCode)
	}
	apiErr := &APIError{StatusCode: response.StatusCode, Message: message}
	if response.Header.Get("X-RateLimit-Remaining") == "0" {
		var reset int64
		if _, err := fmt.Sscan(response.Header.Get("X-RateLimit-Reset"), &reset); err == nil && reset > 0 {
			apiErr.ResetAt = time.Unix(reset, 0).UTC()
		}
	}
	return apiErr
}

// NormalizeEventType maps short names such as "push" or "pull_request" to
// the API's event type names.
func NormalizeEventType(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.HasSuffix(name, "Event") {
		return name
	}
	var builder strings.Builder
	upper := true
	for _, r := range name {
		if r == '_' || r == '-' {
			upper = true
			continue
		}
		if upper {
			builder.WriteRune(unicode.ToUpper(r))
			upper = false
			continue
		}
		builder.WriteRune(r)
	}
	builder.WriteString("Event")
	return builder.String()
}

func normalizeTypes(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	types := make(map[string]struct{}, len(names))
	for _, name := range names {
		types[NormalizeEventType(name)] = struct{}{}
	}
	return types
}

// triggerKind is github_<type> when all events share a type, for example
// github_push or github_pull_request.
func triggerKind(events []Event) string {
	first := events[0].Type
	for _, event := range events[1:] {
		if event.Type != first {
			return GenericKind
		}
	}
	base := strings.TrimSuffix(first, "Event")
	if base == "" {
		return GenericKind
	}
	var builder strings.Builder
	builder.WriteString("github_")
	for index, r := range base {
		if unicode.IsUpper(r) {
			if index > 0 {
				builder.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		builder.WriteRune(r)
	}
	return builder.String()
}
