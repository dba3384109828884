package watcher

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Watcher is a persisted condition to monitor and the action to forward
// when it fires. Action and ReplyChannel are opaque to the scheduler.
type Watcher struct {
	ID           string
	Kind         Kind
	Action       string
	ReplyChannel string
	Active       bool
	CreatedAt    time.Time
}

// New validates kind and returns an active watcher with a fresh id.
func New(kind Kind, action, replyChannel string) (Watcher, error) {
	if err := ValidateKind(kind); err != nil {
		return Watcher{}, err
	}
	return Watcher{
		ID:           uuid.NewString(),
		Kind:         kind,
		Action:       action,
		ReplyChannel: replyChannel,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// Validate checks a complete watcher record.
func (w Watcher) Validate() error {
	if strings.TrimSpace(w.ID) == "" {
		return configError("id", "is required")
	}
	return ValidateKind(w.Kind)
}

func (w Watcher) Interval() time.Duration {
	return Interval(w.Kind)
}

func (w Watcher) IsOneShot() bool {
	return IsOneShot(w.Kind)
}

func (w Watcher) KindType() KindType {
	if w.Kind == nil {
		return ""
	}
	return w.Kind.Type()
}

func (w Watcher) Description() string {
	if w.Kind == nil {
		return "Watcher " + w.ID
	}
	return w.Kind.Describe()
}

type watcherJSON struct {
	ID           string          `json:"id"`
	Kind         json.RawMessage `json:"kind"`
	Action       string          `json:"action"`
	ReplyChannel string          `json:"reply_channel"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"created_at"`
	Description  string          `json:"description,omitempty"`
}

func (w Watcher) MarshalJSON() ([]byte, error) {
	kind, err := MarshalKind(w.Kind)
	if err != nil {
		return nil, err
	}
	return json.Marshal(watcherJSON{
		ID:           w.ID,
		Kind:         kind,
		Action:       w.Action,
		ReplyChannel: w.ReplyChannel,
		Active:       w.Active,
		CreatedAt:    w.CreatedAt,
		Description:  w.Description(),
	})
}

func (w *Watcher) UnmarshalJSON(data []byte) error {
	var raw watcherJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	kind, err := UnmarshalKind(raw.Kind)
	if err != nil {
		return err
	}
	*w = Watcher{
		ID:           raw.ID,
		Kind:         kind,
		Action:       raw.Action,
		ReplyChannel: raw.ReplyChannel,
		Active:       raw.Active,
		CreatedAt:    raw.CreatedAt,
	}
	return nil
}

// Definition is the user-supplied part of a watcher, as accepted by the
// HTTP API and definition files.
type Definition struct {
	Kind         Kind
	Action       string
	ReplyChannel string
}

type definitionJSON struct {
	Kind         json.RawMessage `json:"kind"`
	Action       string          `json:"action"`
	ReplyChannel string          `json:"reply_channel"`
}

func (d Definition) MarshalJSON() ([]byte, error) {
	kind, err := MarshalKind(d.Kind)
	if err != nil {
		return nil, err
	}
	return json.Marshal(definitionJSON{Kind: kind, Action: d.Action, ReplyChannel: d.ReplyChannel})
}

func (d *Definition) UnmarshalJSON(data []byte) error {
	var raw definitionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return configError("definition", "malformed: %v", err)
	}
	if len(raw.Kind) == 0 || string(raw.Kind) == "null" {
		return configError("kind", "is required")
	}
	kind, err := UnmarshalKind(raw.Kind)
	if err != nil {
		return err
	}
	*d = Definition{Kind: kind, Action: raw.Action, ReplyChannel: raw.ReplyChannel}
	return nil
}
