package event

import (
	"strconv"
	"time"
)

// Event represents a typed event with an occurrence timestamp.
type Event interface {
	Type() string
	Timestamp() time.Time
}

const (
	WatcherAdded     = "watcher_added"
	WatcherRemoved   = "watcher_removed"
	WatcherPaused    = "watcher_paused"
	WatcherResumed   = "watcher_resumed"
	WatcherCompleted = "watcher_completed"
	WatcherDegraded  = "watcher_degraded"
	WatcherFailed    = "watcher_check_failed"
	WatcherReloaded  = "watchers_reloaded"
	MessageReceived  = "message_received"
)

// LifecycleEvent reports a scheduling change for one watcher.
type LifecycleEvent struct {
	EventType  string    `json:"type"`
	WatcherID  string    `json:"watcher_id,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Failures   int       `json:"failures,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func NewLifecycleEvent(eventType, watcherID, kind string) LifecycleEvent {
	return LifecycleEvent{
		EventType:  eventType,
		WatcherID:  watcherID,
		Kind:       kind,
		OccurredAt: time.Now().UTC(),
	}
}

func (e LifecycleEvent) Type() string {
	return e.EventType
}

func (e LifecycleEvent) Timestamp() time.Time {
	return e.OccurredAt
}

func (e LifecycleEvent) LogFields() map[string]string {
	fields := map[string]string{
		"watcher.id":   e.WatcherID,
		"watcher.kind": e.Kind,
		"reason":       e.Reason,
	}
	if e.Failures > 0 {
		fields["failures"] = strconv.Itoa(e.Failures)
	}
	return fields
}

// MessageEvent is an inbound chat message offered to message watchers.
type MessageEvent struct {
	EventType  string    `json:"type"`
	Channel    string    `json:"channel"`
	Sender     string    `json:"sender,omitempty"`
	Text       string    `json:"text"`
	OccurredAt time.Time `json:"occurred_at"`
}

func NewMessageEvent(channel, sender, text string) MessageEvent {
	return MessageEvent{
		EventType:  MessageReceived,
		Channel:    channel,
		Sender:     sender,
		Text:       text,
		OccurredAt: time.Now().UTC(),
	}
}

func (e MessageEvent) Type() string {
	return e.EventType
}

func (e MessageEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// LogFields leaves out the message text.
func (e MessageEvent) LogFields() map[string]string {
	return map[string]string{"message.channel": e.Channel, "message.sender": e.Sender}
}
