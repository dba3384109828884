package watcher

import "time"

// Event is emitted when a watcher's condition fires. Kind is the trigger
// kind reported by the checker, for example "email_received".
type Event struct {
	WatcherID    string    `json:"watcher_id"`
	Kind         string    `json:"kind"`
	WatcherKind  KindType  `json:"watcher_kind"`
	TriggeredAt  time.Time `json:"triggered_at"`
	ReplyChannel string    `json:"reply_channel"`
	Action       string    `json:"action"`
	Payload      any       `json:"payload,omitempty"`
}

func NewEvent(w Watcher, kind string, payload any, triggeredAt time.Time) Event {
	return Event{
		WatcherID:    w.ID,
		Kind:         kind,
		WatcherKind:  w.KindType(),
		TriggeredAt:  triggeredAt.UTC(),
		ReplyChannel: w.ReplyChannel,
		Action:       w.Action,
		Payload:      payload,
	}
}

func (e Event) Type() string {
	return e.Kind
}

func (e Event) Timestamp() time.Time {
	return e.TriggeredAt
}

func (e Event) LogFields() map[string]string {
	return map[string]string{
		"watcher.id":    e.WatcherID,
		"watcher.kind":  string(e.WatcherKind),
		"reply_channel": e.ReplyChannel,
	}
}
