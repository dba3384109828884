package sink

import (
	"context"
	"time"

	"github.com/kavymi/meepo-sub001/internal/logging"
	"github.com/kavymi/meepo-sub001/internal/watcher"
)

// LogSink writes one info line per event.
type LogSink struct {
	logger *logging.Logger
}

func NewLogSink(logger *logging.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (sink *LogSink) Publish(_ context.Context, event watcher.Event) error {
	if sink == nil {
		return nil
	}
	sink.logger.Info("watcher fired", map[string]string{
		"watcher_id":    event.WatcherID,
		"kind":          event.Kind,
		"watcher_kind":  string(event.WatcherKind),
		"reply_channel": event.ReplyChannel,
		"triggered_at":  event.TriggeredAt.Format(time.RFC3339Nano),
	})
	return nil
}
