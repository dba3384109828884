package sink

import (
	"context"
	"errors"

	"github.com/kavymi/meepo-sub001/internal/event"
	"github.com/kavymi/meepo-sub001/internal/watcher"
)

var ErrBusUnavailable = errors.New("event bus unavailable")

// BusSink republishes events on an in-process bus, which feeds the
// websocket stream.
type BusSink struct {
	bus *event.Bus[watcher.Event]
}

func NewBusSink(bus *event.Bus[watcher.Event]) *BusSink {
	return &BusSink{bus: bus}
}

func (sink *BusSink) Publish(ctx context.Context, value watcher.Event) error {
	if sink == nil || sink.bus == nil {
		return ErrBusUnavailable
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	sink.bus.Publish(value)
	return nil
}
