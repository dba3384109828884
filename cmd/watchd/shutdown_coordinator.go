package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kavymi/meepo-sub001/internal/logging"
)

type shutdownPhase struct {
	name string
	stop func(context.Context) error
}

// shutdownCoordinator stops daemon components in registration order. Every
// phase runs even when an earlier one fails.
type shutdownCoordinator struct {
	logger *logging.Logger
	once   sync.Once
	phases []shutdownPhase
	err    error
}

func newShutdownCoordinator(logger *logging.Logger) *shutdownCoordinator {
	return &shutdownCoordinator{logger: logger}
}

func (coordinator *shutdownCoordinator) Add(name string, stop func(context.Context) error) {
	if coordinator == nil || stop == nil {
		return
	}
	coordinator.phases = append(coordinator.phases, shutdownPhase{name: name, stop: stop})
}

// AddCloser registers a phase for components that stop without a context.
func (coordinator *shutdownCoordinator) AddCloser(name string, closeFn func() error) {
	if closeFn == nil {
		return
	}
	coordinator.Add(name, func(context.Context) error { return closeFn() })
}

// Run executes the phases once; later calls return the first run's error.
func (coordinator *shutdownCoordinator) Run(ctx context.Context) error {
	if coordinator == nil {
		return nil
	}
	coordinator.once.Do(func() {
		for _, phase := range coordinator.phases {
			started := time.Now()
			coordinator.logger.Debug("shutdown phase starting", map[string]string{
				"phase": phase.name,
			})
			if err := phase.stop(ctx); err != nil {
				coordinator.err = errors.Join(coordinator.err, err)
				coordinator.logger.Warn("shutdown phase failed", map[string]string{
					"phase": phase.name,
					"error": err.Error(),
				})
				continue
			}
			coordinator.logger.Debug("shutdown phase complete", map[string]string{
				"phase":    phase.name,
				"duration": time.Since(started).String(),
			})
		}
	})
	return coordinator.err
}
