package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kavymi/meepo-sub001/internal/checker"
	"github.com/kavymi/meepo-sub001/internal/event"
	"github.com/kavymi/meepo-sub001/internal/logging"
	"github.com/kavymi/meepo-sub001/internal/otel"
	"github.com/kavymi/meepo-sub001/internal/watcher"
)

type loopHandle struct {
	watcher    watcher.Watcher
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
	interval   time.Duration
	status     *loopState
}

func (handle *loopHandle) snapshot() LoopStatus {
	return handle.status.snapshot()
}

type checkResult struct {
	trigger  *checker.Trigger
	err      error
	timedOut bool
}

// runLoop drives one watcher until it is cancelled, completes or degrades.
func (s *Supervisor) runLoop(ctx context.Context, handle *loopHandle, impl checker.Checker) {
	w := handle.watcher
	kind := string(w.KindType())
	logger := s.logger.With(map[string]string{"watcher_id": w.ID, "kind": kind})
	defer func() {
		handle.status.setState(StateStopped, time.Time{})
		s.metrics.DecLoopActive()
		s.options.Instruments.LoopStopped(context.Background(), kind)
		close(handle.done)
		s.notifyExit(handle)
	}()

	policy := s.options.Backoff
	failures := 0
	wait := time.Duration(0)
	// a one-shot trigger whose deactivation could not be persisted yet
	var pending *checker.Trigger

	for {
		handle.status.setState(StateScheduled, s.options.Clock().Add(wait))
		if !sleep(ctx, wait) {
			logger.Debug("watcher loop stopped", nil)
			return
		}
		attemptStart := time.Now()

		if pending != nil {
			err := s.complete(ctx, handle, pending, logger)
			if err == nil || ctx.Err() != nil {
				return
			}
			failures++
			handle.status.setFailures(failures)
			if policy.Exhausted(failures) {
				logger.Error("one-shot trigger dropped", map[string]string{
					"trigger":  pending.Kind,
					"failures": strconv.Itoa(failures),
				})
				s.degrade(ctx, handle, failures, fmt.Errorf("deactivate after %s trigger: %w", pending.Kind, err), logger)
				return
			}
			wait = policy.Delay(failures)
			handle.status.setState(StateBackoff, s.options.Clock().Add(wait))
			continue
		}

		handle.status.setState(StateChecking, time.Time{})
		result := s.check(ctx, w, impl)
		if ctx.Err() != nil {
			logger.Debug("watcher loop stopped", nil)
			return
		}
		s.record(ctx, kind, time.Since(attemptStart), result)
		handle.status.recordCheck(s.options.Clock(), result)

		switch {
		case result.err != nil:
			failures++
			handle.status.setFailures(failures)
			if policy.Exhausted(failures) {
				s.degrade(ctx, handle, failures, result.err, logger)
				return
			}
			wait = policy.Delay(failures)
			handle.status.setState(StateBackoff, s.options.Clock().Add(wait))
			logger.Warn("watcher check failed", map[string]string{
				"error":    result.err.Error(),
				"failures": strconv.Itoa(failures),
				"retry_in": wait.String(),
			})
			failed := event.NewLifecycleEvent(event.WatcherFailed, w.ID, kind)
			failed.Reason = result.err.Error()
			failed.Failures = failures
			s.options.Lifecycle.Publish(failed)
			continue
		case result.trigger == nil:
			handle.status.setState(StateIdle, time.Time{})
		default:
			handle.status.setState(StateTriggered, time.Time{})
			if w.IsOneShot() {
				pending = result.trigger
				failures = 0
				wait = 0
				continue
			}
			s.publish(ctx, w, result.trigger, logger)
		}
		failures = 0
		handle.status.setFailures(0)
		wait = remaining(attemptStart, handle.interval)
	}
}

// check runs the checker under CheckTimeout in its own goroutine so a
// checker that ignores its context cannot hold the loop.
func (s *Supervisor) check(ctx context.Context, w watcher.Watcher, impl checker.Checker) (result checkResult) {
	ctx, span := s.options.Instruments.StartSpan(ctx, otel.SpanCheck, w.ID, string(w.KindType()))
	defer func() { otel.EndSpan(span, result.err) }()
	checkCtx, cancel := context.WithTimeout(ctx, s.options.CheckTimeout)
	defer cancel()

	results := make(chan checkResult, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				results <- checkResult{err: fmt.Errorf("checker panic: %v", recovered)}
			}
		}()
		trigger, err := impl.Check(checkCtx, w)
		results <- checkResult{trigger: trigger, err: err}
	}()

	select {
	case result = <-results:
	case <-checkCtx.Done():
		result = checkResult{err: checkCtx.Err()}
	}
	if ctx.Err() != nil {
		return checkResult{err: ctx.Err()}
	}
	if result.err != nil {
		if errors.Is(checkCtx.Err(), context.DeadlineExceeded) {
			result.timedOut = true
			result.err = fmt.Errorf("check timed out after %s: %w", s.options.CheckTimeout, result.err)
		}
		result.trigger = nil
		result.err = &watcher.CheckerError{WatcherID: w.ID, Kind: w.KindType(), Err: result.err}
	}
	return result
}

// complete deactivates a one-shot watcher and then publishes its event. A
// cancelled loop writes nothing; once the deactivation is stored the event is
// published even if cancellation arrives meanwhile.
func (s *Supervisor) complete(ctx context.Context, handle *loopHandle, trigger *checker.Trigger, logger *logging.Logger) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w := handle.watcher
	if err := s.store.Deactivate(context.WithoutCancel(ctx), w.ID); err != nil {
		logger.Error("one-shot deactivation failed", map[string]string{"error": err.Error()})
		return err
	}
	s.publish(context.WithoutCancel(ctx), w, trigger, logger)
	s.emit(event.WatcherCompleted, w, trigger.Kind)
	logger.Info("one-shot watcher completed", map[string]string{"trigger": trigger.Kind})
	return nil
}

// publish hands the event to the sink under PublishTimeout. Failures are
// logged and counted, never retried.
func (s *Supervisor) publish(ctx context.Context, w watcher.Watcher, trigger *checker.Trigger, logger *logging.Logger) {
	fired := watcher.NewEvent(w, trigger.Kind, trigger.Payload, s.options.Clock())
	ctx, span := s.options.Instruments.StartSpan(ctx, otel.SpanPublish, w.ID, string(w.KindType()))
	otel.RecordSpanEvent(ctx, "trigger", otel.TriggerAttributes(trigger.Kind, w.IsOneShot())...)
	var err error
	defer func() { otel.EndSpan(span, err) }()
	s.options.Instruments.RecordTrigger(ctx, string(w.KindType()), trigger.Kind)

	if s.sink == nil {
		return
	}
	publishCtx, cancel := context.WithTimeout(ctx, s.options.PublishTimeout)
	defer cancel()
	results := make(chan error, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				results <- fmt.Errorf("sink panic: %v", recovered)
			}
		}()
		results <- s.sink.Publish(publishCtx, fired)
	}()

	select {
	case err = <-results:
	case <-publishCtx.Done():
		err = publishCtx.Err()
	}
	if err == nil {
		logger.Debug("watcher event published", map[string]string{"trigger": trigger.Kind})
		return
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return
	}
	s.metrics.IncPublishFailure()
	s.options.Instruments.RecordPublishFailure(ctx, string(w.KindType()))
	logger.Warn("watcher event not delivered", map[string]string{
		"trigger": trigger.Kind,
		"error":   err.Error(),
	})
}

// degrade deactivates a watcher that failed too often in a row.
func (s *Supervisor) degrade(ctx context.Context, handle *loopHandle, failures int, cause error, logger *logging.Logger) {
	if ctx.Err() != nil {
		return
	}
	w := handle.watcher
	if err := s.store.Deactivate(ctx, w.ID); err != nil && ctx.Err() == nil {
		logger.Error("degraded watcher not deactivated", map[string]string{"error": err.Error()})
	}
	s.metrics.IncDegraded()
	s.options.Instruments.RecordDegraded(context.Background(), string(w.KindType()))
	degraded := event.NewLifecycleEvent(event.WatcherDegraded, w.ID, string(w.KindType()))
	degraded.Reason = cause.Error()
	degraded.Failures = failures
	s.options.Lifecycle.Publish(degraded)
	logger.Error("watcher degraded", map[string]string{
		"error":    cause.Error(),
		"failures": strconv.Itoa(failures),
	})
}

func (s *Supervisor) record(ctx context.Context, kind string, duration time.Duration, result checkResult) {
	triggered := result.err == nil && result.trigger != nil
	s.metrics.RecordCheck(kind, duration, triggered, result.err, result.timedOut)
	outcome := "idle"
	switch {
	case result.timedOut:
		outcome = "timeout"
	case result.err != nil:
		outcome = "error"
	case triggered:
		outcome = "triggered"
	}
	s.options.Instruments.RecordCheck(ctx, kind, outcome, duration)
}

// sleep waits for d or ctx, reporting false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// remaining is the wait until start+interval.
func remaining(start time.Time, interval time.Duration) time.Duration {
	wait := time.Until(start.Add(interval))
	if wait < 0 {
		return 0
	}
	return wait
}
