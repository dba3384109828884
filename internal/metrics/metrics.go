package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Registry collects scheduler and event bus counters and renders them in the
// Prometheus text exposition format.
type Registry struct {
	loopsActive     atomic.Int64
	loopsStarted    atomic.Int64
	publishFailures atomic.Int64
	degraded        atomic.Int64
	kinds           sync.Map
	buses           sync.Map
}

type kindStats struct {
	checks        atomic.Int64
	triggers      atomic.Int64
	failures      atomic.Int64
	timeouts      atomic.Int64
	durationNanos atomic.Int64
}

type busStats struct {
	published   sync.Map
	dropped     sync.Map
	subscribers atomic.Int64
}

var Default = &Registry{}

func (r *Registry) IncLoopStarted() {
	if r == nil {
		return
	}
	r.loopsStarted.Add(1)
	r.loopsActive.Add(1)
}

func (r *Registry) DecLoopActive() {
	if r == nil {
		return
	}
	r.loopsActive.Add(-1)
}

func (r *Registry) IncDegraded() {
	if r == nil {
		return
	}
	r.degraded.Add(1)
}

func (r *Registry) IncPublishFailure() {
	if r == nil {
		return
	}
	r.publishFailures.Add(1)
}

// RecordCheck records one checker invocation for a watcher kind.
func (r *Registry) RecordCheck(kind string, duration time.Duration, triggered bool, err error, timedOut bool) {
	if r == nil {
		return
	}
	stats := r.kindStats(kind)
	stats.checks.Add(1)
	stats.durationNanos.Add(duration.Nanoseconds())
	if triggered {
		stats.triggers.Add(1)
	}
	if err != nil {
		stats.failures.Add(1)
	}
	if timedOut {
		stats.timeouts.Add(1)
	}
}

func (r *Registry) IncEventPublished(bus, eventType string) {
	if r == nil {
		return
	}
	incLabeled(&r.busStats(bus).published, eventType)
}

func (r *Registry) IncEventDropped(bus, eventType string) {
	if r == nil {
		return
	}
	incLabeled(&r.busStats(bus).dropped, eventType)
}

func (r *Registry) SetEventSubscribers(bus string, count int) {
	if r == nil {
		return
	}
	r.busStats(bus).subscribers.Store(int64(count))
}

// Snapshot is a point-in-time copy of the scheduler counters.
type Snapshot struct {
	LoopsActive     int64                   `json:"loops_active"`
	LoopsStarted    int64                   `json:"loops_started"`
	PublishFailures int64                   `json:"publish_failures"`
	Degraded        int64                   `json:"degraded"`
	Kinds           map[string]KindSnapshot `json:"kinds,omitempty"`
}

type KindSnapshot struct {
	Checks   int64 `json:"checks"`
	Triggers int64 `json:"triggers"`
	Failures int64 `json:"failures"`
	Timeouts int64 `json:"timeouts"`
}

func (r *Registry) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	snapshot := Snapshot{
		LoopsActive:     r.loopsActive.Load(),
		LoopsStarted:    r.loopsStarted.Load(),
		PublishFailures: r.publishFailures.Load(),
		Degraded:        r.degraded.Load(),
	}
	for _, name := range sortedKeys(&r.kinds) {
		if snapshot.Kinds == nil {
			snapshot.Kinds = map[string]KindSnapshot{}
		}
		stats := r.kindStats(name)
		snapshot.Kinds[name] = KindSnapshot{
			Checks:   stats.checks.Load(),
			Triggers: stats.triggers.Load(),
			Failures: stats.failures.Load(),
			Timeouts: stats.timeouts.Load(),
		}
	}
	return snapshot
}

func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}

	writeGauge(writer, "watchd_loops_active", "Watcher loops currently scheduled", r.loopsActive.Load())
	writeCounter(writer, "watchd_loops_started_total", "Watcher loops started", r.loopsStarted.Load())
	writeCounter(writer, "watchd_publish_failures_total", "Sink publish failures", r.publishFailures.Load())
	writeCounter(writer, "watchd_watchers_degraded_total", "Watchers deactivated after repeated check failures", r.degraded.Load())

	kinds := sortedKeys(&r.kinds)
	writeHelp(writer, "watchd_check_duration_seconds", "Checker duration in seconds")
	fmt.Fprintln(writer, "# TYPE watchd_check_duration_seconds summary")
	writeHelp(writer, "watchd_triggers_total", "Checks that fired")
	fmt.Fprintln(writer, "# TYPE watchd_triggers_total counter")
	writeHelp(writer, "watchd_check_failures_total", "Checks that returned an error")
	fmt.Fprintln(writer, "# TYPE watchd_check_failures_total counter")
	writeHelp(writer, "watchd_check_timeouts_total", "Checks that exceeded their timeout")
	fmt.Fprintln(writer, "# TYPE watchd_check_timeouts_total counter")
	for _, kind := range kinds {
		stats := r.kindStats(kind)
		label := formatLabel(kind)
		seconds := float64(stats.durationNanos.Load()) / float64(time.Second)
		fmt.Fprintf(writer, "watchd_check_duration_seconds_sum{kind=%s} %.6f\n", label, seconds)
		fmt.Fprintf(writer, "watchd_check_duration_seconds_count{kind=%s} %d\n", label, stats.checks.Load())
		fmt.Fprintf(writer, "watchd_triggers_total{kind=%s} %d\n", label, stats.triggers.Load())
		fmt.Fprintf(writer, "watchd_check_failures_total{kind=%s} %d\n", label, stats.failures.Load())
		fmt.Fprintf(writer, "watchd_check_timeouts_total{kind=%s} %d\n", label, stats.timeouts.Load())
	}

	buses := sortedKeys(&r.buses)
	writeHelp(writer, "watchd_bus_events_published_total", "Events published on an event bus")
	fmt.Fprintln(writer, "# TYPE watchd_bus_events_published_total counter")
	writeHelp(writer, "watchd_bus_events_dropped_total", "Events dropped for slow subscribers")
	fmt.Fprintln(writer, "# TYPE watchd_bus_events_dropped_total counter")
	writeHelp(writer, "watchd_bus_subscribers", "Current event bus subscribers")
	fmt.Fprintln(writer, "# TYPE watchd_bus_subscribers gauge")
	for _, bus := range buses {
		stats := r.busStats(bus)
		busLabel := formatLabel(bus)
		for _, eventType := range sortedKeys(&stats.published) {
			fmt.Fprintf(writer, "watchd_bus_events_published_total{bus=%s,type=%s} %d\n", busLabel, formatLabel(eventType), loadLabeled(&stats.published, eventType))
		}
		for _, eventType := range sortedKeys(&stats.dropped) {
			fmt.Fprintf(writer, "watchd_bus_events_dropped_total{bus=%s,type=%s} %d\n", busLabel, formatLabel(eventType), loadLabeled(&stats.dropped, eventType))
		}
		fmt.Fprintf(writer, "watchd_bus_subscribers{bus=%s} %d\n", busLabel, stats.subscribers.Load())
	}

	return nil
}

func (r *Registry) kindStats(name string) *kindStats {
	if strings.TrimSpace(name) == "" {
		name = "unknown"
	}
	value, _ := r.kinds.LoadOrStore(name, &kindStats{})
	return value.(*kindStats)
}

func (r *Registry) busStats(name string) *busStats {
	if strings.TrimSpace(name) == "" {
		name = "event_bus"
	}
	value, _ := r.buses.LoadOrStore(name, &busStats{})
	return value.(*busStats)
}

func incLabeled(values *sync.Map, label string) {
	if label == "" {
		label = "unknown"
	}
	counter, _ := values.LoadOrStore(label, &atomic.Int64{})
	counter.(*atomic.Int64).Add(1)
}

func loadLabeled(values *sync.Map, label string) int64 {
	counter, ok := values.Load(label)
	if !ok {
		return 0
	}
	return counter.(*atomic.Int64).Load()
}

func sortedKeys(values *sync.Map) []string {
	var names []string
	values.Range(func(key, _ any) bool {
		if name, ok := key.(string); ok {
			names = append(names, name)
		}
		return true
	})
	sort.Strings(names)
	return names
}

func writeHelp(writer io.Writer, metric, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", metric, help)
}

func writeCounter(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func writeGauge(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s gauge\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func formatLabel(value string) string {
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	return fmt.Sprintf("\"%s\"", escaped)
}
