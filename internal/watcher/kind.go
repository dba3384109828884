package watcher

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// KindType is the discriminant persisted in the "type" field of a kind.
type KindType string

const (
	KindInterval  KindType = "IntervalWatch"
	KindEmail     KindType = "EmailWatch"
	KindCalendar  KindType = "CalendarWatch"
	KindGitHub    KindType = "GitHubWatch"
	KindGit       KindType = "GitWatch"
	KindFile      KindType = "FileWatch"
	KindMessage   KindType = "MessageWatch"
	KindScheduled KindType = "Scheduled"
	KindOneShot   KindType = "OneShot"
)

// Kind is one variant of the watcher kind union. Implementations are plain
// value structs; the registry below maps a KindType back to its struct.
type Kind interface {
	Type() KindType
	Timing() Cadence
	Validate() error
	Describe() string
}

// Cadence is embedded by every variant.
type Cadence struct {
	IntervalSecs int64 `json:"interval_secs"`
	Once         bool  `json:"once,omitempty"`
}

func (c Cadence) Timing() Cadence {
	return c
}

func (c Cadence) validate() error {
	if c.IntervalSecs <= 0 {
		return configError("interval_secs", "must be greater than zero, got %d", c.IntervalSecs)
	}
	return nil
}

var minIntervals = map[KindType]time.Duration{
	KindEmail:    60 * time.Second,
	KindCalendar: 300 * time.Second,
	KindGitHub:   30 * time.Second,
}

// MinInterval is the polling floor for kinds backed by rate limited services.
func MinInterval(kindType KindType) time.Duration {
	return minIntervals[kindType]
}

// Interval returns the effective polling interval of kind.
func Interval(kind Kind) time.Duration {
	if kind == nil {
		return 0
	}
	interval := time.Duration(kind.Timing().IntervalSecs) * time.Second
	if floor := MinInterval(kind.Type()); interval < floor {
		return floor
	}
	return interval
}

// IsOneShot reports whether a watcher of this kind deactivates after its
// first trigger.
func IsOneShot(kind Kind) bool {
	if kind == nil {
		return false
	}
	if kind.Type() == KindOneShot {
		return true
	}
	return kind.Timing().Once
}

// ValidateKind runs the shared cadence check and the variant's own rules.
func ValidateKind(kind Kind) error {
	if kind == nil {
		return configError("kind", "is required")
	}
	if !IsRegistered(kind.Type()) {
		return configError("type", "unknown watcher kind %q", kind.Type())
	}
	if err := kind.Timing().validate(); err != nil {
		return err
	}
	return kind.Validate()
}

type kindDecoder func(data []byte) (Kind, error)

var (
	kindsMu  sync.RWMutex
	decoders = map[KindType]kindDecoder{}
	zeros    = map[KindType]func() Kind{}
)

func init() {
	RegisterKind[IntervalWatch](KindInterval)
	RegisterKind[EmailWatch](KindEmail)
	RegisterKind[CalendarWatch](KindCalendar)
	RegisterKind[GitHubWatch](KindGitHub)
	RegisterKind[GitWatch](KindGit)
	RegisterKind[FileWatch](KindFile)
	RegisterKind[MessageWatch](KindMessage)
	RegisterKind[Scheduled](KindScheduled)
	RegisterKind[OneShot](KindOneShot)
}

// RegisterKind makes T decodable under kindType.
func RegisterKind[T Kind](kindType KindType) {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	decoders[kindType] = func(data []byte) (Kind, error) {
		var kind T
		if err := json.Unmarshal(data, &kind); err != nil {
			return nil, err
		}
		return kind, nil
	}
	zeros[kindType] = func() Kind {
		var kind T
		return kind
	}
}

// ZeroKind returns the empty value registered for kindType.
func ZeroKind(kindType KindType) (Kind, bool) {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	zero, ok := zeros[kindType]
	if !ok {
		return nil, false
	}
	return zero(), true
}

func IsRegistered(kindType KindType) bool {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	_, ok := decoders[kindType]
	return ok
}

// KindTypes lists the registered discriminants in sorted order.
func KindTypes() []KindType {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	types := make([]KindType, 0, len(decoders))
	for kindType := range decoders {
		types = append(types, kindType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// ParseKindType matches a discriminant case-insensitively, also accepting the
// short form without the "Watch" suffix ("email", "github").
func ParseKindType(value string) (KindType, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "", false
	}
	for _, kindType := range KindTypes() {
		name := strings.ToLower(string(kindType))
		if normalized == name || normalized+"watch" == name {
			return kindType, true
		}
	}
	return "", false
}

// MarshalKind encodes kind as a flat object with a "type" discriminant.
func MarshalKind(kind Kind) ([]byte, error) {
	if kind == nil {
		return nil, configError("kind", "is required")
	}
	body, err := json.Marshal(kind)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind.Type(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind.Type(), err)
	}
	discriminant, err := json.Marshal(string(kind.Type()))
	if err != nil {
		return nil, err
	}
	fields["type"] = discriminant
	return json.Marshal(fields)
}

// UnmarshalKind decodes a flat tagged object. An unknown or missing "type"
// is a ConfigError.
func UnmarshalKind(data []byte) (Kind, error) {
	var envelope struct {
		Type KindType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, configError("kind", "malformed: %v", err)
	}
	if envelope.Type == "" {
		return nil, configError("type", "is required")
	}
	kindsMu.RLock()
	decode, ok := decoders[envelope.Type]
	kindsMu.RUnlock()
	if !ok {
		return nil, configError("type", "unknown watcher kind %q", envelope.Type)
	}
	kind, err := decode(data)
	if err != nil {
		return nil, configError(string(envelope.Type), "malformed: %v", err)
	}
	return kind, nil
}
