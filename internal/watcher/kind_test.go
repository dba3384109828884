package watcher

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalKindUsesFlatTaggedObject(t *testing.T) {
	data, err := MarshalKind(EmailWatch{
		From:            "billing@example.com",
		SubjectContains: "invoice",
		Cadence:         Cadence{IntervalSecs: 120},
	})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "EmailWatch", fields["type"])
	assert.Equal(t, "billing@example.com", fields["from"])
	assert.Equal(t, "invoice", fields["subject_contains"])
	assert.EqualValues(t, 120, fields["interval_secs"])
	assert.NotContains(t, fields, "Cadence")
}

func TestUnmarshalKindRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	kinds := []Kind{
		IntervalWatch{Cadence: Cadence{IntervalSecs: 1}},
		GitHubWatch{Repo: "octo/hello", Events: []string{"PullRequestEvent"}, GitHubToken: "t", Cadence: Cadence{IntervalSecs: 45, Once: true}},
		FileWatch{Path: "/tmp/inbox", Pattern: "**/*.csv", Cadence: Cadence{IntervalSecs: 5}},
		Scheduled{CronExpr: "0 9 * * 1-5", Task: "standup", Cadence: Cadence{IntervalSecs: 60}},
		OneShot{At: at, Task: "renew passport", Cadence: Cadence{IntervalSecs: 30}},
	}
	for _, kind := range kinds {
		t.Run(string(kind.Type()), func(t *testing.T) {
			data, err := MarshalKind(kind)
			require.NoError(t, err)
			decoded, err := UnmarshalKind(data)
			require.NoError(t, err)
			assert.Equal(t, kind, decoded)
		})
	}
}

func TestUnmarshalKindRejectsUnknownType(t *testing.T) {
	_, err := UnmarshalKind([]byte(`{"type":"PagerWatch","interval_secs":5}`))
	require.Error(t, err)
	assert.True(t, IsConfigError(err))

	_, err = UnmarshalKind([]byte(`{"interval_secs":5}`))
	assert.True(t, IsConfigError(err))
}

func TestValidateKind(t *testing.T) {
	cases := []struct {
		name  string
		kind  Kind
		field string
	}{
		{name: "nil", kind: nil, field: "kind"},
		{name: "zero interval", kind: IntervalWatch{}, field: "interval_secs"},
		{name: "negative interval", kind: EmailWatch{Cadence: Cadence{IntervalSecs: -3}}, field: "interval_secs"},
		{name: "calendar lookahead", kind: CalendarWatch{Cadence: Cadence{IntervalSecs: 300}}, field: "lookahead_hours"},
		{name: "github repo", kind: GitHubWatch{Repo: "nope", Cadence: Cadence{IntervalSecs: 30}}, field: "repo"},
		{name: "file path", kind: FileWatch{Cadence: Cadence{IntervalSecs: 1}}, field: "path"},
		{name: "file pattern", kind: FileWatch{Path: "/tmp", Pattern: "[", Cadence: Cadence{IntervalSecs: 1}}, field: "pattern"},
		{name: "message keyword", kind: MessageWatch{Cadence: Cadence{IntervalSecs: 1}}, field: "keyword"},
		{name: "cron", kind: Scheduled{CronExpr: "not cron", Task: "x", Cadence: Cadence{IntervalSecs: 60}}, field: "cron_expr"},
		{name: "one shot at", kind: OneShot{Task: "x", Cadence: Cadence{IntervalSecs: 1}}, field: "at"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateKind(tc.kind)
			var configErr *ConfigError
			require.True(t, errors.As(err, &configErr), "expected ConfigError, got %v", err)
			assert.Equal(t, tc.field, configErr.Field)
		})
	}

	assert.NoError(t, ValidateKind(GitHubWatch{Repo: "octo/hello", Cadence: Cadence{IntervalSecs: 30}}))
}

func TestIntervalClampsToKindMinimum(t *testing.T) {
	assert.Equal(t, 60*time.Second, Interval(EmailWatch{Cadence: Cadence{IntervalSecs: 10}}))
	assert.Equal(t, 300*time.Second, Interval(CalendarWatch{LookaheadHours: 1, Cadence: Cadence{IntervalSecs: 60}}))
	assert.Equal(t, 45*time.Second, Interval(GitHubWatch{Repo: "a/b", Cadence: Cadence{IntervalSecs: 45}}))
	assert.Equal(t, time.Second, Interval(IntervalWatch{Cadence: Cadence{IntervalSecs: 1}}))
}

func TestIsOneShot(t *testing.T) {
	assert.True(t, IsOneShot(OneShot{}))
	assert.True(t, IsOneShot(IntervalWatch{Cadence: Cadence{IntervalSecs: 1, Once: true}}))
	assert.False(t, IsOneShot(IntervalWatch{Cadence: Cadence{IntervalSecs: 1}}))
	assert.False(t, IsOneShot(nil))
}

func TestParseKindType(t *testing.T) {
	cases := map[string]KindType{
		"email":         KindEmail,
		"GitHubWatch":   KindGitHub,
		"scheduled":     KindScheduled,
		" oneshot ":     KindOneShot,
		"intervalwatch": KindInterval,
	}
	for raw, expected := range cases {
		got, ok := ParseKindType(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, expected, got, raw)
	}
	_, ok := ParseKindType("pager")
	assert.False(t, ok)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "Email watcher (every 60s) from: a@b.c subject contains: hi",
		EmailWatch{From: "a@b.c", SubjectContains: "hi", Cadence: Cadence{IntervalSecs: 60}}.Describe())
	assert.Equal(t, "GitHub watcher for o/r (events: all, every 30s)",
		GitHubWatch{Repo: "o/r", Cadence: Cadence{IntervalSecs: 30}}.Describe())
	assert.Equal(t, "Scheduled task 'backup' (cron: @daily)",
		Scheduled{CronExpr: "@daily", Task: "backup"}.Describe())
}
