package watcher

import (
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/gobwas/glob"
)

// IntervalWatch fires on every cycle. It backs heartbeats and reminders.
type IntervalWatch struct {
	Cadence
}

func (IntervalWatch) Type() KindType { return KindInterval }

func (k IntervalWatch) Validate() error { return nil }

func (k IntervalWatch) Describe() string {
	return fmt.Sprintf("Interval watcher (every %ds)", k.IntervalSecs)
}

// EmailWatch polls a mailbox for messages matching optional filters.
type EmailWatch struct {
	From            string `json:"from,omitempty"`
	SubjectContains string `json:"subject_contains,omitempty"`
	Cadence
}

func (EmailWatch) Type() KindType { return KindEmail }

func (k EmailWatch) Validate() error { return nil }

func (k EmailWatch) Describe() string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Email watcher (every %ds)", k.IntervalSecs)
	if k.From != "" {
		fmt.Fprintf(&builder, " from: %s", k.From)
	}
	if k.SubjectContains != "" {
		fmt.Fprintf(&builder, " subject contains: %s", k.SubjectContains)
	}
	return builder.String()
}

// CalendarWatch fires for events starting within the lookahead window.
type CalendarWatch struct {
	LookaheadHours int64 `json:"lookahead_hours"`
	Cadence
}

func (CalendarWatch) Type() KindType { return KindCalendar }

func (k CalendarWatch) Validate() error {
	if k.LookaheadHours <= 0 {
		return configError("lookahead_hours", "must be greater than zero")
	}
	return nil
}

func (k CalendarWatch) Describe() string {
	return fmt.Sprintf("Calendar watcher (%dh lookahead, every %ds)", k.LookaheadHours, k.IntervalSecs)
}

// GitHubWatch polls the events of a repository. An empty Events list
// matches every event type.
type GitHubWatch struct {
	Repo        string   `json:"repo"`
	Events      []string `json:"events"`
	GitHubToken string   `json:"github_token,omitempty"`
	Cadence
}

func (GitHubWatch) Type() KindType { return KindGitHub }

func (k GitHubWatch) Validate() error {
	owner, name, ok := strings.Cut(k.Repo, "/")
	if !ok || strings.TrimSpace(owner) == "" || strings.TrimSpace(name) == "" || strings.Contains(name, "/") {
		return configError("repo", "must be owner/name, got %q", k.Repo)
	}
	for _, event := range k.Events {
		if strings.TrimSpace(event) == "" {
			return configError("events", "must not contain empty entries")
		}
	}
	return nil
}

func (k GitHubWatch) Describe() string {
	events := "all"
	if len(k.Events) > 0 {
		events = strings.Join(k.Events, ", ")
	}
	return fmt.Sprintf("GitHub watcher for %s (events: %s, every %ds)", k.Repo, events, k.IntervalSecs)
}

// GitWatch polls a local repository for new commits on a branch. An empty
// Branch follows HEAD.
type GitWatch struct {
	Path   string `json:"path"`
	Branch string `json:"branch,omitempty"`
	Cadence
}

func (GitWatch) Type() KindType { return KindGit }

func (k GitWatch) Validate() error {
	if strings.TrimSpace(k.Path) == "" {
		return configError("path", "is required")
	}
	return nil
}

func (k GitWatch) Describe() string {
	ref := "HEAD"
	if k.Branch != "" {
		ref = k.Branch
	}
	return fmt.Sprintf("Git watcher for %s@%s (every %ds)", k.Path, ref, k.IntervalSecs)
}

// FileWatch fires when Path, or a file under it matching Pattern, changes.
type FileWatch struct {
	Path    string `json:"path"`
	Pattern string `json:"pattern,omitempty"`
	Cadence
}

func (FileWatch) Type() KindType { return KindFile }

func (k FileWatch) Validate() error {
	if strings.TrimSpace(k.Path) == "" {
		return configError("path", "is required")
	}
	if k.Pattern != "" {
		if _, err := glob.Compile(k.Pattern, '/'); err != nil {
			return configError("pattern", "invalid glob %q: %v", k.Pattern, err)
		}
	}
	return nil
}

func (k FileWatch) Describe() string {
	if k.Pattern != "" {
		return fmt.Sprintf("File watcher for %s (%s)", k.Path, k.Pattern)
	}
	return fmt.Sprintf("File watcher for %s", k.Path)
}

// MessageWatch fires when an inbound message contains Keyword.
type MessageWatch struct {
	Keyword string `json:"keyword"`
	Cadence
}

func (MessageWatch) Type() KindType { return KindMessage }

func (k MessageWatch) Validate() error {
	if strings.TrimSpace(k.Keyword) == "" {
		return configError("keyword", "is required")
	}
	return nil
}

func (k MessageWatch) Describe() string {
	return fmt.Sprintf("Message watcher for keyword: %s", k.Keyword)
}

// Scheduled fires when its cron expression is due, evaluated every poll.
type Scheduled struct {
	CronExpr string `json:"cron_expr"`
	Task     string `json:"task"`
	Cadence
}

func (Scheduled) Type() KindType { return KindScheduled }

func (k Scheduled) Validate() error {
	gron := gronx.New()
	if !gron.IsValid(k.CronExpr) {
		return configError("cron_expr", "invalid cron expression %q", k.CronExpr)
	}
	if strings.TrimSpace(k.Task) == "" {
		return configError("task", "is required")
	}
	return nil
}

func (k Scheduled) Describe() string {
	return fmt.Sprintf("Scheduled task '%s' (cron: %s)", k.Task, k.CronExpr)
}

// OneShot fires once at or after At and is always one-shot.
type OneShot struct {
	At   time.Time `json:"at"`
	Task string    `json:"task"`
	Cadence
}

func (OneShot) Type() KindType { return KindOneShot }

func (k OneShot) Validate() error {
	if k.At.IsZero() {
		return configError("at", "is required")
	}
	if strings.TrimSpace(k.Task) == "" {
		return configError("task", "is required")
	}
	return nil
}

func (k OneShot) Describe() string {
	return fmt.Sprintf("One-shot task '%s' at %s", k.Task, k.At.UTC().Format(time.RFC3339))
}
