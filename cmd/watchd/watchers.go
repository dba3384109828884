package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kavymi/meepo-sub001/internal/client"
	"github.com/kavymi/meepo-sub001/internal/watcher"
)

func (opts *rootOptions) withClient(cmd *cobra.Command, run func(ctx context.Context, c *client.Client) error) error {
	c, err := opts.client()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()
	return run(ctx, c)
}

func newAddCommand(opts *rootOptions) *cobra.Command {
	var (
		intervalSecs int64
		once         bool
		action       string
		replyChannel string
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "add <kind> [field=value ...]",
		Short: "Create a watcher",
		Long: `Create a watcher of the given kind. Kind names are case-insensitive
and may drop the "Watch" suffix (interval, github, FileWatch). Extra fields
are parsed as YAML scalars or flow lists, e.g.:

  watchd add github repo=acme/api events=[push,pull_request] --interval 60
  watchd add scheduled cron_expr="0 9 * * 1-5" task=standup --interval 60`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKindArgs(args[0], args[1:], intervalSecs, once)
			if err != nil {
				return err
			}
			definition := watcher.Definition{Kind: kind, Action: action, ReplyChannel: replyChannel}
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				created, err := c.CreateWatcher(ctx, definition)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(opts.stdout, created)
				}
				printf(opts.stdout, "%s\n", created.ID)
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.Int64Var(&intervalSecs, "interval", 60, "seconds between checks")
	flags.BoolVar(&once, "once", false, "deactivate after the first trigger")
	flags.StringVar(&action, "action", "", "instruction forwarded when the watcher fires")
	flags.StringVar(&replyChannel, "reply-channel", "", "where fired events should be delivered")
	flags.BoolVar(&asJSON, "json", false, "print the created watcher as JSON")
	return cmd
}

// parseKindArgs builds a kind from its name and field=value pairs and
// validates it before anything is sent.
func parseKindArgs(name string, fields []string, intervalSecs int64, once bool) (watcher.Kind, error) {
	kindType, ok := watcher.ParseKindType(name)
	if !ok {
		known := make([]string, 0)
		for _, kindType := range watcher.KindTypes() {
			known = append(known, string(kindType))
		}
		return nil, fmt.Errorf("unknown watcher kind %q (known: %s)", name, strings.Join(known, ", "))
	}
	raw := map[string]any{
		"type":          string(kindType),
		"interval_secs": intervalSecs,
	}
	if once {
		raw["once"] = true
	}
	for _, field := range fields {
		key, value, ok := strings.Cut(field, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q (expected key=value)", field)
		}
		var parsed any
		if err := yaml.Unmarshal([]byte(value), &parsed); err != nil || parsed == nil {
			parsed = value
		}
		raw[key] = normalizeYAML(parsed)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	kind, err := watcher.UnmarshalKind(encoded)
	if err != nil {
		return nil, err
	}
	if err := watcher.ValidateKind(kind); err != nil {
		return nil, err
	}
	return kind, nil
}

func newListCommand(opts *rootOptions) *cobra.Command {
	var (
		activeOnly bool
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List watchers",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				watchers, err := c.ListWatchers(ctx, activeOnly)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(opts.stdout, watchers)
				}
				return writeWatcherTable(opts.stdout, watchers)
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only show active watchers")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newGetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one watcher as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				found, err := c.GetWatcher(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(opts.stdout, found)
			})
		},
	}
}

func newRemoveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>...",
		Aliases: []string{"rm"},
		Short:   "Delete watchers",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				for _, id := range args {
					if err := c.RemoveWatcher(ctx, id); err != nil {
						return fmt.Errorf("remove %s: %w", id, err)
					}
					printf(opts.stdout, "removed %s\n", id)
				}
				return nil
			})
		},
	}
}

func newPauseCommand(opts *rootOptions, resume bool) *cobra.Command {
	use, short, verb := "pause <id>", "Stop a watcher's loop and mark it inactive", "paused"
	if resume {
		use, short, verb = "resume <id>", "Reactivate a paused watcher", "resumed"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				run := c.PauseWatcher
				if resume {
					run = c.ResumeWatcher
				}
				if _, err := run(ctx, args[0]); err != nil {
					return err
				}
				printf(opts.stdout, "%s %s\n", verb, args[0])
				return nil
			})
		},
	}
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and loop state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				status, err := c.Status(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(opts.stdout, status)
				}
				printf(opts.stdout, "%s, up %s, %d loops (%d started, %d degraded)\n",
					status.Version.String(),
					(time.Duration(status.UptimeSeconds) * time.Second).String(),
					len(status.Loops), status.Metrics.LoopsStarted, status.Metrics.Degraded)
				tw := tabwriter.NewWriter(opts.stdout, 0, 4, 2, ' ', 0)
				printf(tw, "ID\tKIND\tSTATE\tCHECKS\tTRIGGERS\tFAILURES\tLAST ERROR\n")
				for _, loop := range status.Loops {
					printf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n", loop.WatcherID, loop.Kind, loop.State,
						loop.Checks, loop.Triggers, loop.Failures, loop.LastError)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newReloadCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reconcile running loops with the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if err := c.Reload(ctx); err != nil {
					return err
				}
				printf(opts.stdout, "reloaded\n")
				return nil
			})
		},
	}
}

func newSendCommand(opts *rootOptions) *cobra.Command {
	var channel, sender string
	cmd := &cobra.Command{
		Use:   "send <text>",
		Short: "Offer a chat message to message watchers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				return c.SendMessage(ctx, channel, sender, strings.Join(args, " "))
			})
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "channel the message arrived on")
	cmd.Flags().StringVar(&sender, "sender", "", "message author")
	return cmd
}

func writeWatcherTable(w io.Writer, watchers []watcher.Watcher) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	printf(tw, "ID\tKIND\tACTIVE\tINTERVAL\tDESCRIPTION\n")
	for _, item := range watchers {
		printf(tw, "%s\t%s\t%t\t%s\t%s\n", item.ID, item.KindType(), item.Active, item.Interval(), item.Description())
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
