package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kavymi/meepo-sub001/internal/client"
	"github.com/kavymi/meepo-sub001/internal/config"
)

const defaultRequestTimeout = 15 * time.Second

// rootOptions holds the flags shared by every subcommand.
type rootOptions struct {
	configPath string
	overrides  []string
	server     string
	token      string
	timeout    time.Duration
	environ    map[string]string

	stdout io.Writer
	stderr io.Writer
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:   "watchd",
		Short: "Reactive watcher scheduler",
		Long: `watchd runs persisted watchers on their own cadence and forwards an
event with the watcher's action whenever a condition fires.

Run "watchd serve" to start the daemon. The other commands talk to a running
daemon over its HTTP API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to watchd.toml (default ./watchd.toml or $WATCHD_CONFIG)")
	flags.StringArrayVar(&opts.overrides, "set", nil, "override a config key, e.g. --set server.addr=127.0.0.1:9000")
	flags.StringVar(&opts.server, "server", "", "daemon base URL (default derived from server.addr)")
	flags.StringVar(&opts.token, "token", "", "API token (default server.auth_token)")
	flags.DurationVar(&opts.timeout, "timeout", defaultRequestTimeout, "request timeout for client commands")

	root.AddCommand(
		newServeCommand(opts),
		newAddCommand(opts),
		newListCommand(opts),
		newGetCommand(opts),
		newRemoveCommand(opts),
		newPauseCommand(opts, false),
		newPauseCommand(opts, true),
		newStatusCommand(opts),
		newReloadCommand(opts),
		newSendCommand(opts),
		newImportCommand(opts),
		newSchemaCommand(opts),
		newConfigCommand(opts),
		newVersionCommand(opts),
	)
	return root
}

func (opts *rootOptions) loadConfig() (config.Config, error) {
	environ := opts.environ
	if environ == nil {
		environ = environMap(os.Environ())
	}
	return config.Load(config.LoadOptions{
		Path:      opts.configPath,
		Overrides: opts.overrides,
		Environ:   environ,
	})
}

func (opts *rootOptions) client() (*client.Client, error) {
	baseURL := strings.TrimSpace(opts.server)
	token := strings.TrimSpace(opts.token)
	if baseURL == "" || token == "" {
		cfg, err := opts.loadConfig()
		if err != nil {
			return nil, err
		}
		if baseURL == "" {
			baseURL = baseURLFromAddr(cfg.Server.Addr)
		}
		if token == "" {
			token = cfg.Server.AuthToken
		}
	}
	return client.New(baseURL, token), nil
}

// baseURLFromAddr turns a listen address into a URL a local client can dial.
func baseURLFromAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	if strings.HasPrefix(addr, "0.0.0.0:") {
		addr = "127.0.0.1" + strings.TrimPrefix(addr, "0.0.0.0")
	}
	return "http://" + addr
}

func environMap(entries []string) map[string]string {
	values := make(map[string]string, len(entries))
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		if ok {
			values[key] = value
		}
	}
	return values
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
