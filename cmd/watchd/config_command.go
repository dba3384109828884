package main

import (
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/kavymi/meepo-sub001/internal/config"
)

const redacted = "<redacted>"

func newConfigCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	var showSources bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration as TOML with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if showSources {
				keys := make([]string, 0, len(cfg.Sources))
				for key := range cfg.Sources {
					keys = append(keys, key)
				}
				sort.Strings(keys)
				for _, key := range keys {
					printf(opts.stdout, "# %s from %s\n", key, cfg.Sources[key])
				}
			}
			return toml.NewEncoder(opts.stdout).Encode(redactConfig(cfg))
		},
	}
	show.Flags().BoolVar(&showSources, "sources", false, "list keys that differ from defaults and where they came from")

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			path := cfg.Path
			if path == "" {
				path = "defaults"
			}
			printf(opts.stdout, "config ok (%s)\n", path)
			return nil
		},
	}

	cmd.AddCommand(show, validate)
	return cmd
}

func redactConfig(cfg config.Config) config.Config {
	for _, secret := range []*string{&cfg.Server.AuthToken, &cfg.Webhook.Token, &cfg.GitHub.Token} {
		if *secret != "" {
			*secret = redacted
		}
	}
	return cfg
}
