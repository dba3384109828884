package main

import (
	"github.com/spf13/cobra"

	"github.com/kavymi/meepo-sub001/internal/version"
)

func newVersionCommand(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.GetVersionInfo()
			if asJSON {
				return writeJSON(opts.stdout, info)
			}
			printf(opts.stdout, "%s\n", info.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
