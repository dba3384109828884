package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kavymi/meepo-sub001/internal/schema"
	"github.com/kavymi/meepo-sub001/internal/watcher"
)

func newSchemaCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema [name|kind]",
		Short: "Print a JSON Schema for watcher definitions",
		Long: fmt.Sprintf(`Print a JSON Schema. Names: %s.
A watcher kind (e.g. "github") prints the schema of that kind alone.`,
			strings.Join(schema.Names(), ", ")),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := schema.SchemaWatcherFile
			if len(args) == 1 {
				name = args[0]
			}
			if kindType, ok := watcher.ParseKindType(name); ok {
				kindSchema, _ := schema.KindSchema(kindType)
				return writeSchema(opts, kindSchema)
			}
			resolved, err := schema.Resolve(name)
			if err != nil {
				return err
			}
			return writeSchema(opts, resolved)
		},
	}
}

func writeSchema(opts *rootOptions, value any) error {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	printf(opts.stdout, "%s\n", encoded)
	return nil
}
