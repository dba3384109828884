package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kavymi/meepo-sub001/internal/client"
	"github.com/kavymi/meepo-sub001/internal/schema"
	"github.com/kavymi/meepo-sub001/internal/watcher"
)

type definitionFile struct {
	Watchers []watcher.Definition `json:"watchers"`
}

func newImportCommand(opts *rootOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Create watchers from a YAML or JSON definition file",
		Long: `Create every watcher listed in a definition file:

  watchers:
    - kind: {type: IntervalWatch, interval_secs: 300}
      action: check the build
      reply_channel: chat:ops

The file is validated against "watchd schema watcher-file" first. Use "-"
to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			definitions, err := readDefinitionFile(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			if dryRun {
				printf(opts.stdout, "%d watcher definitions are valid\n", len(definitions))
				return nil
			}
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				for i, definition := range definitions {
					created, err := c.CreateWatcher(ctx, definition)
					if err != nil {
						return fmt.Errorf("watchers[%d]: %w", i, err)
					}
					printf(opts.stdout, "%s\t%s\n", created.ID, created.Description())
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the file without creating watchers")
	return cmd
}

func readDefinitionFile(path string, stdin io.Reader) ([]watcher.Definition, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return parseDefinitions(data)
}

// parseDefinitions accepts YAML (and therefore JSON), validates the document
// shape, then decodes through the JSON form the API uses.
func parseDefinitions(data []byte) ([]watcher.Definition, error) {
	var document any
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("parse definition file: %w", err)
	}
	document = normalizeYAML(document)
	object, ok := document.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("definition file must be a mapping with a watchers list")
	}

	fileSchema, err := schema.Resolve(schema.SchemaWatcherFile)
	if err != nil {
		return nil, err
	}
	if err := schema.ValidateObject(fileSchema, object); err != nil {
		return nil, fmt.Errorf("invalid definition file:\n%w", err)
	}

	encoded, err := json.Marshal(object)
	if err != nil {
		return nil, err
	}
	var file definitionFile
	if err := json.Unmarshal(encoded, &file); err != nil {
		return nil, err
	}
	for i, definition := range file.Watchers {
		if err := watcher.ValidateKind(definition.Kind); err != nil {
			return nil, fmt.Errorf("watchers[%d]: %w", i, err)
		}
	}
	return file.Watchers, nil
}

// normalizeYAML converts decoder output into JSON-compatible values.
func normalizeYAML(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		for key, item := range typed {
			typed[key] = normalizeYAML(item)
		}
		return typed
	case map[any]any:
		converted := make(map[string]any, len(typed))
		for key, item := range typed {
			converted[fmt.Sprint(key)] = normalizeYAML(item)
		}
		return converted
	case []any:
		for i, item := range typed {
			typed[i] = normalizeYAML(item)
		}
		return typed
	case time.Time:
		return typed.UTC().Format(time.RFC3339)
	default:
		return value
	}
}
