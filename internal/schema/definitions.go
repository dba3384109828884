package schema

import (
	"github.com/invopop/jsonschema"

	"github.com/kavymi/meepo-sub001/internal/watcher"
)

const (
	SchemaWatcherKind       = "watcher-kind"
	SchemaWatcherDefinition = "watcher-definition"
	SchemaWatcherFile       = "watcher-file"
)

func init() {
	_ = Register(SchemaWatcherKind, watcherKindSchema)
	_ = Register(SchemaWatcherDefinition, watcherDefinitionSchema)
	_ = Register(SchemaWatcherFile, watcherFileSchema)
}

func newReflector() *jsonschema.Reflector {
	return &jsonschema.Reflector{
		Anonymous:                 true,
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		ExpandedStruct:            true,
	}
}

// KindSchema describes one watcher variant as a flat object tagged by "type".
func KindSchema(kindType watcher.KindType) (*jsonschema.Schema, bool) {
	zero, ok := watcher.ZeroKind(kindType)
	if !ok {
		return nil, false
	}
	s := newReflector().Reflect(zero)
	s.Version = ""
	s.Title = string(kindType)
	if s.Properties == nil {
		s.Properties = jsonschema.NewProperties()
	}
	s.Properties.Set("type", &jsonschema.Schema{Type: "string", Const: string(kindType)})
	if interval, ok := s.Properties.Get("interval_secs"); ok && interval != nil {
		interval.ExclusiveMinimum = "0"
	}
	s.Required = append([]string{"type"}, s.Required...)
	return s, true
}

func watcherKindSchema() *jsonschema.Schema {
	kinds := watcher.KindTypes()
	s := &jsonschema.Schema{
		Version:     jsonschema.Version,
		Title:       "watcher kind",
		Description: "A watcher condition tagged by its type.",
		OneOf:       make([]*jsonschema.Schema, 0, len(kinds)),
	}
	for _, kindType := range kinds {
		if variant, ok := KindSchema(kindType); ok {
			s.OneOf = append(s.OneOf, variant)
		}
	}
	return s
}

func watcherDefinitionSchema() *jsonschema.Schema {
	return definitionSchema(jsonschema.Version)
}

func definitionSchema(version string) *jsonschema.Schema {
	kind := watcherKindSchema()
	kind.Version = ""
	properties := jsonschema.NewProperties()
	properties.Set("kind", kind)
	properties.Set("action", &jsonschema.Schema{Type: "string", Description: "Opaque instruction forwarded when the watcher fires."})
	properties.Set("reply_channel", &jsonschema.Schema{Type: "string", Description: "Where the fired event should be delivered."})
	return &jsonschema.Schema{
		Version:              version,
		Title:                "watcher definition",
		Type:                 "object",
		Properties:           properties,
		Required:             []string{"kind"},
		AdditionalProperties: jsonschema.FalseSchema,
	}
}

// watcherFileSchema covers files accepted by "watchd import".
func watcherFileSchema() *jsonschema.Schema {
	properties := jsonschema.NewProperties()
	properties.Set("watchers", &jsonschema.Schema{
		Type:  "array",
		Items: definitionSchema(""),
	})
	return &jsonschema.Schema{
		Version:              jsonschema.Version,
		Title:                "watcher file",
		Type:                 "object",
		Properties:           properties,
		Required:             []string{"watchers"},
		AdditionalProperties: jsonschema.FalseSchema,
	}
}
