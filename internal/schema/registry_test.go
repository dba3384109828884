package schema

import (
	"testing"

	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterResolveAndCache(t *testing.T) {
	t.Cleanup(func() {
		registryMu.Lock()
		delete(registry, "example")
		registryMu.Unlock()
		ClearCache()
	})

	calls := 0
	require.NoError(t, Register("Example", func() *jsonschema.Schema {
		calls++
		return &jsonschema.Schema{Title: "example"}
	}))

	first, err := Resolve(" example ")
	require.NoError(t, err)
	second, err := Resolve("EXAMPLE")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)
	assert.Contains(t, Names(), "example")
}

func TestRegisterValidation(t *testing.T) {
	assert.Error(t, Register("", func() *jsonschema.Schema { return &jsonschema.Schema{} }))
	assert.Error(t, Register("x", nil))
}

func TestResolveUnknown(t *testing.T) {
	_, err := Resolve("")
	assert.Error(t, err)
	_, err = Resolve("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), SchemaWatcherDefinition)
}
