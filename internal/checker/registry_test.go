package checker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kavymi/meepo-sub001/internal/watcher"
)

type statefulChecker struct {
	forgotten []string
	closed    int
}

func (c *statefulChecker) Check(context.Context, watcher.Watcher) (*Trigger, error) {
	return nil, nil
}

func (c *statefulChecker) Forget(id string) {
	c.forgotten = append(c.forgotten, id)
}

func (c *statefulChecker) Close() error {
	c.closed++
	return errors.New("close failed")
}

func TestRegistryLookup(t *testing.T) {
	registry := NewRegistry()
	fired := Func(func(context.Context, watcher.Watcher) (*Trigger, error) {
		return Fire("interval_elapsed", "tick"), nil
	})
	require.NoError(t, registry.Register(watcher.KindInterval, fired))

	checker, err := registry.Lookup(watcher.KindInterval)
	require.NoError(t, err)
	trigger, err := checker.Check(context.Background(), watcher.Watcher{})
	require.NoError(t, err)
	assert.Equal(t, &Trigger{Kind: "interval_elapsed", Payload: "tick"}, trigger)

	_, err = registry.Lookup(watcher.KindEmail)
	assert.ErrorIs(t, err, ErrNoChecker)
	assert.Equal(t, []watcher.KindType{watcher.KindInterval}, registry.Kinds())
}

func TestRegistryRejectsDuplicatesAndUnknownKinds(t *testing.T) {
	registry := NewRegistry()
	noop := Func(func(context.Context, watcher.Watcher) (*Trigger, error) { return nil, nil })

	require.NoError(t, registry.Register(watcher.KindFile, noop))
	assert.Error(t, registry.Register(watcher.KindFile, noop))
	assert.Error(t, registry.Register("PagerWatch", noop))
	assert.Error(t, registry.Register(watcher.KindGit, nil))

	registry.Replace(watcher.KindFile, noop)
	_, err := registry.Lookup(watcher.KindFile)
	assert.NoError(t, err)
}

func TestRegistryForgetAndClose(t *testing.T) {
	registry := NewRegistry()
	stateful := &statefulChecker{}
	registry.MustRegister(watcher.KindMessage, stateful)
	registry.MustRegister(watcher.KindInterval, Func(func(context.Context, watcher.Watcher) (*Trigger, error) { return nil, nil }))

	registry.Forget("w-1")
	assert.Equal(t, []string{"w-1"}, stateful.forgotten)

	err := registry.Close()
	assert.Error(t, err)
	assert.Equal(t, 1, stateful.closed)
}

func TestLimitedWaitsForTokens(t *testing.T) {
	calls := 0
	inner := Func(func(context.Context, watcher.Watcher) (*Trigger, error) {
		calls++
		return nil, nil
	})
	limited := NewLimited(inner, 60, 1)

	_, err := limited.Check(context.Background(), watcher.Watcher{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = limited.Check(ctx, watcher.Watcher{})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestLimitedUnlimited(t *testing.T) {
	calls := 0
	limited := NewLimited(Func(func(context.Context, watcher.Watcher) (*Trigger, error) {
		calls++
		return nil, nil
	}), 0, 0)
	for i := 0; i < 50; i++ {
		_, err := limited.Check(context.Background(), watcher.Watcher{})
		require.NoError(t, err)
	}
	assert.Equal(t, 50, calls)
}
