package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kavymi/meepo-sub001/internal/watcher"
)

func newTestChecker(t *testing.T) *Checker {
	t.Helper()
	c, err := New(Options{Debounce: 10 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func fileWatcher(id, path, pattern string) watcher.Watcher {
	return watcher.Watcher{
		ID:   id,
		Kind: watcher.FileWatch{Path: path, Pattern: pattern, Cadence: watcher.Cadence{IntervalSecs: 1}},
	}
}

func waitForTrigger(t *testing.T, c *Checker, w watcher.Watcher) Payload {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		trigger, err := c.Check(context.Background(), w)
		require.NoError(t, err)
		if trigger != nil {
			assert.Equal(t, TriggerKind, trigger.Kind)
			return trigger.Payload.(Payload)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected trigger for %s", w.ID)
	return Payload{}
}

func TestFirstCheckIsBaseline(t *testing.T) {
	dir := t.TempDir()
	c := newTestChecker(t)
	w := fileWatcher("w", dir, "")

	trigger, err := c.Check(context.Background(), w)
	require.NoError(t, err)
	assert.Nil(t, trigger)

	trigger, err = c.Check(context.Background(), w)
	require.NoError(t, err)
	assert.Nil(t, trigger)
}

func TestReportsChangesSinceLastCheck(t *testing.T) {
	dir := t.TempDir()
	c := newTestChecker(t)
	w := fileWatcher("w", dir, "")

	_, err := c.Check(context.Background(), w)
	require.NoError(t, err)

	target := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(target, []byte("hello"), 0o644))

	payload := waitForTrigger(t, c, w)
	assert.Equal(t, filepath.Clean(dir), payload.Root)
	require.NotEmpty(t, payload.Changes)
	assert.Equal(t, target, payload.Changes[0].Path)

	trigger, err := c.Check(context.Background(), w)
	require.NoError(t, err)
	assert.Nil(t, trigger)
}

func TestPatternFiltersChanges(t *testing.T) {
	dir := t.TempDir()
	c := newTestChecker(t)
	w := fileWatcher("w", dir, "*.md")

	_, err := c.Check(context.Background(), w)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.md"), []byte("x"), 0o644))

	payload := waitForTrigger(t, c, w)
	for _, change := range payload.Changes {
		assert.Equal(t, ".md", filepath.Ext(change.Path))
	}
}

func TestMissingPathIsAnError(t *testing.T) {
	c := newTestChecker(t)
	w := fileWatcher("w", filepath.Join(t.TempDir(), "missing"), "")

	_, err := c.Check(context.Background(), w)
	assert.Error(t, err)
}

func TestForgetReleasesSharedWatch(t *testing.T) {
	dir := t.TempDir()
	c := newTestChecker(t)
	first := fileWatcher("a", dir, "")
	second := fileWatcher("b", dir, "")

	_, err := c.Check(context.Background(), first)
	require.NoError(t, err)
	_, err = c.Check(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, 2, c.refs[filepath.Clean(dir)])

	c.Forget("a")
	assert.Equal(t, 1, c.refs[filepath.Clean(dir)])
	c.Forget("b")
	_, ok := c.refs[filepath.Clean(dir)]
	assert.False(t, ok)
}

func TestWatcherErrorsDoNotFailOtherWatches(t *testing.T) {
	c := newTestChecker(t)
	w := fileWatcher("w", t.TempDir(), "")
	_, err := c.Check(context.Background(), w)
	require.NoError(t, err)

	c.handleError(errors.New("queue overflow"))

	trigger, err := c.Check(context.Background(), w)
	require.NoError(t, err)
	assert.Nil(t, trigger)
	assert.Equal(t, uint64(1), c.WatchErrors())
}

func TestRemovedRootOnlyFailsItsOwnWatch(t *testing.T) {
	base := t.TempDir()
	doomed := filepath.Join(base, "doomed")
	kept := filepath.Join(base, "kept")
	require.NoError(t, os.Mkdir(doomed, 0o755))
	require.NoError(t, os.Mkdir(kept, 0o755))
	c := newTestChecker(t)
	first := fileWatcher("doomed", doomed, "")
	second := fileWatcher("kept", kept, "")
	for _, w := range []watcher.Watcher{first, second} {
		_, err := c.Check(context.Background(), w)
		require.NoError(t, err)
	}

	require.NoError(t, os.RemoveAll(doomed))

	var failure error
	deadline := time.Now().Add(3 * time.Second)
	for failure == nil && time.Now().Before(deadline) {
		_, failure = c.Check(context.Background(), first)
		_, err := c.Check(context.Background(), second)
		require.NoError(t, err)
		time.Sleep(20 * time.Millisecond)
	}
	require.Error(t, failure)
	assert.ErrorIs(t, failure, os.ErrNotExist)
}

func TestClosedCheckerRejectsChecks(t *testing.T) {
	c := newTestChecker(t)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.Check(context.Background(), fileWatcher("w", t.TempDir(), ""))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRegistrationMatching(t *testing.T) {
	root := filepath.Join("/tmp", "root")
	flat := &registration{root: root}
	assert.True(t, flat.covers(filepath.Join(root, "a.txt")))
	assert.False(t, flat.covers(filepath.Join(root, "sub", "a.txt")))
	assert.False(t, flat.covers(filepath.Join("/tmp", "other", "a.txt")))

	deep := &registration{root: root, recursive: true}
	assert.True(t, deep.covers(filepath.Join(root, "sub", "a.txt")))
}
