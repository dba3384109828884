package gitrepo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kavymi/meepo-sub001/internal/watcher"
)

func initRepo(t *testing.T) (string, *gogit.Worktree) {
	t.Helper()
	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)
	worktree, err := repo.Worktree()
	require.NoError(t, err)
	return dir, worktree
}

func commitFile(t *testing.T, dir string, worktree *gogit.Worktree, content, message string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte(content), 0o644))
	_, err := worktree.Add("notes.txt")
	require.NoError(t, err)
	hash, err := worktree.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{Name: "Ada", Email: "ada@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return hash.String()
}

func gitWatcher(dir string) watcher.Watcher {
	return watcher.Watcher{ID: "g", Kind: watcher.GitWatch{Path: dir, Cadence: watcher.Cadence{IntervalSecs: 30}}}
}

func TestFirstCheckIsBaseline(t *testing.T) {
	dir, worktree := initRepo(t)
	commitFile(t, dir, worktree, "v1", "first")
	c := New()

	trigger, err := c.Check(context.Background(), gitWatcher(dir))
	require.NoError(t, err)
	assert.Nil(t, trigger)
}

func TestFiresOnNewCommits(t *testing.T) {
	dir, worktree := initRepo(t)
	first := commitFile(t, dir, worktree, "v1", "first")
	c := New()
	w := gitWatcher(dir)

	_, err := c.Check(context.Background(), w)
	require.NoError(t, err)

	commitFile(t, dir, worktree, "v2", "second")
	third := commitFile(t, dir, worktree, "v3", "third")

	trigger, err := c.Check(context.Background(), w)
	require.NoError(t, err)
	require.NotNil(t, trigger)
	assert.Equal(t, TriggerKind, trigger.Kind)
	payload := trigger.Payload.(Payload)
	assert.Equal(t, first, payload.From)
	assert.Equal(t, third, payload.To)
	require.Len(t, payload.Commits, 2)
	assert.Equal(t, "third", payload.Commits[0].Message)
	assert.Equal(t, "Ada", payload.Commits[0].Author)

	trigger, err = c.Check(context.Background(), w)
	require.NoError(t, err)
	assert.Nil(t, trigger)
}

func TestEmptyRepositoryHasNoHead(t *testing.T) {
	dir, _ := initRepo(t)
	_, err := New().Check(context.Background(), gitWatcher(dir))
	assert.ErrorIs(t, err, ErrNoHead)
}

func TestNotARepository(t *testing.T) {
	_, err := New().Check(context.Background(), gitWatcher(t.TempDir()))
	assert.Error(t, err)
}

func TestUnknownBranch(t *testing.T) {
	dir, worktree := initRepo(t)
	commitFile(t, dir, worktree, "v1", "first")
	w := watcher.Watcher{ID: "g", Kind: watcher.GitWatch{Path: dir, Branch: "nope", Cadence: watcher.Cadence{IntervalSecs: 30}}}

	_, err := New().Check(context.Background(), w)
	assert.Error(t, err)
}
