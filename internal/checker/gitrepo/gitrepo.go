// Package gitrepo fires GitWatch watchers when a local repository gains
// commits on the watched branch.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/kavymi/meepo-sub001/internal/checker"
	"github.com/kavymi/meepo-sub001/internal/watcher"
)

const (
	TriggerKind = "git_commit"
	// maxCommits bounds the commit summaries carried by one trigger.
	maxCommits = 20
)

var ErrNoHead = errors.New("repository has no HEAD reference")

type Commit struct {
	Hash    string    `json:"hash"`
	Author  string    `json:"author"`
	Message string    `json:"message"`
	When    time.Time `json:"when"`
}

type Payload struct {
	Path    string   `json:"path"`
	Ref     string   `json:"ref"`
	From    string   `json:"from"`
	To      string   `json:"to"`
	Commits []Commit `json:"commits"`
}

// Checker remembers the last seen tip per watcher. The first check records
// a baseline and does not fire.
type Checker struct {
	mu    sync.Mutex
	seen  map[string]plumbing.Hash
	repos map[string]*gogit.Repository
}

func New() *Checker {
	return &Checker{
		seen:  make(map[string]plumbing.Hash),
		repos: make(map[string]*gogit.Repository),
	}
}

func (c *Checker) Check(ctx context.Context, w watcher.Watcher) (*checker.Trigger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	kind, ok := w.Kind.(watcher.GitWatch)
	if !ok {
		return nil, fmt.Errorf("git checker cannot evaluate %s", w.KindType())
	}

	repo, err := c.open(kind.Path)
	if err != nil {
		return nil, err
	}
	refName, tip, err := resolveTip(repo, kind.Branch)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	previous, known := c.seen[w.ID]
	c.seen[w.ID] = tip
	c.mu.Unlock()

	if !known || previous == tip {
		return nil, nil
	}

	commits, err := commitsBetween(ctx, repo, previous, tip)
	if err != nil {
		return nil, err
	}
	return checker.Fire(TriggerKind, Payload{
		Path:    kind.Path,
		Ref:     refName,
		From:    previous.String(),
		To:      tip.String(),
		Commits: commits,
	}), nil
}

func (c *Checker) Forget(watcherID string) {
	c.mu.Lock()
	delete(c.seen, watcherID)
	c.mu.Unlock()
}

func (c *Checker) open(path string) (*gogit.Repository, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if repo, ok := c.repos[absPath]; ok {
		return repo, nil
	}
	repo, err := gogit.PlainOpen(absPath)
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", absPath, err)
	}
	c.repos[absPath] = repo
	return repo, nil
}

func resolveTip(repo *gogit.Repository, branch string) (string, plumbing.Hash, error) {
	if strings.TrimSpace(branch) == "" {
		head, err := repo.Head()
		if err != nil {
			if errors.Is(err, plumbing.ErrReferenceNotFound) {
				return "", plumbing.ZeroHash, ErrNoHead
			}
			return "", plumbing.ZeroHash, fmt.Errorf("resolve HEAD: %w", err)
		}
		return head.Name().Short(), head.Hash(), nil
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return "", plumbing.ZeroHash, fmt.Errorf("resolve branch %s: %w", branch, err)
	}
	return branch, ref.Hash(), nil
}

// commitsBetween walks back from tip until it reaches from. A history
// rewrite that drops from yields at most maxCommits entries.
func commitsBetween(ctx context.Context, repo *gogit.Repository, from, tip plumbing.Hash) ([]Commit, error) {
	iter, err := repo.Log(&gogit.LogOptions{From: tip})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	var commits []Commit
	errDone := errors.New("done")
	err = iter.ForEach(func(commit *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if commit.Hash == from || len(commits) >= maxCommits {
			return errDone
		}
		commits = append(commits, Commit{
			Hash:    commit.Hash.String(),
			Author:  commit.Author.Name,
			Message: strings.TrimSpace(commit.Message),
			When:    commit.Author.When.UTC(),
		})
		return nil
	})
	if err != nil && !errors.Is(err, errDone) {
		return nil, err
	}
	return commits, nil
}
