package git

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/triageio/internal/findings"
)

const (
	// MaxCommitsPerFile caps the modifications counted for a single file.
	MaxCommitsPerFile = 50
	// DefaultCommitLimit caps the commits walked from HEAD.
	DefaultCommitLimit = 5000
)

// fixKeywords mark a commit message as a fix.
var fixKeywords = []string{"fix", "bug", "patch", "repair", "resolve", "correct", "security", "vulnerability"}

// HistoryOptions tunes MineHistory.
type HistoryOptions struct {
	CommitLimit int
	Logger      hclog.Logger
}

// IsFixMessage reports whether a commit message mentions one of the fix keywords.
func IsFixMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, kw := range fixKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// MineHistory walks the history of the repository containing sourceFolder and counts, for each of
// the given paths (relative to sourceFolder), the commits that touched it and how many of them were fixes.
// Paths never touched are absent from the result.
func MineHistory(ctx context.Context, sourceFolder string, paths []string, opts HistoryOptions) (map[string]findings.History, error) {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	limit := opts.CommitLimit
	if limit <= 0 {
		limit = DefaultCommitLimit
	}

	repo, sub, err := openRepository(sourceFolder)
	if err != nil {
		return nil, err
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	// repository path -> candidate path
	wanted := make(map[string]string, len(paths))
	for _, p := range paths {
		rel := path.Clean(strings.TrimPrefix(p, "./"))
		if sub != "" {
			rel = path.Join(sub, rel)
		}
		wanted[rel] = p
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("failed to read the commit log: %w", err)
	}
	defer iter.Close()

	counts := make(map[string]findings.History)
	walked := 0
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walked >= limit {
			return storer.ErrStop
		}
		walked++

		touched, err := changedPaths(c)
		if err != nil {
			logger.Debug("skipping commit", "commit", c.Hash.String(), "error", err)
			return nil
		}
		fix := IsFixMessage(c.Message)
		for _, name := range touched {
			p, ok := wanted[name]
			if !ok {
				continue
			}
			h := counts[p]
			if h.TotalModifications >= MaxCommitsPerFile {
				continue
			}
			h.TotalModifications++
			if fix {
				h.FixModifications++
			}
			counts[p] = h
		}
		return nil
	})
	if err != nil && !errors.Is(err, storer.ErrStop) {
		return nil, err
	}

	logger.Debug("git history mined", "commits", walked, "files", len(counts))
	return counts, nil
}

// changedPaths lists the paths a commit changed relative to its first parent.
func changedPaths(c *object.Commit) ([]string, error) {
	tree, err := c.Tree()
	if err != nil {
		return nil, err
	}

	if c.NumParents() == 0 {
		var names []string
		err := tree.Files().ForEach(func(f *object.File) error {
			names = append(names, f.Name)
			return nil
		})
		return names, err
	}

	parent, err := c.Parent(0)
	if err != nil {
		return nil, err
	}
	parentTree, err := parent.Tree()
	if err != nil {
		return nil, err
	}
	changes, err := object.DiffTree(parentTree, tree)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(changes))
	for _, ch := range changes {
		name := ch.To.Name
		if name == "" {
			name = ch.From.Name
		}
		names = append(names, name)
	}
	return names, nil
}
