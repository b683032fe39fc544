package checkout

import (
	"context"
	"fmt"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// GitAdapter implements Adapter with go-git. It is the default
// source-control boundary for real workspaces.
type GitAdapter struct{}

// NewGitAdapter returns the go-git backed adapter.
func NewGitAdapter() *GitAdapter { return &GitAdapter{} }

func (g *GitAdapter) Head(path string) (string, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return "", fmt.Errorf("failed to open repository %s: %w", path, err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

func (g *GitAdapter) ResolveRef(path, ref string) (string, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return "", fmt.Errorf("failed to open repository %s: %w", path, err)
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return "", fmt.Errorf("failed to resolve ref %q: %w", ref, err)
	}
	return hash.String(), nil
}

func (g *GitAdapter) IsClean(path string) (bool, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return false, fmt.Errorf("failed to open repository %s: %w", path, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("failed to open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("failed to read worktree status: %w", err)
	}
	return status.IsClean(), nil
}

func (g *GitAdapter) ResetHard(ctx context.Context, path, ref string) error {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return fmt.Errorf("failed to open repository %s: %w", path, err)
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return fmt.Errorf("failed to resolve ref %q: %w", ref, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}
	if err := wt.Reset(&git.ResetOptions{Mode: git.HardReset, Commit: *hash}); err != nil {
		return fmt.Errorf("failed to reset to %s: %w", hash, err)
	}
	return nil
}

func (g *GitAdapter) Clone(ctx context.Context, url, path string) error {
	if _, err := git.PlainCloneContext(ctx, path, false, &git.CloneOptions{URL: url}); err != nil {
		return fmt.Errorf("failed to clone %s: %w", url, err)
	}
	return nil
}
