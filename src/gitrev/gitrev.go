// Package gitrev names the nixpkgs revision under test from a local checkout.
package gitrev

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ErrNotRepository is returned when dir is not inside a git checkout.
var ErrNotRepository = errors.New("not a git repository")

// Revision is a resolved commit.
type Revision struct {
	Hash   string
	Branch string // empty when HEAD is detached or rev is not HEAD
	Dirty  bool   // uncommitted changes in the worktree
}

// Short returns the abbreviated hash.
func (r Revision) Short() string {
	if len(r.Hash) > 12 {
		return r.Hash[:12]
	}
	return r.Hash
}

// Resolve resolves rev (a branch, tag, hash or "HEAD"; empty means HEAD) in
// the repository containing dir.
func Resolve(dir, rev string) (Revision, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return Revision{}, fmt.Errorf("%s: %w", dir, ErrNotRepository)
		}
		return Revision{}, fmt.Errorf("opening %s: %w", dir, err)
	}

	if rev == "" {
		rev = "HEAD"
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return Revision{}, fmt.Errorf("resolving %s in %s: %w", rev, dir, err)
	}
	out := Revision{Hash: hash.String()}

	if rev == "HEAD" {
		head, err := repo.Head()
		if err != nil {
			return Revision{}, fmt.Errorf("getting HEAD: %w", err)
		}
		if head.Name().IsBranch() {
			out.Branch = head.Name().Short()
		}
	}

	dirty, err := isDirty(repo)
	if err != nil {
		return Revision{}, err
	}
	out.Dirty = dirty
	return out, nil
}

// isDirty reports staged or unstaged modifications. Bare repositories are
// never dirty.
func isDirty(repo *git.Repository) (bool, error) {
	wt, err := repo.Worktree()
	if err != nil {
		if errors.Is(err, git.ErrIsBareRepository) {
			return false, nil
		}
		return false, err
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("worktree status: %w", err)
	}
	for _, s := range status {
		if s.Worktree == git.Untracked {
			continue
		}
		if s.Worktree != git.Unmodified || s.Staging != git.Unmodified {
			return true, nil
		}
	}
	return false, nil
}
