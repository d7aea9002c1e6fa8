package gitrev

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commitFile(t *testing.T, repo *git.Repository, dir, name, content string) plumbing.Hash {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err)
	hash, err := wt.Commit("update "+name, &git.CommitOptions{
		Author: &object.Signature{Name: "r13y", Email: "r13y@example.org", When: time.Unix(1700000000, 0)},
	})
	require.NoError(t, err)
	return hash
}

func TestResolveHead(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	first := commitFile(t, repo, dir, "default.nix", "{ }\n")
	second := commitFile(t, repo, dir, "default.nix", "{ a = 1; }\n")

	rev, err := Resolve(dir, "")
	require.NoError(t, err)
	assert.Equal(t, second.String(), rev.Hash)
	assert.Equal(t, "master", rev.Branch)
	assert.False(t, rev.Dirty)
	assert.Len(t, rev.Short(), 12)

	rev, err = Resolve(dir, "HEAD~1")
	require.NoError(t, err)
	assert.Equal(t, first.String(), rev.Hash)
	assert.Empty(t, rev.Branch)
}

func TestResolveFromSubdirectoryAndDirty(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	commitFile(t, repo, dir, "default.nix", "{ }\n")

	sub := filepath.Join(dir, "pkgs")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "default.nix"), []byte("changed\n"), 0o644))

	rev, err := Resolve(sub, "")
	require.NoError(t, err)
	assert.True(t, rev.Dirty)
}

func TestResolveErrors(t *testing.T) {
	_, err := Resolve(t.TempDir(), "")
	assert.ErrorIs(t, err, ErrNotRepository)

	dir := t.TempDir()
	_, err = git.PlainInit(dir, false)
	require.NoError(t, err)
	_, err = Resolve(dir, "no-such-branch")
	assert.Error(t, err)
}
