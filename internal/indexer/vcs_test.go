package indexer

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codesight/internal/embedder"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func git(t *testing.T, dir string, args ...string) {
	t.Helper()
	args = append([]string{"-c", "user.email=test@example.com", "-c", "user.name=test", "-c", "commit.gpgsign=false"}, args...)
	out, err := exec.Command("git", append([]string{"-C", dir}, args...)...).CombinedOutput()
	require.NoError(t, err, string(out))
}

func TestGitHead_NotARepo(t *testing.T) {
	requireGit(t)
	assert.Equal(t, "", GitHead(context.Background(), t.TempDir()))
}

func TestGitHeadAndChangedSince(t *testing.T) {
	requireGit(t)
	root := t.TempDir()
	ctx := context.Background()

	git(t, root, "init", "-q")
	writeFile(t, root, "a.txt", "one")
	writeFile(t, root, "b.txt", "two")
	git(t, root, "add", ".")
	git(t, root, "commit", "-q", "-m", "first")
	first := GitHead(ctx, root)
	require.Len(t, first, 40)

	writeFile(t, root, "b.txt", "two changed")
	git(t, root, "commit", "-q", "-am", "second")
	second := GitHead(ctx, root)
	assert.NotEqual(t, first, second)

	changed, err := GitChangedSince(ctx, root, first)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.txt"}, changed)

	changed, err = GitChangedSince(ctx, root, second)
	require.NoError(t, err)
	assert.Empty(t, changed)

	prefix, err := GitPrefix(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, "", prefix)
}

func TestRun_RecordsGitCommit(t *testing.T) {
	requireGit(t)
	env := newTestEnv(t, embedder.NewHashingProvider("hashing-384", 384))
	git(t, env.root, "init", "-q")
	writeFile(t, env.root, "a.txt", "alpha")
	git(t, env.root, "add", ".")
	git(t, env.root, "commit", "-q", "-m", "first")

	opts := testOptions()
	opts.UseGit = true
	env.idx = New(env.root, env.store, env.ledger, env.client, opts, nil)
	env.run(t, false)

	meta, err := env.store.GetMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, GitHead(context.Background(), env.root), meta.LastCommit)
}
