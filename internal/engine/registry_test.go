package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetSharesEngines(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(testConfig(t), testClient(32), nil)
	defer func() { _ = reg.CloseAll() }()

	root := seedRoot(t)
	a, err := reg.Get(ctx, root)
	require.NoError(t, err)
	b, err := reg.Get(ctx, filepath.Join(root, "auth", ".."))
	require.NoError(t, err)
	assert.Same(t, a, b)

	link := filepath.Join(t.TempDir(), "link")
	if err := os.Symlink(root, link); err == nil {
		c, err := reg.Get(ctx, link)
		require.NoError(t, err)
		assert.Same(t, a, c)
	}

	other, err := reg.Get(ctx, seedRoot(t))
	require.NoError(t, err)
	assert.NotSame(t, a, other)
	assert.NotEqual(t, a.Dir(), other.Dir())
	assert.Len(t, reg.Roots(), 2)
}

func TestRegistry_CloseAll(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(testConfig(t), testClient(32), nil)

	e, err := reg.Get(ctx, seedRoot(t))
	require.NoError(t, err)
	_, err = e.Index(ctx, false)
	require.NoError(t, err)

	require.NoError(t, reg.CloseAll())
	assert.Empty(t, reg.Roots())

	_, err = reg.Get(ctx, seedRoot(t))
	assert.ErrorIs(t, err, ErrRegistryClosed)
}

func TestRegistry_OpenErrorNotCached(t *testing.T) {
	reg := NewRegistry(testConfig(t), testClient(32), nil)
	defer func() { _ = reg.CloseAll() }()

	_, err := reg.Get(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
	assert.Empty(t, reg.Roots())
}
