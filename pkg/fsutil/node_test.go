package fsutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkgfs-project/pkgfsd/pkg/fsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_StableAcrossRename(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.hpkg")
	b := filepath.Join(dir, "b.hpkg")
	require.NoError(t, os.WriteFile(a, []byte("x"), 0644))

	before, err := fsutil.Node(a)
	require.NoError(t, err)
	assert.False(t, before.IsZero())

	require.NoError(t, os.Rename(a, b))
	after, err := fsutil.Node(b)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	info, err := os.Stat(b)
	require.NoError(t, err)
	fromInfo, err := fsutil.NodeOf(info)
	require.NoError(t, err)
	assert.Equal(t, before, fromInfo)
}

func TestLNode_DoesNotFollow(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "t")
	link := filepath.Join(dir, "l")
	require.NoError(t, os.WriteFile(target, nil, 0644))
	require.NoError(t, os.Symlink("t", link))

	followed, err := fsutil.Node(link)
	require.NoError(t, err)
	own, err := fsutil.LNode(link)
	require.NoError(t, err)
	assert.NotEqual(t, followed, own)
}

func TestNode_Missing(t *testing.T) {
	_, err := fsutil.Node(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, os.IsNotExist(err))
}
