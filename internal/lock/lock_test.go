package lock_test

import (
	"os"
	"testing"

	"github.com/pkgfs-project/pkgfsd/internal/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Acquire(t *testing.T) {
	dir := t.TempDir()
	mgr := lock.NewManager()

	l, err := mgr.Acquire(dir, "daemon")
	require.NoError(t, err)
	assert.NotEmpty(t, l.Holder().ID)
	assert.Equal(t, os.Getpid(), l.Holder().PID)
	assert.True(t, mgr.Held(dir))

	h, err := lock.ReadHolder(dir)
	require.NoError(t, err)
	assert.Equal(t, l.Holder().ID, h.ID)
	assert.Equal(t, "daemon", h.Purpose)
}

func TestManager_Acquire_Conflict(t *testing.T) {
	dir := t.TempDir()
	first := lock.NewManager()
	second := lock.NewManager()

	_, err := first.Acquire(dir, "first")
	require.NoError(t, err)

	_, err = second.Acquire(dir, "second")
	assert.ErrorIs(t, err, lock.ErrLocked)
	assert.Contains(t, err.Error(), "first")

	_, err = first.Acquire(dir, "again")
	assert.ErrorIs(t, err, lock.ErrLocked)
}

func TestManager_Release(t *testing.T) {
	dir := t.TempDir()
	first := lock.NewManager()
	second := lock.NewManager()

	l, err := first.Acquire(dir, "first")
	require.NoError(t, err)
	require.NoError(t, first.Release(l))
	assert.False(t, first.Held(dir))
	assert.Error(t, first.Release(l))

	_, err = lock.ReadHolder(dir)
	assert.Error(t, err, "holder record cleared")

	l2, err := second.Acquire(dir, "second")
	require.NoError(t, err)
	assert.Equal(t, "second", l2.Holder().Purpose)
}

func TestManager_ReleaseAll(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	mgr := lock.NewManager()
	_, err := mgr.Acquire(a, "a")
	require.NoError(t, err)
	_, err = mgr.Acquire(b, "b")
	require.NoError(t, err)

	mgr.ReleaseAll()
	assert.False(t, mgr.Held(a))
	assert.False(t, mgr.Held(b))
}
