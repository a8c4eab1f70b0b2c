package fstx_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkgfs-project/pkgfsd/internal/fstx"
	"github.com/pkgfs-project/pkgfsd/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTx(t *testing.T) (*fstx.Transaction, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	log := logging.NewLogger(logging.LevelDebug)
	log.SetOutput(&buf)
	return fstx.New(log), &buf
}

func TestCreateEntry_RollBackRemoves(t *testing.T) {
	tx, _ := newTx(t)
	dir := filepath.Join(t.TempDir(), "state_x")

	p := tx.CreateEntry(dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	p.Finish()

	tx.RollBack()
	assert.NoDirExists(t, dir)
	assert.Equal(t, 0, tx.Len())
}

func TestRemoveEntry_RollBackRestoresBackup(t *testing.T) {
	tx, _ := newTx(t)
	root := t.TempDir()
	live := filepath.Join(root, "x.conf")
	backup := filepath.Join(root, "backup.conf")
	require.NoError(t, os.WriteFile(live, []byte("old"), 0644))

	p := tx.RemoveEntry(live, backup)
	require.NoError(t, os.Rename(live, backup))
	require.NoError(t, os.WriteFile(live, []byte("new"), 0644))
	p.Finish()

	tx.RollBack()
	content, err := os.ReadFile(live)
	require.NoError(t, err)
	assert.Equal(t, "old", string(content))
}

func TestRemoveEntry_NoBackupNotSupported(t *testing.T) {
	tx, buf := newTx(t)
	live := filepath.Join(t.TempDir(), "x.conf")

	tx.RemoveEntry(live, "").Finish()
	tx.RollBack()
	assert.Contains(t, buf.String(), "E_NOT_SUPPORTED")
}

func TestMoveEntry_RollBackRenamesBack(t *testing.T) {
	tx, _ := newTx(t)
	root := t.TempDir()
	from := filepath.Join(root, "a")
	to := filepath.Join(root, "b")
	require.NoError(t, os.WriteFile(from, []byte("x"), 0644))

	p := tx.MoveEntry(from, to)
	require.NoError(t, os.Rename(from, to))
	p.Finish()

	tx.RollBack()
	assert.FileExists(t, from)
	assert.NoFileExists(t, to)
}

func TestPending_DiscardUnlessFinished(t *testing.T) {
	tx, _ := newTx(t)
	root := t.TempDir()

	func() {
		p := tx.CreateEntry(filepath.Join(root, "early-exit"))
		defer p.Discard()
	}()
	assert.Equal(t, 0, tx.Len())

	func() {
		p := tx.CreateEntry(filepath.Join(root, "done"))
		defer p.Discard()
		p.Finish()
	}()
	assert.Equal(t, 1, tx.Len())
}

func TestRollBack_ReverseOrder(t *testing.T) {
	tx, _ := newTx(t)
	root := t.TempDir()
	dir := filepath.Join(root, "dir")
	file := filepath.Join(dir, "file")

	// Undoing the directory creation before the move back would lose the
	// moved file.
	tx.CreateEntry(dir).Finish()
	require.NoError(t, os.Mkdir(dir, 0755))
	src := filepath.Join(root, "src")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0644))
	tx.MoveEntry(src, file).Finish()
	require.NoError(t, os.Rename(src, file))

	tx.RollBack()
	assert.FileExists(t, src)
	assert.NoDirExists(t, dir)
}

func TestRollBack_FailureDisablesModified(t *testing.T) {
	tx, buf := newTx(t)
	root := t.TempDir()

	// A: a created directory. B: a move into A, recorded as modifying A.
	// C: an unrelated created file.
	a := filepath.Join(root, "state")
	require.NoError(t, os.Mkdir(a, 0755))
	idA := tx.CreateEntry(a).Finish()

	moved := filepath.Join(a, "pkg.hpkg")
	require.NoError(t, os.WriteFile(moved, []byte("x"), 0644))
	// The source directory vanished, so renaming back must fail.
	tx.MoveEntry(filepath.Join(root, "gone", "pkg.hpkg"), moved, idA).Finish()

	c := filepath.Join(root, "c")
	require.NoError(t, os.WriteFile(c, nil, 0644))
	tx.CreateEntry(c).Finish()

	ops := tx.Operations()
	require.Len(t, ops, 3)
	assert.Equal(t, []fstx.OpID{idA}, ops[1].Modified)

	tx.RollBack()
	assert.NoFileExists(t, c, "C rolled back")
	assert.DirExists(t, a, "A skipped because B failed")
	assert.FileExists(t, moved)
	assert.Contains(t, buf.String(), "skipping disabled operation")
}

func TestDisable_KeepsEntryOnRollBack(t *testing.T) {
	tx, _ := newTx(t)
	root := t.TempDir()
	kept := filepath.Join(root, "kept")
	gone := filepath.Join(root, "gone")
	require.NoError(t, os.Mkdir(kept, 0755))
	require.NoError(t, os.Mkdir(gone, 0755))
	id := tx.CreateEntry(kept).Finish()
	tx.CreateEntry(gone).Finish()

	tx.Disable(id)
	tx.Disable(fstx.OpID(99))
	tx.RollBack()
	assert.DirExists(t, kept)
	assert.NoDirExists(t, gone)
}
