package packages_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkgfs-project/pkgfsd/internal/packages"
	"github.com/pkgfs-project/pkgfsd/internal/packages/packagetest"
	"github.com/pkgfs-project/pkgfsd/pkg/errclass"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePackage(t *testing.T, dir, fileName, name, version string) {
	t.Helper()
	require.NoError(t, packagetest.Simple(filepath.Join(dir, fileName), name, version))
}

func TestArchiveParser_Parse(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a-1.hpkg")
	info := packages.Info{
		Name:          "a",
		Version:       "1",
		SystemPackage: true,
		Groups:        []string{"www"},
		Users:         []packages.User{{Name: "www", Groups: []string{"www"}}},
		GlobalWritableFiles: []packages.WritableFile{
			{Path: "settings/x.conf", Update: packages.UpdateManual},
		},
		PostInstallScripts: []string{"boot/post-install/a.sh"},
		Requires:           []string{"libc"},
	}
	require.NoError(t, packagetest.Write(p, info, map[string]packagetest.Entry{
		"settings/x.conf": {Content: "x=1\n"},
	}))

	got, err := packages.ArchiveParser{}.Parse(p)
	require.NoError(t, err)
	assert.Equal(t, &info, got)
	assert.Equal(t, "a-1", got.Revision())
}

func TestArchiveParser_MissingInfo(t *testing.T) {
	p := filepath.Join(t.TempDir(), "junk.hpkg")
	require.NoError(t, os.WriteFile(p, []byte("not a tar"), 0644))

	_, err := packages.ArchiveParser{}.Parse(p)
	assert.Error(t, err)
}

func TestArchiveParser_InvalidInfo(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.hpkg")
	require.NoError(t, packagetest.Write(p, packages.Info{
		Name:                "bad",
		Version:             "1",
		GlobalWritableFiles: []packages.WritableFile{{Path: "../etc/passwd"}},
	}, nil))

	_, err := packages.ArchiveParser{}.Parse(p)
	assert.ErrorIs(t, err, errclass.ErrBadRequest)
}

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a-1.hpkg")
	require.NoError(t, packagetest.Write(p, packages.Info{Name: "a", Version: "1"}, map[string]packagetest.Entry{
		"settings/x.conf":       {Content: "x"},
		"settings/dir/y.conf":   {Content: "y"},
		"settings/dir/link":     {Link: "y.conf"},
		"settings/unrelated.sh": {Content: "z"},
	}))

	dest := filepath.Join(dir, "out")
	require.NoError(t, packages.Extract(p, []string{"settings/x.conf", "settings/dir"}, dest))

	content, err := os.ReadFile(filepath.Join(dest, "settings", "x.conf"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(content))
	assert.FileExists(t, filepath.Join(dest, "settings", "dir", "y.conf"))
	target, err := os.Readlink(filepath.Join(dest, "settings", "dir", "link"))
	require.NoError(t, err)
	assert.Equal(t, "y.conf", target)
	assert.NoFileExists(t, filepath.Join(dest, "settings", "unrelated.sh"))
}

func TestFileManager_Dedup(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, "a-1.hpkg", "a", "1")
	m := packages.NewFileManager(packages.ArchiveParser{})

	f1, err := m.Get(dir, "a-1.hpkg")
	require.NoError(t, err)
	f2, err := m.Get(dir, "a-1.hpkg")
	require.NoError(t, err)
	assert.Same(t, f1, f2)
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, "a", f1.Info().Name)

	f1.Release()
	assert.Equal(t, 1, m.Len())
	f2.Release()
	assert.Equal(t, 0, m.Len())
}

func TestFileManager_Missing(t *testing.T) {
	m := packages.NewFileManager(packages.ArchiveParser{})
	_, err := m.Get(t.TempDir(), "nope.hpkg")
	assert.ErrorIs(t, err, errclass.ErrFailedToOpenFile)

	_, err = m.Get(filepath.Join(t.TempDir(), "missing"), "nope.hpkg")
	assert.ErrorIs(t, err, errclass.ErrFailedToOpenDirectory)
}

func TestFileManager_Moved(t *testing.T) {
	root := t.TempDir()
	from := filepath.Join(root, "transaction-1")
	to := filepath.Join(root, "packages")
	require.NoError(t, os.MkdirAll(from, 0755))
	require.NoError(t, os.MkdirAll(to, 0755))
	writePackage(t, from, "a-1.hpkg", "a", "1")

	m := packages.NewFileManager(packages.ArchiveParser{})
	f, err := m.Get(from, "a-1.hpkg")
	require.NoError(t, err)
	entry := f.Entry()

	require.NoError(t, os.Rename(filepath.Join(from, "a-1.hpkg"), filepath.Join(to, "a-1.hpkg")))
	require.NoError(t, m.Moved(f, to))
	assert.Equal(t, filepath.Join(to, "a-1.hpkg"), f.Path())
	assert.Equal(t, entry, f.Entry())

	again, err := m.Get(to, "a-1.hpkg")
	require.NoError(t, err)
	assert.Same(t, f, again)
	assert.Equal(t, 1, m.Len())
}

func TestFile_IgnoreCounters(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, "a-1.hpkg", "a", "1")
	m := packages.NewFileManager(packages.ArchiveParser{})
	f, err := m.Get(dir, "a-1.hpkg")
	require.NoError(t, err)

	assert.False(t, f.ConsumeCreatedIgnore())
	f.IgnoreNextCreated()
	f.IgnoreNextCreated()
	assert.True(t, f.ConsumeCreatedIgnore())
	assert.True(t, f.ConsumeCreatedIgnore())
	assert.False(t, f.ConsumeCreatedIgnore())

	f.IgnoreNextRemoved()
	f.UndoIgnoreNextRemoved()
	assert.False(t, f.ConsumeRemovedIgnore())
}

func TestVolumeState_Indices(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, "a-1.hpkg", "a", "1")
	writePackage(t, dir, "b-1.hpkg", "b", "1")
	m := packages.NewFileManager(packages.ArchiveParser{})

	s := packages.NewVolumeState()
	for _, name := range []string{"a-1.hpkg", "b-1.hpkg"} {
		f, err := m.Get(dir, name)
		require.NoError(t, err)
		require.NoError(t, s.Add(packages.NewPackage(f)))
	}
	assert.Equal(t, 2, s.Len())

	a := s.Lookup("a-1.hpkg")
	require.NotNil(t, a)
	assert.Same(t, a, s.LookupNode(a.Entry()))
	assert.Same(t, a, s.LookupName("a"))

	dup, err := m.Get(dir, "a-1.hpkg")
	require.NoError(t, err)
	assert.Error(t, s.Add(packages.NewPackage(dup)))
	dup.Release()

	removed := s.Remove(a)
	require.Same(t, a, removed)
	assert.Nil(t, s.Lookup("a-1.hpkg"))
	assert.Nil(t, s.LookupNode(a.Entry()))
	assert.Nil(t, s.Remove(a))
	removed.Release()

	// freed slot is reused
	f, err := m.Get(dir, "a-1.hpkg")
	require.NoError(t, err)
	require.NoError(t, s.Add(packages.NewPackage(f)))
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"a-1.hpkg", "b-1.hpkg"}, fileNames(s.Packages()))
}

func TestVolumeState_CloneIsIndependent(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, "a-1.hpkg", "a", "1")
	m := packages.NewFileManager(packages.ArchiveParser{})

	s := packages.NewVolumeState()
	f, err := m.Get(dir, "a-1.hpkg")
	require.NoError(t, err)
	p := packages.NewPackage(f)
	p.SetActive(true)
	require.NoError(t, s.Add(p))

	c := s.Clone()
	cp := c.Lookup("a-1.hpkg")
	require.NotNil(t, cp)
	assert.NotSame(t, p, cp)
	assert.Same(t, p.File(), cp.File())
	assert.True(t, cp.Active())

	cp.SetActive(false)
	assert.True(t, p.Active())
	assert.Equal(t, []string{"a-1.hpkg"}, s.ActiveFileNames())
	assert.Empty(t, c.ActiveFileNames())

	c.Release()
	assert.Equal(t, 1, m.Len(), "original state still holds the file")
	s.Release()
	assert.Equal(t, 0, m.Len())
}

func fileNames(pkgs []*packages.Package) []string {
	var out []string
	for _, p := range pkgs {
		out = append(out, p.FileName())
	}
	return out
}
