package fsutil_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkgfs-project/pkgfsd/pkg/fsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeOf(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	link := filepath.Join(dir, "l")
	os.WriteFile(file, nil, 0644)
	os.Symlink("f", link)

	tests := []struct {
		path string
		want fsutil.EntryType
	}{
		{dir, fsutil.TypeDirectory},
		{file, fsutil.TypeFile},
		{link, fsutil.TypeSymlink},
		{filepath.Join(dir, "missing"), fsutil.TypeMissing},
	}
	for _, tt := range tests {
		got, err := fsutil.TypeOf(tt.path)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.path)
	}
}

func TestFilesEqual(t *testing.T) {
	dir := t.TempDir()
	big := strings.Repeat("0123456789", 10000)
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
		return p
	}

	a := write("a", big)
	b := write("b", big)
	c := write("c", big[:len(big)-1]+"x")
	d := write("d", "short")

	eq, err := fsutil.FilesEqual(a, b)
	require.NoError(t, err)
	assert.True(t, eq)

	eq, err = fsutil.FilesEqual(a, c)
	require.NoError(t, err)
	assert.False(t, eq)

	eq, err = fsutil.FilesEqual(a, d)
	require.NoError(t, err)
	assert.False(t, eq)

	_, err = fsutil.FilesEqual(a, filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestSymlinksEqual(t *testing.T) {
	dir := t.TempDir()
	os.Symlink("target", filepath.Join(dir, "a"))
	os.Symlink("target", filepath.Join(dir, "b"))
	os.Symlink("other", filepath.Join(dir, "c"))

	eq, err := fsutil.SymlinksEqual(filepath.Join(dir, "a"), filepath.Join(dir, "b"))
	require.NoError(t, err)
	assert.True(t, eq)

	eq, err = fsutil.SymlinksEqual(filepath.Join(dir, "a"), filepath.Join(dir, "c"))
	require.NoError(t, err)
	assert.False(t, eq)
}
