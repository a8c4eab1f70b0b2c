package fsutil_test

import (
	"testing"

	"github.com/pkgfs-project/pkgfsd/pkg/fsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAttrStore(t *testing.T) {
	s := fsutil.NewMemoryAttrStore()

	_, err := s.Get("/etc/x.conf", "user.pkgfs.package")
	assert.ErrorIs(t, err, fsutil.ErrNoAttribute)

	require.NoError(t, s.Set("/etc/x.conf", "user.pkgfs.package", "pkg-1"))
	v, err := s.Get("/etc/./x.conf", "user.pkgfs.package")
	require.NoError(t, err)
	assert.Equal(t, "pkg-1", v)

	s.Delete("/etc/x.conf")
	_, err = s.Get("/etc/x.conf", "user.pkgfs.package")
	assert.ErrorIs(t, err, fsutil.ErrNoAttribute)
}

func TestAttrStoreImplementations(t *testing.T) {
	var _ fsutil.AttrStore = fsutil.XattrStore{}
	var _ fsutil.AttrStore = fsutil.NewMemoryAttrStore()
}
