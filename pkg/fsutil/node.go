package fsutil

import (
	"fmt"
	"os"
	"syscall"

	"github.com/pkgfs-project/pkgfsd/pkg/model"
	"golang.org/x/sys/unix"
)

// Node returns the identity of the entry at path, following symlinks.
func Node(path string) (model.NodeRef, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return model.NodeRef{}, &os.PathError{Op: "stat", Path: path, Err: err}
	}
	return model.NodeRef{Device: uint64(st.Dev), Node: uint64(st.Ino)}, nil
}

// LNode is like Node but does not follow a trailing symlink.
func LNode(path string) (model.NodeRef, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return model.NodeRef{}, &os.PathError{Op: "lstat", Path: path, Err: err}
	}
	return model.NodeRef{Device: uint64(st.Dev), Node: uint64(st.Ino)}, nil
}

// NodeOf extracts the identity from an os.FileInfo obtained by Stat/Lstat.
func NodeOf(info os.FileInfo) (model.NodeRef, error) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return model.NodeRef{}, fmt.Errorf("no stat data for %s", info.Name())
	}
	return model.NodeRef{Device: uint64(st.Dev), Node: uint64(st.Ino)}, nil
}
