package fsutil

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// EntryType is the coarse type of a filesystem entry.
type EntryType int

const (
	TypeMissing EntryType = iota
	TypeFile
	TypeDirectory
	TypeSymlink
	TypeOther
)

func (t EntryType) String() string {
	switch t {
	case TypeMissing:
		return "missing"
	case TypeFile:
		return "file"
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symlink"
	}
	return "other"
}

// TypeOf returns the type of the entry at path without following symlinks.
// A missing entry is not an error.
func TypeOf(path string) (EntryType, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return TypeMissing, nil
		}
		return TypeMissing, err
	}
	return typeOfMode(info.Mode()), nil
}

func typeOfMode(mode os.FileMode) EntryType {
	switch {
	case mode.IsRegular():
		return TypeFile
	case mode.IsDir():
		return TypeDirectory
	case mode&os.ModeSymlink != 0:
		return TypeSymlink
	}
	return TypeOther
}

// FilesEqual reports whether two regular files have identical content.
func FilesEqual(a, b string) (bool, error) {
	ia, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	ib, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	if ia.Size() != ib.Size() {
		return false, nil
	}

	fa, err := os.Open(a)
	if err != nil {
		return false, err
	}
	defer fa.Close()
	fb, err := os.Open(b)
	if err != nil {
		return false, err
	}
	defer fb.Close()

	bufA := make([]byte, 32*1024)
	bufB := make([]byte, 32*1024)
	for {
		na, errA := io.ReadFull(fa, bufA)
		nb, errB := io.ReadFull(fb, bufB)
		if na != nb || !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		doneA := errA == io.EOF || errA == io.ErrUnexpectedEOF
		doneB := errB == io.EOF || errB == io.ErrUnexpectedEOF
		if errA != nil && !doneA {
			return false, fmt.Errorf("read %s: %w", a, errA)
		}
		if errB != nil && !doneB {
			return false, fmt.Errorf("read %s: %w", b, errB)
		}
		if doneA || doneB {
			return doneA && doneB, nil
		}
	}
}

// SymlinksEqual reports whether two symlinks have the same target.
func SymlinksEqual(a, b string) (bool, error) {
	ta, err := os.Readlink(a)
	if err != nil {
		return false, err
	}
	tb, err := os.Readlink(b)
	if err != nil {
		return false, err
	}
	return ta == tb, nil
}
