// Package fsutil provides the filesystem primitives used by transactions:
// atomic writes and renames, node identity, recursive copies, entry
// comparison and provenance attributes.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
)

const tmpPattern = ".pkgfsd-tmp-*"

// AtomicWrite writes data to a temporary file, fsyncs, then renames to target path.
func AtomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, tmpPattern)
	if err != nil {
		return fmt.Errorf("atomic write create tmp: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("atomic write: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("atomic write chmod: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("atomic write fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("atomic write close: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("atomic write rename: %w", err)
	}
	if err := FsyncDir(dir); err != nil {
		return fmt.Errorf("atomic write fsync dir: %w", err)
	}

	success = true
	return nil
}

// WriteSynced writes data to path in place and fsyncs it. Used for files
// that are renamed into position by a later, separate step.
func WriteSynced(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync %s: %w", path, err)
	}
	return f.Close()
}

// RenameAndSync renames old to new and fsyncs the parent directory.
func RenameAndSync(oldpath, newpath string) error {
	if err := os.Rename(oldpath, newpath); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return FsyncDir(filepath.Dir(newpath))
}

// ReplaceWithCopy copies src next to dst under a temporary name and then
// renames it over dst, so readers of dst see either the old or the new
// entry. src may be a file, symlink or directory.
func ReplaceWithCopy(src, dst string) error {
	dir := filepath.Dir(dst)
	tmpDir, err := os.MkdirTemp(dir, tmpPattern)
	if err != nil {
		return fmt.Errorf("replace create tmp: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	staged := filepath.Join(tmpDir, filepath.Base(dst))
	if err := CopyTree(src, staged); err != nil {
		return fmt.Errorf("replace copy: %w", err)
	}

	if info, err := os.Lstat(dst); err == nil && info.IsDir() {
		// rename(2) only replaces empty directories
		if err := os.RemoveAll(dst); err != nil {
			return fmt.Errorf("replace remove old dir: %w", err)
		}
	}
	return RenameAndSync(staged, dst)
}

// FsyncDir fsyncs a directory to ensure rename visibility is durable.
func FsyncDir(dirPath string) error {
	d, err := os.Open(dirPath)
	if err != nil {
		return fmt.Errorf("fsync dir open: %w", err)
	}
	defer d.Close()
	return d.Sync()
}
