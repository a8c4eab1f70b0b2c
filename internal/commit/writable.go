package commit

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkgfs-project/pkgfsd/internal/packages"
	"github.com/pkgfs-project/pkgfsd/pkg/errclass"
	"github.com/pkgfs-project/pkgfsd/pkg/fsutil"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
	"github.com/pkgfs-project/pkgfsd/pkg/pathutil"
)

// liveBackupDirName holds, inside an old state directory, copies of live
// writable files replaced by the transaction.
const liveBackupDirName = "replaced-writable-files"

// writableFile carries one merge through the recursion.
type writableFile struct {
	pkg      string
	revision string
	policy   packages.UpdatePolicy
	rel      string
	live     string
	shipped  string
	previous string
}

func (w writableFile) child(name string) writableFile {
	c := w
	c.rel = filepath.Join(w.rel, name)
	c.live = filepath.Join(w.live, name)
	c.shipped = filepath.Join(w.shipped, name)
	if w.previous != "" {
		c.previous = filepath.Join(w.previous, name)
	}
	return c
}

func (w writableFile) issue(kind model.IssueKind) model.Issue {
	return model.Issue{Kind: kind, Package: w.pkg, Path1: w.live, Path2: w.previous}
}

// prepareWritableFiles extracts the package's global writable files into
// a staging directory, merges them into the live tree and makes the
// staging directory the package's current shipped copy.
func (h *Handler) prepareWritableFiles(p *packages.Package) error {
	info := p.Info()
	if len(info.GlobalWritableFiles) == 0 {
		return nil
	}

	stagingRoot := filepath.Join(h.vol.AdminPath, model.WritableFilesDirName)
	if err := os.MkdirAll(stagingRoot, 0755); err != nil {
		return errclass.ErrFailedToCreateDirectory.WithPaths(stagingRoot).WithSystemError(err)
	}
	current := filepath.Join(stagingRoot, info.Name)
	tmp := filepath.Join(stagingRoot, ".tmp-"+uuid.NewString())

	tp := h.fsTx.CreateEntry(tmp)
	defer tp.Discard()
	if err := os.Mkdir(tmp, 0755); err != nil {
		return errclass.ErrFailedToCreateDirectory.WithPaths(tmp).WithSystemError(err)
	}
	tp.Finish()

	paths := make([]string, 0, len(info.GlobalWritableFiles))
	for _, wf := range info.GlobalWritableFiles {
		paths = append(paths, wf.Path)
	}
	if err := packages.Extract(p.File().Path(), paths, tmp); err != nil {
		return errclass.ErrFailedToExtractPackageFile.WithPackage(p.FileName()).
			WithPaths(p.File().Path(), tmp).WithSystemError(err)
	}

	previous := ""
	if t, _ := fsutil.TypeOf(current); t == fsutil.TypeDirectory {
		previous = current
	}

	for _, wf := range info.GlobalWritableFiles {
		live := filepath.Join(h.vol.RootPath, wf.Path)
		if err := pathutil.ValidatePathSafety(h.vol.RootPath, live); err != nil {
			return errclass.As(err).WithPackage(p.FileName())
		}
		w := writableFile{
			pkg:      p.FileName(),
			revision: info.Revision(),
			policy:   wf.Update,
			rel:      wf.Path,
			live:     live,
			shipped:  filepath.Join(tmp, wf.Path),
		}
		if previous != "" {
			w.previous = filepath.Join(previous, wf.Path)
		}
		if err := h.mergeWritableFile(w, wf.Directory); err != nil {
			return err
		}
	}

	if previous != "" {
		dst := filepath.Join(h.oldStateDir, model.WritableFilesDirName, info.Name)
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return errclass.ErrFailedToCreateDirectory.WithPaths(filepath.Dir(dst)).WithSystemError(err)
		}
		mp := h.fsTx.MoveEntry(previous, dst, h.oldStateOp)
		defer mp.Discard()
		if err := os.Rename(previous, dst); err != nil {
			return errclass.ErrFailedToMoveFile.WithPackage(p.FileName()).WithPaths(previous, dst).WithSystemError(err)
		}
		mp.Finish()
	}

	cp := h.fsTx.CreateEntry(current)
	defer cp.Discard()
	if err := fsutil.RenameAndSync(tmp, current); err != nil {
		return errclass.ErrFailedToMoveFile.WithPackage(p.FileName()).WithPaths(tmp, current).WithSystemError(err)
	}
	cp.Finish()
	return nil
}

func (h *Handler) mergeWritableFile(w writableFile, declaredDir bool) error {
	shippedType, err := fsutil.TypeOf(w.shipped)
	if err != nil {
		h.addIssue(w.issue(model.IssueWritableFileComparisonFailed))
		return nil
	}
	liveType, err := fsutil.TypeOf(w.live)
	if err != nil {
		h.addIssue(w.issue(model.IssueWritableFileComparisonFailed))
		return nil
	}

	if shippedType == fsutil.TypeMissing {
		if declaredDir && liveType == fsutil.TypeMissing {
			return h.installWritableFile(w, true)
		}
		return nil
	}

	switch {
	case liveType == fsutil.TypeMissing:
		return h.installWritableFile(w, false)
	case liveType != shippedType:
		h.addIssue(w.issue(model.IssueWritableFileTypeMismatch))
		return nil
	case liveType == fsutil.TypeDirectory:
		entries, err := os.ReadDir(w.shipped)
		if err != nil {
			return errclass.ErrFailedToOpenDirectory.WithPackage(w.pkg).WithPaths(w.shipped).WithSystemError(err)
		}
		for _, e := range entries {
			if err := h.mergeWritableFile(w.child(e.Name()), false); err != nil {
				return err
			}
		}
		return nil
	case liveType == fsutil.TypeSymlink:
		return h.mergeSymlink(w)
	case liveType == fsutil.TypeFile:
		return h.mergeFile(w)
	}
	h.addIssue(w.issue(model.IssueWritableFileTypeMismatch))
	return nil
}

func (h *Handler) mergeFile(w writableFile) error {
	tag, err := h.deps.Attrs.Get(w.live, model.PackageAttributeName)
	switch {
	case errors.Is(err, fsutil.ErrNoAttribute):
		if w.policy != packages.UpdateKeepOld {
			h.addIssue(w.issue(model.IssueWritableFileNoPackageAttribute))
		}
		return nil
	case err != nil:
		h.addIssue(w.issue(model.IssueWritableFileComparisonFailed))
		return nil
	case tag == w.revision:
		return nil
	case w.policy == packages.UpdateKeepOld:
		return nil
	}

	if ok := h.checkPrevious(w, fsutil.TypeFile); !ok {
		return nil
	}
	equal, err := fsutil.FilesEqual(w.previous, w.live)
	if err != nil {
		h.addIssue(w.issue(model.IssueWritableFileComparisonFailed))
		return nil
	}
	if !equal {
		h.addIssue(w.issue(model.IssueWritableFileNotEqual))
		return nil
	}
	return h.replaceWritableFile(w, tag)
}

// mergeSymlink compares link targets directly; symlinks carry no
// provenance attribute.
func (h *Handler) mergeSymlink(w writableFile) error {
	if same, err := fsutil.SymlinksEqual(w.shipped, w.live); err == nil && same {
		return nil
	}
	if w.policy == packages.UpdateKeepOld {
		return nil
	}
	if ok := h.checkPrevious(w, fsutil.TypeSymlink); !ok {
		return nil
	}
	equal, err := fsutil.SymlinksEqual(w.previous, w.live)
	if err != nil {
		h.addIssue(w.issue(model.IssueWritableFileComparisonFailed))
		return nil
	}
	if !equal {
		h.addIssue(w.issue(model.IssueSymlinkNotEqual))
		return nil
	}
	return h.replaceWritableFile(w, "")
}

// checkPrevious records an issue unless the previously shipped copy
// exists with type want.
func (h *Handler) checkPrevious(w writableFile, want fsutil.EntryType) bool {
	if w.previous == "" {
		h.addIssue(w.issue(model.IssueWritableFileOldOriginalMissing))
		return false
	}
	t, err := fsutil.TypeOf(w.previous)
	switch {
	case err != nil:
		h.addIssue(w.issue(model.IssueWritableFileComparisonFailed))
		return false
	case t == fsutil.TypeMissing:
		h.addIssue(w.issue(model.IssueWritableFileOldOriginalMissing))
		return false
	case t != want:
		h.addIssue(w.issue(model.IssueWritableFileOldOriginalTypeMismatch))
		return false
	}
	return true
}

// installWritableFile copies the shipped entry to a live path that does
// not exist yet, creating missing parents.
func (h *Handler) installWritableFile(w writableFile, emptyDir bool) error {
	top := w.live
	for {
		parent := filepath.Dir(top)
		if t, _ := fsutil.TypeOf(parent); t != fsutil.TypeMissing || parent == top {
			break
		}
		top = parent
	}

	p := h.fsTx.CreateEntry(top)
	defer p.Discard()
	if err := os.MkdirAll(filepath.Dir(w.live), 0755); err != nil {
		return errclass.ErrFailedToCreateDirectory.WithPackage(w.pkg).WithPaths(filepath.Dir(w.live)).WithSystemError(err)
	}
	if emptyDir {
		if err := os.Mkdir(w.live, 0755); err != nil {
			return errclass.ErrFailedToCreateDirectory.WithPackage(w.pkg).WithPaths(w.live).WithSystemError(err)
		}
	} else if err := fsutil.CopyTree(w.shipped, w.live); err != nil {
		return errclass.ErrFailedToCopyFile.WithPackage(w.pkg).WithPaths(w.shipped, w.live).WithSystemError(err)
	}
	p.Finish()

	h.tagTree(w.live, w.revision)
	return nil
}

// replaceWritableFile swaps the live entry for the shipped one after
// keeping a backup in the old state directory.
func (h *Handler) replaceWritableFile(w writableFile, oldTag string) error {
	backup := filepath.Join(h.oldStateDir, liveBackupDirName, w.rel)
	if err := os.MkdirAll(filepath.Dir(backup), 0755); err != nil {
		return errclass.ErrFailedToCreateDirectory.WithPackage(w.pkg).WithPaths(filepath.Dir(backup)).WithSystemError(err)
	}
	if err := fsutil.CopyTree(w.live, backup); err != nil {
		return errclass.ErrFailedToCopyFile.WithPackage(w.pkg).WithPaths(w.live, backup).WithSystemError(err)
	}

	p := h.fsTx.RemoveEntry(w.live, backup, h.oldStateOp)
	defer p.Discard()
	if err := fsutil.ReplaceWithCopy(w.shipped, w.live); err != nil {
		return errclass.ErrFailedToCopyFile.WithPackage(w.pkg).WithPaths(w.shipped, w.live).WithSystemError(err)
	}
	p.Finish()

	if oldTag != "" {
		if _, seen := h.retag[w.live]; !seen {
			h.retag[w.live] = oldTag
		}
	}
	h.tagTree(w.live, w.revision)
	return nil
}

func (h *Handler) tagTree(root, revision string) {
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		if err := h.deps.Attrs.Set(path, model.PackageAttributeName, revision); err != nil {
			h.log.WarnErr("failed to set package attribute", err, map[string]any{"path": path})
		}
		return nil
	})
}
