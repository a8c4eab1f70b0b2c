package commit

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/pkgfs-project/pkgfsd/internal/activation"
	"github.com/pkgfs-project/pkgfsd/internal/packages"
	"github.com/pkgfs-project/pkgfsd/pkg/errclass"
	"github.com/pkgfs-project/pkgfsd/pkg/fsutil"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
)

const maxOldStateAttempts = 1000

// createOldStateDirectory creates administrative/state_<time>[-n] holding
// the pre-transaction activation file.
func (h *Handler) createOldStateDirectory(context.Context) error {
	now := h.deps.Now()
	for attempt := 0; attempt < maxOldStateAttempts; attempt++ {
		dir := filepath.Join(h.vol.AdminPath, model.StateDirName(now, attempt))
		p := h.fsTx.CreateEntry(dir)
		err := os.Mkdir(dir, 0755)
		if errors.Is(err, os.ErrExist) {
			p.Discard()
			continue
		}
		if err != nil {
			p.Discard()
			return errclass.ErrFailedToCreateDirectory.WithPaths(dir).WithSystemError(err)
		}
		h.oldStateOp = p.Finish()
		h.oldStateDir = dir
		break
	}
	if h.oldStateDir == "" {
		return errclass.ErrFailedToCreateDirectory.WithPaths(h.vol.AdminPath).
			WithMessagef("no free old state directory name")
	}

	snapshot := filepath.Join(h.oldStateDir, model.ActivationFileName)
	if err := activation.Write(snapshot, h.latest.ActiveFileNames()); err != nil {
		return errclass.ErrFailedToWriteFile.WithPaths(snapshot).WithSystemError(err)
	}
	return nil
}

// removePackagesToDeactivate moves each package file into the old state
// directory and detaches the package from the new state.
func (h *Handler) removePackagesToDeactivate(context.Context) error {
	for _, p := range h.toDeactivate {
		if p.IsSystemPackage() && h.live {
			h.log.Info("system package deactivated, activation deferred to next boot",
				map[string]any{"package": p.FileName()})
			h.live = false
		}

		if h.preRemoved {
			h.detach(p)
			h.removed = append(h.removed, move{pkg: p})
			continue
		}

		f := p.File()
		from := f.Path()
		to := filepath.Join(h.oldStateDir, p.FileName())
		f.IgnoreNextRemoved()
		if err := fsutil.RenameAndSync(from, to); err != nil {
			f.UndoIgnoreNextRemoved()
			return errclass.ErrFailedToMoveFile.WithPackage(p.FileName()).WithPaths(from, to).WithSystemError(err)
		}
		h.removed = append(h.removed, move{pkg: p, fromDir: h.vol.PackagesPath, toDir: h.oldStateDir})
		if err := h.deps.Files.Moved(f, h.oldStateDir); err != nil {
			return errclass.ErrInternal.WithPackage(p.FileName()).WithSystemError(err)
		}
		h.detach(p)
	}
	return nil
}

func (h *Handler) detach(p *packages.Package) {
	if h.state.Remove(p) != nil {
		h.detached = append(h.detached, p)
	}
}

// addPackagesToActivate moves each package file from the transaction
// directory into the packages directory and registers it as active.
func (h *Handler) addPackagesToActivate(context.Context) error {
	removedNames := make(map[string]bool)
	for _, m := range h.removed {
		removedNames[m.pkg.FileName()] = true
	}

	for _, p := range h.toActivate {
		if h.preAdded {
			p.SetActive(true)
			h.added = append(h.added, move{pkg: p})
			continue
		}

		f := p.File()
		from := f.Path()
		to := filepath.Join(h.vol.PackagesPath, p.FileName())
		if _, err := os.Lstat(to); err == nil {
			return errclass.ErrPackageAlreadyExists.WithPackage(p.FileName()).WithPaths(to)
		}
		p.SetActive(true)
		if err := h.state.Add(p); err != nil {
			return errclass.ErrInternal.WithPackage(p.FileName()).WithSystemError(err)
		}

		f.IgnoreNextCreated()
		if removedNames[p.FileName()] {
			// The removal event of the replaced file resolves to this one.
			f.IgnoreNextRemoved()
		}
		if err := fsutil.RenameAndSync(from, to); err != nil {
			f.UndoIgnoreNextCreated()
			if removedNames[p.FileName()] {
				f.UndoIgnoreNextRemoved()
			}
			h.state.Remove(p)
			return errclass.ErrFailedToMoveFile.WithPackage(p.FileName()).WithPaths(from, to).WithSystemError(err)
		}
		h.added = append(h.added, move{pkg: p, fromDir: h.txDir, toDir: h.vol.PackagesPath})
		if err := h.deps.Files.Moved(f, h.vol.PackagesPath); err != nil {
			return errclass.ErrInternal.WithPackage(p.FileName()).WithSystemError(err)
		}
	}
	return nil
}

// changeActivation writes the new activation file and, when live, asks
// the kernel to apply the change before renaming the file into place.
func (h *Handler) changeActivation(ctx context.Context) error {
	tmpPath := filepath.Join(h.vol.AdminPath, model.TempActivationFileName)
	finalPath := filepath.Join(h.vol.AdminPath, model.ActivationFileName)

	p := h.fsTx.CreateEntry(tmpPath)
	defer p.Discard()
	if err := activation.WriteTemp(tmpPath, h.state.ActiveFileNames()); err != nil {
		return errclass.ErrFailedToWriteFile.WithPaths(tmpPath).WithSystemError(err)
	}
	p.Finish()

	var req *activation.Request
	if h.live {
		var err error
		req, err = h.buildRequest()
		if err != nil {
			return err
		}
		if err := h.deps.Controller.ChangeActivation(ctx, h.vol.RootPath, req); err != nil {
			return errclass.ErrFailedToChangeActivation.WithPaths(h.vol.RootPath).WithSystemError(err)
		}
	}

	if err := fsutil.RenameAndSync(tmpPath, finalPath); err != nil {
		if req != nil {
			if rerr := h.deps.Controller.ChangeActivation(ctx, h.vol.RootPath, req.Reverse()); rerr != nil {
				h.log.ErrorErr("failed to reverse kernel activation change", rerr, nil)
			}
		}
		return errclass.ErrFailedToMoveFile.WithPaths(tmpPath, finalPath).WithSystemError(err)
	}
	return nil
}

func (h *Handler) buildRequest() (*activation.Request, error) {
	parent, err := fsutil.Node(h.vol.PackagesPath)
	if err != nil {
		return nil, errclass.ErrFailedToOpenDirectory.WithPaths(h.vol.PackagesPath).WithSystemError(err)
	}
	req := &activation.Request{}
	for _, m := range h.removed {
		req.Add(activation.ItemDeactivate, m.pkg.FileName(), m.pkg.Entry(), parent)
	}
	for _, m := range h.added {
		req.Add(activation.ItemActivate, m.pkg.FileName(), m.pkg.Entry(), parent)
	}
	return req, nil
}

// revert undoes package file moves, then recorded filesystem operations,
// then user and group additions.
func (h *Handler) revert() {
	for i := len(h.added) - 1; i >= 0; i-- {
		m := h.added[i]
		if h.preAdded {
			continue
		}
		f := m.pkg.File()
		from := filepath.Join(m.toDir, m.pkg.FileName())
		to := filepath.Join(m.fromDir, m.pkg.FileName())
		if err := fsutil.RenameAndSync(from, to); err != nil {
			h.log.ErrorErr("failed to move package back", err, map[string]any{"from": from, "to": to})
			continue
		}
		if err := h.deps.Files.Moved(f, m.fromDir); err != nil {
			h.log.ErrorErr("failed to track package move", err, map[string]any{"package": m.pkg.FileName()})
		}
	}
	for i := len(h.removed) - 1; i >= 0; i-- {
		m := h.removed[i]
		if h.preRemoved {
			continue
		}
		f := m.pkg.File()
		from := filepath.Join(m.toDir, m.pkg.FileName())
		to := filepath.Join(m.fromDir, m.pkg.FileName())
		if err := fsutil.RenameAndSync(from, to); err != nil {
			h.log.ErrorErr("failed to move package back", err, map[string]any{"from": from, "to": to})
			// The old state directory now holds the only copy.
			if m.toDir == h.oldStateDir {
				h.fsTx.Disable(h.oldStateOp)
			}
			continue
		}
		if err := h.deps.Files.Moved(f, m.fromDir); err != nil {
			h.log.ErrorErr("failed to track package move", err, map[string]any{"package": m.pkg.FileName()})
		}
	}

	h.fsTx.RollBack()
	for path, value := range h.retag {
		if err := h.deps.Attrs.Set(path, model.PackageAttributeName, value); err != nil {
			h.log.WarnErr("failed to restore package attribute", err, map[string]any{"path": path})
		}
	}

	h.revertUsers()

	// Packages read from the transaction directory but never added to
	// the state are still owned here.
	if !h.preAdded {
		inState := make(map[*packages.Package]bool)
		for _, m := range h.added {
			inState[m.pkg] = true
		}
		for _, p := range h.toActivate {
			if !inState[p] {
				p.Release()
			}
		}
	}
	for _, p := range h.detached {
		p.Release()
	}
	if h.state != nil {
		h.state.Release()
	}
	h.detached = nil
	h.toActivate = nil
	h.toDeactivate = nil
	h.state = nil
	h.added = nil
	h.removed = nil
}
