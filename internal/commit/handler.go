// Package commit applies activation changes to a volume: it moves package
// files, prepares newly activated packages, informs the kernel and rolls
// everything back when a step fails.
package commit

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/pkgfs-project/pkgfsd/internal/activation"
	"github.com/pkgfs-project/pkgfsd/internal/fstx"
	"github.com/pkgfs-project/pkgfsd/internal/packages"
	"github.com/pkgfs-project/pkgfsd/internal/proc"
	"github.com/pkgfs-project/pkgfsd/internal/sysuser"
	"github.com/pkgfs-project/pkgfsd/pkg/errclass"
	"github.com/pkgfs-project/pkgfsd/pkg/fsutil"
	"github.com/pkgfs-project/pkgfsd/pkg/logging"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
	"github.com/pkgfs-project/pkgfsd/pkg/pathutil"
)

// Phase is the handler's position in the commit protocol.
type Phase int

const (
	PhaseValidating Phase = iota
	PhaseCreatingOldState
	PhaseRemovingDeactivated
	PhaseAddingActivated
	PhasePreparing
	PhaseRunningPreUninstall
	PhaseChangingActivation
	PhaseRunningPostInstall
	PhaseDone
	PhaseFailed
)

var phaseNames = [...]string{
	"validating", "creating_old_state", "removing_deactivated", "adding_activated",
	"preparing", "running_pre_uninstall", "changing_activation",
	"running_post_install", "done", "failed",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Volume describes the volume a handler commits to.
type Volume struct {
	Location     model.MountType
	RootPath     string
	PackagesPath string
	AdminPath    string
	// Live is false while activation changes only take effect at the
	// next boot.
	Live        bool
	ChangeCount int64
}

// Deps are the collaborators a handler uses.
type Deps struct {
	Files      *packages.FileManager
	Controller activation.Controller
	Launcher   proc.Launcher
	Users      sysuser.Manager
	Attrs      fsutil.AttrStore
	Log        *logging.Logger
	Now        func() time.Time
}

// Result is a successful commit.
type Result struct {
	// State is the new latest state, owned by the caller.
	State *packages.VolumeState
	// Live reports whether the kernel applied the change.
	Live        bool
	OldStateDir string
	Activated   []string
	Deactivated []string
	Issues      []model.Issue
	// Changes is the amount to add to the volume's change count.
	Changes int
}

// move is a package file relocated by the handler.
type move struct {
	pkg     *packages.Package
	fromDir string
	toDir   string
}

type groupMembership struct {
	user  string
	group string
}

// Handler runs one commit. It is single use and not safe for concurrent use.
type Handler struct {
	vol  Volume
	deps Deps
	log  *logging.Logger

	latest     *packages.VolumeState
	state      *packages.VolumeState
	phase      Phase
	live       bool
	rolledBack bool

	txDir        string
	toActivate   []*packages.Package
	toDeactivate []*packages.Package
	// Packages already added or removed on disk by someone else.
	preAdded   bool
	preRemoved bool

	fsTx        *fstx.Transaction
	oldStateDir string
	oldStateOp  fstx.OpID

	added   []move
	removed []move
	// Deactivated packages detached from state, owned until the end.
	detached []*packages.Package

	addedGroups      []string
	addedUsers       []string
	addedMemberships []groupMembership
	retag            map[string]string

	issues []model.Issue
}

// NewHandler creates a handler committing against latest, which it does
// not take ownership of.
func NewHandler(vol Volume, deps Deps, latest *packages.VolumeState) *Handler {
	if deps.Log == nil {
		deps.Log = logging.Component("commit")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Attrs == nil {
		deps.Attrs = fsutil.XattrStore{}
	}
	if deps.Controller == nil {
		deps.Controller = activation.NopController{}
	}
	if deps.Launcher == nil {
		deps.Launcher = proc.ExecLauncher{Log: deps.Log}
	}
	return &Handler{
		vol:    vol,
		deps:   deps,
		log:    deps.Log.WithFields(map[string]any{"location": string(vol.Location)}),
		latest: latest,
		live:   vol.Live,
		fsTx:   fstx.New(deps.Log),
		retag:  make(map[string]string),
	}
}

// Phase returns the current phase.
func (h *Handler) Phase() Phase { return h.phase }

// RolledBack reports whether a failed commit had to undo changes.
func (h *Handler) RolledBack() bool { return h.rolledBack }

// Issues returns the issues recorded so far.
func (h *Handler) Issues() []model.Issue { return h.issues }

// Commit runs a client transaction: packages to activate are taken from
// the transaction directory named in req.
func (h *Handler) Commit(ctx context.Context, req model.CommitRequest) (*Result, error) {
	h.phase = PhaseValidating
	if err := h.validate(req); err != nil {
		h.phase = PhaseFailed
		return nil, err
	}
	h.state = h.latest.Clone()
	if err := h.readPackagesToActivate(req.PackagesToActivate); err != nil {
		return nil, h.fail(err)
	}
	return h.run(ctx)
}

// CommitPending applies changes that already happened on disk: toActivate
// were dropped into the packages directory and toDeactivate were removed
// from it. Both are packages of the latest state.
func (h *Handler) CommitPending(ctx context.Context, toActivate, toDeactivate []*packages.Package) (*Result, error) {
	h.phase = PhaseValidating
	if len(toActivate) == 0 && len(toDeactivate) == 0 {
		h.phase = PhaseFailed
		return nil, errclass.ErrBadRequest.WithMessagef("no pending changes")
	}
	h.preAdded = true
	h.preRemoved = true
	h.state = h.latest.Clone()
	for _, p := range toActivate {
		sp := h.state.Lookup(p.FileName())
		if sp == nil {
			return nil, h.fail(errclass.ErrNoSuchPackage.WithPackage(p.FileName()))
		}
		h.toActivate = append(h.toActivate, sp)
	}
	for _, p := range toDeactivate {
		sp := h.state.Lookup(p.FileName())
		if sp == nil {
			return nil, h.fail(errclass.ErrNoSuchPackage.WithPackage(p.FileName()))
		}
		h.toDeactivate = append(h.toDeactivate, sp)
	}
	return h.run(ctx)
}

func (h *Handler) run(ctx context.Context) (*Result, error) {
	start := h.deps.Now()
	steps := []struct {
		phase Phase
		fn    func(context.Context) error
	}{
		{PhaseCreatingOldState, h.createOldStateDirectory},
		{PhaseRemovingDeactivated, h.removePackagesToDeactivate},
		{PhaseAddingActivated, h.addPackagesToActivate},
		{PhasePreparing, h.preparePackages},
		{PhaseRunningPreUninstall, h.runPreUninstallScripts},
		{PhaseChangingActivation, h.changeActivation},
	}
	for _, s := range steps {
		h.phase = s.phase
		if err := s.fn(ctx); err != nil {
			h.log.ErrorErr("commit step failed", err, map[string]any{"phase": s.phase.String()})
			return nil, h.fail(err)
		}
	}

	h.phase = PhaseRunningPostInstall
	h.runPostInstallScripts(ctx)

	h.phase = PhaseDone
	res := h.finalize()
	h.log.Info("commit done", map[string]any{
		"activated":   res.Activated,
		"deactivated": res.Deactivated,
		"old_state":   filepath.Base(res.OldStateDir),
		"live":        res.Live,
		"issues":      len(res.Issues),
		"duration_ms": h.deps.Now().Sub(start).Milliseconds(),
	})
	return res, nil
}

func (h *Handler) fail(err error) error {
	h.phase = PhaseFailed
	h.rolledBack = len(h.added) > 0 || len(h.removed) > 0 || h.fsTx.Len() > 0
	h.revert()
	return errclass.As(err)
}

func (h *Handler) validate(req model.CommitRequest) error {
	if req.ChangeCount != h.vol.ChangeCount {
		return errclass.ErrChangeCountMismatch.WithMessagef(
			"expected change count %d, volume is at %d", req.ChangeCount, h.vol.ChangeCount)
	}
	if len(req.PackagesToActivate) == 0 && len(req.PackagesToDeactivate) == 0 {
		return errclass.ErrBadRequest.WithMessagef("no packages to activate or deactivate")
	}

	seen := make(map[string]bool)
	for _, name := range req.PackagesToDeactivate {
		if seen[name] {
			return errclass.ErrBadRequest.WithPackage(name).WithMessagef("package listed twice")
		}
		seen[name] = true
		p := h.latest.Lookup(name)
		if p == nil {
			return errclass.ErrNoSuchPackage.WithPackage(name)
		}
		if p.File().DirPath() != h.vol.PackagesPath {
			return errclass.ErrBadRequest.WithPackage(name).
				WithPaths(p.File().DirPath()).WithMessagef("package is in a read-only directory")
		}
		h.toDeactivate = append(h.toDeactivate, p)
	}

	if len(req.PackagesToActivate) > 0 {
		if err := pathutil.ValidateEntryName(req.TransactionDirectory); err != nil {
			return errclass.As(err).WithPaths(req.TransactionDirectory)
		}
		h.txDir = filepath.Join(h.vol.AdminPath, req.TransactionDirectory)
	}
	seen = make(map[string]bool)
	for _, name := range req.PackagesToActivate {
		if err := pathutil.ValidateEntryName(name); err != nil {
			return errclass.As(err).WithPackage(name)
		}
		if seen[name] {
			return errclass.ErrBadRequest.WithPackage(name).WithMessagef("package listed twice")
		}
		seen[name] = true
	}
	return nil
}

// readPackagesToActivate opens the requested files in the transaction
// directory. Deactivation targets are switched to their clones in state.
func (h *Handler) readPackagesToActivate(names []string) error {
	for i, p := range h.toDeactivate {
		h.toDeactivate[i] = h.state.Lookup(p.FileName())
	}
	deactivating := make(map[string]bool)
	deactivatingFiles := make(map[string]bool)
	for _, p := range h.toDeactivate {
		deactivating[p.Name()] = true
		deactivatingFiles[p.FileName()] = true
	}

	if len(names) > 0 {
		if t, err := fsutil.TypeOf(h.txDir); err != nil || t != fsutil.TypeDirectory {
			return errclass.ErrFailedToOpenDirectory.WithPaths(h.txDir).WithSystemError(err)
		}
	}

	newNames := make(map[string]bool)
	for _, name := range names {
		f, err := h.deps.Files.Get(h.txDir, name)
		if err != nil {
			return errclass.As(err).WithPackage(name)
		}
		p := packages.NewPackage(f)
		h.toActivate = append(h.toActivate, p)

		if existing := h.state.Lookup(name); existing != nil && !deactivatingFiles[name] {
			return errclass.ErrPackageAlreadyExists.WithPackage(name).WithPaths(f.Path())
		}
		if existing := h.state.LookupName(p.Name()); existing != nil && existing.Active() && !deactivating[p.Name()] {
			return errclass.ErrPackageAlreadyExists.WithPackage(name).
				WithMessagef("package %s is already active as %s", p.Name(), existing.FileName())
		}
		if newNames[p.Name()] {
			return errclass.ErrBadRequest.WithPackage(name).WithMessagef("two packages named %s", p.Name())
		}
		newNames[p.Name()] = true
	}
	return nil
}

func (h *Handler) finalize() *Result {
	res := &Result{
		State:       h.state,
		Live:        h.live,
		OldStateDir: h.oldStateDir,
		Issues:      h.issues,
		Changes:     len(h.added) + len(h.removed),
	}
	for _, m := range h.added {
		res.Activated = append(res.Activated, m.pkg.FileName())
	}
	for _, m := range h.removed {
		res.Deactivated = append(res.Deactivated, m.pkg.FileName())
	}
	for _, p := range h.detached {
		p.Release()
	}
	h.detached = nil
	h.toActivate = nil
	h.toDeactivate = nil
	h.state = nil
	return res
}

func (h *Handler) addIssue(issue model.Issue) {
	h.log.Warn("commit issue", map[string]any{
		"kind": string(issue.Kind), "package": issue.Package, "path": issue.Path1,
	})
	h.issues = append(h.issues, issue)
}
