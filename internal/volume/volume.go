// Package volume bridges a packages directory and the commit handler. It
// loads the volume's package state, follows manual changes to the
// directory and installs the results of commits.
package volume

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkgfs-project/pkgfsd/internal/activation"
	"github.com/pkgfs-project/pkgfsd/internal/journal"
	"github.com/pkgfs-project/pkgfsd/internal/lock"
	"github.com/pkgfs-project/pkgfsd/internal/notify"
	"github.com/pkgfs-project/pkgfsd/internal/packages"
	"github.com/pkgfs-project/pkgfsd/internal/proc"
	"github.com/pkgfs-project/pkgfsd/internal/sysuser"
	"github.com/pkgfs-project/pkgfsd/pkg/errclass"
	"github.com/pkgfs-project/pkgfsd/pkg/fsutil"
	"github.com/pkgfs-project/pkgfsd/pkg/logging"
	"github.com/pkgfs-project/pkgfsd/pkg/metrics"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
)

// DefaultDebounce is the quiet period before queued directory events are
// processed.
const DefaultDebounce = 500 * time.Millisecond

// Config describes one volume.
type Config struct {
	Location model.MountType
	// RootPath is the directory the volume's packages are mounted at.
	RootPath     string
	PackagesPath string
	// OldState names a state directory under the administrative directory
	// the system was booted into. Its packages are read-only.
	OldState string
	// Live is false when activation changes cannot reach the kernel.
	Live                  bool
	Debounce              time.Duration
	MaxActivationFileSize int64
	// Monitor watches the packages directory with fsnotify.
	Monitor bool
}

// Scheduler gives a volume worker time. It is implemented by the owning
// root.
type Scheduler interface {
	ScheduleEvents(v *Volume)
}

// Notifier receives activation change notifications.
type Notifier interface {
	Publish(event notify.Event)
}

// Deps are the collaborators of a volume.
type Deps struct {
	Files      *packages.FileManager
	Controller activation.Controller
	Launcher   proc.Launcher
	Users      sysuser.Manager
	Attrs      fsutil.AttrStore
	Locks      *lock.Manager
	Metrics    *metrics.Registry
	Notifier   Notifier
	Scheduler  Scheduler
	Log        *logging.Logger
	Now        func() time.Time
}

// Volume is one mounted package volume.
type Volume struct {
	cfg  Config
	deps Deps
	log  *logging.Logger

	adminPath string
	journal   *journal.Appender
	adminLock *lock.Lock
	watcher   *fsnotify.Watcher
	watchDone chan struct{}

	// stateMu guards the fields below. Only the root worker writes them.
	stateMu      sync.RWMutex
	latest       *packages.VolumeState
	active       *packages.VolumeState
	changeCount  int64
	live         bool
	rootNode     model.NodeRef
	packagesNode model.NodeRef
	info         *model.LocationInfo

	// Pending activation changes by file name, worker only.
	toActivate   map[string]bool
	toDeactivate map[string]bool

	eventMu  sync.Mutex
	events   []Event
	timer    *time.Timer
	timerGen uint64
	closed   bool

	pendingJobs atomic.Int32
	txSeq       atomic.Uint64
}

// New creates an uninitialized volume.
func New(cfg Config, deps Deps) *Volume {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.MaxActivationFileSize <= 0 {
		cfg.MaxActivationFileSize = activation.DefaultMaxFileSize
	}
	if deps.Log == nil {
		deps.Log = logging.Component("volume")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Controller == nil {
		deps.Controller = activation.NopController{}
	}
	if deps.Files == nil {
		deps.Files = packages.NewFileManager(packages.ArchiveParser{})
	}
	adminPath := filepath.Join(cfg.PackagesPath, model.AdminDirName)
	return &Volume{
		cfg:          cfg,
		deps:         deps,
		log:          deps.Log.WithFields(map[string]any{"location": string(cfg.Location), "packages": cfg.PackagesPath}),
		adminPath:    adminPath,
		journal:      journal.NewAppender(filepath.Join(adminPath, model.JournalFileName)),
		live:         cfg.Live,
		toActivate:   make(map[string]bool),
		toDeactivate: make(map[string]bool),
	}
}

func (v *Volume) Location() model.MountType { return v.cfg.Location }
func (v *Volume) RootPath() string { return v.cfg.RootPath }
func (v *Volume) PackagesPath() string { return v.cfg.PackagesPath }
func (v *Volume) AdminPath() string { return v.adminPath }
func (v *Volume) JournalPath() string { return v.journal.Path() }

// Live reports whether activation changes currently reach the kernel.
func (v *Volume) Live() bool {
	v.stateMu.RLock()
	defer v.stateMu.RUnlock()
	return v.live
}

// ChangeCount returns the current change count.
func (v *Volume) ChangeCount() int64 {
	v.stateMu.RLock()
	defer v.stateMu.RUnlock()
	return v.changeCount
}

// IsPackageFileName reports whether name carries the package extension.
func IsPackageFileName(name string) bool {
	return strings.HasSuffix(name, model.PackageFileExtension) && len(name) > len(model.PackageFileExtension)
}

// Init loads the volume's packages and activation state and starts
// following the packages directory.
func (v *Volume) Init(ctx context.Context) (err error) {
	if err := os.MkdirAll(v.adminPath, 0755); err != nil {
		return errclass.ErrFailedToCreateDirectory.WithPaths(v.adminPath).WithSystemError(err)
	}
	if v.deps.Locks != nil {
		l, err := v.deps.Locks.Acquire(v.adminPath, "pkgfsd "+string(v.cfg.Location))
		if err != nil {
			return errclass.ErrInstallationLocationBusy.WithPaths(v.adminPath).WithSystemError(err)
		}
		v.adminLock = l
		defer func() {
			if err != nil {
				_ = v.deps.Locks.Release(l)
				v.adminLock = nil
			}
		}()
	}

	rootNode, err := fsutil.Node(v.cfg.RootPath)
	if err != nil {
		return errclass.ErrFailedToOpenDirectory.WithPaths(v.cfg.RootPath).WithSystemError(err)
	}
	packagesNode, err := fsutil.Node(v.cfg.PackagesPath)
	if err != nil {
		return errclass.ErrFailedToOpenDirectory.WithPaths(v.cfg.PackagesPath).WithSystemError(err)
	}

	state, err := v.readPackages()
	if err != nil {
		return err
	}
	if err := v.readActivationFile(state); err != nil {
		state.Release()
		return err
	}
	active := v.reconcile(ctx, state)

	v.stateMu.Lock()
	v.latest = state
	v.active = active
	v.rootNode = rootNode
	v.packagesNode = packagesNode
	v.info = nil
	live := v.live
	v.stateMu.Unlock()

	if live {
		v.runQueuedScripts(ctx)
	}
	if v.cfg.Monitor {
		if err := v.startMonitor(); err != nil {
			v.releaseStates()
			return err
		}
	}

	v.log.Info("volume initialized", map[string]any{
		"packages": state.Len(),
		"active":   len(state.ActiveFileNames()),
		"live":     live,
	})
	return nil
}

func (v *Volume) packagesDirs() []string {
	dirs := []string{v.cfg.PackagesPath}
	if v.cfg.OldState != "" {
		dirs = append(dirs, filepath.Join(v.adminPath, v.cfg.OldState))
	}
	return dirs
}

func (v *Volume) activationFilePath() string {
	if v.cfg.OldState != "" {
		return filepath.Join(v.adminPath, v.cfg.OldState, model.ActivationFileName)
	}
	return filepath.Join(v.adminPath, model.ActivationFileName)
}

// readPackages registers every package file of the packages directories.
// Unreadable files are skipped; earlier directories shadow later ones.
func (v *Volume) readPackages() (*packages.VolumeState, error) {
	state := packages.NewVolumeState()
	for _, dir := range v.packagesDirs() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			state.Release()
			return nil, errclass.ErrFailedToOpenDirectory.WithPaths(dir).WithSystemError(err)
		}
		for _, e := range entries {
			name := e.Name()
			if !IsPackageFileName(name) || !e.Type().IsRegular() {
				continue
			}
			if state.Lookup(name) != nil {
				v.log.Warn("package file shadowed", map[string]any{"package": name, "dir": dir})
				continue
			}
			f, err := v.deps.Files.Get(dir, name)
			if err != nil {
				v.log.WarnErr("skipping unreadable package file", err, map[string]any{"package": name})
				continue
			}
			p := packages.NewPackage(f)
			if err := state.Add(p); err != nil {
				p.Release()
				v.log.WarnErr("skipping package file", err, map[string]any{"package": name})
			}
		}
	}
	return state, nil
}

// readActivationFile marks the packages named in the activation file
// active. Without an activation file every package is active.
func (v *Volume) readActivationFile(state *packages.VolumeState) error {
	path := v.activationFilePath()
	names, err := activation.ReadFile(path, v.cfg.MaxActivationFileSize)
	if errors.Is(err, os.ErrNotExist) {
		v.log.Info("no activation file, activating all packages", map[string]any{"path": path})
		for _, p := range state.Packages() {
			p.SetActive(true)
		}
		return nil
	}
	if err != nil {
		return errclass.ErrFailedToReadFile.WithPaths(path).WithSystemError(err)
	}
	for _, name := range names {
		p := state.Lookup(name)
		if p == nil {
			v.log.Warn("activated package missing", map[string]any{"package": name})
			continue
		}
		p.SetActive(true)
	}
	return nil
}

// reconcile compares the activation file with the kernel's view. When they
// differ the kernel view becomes a separate active state.
func (v *Volume) reconcile(ctx context.Context, latest *packages.VolumeState) *packages.VolumeState {
	refs, err := v.deps.Controller.ActivePackages(ctx, v.cfg.RootPath)
	if err != nil {
		if !errors.Is(err, activation.ErrNoKernelView) {
			v.log.WarnErr("cannot read kernel active packages", err)
		}
		return latest
	}
	kernel := make(map[model.NodeRef]bool, len(refs))
	for _, r := range refs {
		kernel[r] = true
	}

	var differing []string
	for _, p := range latest.Packages() {
		if p.Active() != kernel[p.Entry()] {
			differing = append(differing, p.FileName())
		}
	}
	if len(differing) == 0 {
		return latest
	}

	v.log.Warn("kernel active set differs from activation file", map[string]any{"packages": differing})
	active := latest.Clone()
	for _, p := range active.Packages() {
		p.SetActive(kernel[p.Entry()])
	}
	return active
}

// Close stops event processing, releases the package states and the
// administrative lock.
func (v *Volume) Close() error {
	v.eventMu.Lock()
	v.closed = true
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
	v.events = nil
	v.eventMu.Unlock()

	if v.watcher != nil {
		v.watcher.Close()
		<-v.watchDone
		v.watcher = nil
	}
	v.releaseStates()

	if v.adminLock != nil {
		err := v.deps.Locks.Release(v.adminLock)
		v.adminLock = nil
		return err
	}
	return nil
}

func (v *Volume) releaseStates() {
	v.stateMu.Lock()
	defer v.stateMu.Unlock()
	if v.active != nil && v.active != v.latest {
		v.active.Release()
	}
	if v.latest != nil {
		v.latest.Release()
	}
	v.active = nil
	v.latest = nil
	v.info = nil
}

// JobQueued records a job targeting the volume.
func (v *Volume) JobQueued() { v.pendingJobs.Add(1) }

// JobDone records the end of a job targeting the volume.
func (v *Volume) JobDone() { v.pendingJobs.Add(-1) }

// HasPendingJobs reports whether a job targeting the volume is queued or
// running.
func (v *Volume) HasPendingJobs() bool { return v.pendingJobs.Load() > 0 }
