// Package daemon owns the roots and volumes described by the
// configuration and serves the RPC service on top of them.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/pkgfs-project/pkgfsd/internal/activation"
	"github.com/pkgfs-project/pkgfsd/internal/lock"
	"github.com/pkgfs-project/pkgfsd/internal/notify"
	"github.com/pkgfs-project/pkgfsd/internal/packages"
	"github.com/pkgfs-project/pkgfsd/internal/proc"
	"github.com/pkgfs-project/pkgfsd/internal/root"
	"github.com/pkgfs-project/pkgfsd/internal/solver"
	"github.com/pkgfs-project/pkgfsd/internal/sysuser"
	"github.com/pkgfs-project/pkgfsd/internal/volume"
	"github.com/pkgfs-project/pkgfsd/pkg/config"
	"github.com/pkgfs-project/pkgfsd/pkg/fsutil"
	"github.com/pkgfs-project/pkgfsd/pkg/logging"
	"github.com/pkgfs-project/pkgfsd/pkg/metrics"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
)

// RootID and VolumeID index the daemon's arenas. They stay valid for the
// daemon's lifetime.
type (
	RootID   int
	VolumeID int
)

// Options override the collaborators the daemon builds by default.
type Options struct {
	Controller activation.Controller
	Launcher   proc.Launcher
	Users      sysuser.Manager
	Attrs      fsutil.AttrStore
	Solver     solver.Solver
	Metrics    *metrics.Registry
	Log        *logging.Logger
	// NoMonitor turns off fsnotify watching of the packages directories.
	NoMonitor bool
}

type volumeEntry struct {
	root RootID
	vol  *volume.Volume
}

// Daemon is the package daemon.
type Daemon struct {
	cfg      *config.Config
	log      *logging.Logger
	metrics  *metrics.Registry
	notifier *notify.Dispatcher
	locks    *lock.Manager

	roots   []*root.Root
	volumes []volumeEntry
	system  RootID
}

// New builds the roots and volumes of cfg. Nothing touches the disk until
// Start.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Roots) == 0 {
		return nil, errors.New("config: no roots")
	}
	if opts.Log == nil {
		opts.Log = logging.Component("daemon")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Default()
	}
	if opts.Controller == nil {
		if cfg.Activation.KernelControl {
			opts.Controller = activation.KernelController{}
		} else {
			opts.Controller = activation.NopController{}
		}
	}
	if opts.Launcher == nil {
		opts.Launcher = proc.ExecLauncher{Log: opts.Log.Component("proc")}
	}
	if opts.Users == nil {
		opts.Users = sysuser.ToolManager{Launcher: opts.Launcher}
	}
	if opts.Attrs == nil {
		opts.Attrs = fsutil.XattrStore{}
	}
	if opts.Solver == nil {
		opts.Solver = solver.NewChecker()
	}

	d := &Daemon{
		cfg:      cfg,
		log:      opts.Log,
		metrics:  opts.Metrics,
		notifier: notify.NewDispatcher(NotifyConfig(cfg), opts.Log.Component("notify")),
		locks:    lock.NewManager(),
		system:   -1,
	}
	files := packages.NewFileManager(packages.ArchiveParser{})

	for _, rc := range cfg.Roots {
		id := RootID(len(d.roots))
		system := false
		for _, vc := range rc.Volumes {
			if model.MountType(vc.Type) == model.MountTypeSystem {
				system = true
			}
		}
		if system && d.system < 0 {
			d.system = id
		}
		r := root.New(root.Config{Path: rc.Path, System: system}, root.Deps{
			Solver:   opts.Solver,
			Reporter: d,
			Metrics:  opts.Metrics,
			Log:      opts.Log.Component("root"),
		})
		d.roots = append(d.roots, r)

		for _, vc := range rc.Volumes {
			loc := model.MountType(vc.Type)
			if loc == "" {
				loc = model.MountTypeCustom
			}
			v := volume.New(volume.Config{
				Location:              loc,
				RootPath:              vc.MountPoint,
				PackagesPath:          vc.PackagesPath(),
				OldState:              vc.OldState,
				Live:                  true,
				Debounce:              cfg.Debounce,
				MaxActivationFileSize: cfg.Activation.MaxFileSize,
				Monitor:               !opts.NoMonitor,
			}, volume.Deps{
				Files:      files,
				Controller: opts.Controller,
				Launcher:   opts.Launcher,
				Users:      opts.Users,
				Attrs:      opts.Attrs,
				Locks:      d.locks,
				Metrics:    opts.Metrics,
				Notifier:   d.notifier,
				Scheduler:  r,
				Log:        opts.Log.Component("volume"),
			})
			d.volumes = append(d.volumes, volumeEntry{root: id, vol: v})
		}
	}
	if d.system < 0 {
		d.system = 0
	}
	return d, nil
}

// NotifyConfig returns the webhook dispatcher settings of cfg.
func NotifyConfig(cfg *config.Config) notify.Config {
	nc := notify.DefaultConfig()
	for _, w := range cfg.Webhooks {
		hook := notify.Hook{URL: w.URL, Secret: w.Secret, Timeout: w.Timeout}
		for _, e := range w.Events {
			hook.Events = append(hook.Events, notify.EventType(e))
		}
		nc.Hooks = append(nc.Hooks, hook)
	}
	return nc
}

// Start queues the initialization of every volume and starts the root
// workers.
func (d *Daemon) Start(ctx context.Context) error {
	for id, e := range d.volumes {
		if err := d.roots[e.root].AddVolume(e.vol); err != nil {
			return fmt.Errorf("volume %d: %w", id, err)
		}
	}
	for _, r := range d.roots {
		r.Start(ctx)
	}
	d.log.Info("daemon started", map[string]any{"roots": len(d.roots), "volumes": len(d.volumes)})
	return nil
}

// Close stops the workers, releases the volumes and flushes pending
// notifications.
func (d *Daemon) Close() error {
	var errs []error
	for _, r := range d.roots {
		errs = append(errs, r.Close())
	}
	d.locks.ReleaseAll()
	errs = append(errs, d.notifier.Close())
	return errors.Join(errs...)
}

// Root returns the root with id, or nil.
func (d *Daemon) Root(id RootID) *root.Root {
	if id < 0 || int(id) >= len(d.roots) {
		return nil
	}
	return d.roots[id]
}

// Volume returns the volume with id and the id of its root.
func (d *Daemon) Volume(id VolumeID) (*volume.Volume, RootID) {
	if id < 0 || int(id) >= len(d.volumes) {
		return nil, -1
	}
	e := d.volumes[id]
	return e.vol, e.root
}

// FindRoot returns the root at path; an empty path is the system root.
func (d *Daemon) FindRoot(path string) (RootID, bool) {
	if path == "" {
		return d.system, true
	}
	clean := filepath.Clean(path)
	for id, r := range d.roots {
		if filepath.Clean(r.Path()) == clean {
			return RootID(id), true
		}
	}
	return -1, false
}

// ReportProblems publishes unmet requirements found by a root.
func (d *Daemon) ReportProblems(rootPath string, problems []solver.Problem) {
	msgs := make([]string, 0, len(problems))
	for _, p := range problems {
		msgs = append(msgs, p.String())
	}
	d.notifier.Publish(notify.Event{Event: notify.EventProblemsDetected, Root: rootPath, Problems: msgs})
}
