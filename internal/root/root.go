// Package root groups the volumes mounted under one root directory and
// serializes all work on them through a single worker.
package root

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pkgfs-project/pkgfsd/internal/commit"
	"github.com/pkgfs-project/pkgfsd/internal/packages"
	"github.com/pkgfs-project/pkgfsd/internal/solver"
	"github.com/pkgfs-project/pkgfsd/internal/volume"
	"github.com/pkgfs-project/pkgfsd/pkg/errclass"
	"github.com/pkgfs-project/pkgfsd/pkg/logging"
	"github.com/pkgfs-project/pkgfsd/pkg/metrics"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
)

// Config describes a root.
type Config struct {
	Path string
	// System marks the root the system booted from. Its activation
	// changes are ordered by the solver.
	System    bool
	QueueSize int
}

// ProblemReporter is told about unmet requirements. Problems are never
// fixed automatically.
type ProblemReporter interface {
	ReportProblems(rootPath string, problems []solver.Problem)
}

// Deps are the collaborators of a root.
type Deps struct {
	Solver   solver.Solver
	Reporter ProblemReporter
	Metrics  *metrics.Registry
	Log      *logging.Logger
}

// Root owns the volumes of one root directory and their worker.
type Root struct {
	cfg   Config
	deps  Deps
	log   *logging.Logger
	queue *JobQueue

	mu      sync.RWMutex
	pending []*volume.Volume
	ready   map[model.MountType]*volume.Volume

	stop context.CancelFunc
	wg   sync.WaitGroup
}

// New creates a root. Volumes are added with AddVolume and initialized by
// the worker once Start is called.
func New(cfg Config, deps Deps) *Root {
	if deps.Log == nil {
		deps.Log = logging.Component("root")
	}
	return &Root{
		cfg:   cfg,
		deps:  deps,
		log:   deps.Log.WithFields(map[string]any{"root": cfg.Path}),
		queue: NewJobQueue(cfg.QueueSize),
		ready: make(map[model.MountType]*volume.Volume),
	}
}

func (r *Root) Path() string { return r.cfg.Path }

func (r *Root) IsSystem() bool { return r.cfg.System }

// AddVolume registers v and queues its initialization. v must use the root
// as its scheduler.
func (r *Root) AddVolume(v *volume.Volume) error {
	r.mu.Lock()
	for _, p := range r.pending {
		if p.Location() == v.Location() {
			r.mu.Unlock()
			return fmt.Errorf("root %s: volume %s already added", r.cfg.Path, v.Location())
		}
	}
	if _, ok := r.ready[v.Location()]; ok {
		r.mu.Unlock()
		return fmt.Errorf("root %s: volume %s already added", r.cfg.Path, v.Location())
	}
	r.pending = append(r.pending, v)
	r.mu.Unlock()

	err := r.queue.QueueFunc(func() (Job, error) { return newInitVolumeJob(r, v), nil })
	if err != nil {
		r.mu.Lock()
		r.removePending(v)
		r.mu.Unlock()
	}
	return err
}

// removePending must be called with mu held.
func (r *Root) removePending(v *volume.Volume) {
	for i, p := range r.pending {
		if p == v {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return
		}
	}
}

// Volume returns the initialized volume at loc, or nil.
func (r *Root) Volume(loc model.MountType) *volume.Volume {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready[loc]
}

// Volumes returns the initialized volumes: system, home, then custom.
func (r *Root) Volumes() []*volume.Volume {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*volume.Volume
	for _, loc := range []model.MountType{model.MountTypeSystem, model.MountTypeHome, model.MountTypeCustom} {
		if v := r.ready[loc]; v != nil {
			out = append(out, v)
		}
	}
	return out
}

func (r *Root) volumeReady(v *volume.Volume) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removePending(v)
	r.ready[v.Location()] = v
}

// Start runs the worker until Close. Jobs run with ctx.
func (r *Root) Start(ctx context.Context) {
	stopCtx, stop := context.WithCancel(ctx)
	r.stop = stop
	if r.deps.Solver != nil {
		if err := r.queue.Queue(&VerifyJob{root: r}); err != nil {
			r.log.WarnErr("cannot queue verification", err)
		}
	}
	r.wg.Add(1)
	go r.run(ctx, stopCtx)
	r.log.Info("root started", map[string]any{"system": r.cfg.System})
}

func (r *Root) run(ctx, stopCtx context.Context) {
	defer r.wg.Done()
	for {
		job, err := r.queue.Dequeue(stopCtx)
		if err != nil {
			return
		}
		r.deps.Metrics.RecordJob(job.Kind())
		job.Do(ctx)
	}
}

// QueueJob appends a job for the worker.
func (r *Root) QueueJob(job Job) error {
	return r.queue.Queue(job)
}

// ScheduleEvents queues processing of v's directory events. The job only
// counts as pending on v once it is in the queue.
func (r *Root) ScheduleEvents(v *volume.Volume) {
	err := r.queue.QueueFunc(func() (Job, error) { return newProcessEventsJob(r, v), nil })
	if err != nil {
		r.log.WarnErr("cannot queue event processing", err, map[string]any{"location": string(v.Location())})
	}
}

// Commit queues a commit of req on v and waits for its outcome. A volume
// with queued or running jobs is busy. Once queued the commit runs to
// completion even if ctx ends first.
func (r *Root) Commit(ctx context.Context, v *volume.Volume, req model.CommitRequest) (*commit.Result, error) {
	var job *CommitJob
	err := r.queue.QueueFunc(func() (Job, error) {
		if v.HasPendingJobs() {
			return nil, errclass.ErrInstallationLocationBusy.WithStrings(string(v.Location()))
		}
		job = newCommitJob(v, req)
		return job, nil
	})
	if errors.Is(err, ErrQueueFull) {
		return nil, errclass.ErrInstallationLocationBusy.WithStrings(string(v.Location())).WithSystemError(err)
	}
	if err != nil {
		return nil, err
	}

	select {
	case out := <-job.result:
		return out.Result, out.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// commitPendingChanges activates the packages dropped into v's packages
// directory and deactivates the ones removed from it.
func (r *Root) commitPendingChanges(ctx context.Context, v *volume.Volume) {
	toActivate, toDeactivate := v.PendingChanges()
	if len(toActivate) == 0 && len(toDeactivate) == 0 {
		return
	}
	if r.cfg.System && r.deps.Solver != nil {
		var err error
		toActivate, toDeactivate, err = r.resolve(ctx, toActivate, toDeactivate)
		if err != nil {
			r.log.ErrorErr("cannot resolve pending changes", err, map[string]any{"location": string(v.Location())})
			return
		}
	}
	if _, err := v.CommitPendingChanges(ctx, toActivate, toDeactivate); err != nil {
		r.log.ErrorErr("failed to apply manual package changes", err, map[string]any{"location": string(v.Location())})
	}
}

// resolve orders a change with the solver and reports the problems of the
// resulting package set.
func (r *Root) resolve(ctx context.Context, toActivate, toDeactivate []*packages.Package) (activate, deactivate []*packages.Package, err error) {
	byInfo := make(map[*packages.Info]*packages.Package)
	infos := func(ps []*packages.Package) []*packages.Info {
		out := make([]*packages.Info, 0, len(ps))
		for _, p := range ps {
			byInfo[p.Info()] = p
			out = append(out, p.Info())
		}
		return out
	}
	change := solver.Change{Activate: infos(toActivate), Deactivate: infos(toDeactivate)}

	r.loadRepositories()
	res, err := r.deps.Solver.Resolve(ctx, change)
	if err != nil {
		return nil, nil, err
	}
	r.report(res.Problems)

	back := func(infos []*packages.Info) []*packages.Package {
		out := make([]*packages.Package, 0, len(infos))
		for _, info := range infos {
			if p := byInfo[info]; p != nil {
				out = append(out, p)
			}
		}
		return out
	}
	return back(res.Activate), back(res.Deactivate), nil
}

// loadRepositories feeds the solver the ready volumes, then pending volumes
// that already hold a package state.
func (r *Root) loadRepositories() {
	r.mu.RLock()
	pending := append([]*volume.Volume(nil), r.pending...)
	r.mu.RUnlock()

	r.deps.Solver.Reset()
	for _, v := range r.Volumes() {
		r.deps.Solver.AddRepository(solver.Repository{Name: string(v.Location()), Packages: v.ActiveInfos()})
	}
	for _, v := range pending {
		if infos := v.ActiveInfos(); infos != nil {
			r.deps.Solver.AddRepository(solver.Repository{Name: string(v.Location()), Packages: infos})
		}
	}
}

func (r *Root) report(problems []solver.Problem) {
	if len(problems) == 0 {
		return
	}
	for _, p := range problems {
		r.log.Warn("unmet requirement", map[string]any{
			"package": p.Package, "requirement": p.Requirement, "repository": p.Repository,
		})
	}
	if r.deps.Reporter != nil {
		r.deps.Reporter.ReportProblems(r.cfg.Path, problems)
	}
}

// Close stops the worker after its current job, abandons queued jobs and
// closes the volumes.
func (r *Root) Close() error {
	r.queue.Close()
	if r.stop != nil {
		r.stop()
		r.wg.Wait()
	}
	for {
		job, err := r.queue.Dequeue(context.Background())
		if err != nil {
			break
		}
		job.Abandon()
	}

	r.mu.Lock()
	vols := append([]*volume.Volume(nil), r.pending...)
	for _, v := range r.ready {
		vols = append(vols, v)
	}
	r.pending = nil
	r.ready = make(map[model.MountType]*volume.Volume)
	r.mu.Unlock()

	var errs []error
	for _, v := range vols {
		errs = append(errs, v.Close())
	}
	return errors.Join(errs...)
}
