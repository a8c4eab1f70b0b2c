package root

import (
	"context"
	"sync"

	"github.com/pkgfs-project/pkgfsd/internal/commit"
	"github.com/pkgfs-project/pkgfsd/internal/volume"
	"github.com/pkgfs-project/pkgfsd/pkg/errclass"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
)

// volumeJob counts itself as pending on its volume from construction
// until it ran or was abandoned.
type volumeJob struct {
	v    *volume.Volume
	once sync.Once
}

func (j *volumeJob) init(v *volume.Volume) {
	j.v = v
	v.JobQueued()
}

func (j *volumeJob) finish() { j.once.Do(j.v.JobDone) }

func (j *volumeJob) Abandon() { j.finish() }

// InitVolumeJob loads a volume.
type InitVolumeJob struct {
	volumeJob
	root *Root
}

func newInitVolumeJob(r *Root, v *volume.Volume) *InitVolumeJob {
	j := &InitVolumeJob{root: r}
	j.init(v)
	return j
}

func (j *InitVolumeJob) Kind() string { return "init_volume" }

func (j *InitVolumeJob) Do(ctx context.Context) {
	defer j.finish()
	if err := j.v.Init(ctx); err != nil {
		j.root.log.ErrorErr("failed to initialize volume", err, map[string]any{
			"location": string(j.v.Location()), "packages": j.v.PackagesPath(),
		})
		return
	}
	j.root.volumeReady(j.v)
}

// VerifyJob checks the active packages of all volumes for unmet
// requirements.
type VerifyJob struct {
	root *Root
}

func (j *VerifyJob) Kind() string { return "verify" }

func (j *VerifyJob) Abandon() {}

func (j *VerifyJob) Do(ctx context.Context) {
	r := j.root
	if r.deps.Solver == nil {
		return
	}
	r.loadRepositories()
	problems, err := r.deps.Solver.Verify(ctx)
	if err != nil {
		r.log.WarnErr("package verification failed", err)
		return
	}
	r.log.Info("packages verified", map[string]any{"problems": len(problems)})
	r.report(problems)
}

// ProcessEventsJob applies a volume's queued directory events and commits
// the resulting activation changes.
type ProcessEventsJob struct {
	volumeJob
	root *Root
}

func newProcessEventsJob(r *Root, v *volume.Volume) *ProcessEventsJob {
	j := &ProcessEventsJob{root: r}
	j.init(v)
	return j
}

func (j *ProcessEventsJob) Kind() string { return "process_events" }

func (j *ProcessEventsJob) Do(ctx context.Context) {
	defer j.finish()
	if j.v.ProcessPendingEvents(ctx) {
		j.root.commitPendingChanges(ctx, j.v)
	}
}

// CommitOutcome is the answer to a CommitJob.
type CommitOutcome struct {
	Result *commit.Result
	Err    error
}

// CommitJob runs a client's commit request.
type CommitJob struct {
	volumeJob
	req    model.CommitRequest
	result chan CommitOutcome
}

func newCommitJob(v *volume.Volume, req model.CommitRequest) *CommitJob {
	j := &CommitJob{req: req, result: make(chan CommitOutcome, 1)}
	j.init(v)
	return j
}

func (j *CommitJob) Kind() string { return "commit" }

func (j *CommitJob) Do(ctx context.Context) {
	res, err := j.v.Commit(ctx, j.req)
	j.finish()
	j.result <- CommitOutcome{Result: res, Err: err}
}

func (j *CommitJob) Abandon() {
	j.finish()
	j.result <- CommitOutcome{Err: errclass.ErrUnexpected.WithSystemError(ErrQueueClosed)}
}
