package root_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkgfs-project/pkgfsd/internal/activation"
	"github.com/pkgfs-project/pkgfsd/internal/lock"
	"github.com/pkgfs-project/pkgfsd/internal/packages"
	"github.com/pkgfs-project/pkgfsd/internal/packages/packagetest"
	"github.com/pkgfs-project/pkgfsd/internal/proc"
	"github.com/pkgfs-project/pkgfsd/internal/root"
	"github.com/pkgfs-project/pkgfsd/internal/solver"
	"github.com/pkgfs-project/pkgfsd/internal/sysuser"
	"github.com/pkgfs-project/pkgfsd/internal/volume"
	"github.com/pkgfs-project/pkgfsd/pkg/errclass"
	"github.com/pkgfs-project/pkgfsd/pkg/fsutil"
	"github.com/pkgfs-project/pkgfsd/pkg/logging"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reporter struct {
	mu       sync.Mutex
	problems []solver.Problem
}

func (r *reporter) ReportProblems(_ string, problems []solver.Problem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.problems = append(r.problems, problems...)
}

func (r *reporter) all() []solver.Problem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]solver.Problem(nil), r.problems...)
}

type fixture struct {
	dir    string
	pkgDir string
	ctrl   *activation.MemoryController
	rep    *reporter
	root   *root.Root
	vol    *volume.Volume
}

func newFixture(t *testing.T, system bool, loc model.MountType) *fixture {
	t.Helper()
	return newSizedFixture(t, system, loc, 0)
}

func newSizedFixture(t *testing.T, system bool, loc model.MountType, queueSize int) *fixture {
	t.Helper()
	dir := t.TempDir()
	pkgDir := filepath.Join(dir, "packages")
	require.NoError(t, os.MkdirAll(pkgDir, 0755))
	log := logging.NewLogger(logging.LevelDebug)
	log.SetOutput(&bytes.Buffer{})

	f := &fixture{dir: dir, pkgDir: pkgDir, ctrl: activation.NewMemoryController(), rep: &reporter{}}
	f.root = root.New(root.Config{Path: dir, System: system, QueueSize: queueSize}, root.Deps{
		Solver:   solver.NewChecker(),
		Reporter: f.rep,
		Log:      log,
	})
	f.vol = volume.New(volume.Config{
		Location:     loc,
		RootPath:     dir,
		PackagesPath: pkgDir,
		Live:         true,
		Debounce:     100 * time.Millisecond,
	}, volume.Deps{
		Files:      packages.NewFileManager(packages.ArchiveParser{}),
		Controller: f.ctrl,
		Launcher:   &proc.Recorder{},
		Users:      sysuser.NewMemoryManager(),
		Attrs:      fsutil.NewMemoryAttrStore(),
		Locks:      lock.NewManager(),
		Scheduler:  f.root,
		Log:        log,
	})
	return f
}

func (f *fixture) write(t *testing.T, dir, fileName string, info packages.Info) {
	t.Helper()
	require.NoError(t, packagetest.Write(filepath.Join(dir, fileName), info, nil))
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.root.AddVolume(f.vol))
	f.root.Start(context.Background())
	t.Cleanup(func() { f.root.Close() })
	require.Eventually(t, func() bool {
		return f.root.Volume(f.vol.Location()) != nil && !f.vol.HasPendingJobs()
	}, 5*time.Second, 10*time.Millisecond)
}

func (f *fixture) activated(t *testing.T) []string {
	t.Helper()
	names, err := activation.ReadFile(filepath.Join(f.pkgDir, model.AdminDirName, model.ActivationFileName), activation.DefaultMaxFileSize)
	if err != nil {
		return nil
	}
	return names
}

func TestRoot_InitAndCommit(t *testing.T) {
	f := newFixture(t, false, model.MountTypeHome)
	f.write(t, f.pkgDir, "a-1.hpkg", packages.Info{Name: "a", Version: "1"})
	f.start(t)

	assert.Equal(t, []*volume.Volume{f.vol}, f.root.Volumes())
	assert.Nil(t, f.root.Volume(model.MountTypeSystem))

	tx, err := f.vol.CreateTransaction()
	require.NoError(t, err)
	f.write(t, tx.TransactionPath, "b-1.hpkg", packages.Info{Name: "b", Version: "1"})

	res, err := f.root.Commit(context.Background(), f.vol, model.CommitRequest{
		ChangeCount:          tx.ChangeCount,
		TransactionDirectory: tx.TransactionDirectory,
		PackagesToActivate:   []string{"b-1.hpkg"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b-1.hpkg"}, res.Activated)
	assert.Equal(t, tx.ChangeCount+1, f.vol.ChangeCount())
	assert.False(t, f.vol.HasPendingJobs())
}

func TestRoot_CommitWhileBusy(t *testing.T) {
	f := newFixture(t, false, model.MountTypeHome)
	f.start(t)

	f.vol.JobQueued()
	defer f.vol.JobDone()
	_, err := f.root.Commit(context.Background(), f.vol, model.CommitRequest{})
	require.Error(t, err)
	assert.Equal(t, errclass.KindInstallationLocationBusy, errclass.KindOf(err))
}

func TestRoot_AddVolumeTwice(t *testing.T) {
	f := newFixture(t, false, model.MountTypeHome)
	require.NoError(t, f.root.AddVolume(f.vol))
	assert.Error(t, f.root.AddVolume(f.vol))
	require.NoError(t, f.root.Close())
}

func TestRoot_SystemRootOrdersManualChanges(t *testing.T) {
	f := newFixture(t, true, model.MountTypeSystem)
	f.write(t, f.pkgDir, "base-1.hpkg", packages.Info{Name: "base", Version: "1"})
	f.start(t)

	f.write(t, f.pkgDir, "app-1.hpkg", packages.Info{Name: "app", Version: "1", Requires: []string{"lib >= 1"}})
	f.write(t, f.pkgDir, "lib-1.hpkg", packages.Info{Name: "lib", Version: "1"})
	f.vol.HandleEvent(volume.EventCreated, "app-1.hpkg")
	f.vol.HandleEvent(volume.EventCreated, "lib-1.hpkg")

	require.Eventually(t, func() bool {
		return len(f.activated(t)) == 3
	}, 5*time.Second, 20*time.Millisecond)

	reqs := f.ctrl.Requests()
	require.Len(t, reqs, 1)
	var order []string
	for _, it := range reqs[0].Items {
		order = append(order, it.Name)
	}
	assert.Equal(t, []string{"lib-1.hpkg", "app-1.hpkg"}, order)
	assert.Empty(t, f.rep.all())
}

func TestRoot_ManualChangeWithProblemsStillCommits(t *testing.T) {
	f := newFixture(t, true, model.MountTypeSystem)
	f.start(t)

	f.write(t, f.pkgDir, "app-1.hpkg", packages.Info{Name: "app", Version: "1", Requires: []string{"missing"}})
	f.vol.HandleEvent(volume.EventCreated, "app-1.hpkg")

	require.Eventually(t, func() bool {
		return len(f.activated(t)) == 1
	}, 5*time.Second, 20*time.Millisecond)
	problems := f.rep.all()
	require.Len(t, problems, 1)
	assert.Equal(t, "missing", problems[0].Requirement)
}

func TestRoot_VerifiesAtStart(t *testing.T) {
	f := newFixture(t, true, model.MountTypeSystem)
	f.write(t, f.pkgDir, "app-1.hpkg", packages.Info{Name: "app", Version: "1", Requires: []string{"lib"}})
	f.start(t)

	require.Eventually(t, func() bool {
		return len(f.rep.all()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "lib", f.rep.all()[0].Requirement)
	assert.Equal(t, string(model.MountTypeSystem), f.rep.all()[0].Repository)
}

func TestRoot_CommitAfterClose(t *testing.T) {
	f := newFixture(t, false, model.MountTypeHome)
	f.start(t)
	require.NoError(t, f.root.Close())

	_, err := f.root.Commit(context.Background(), f.vol, model.CommitRequest{})
	assert.ErrorIs(t, err, root.ErrQueueClosed)
}

func TestRoot_EventsOnFullQueueLeaveVolumeIdle(t *testing.T) {
	f := newSizedFixture(t, false, model.MountTypeHome, 1)
	f.write(t, f.pkgDir, "a-1.hpkg", packages.Info{Name: "a", Version: "1"})
	require.NoError(t, f.root.AddVolume(f.vol))

	// The queue holds the init job, so this one is dropped.
	f.root.ScheduleEvents(f.vol)
	assert.False(t, f.vol.HasPendingJobs())

	f.root.Start(context.Background())
	t.Cleanup(func() { f.root.Close() })
	require.Eventually(t, func() bool {
		return f.root.Volume(f.vol.Location()) != nil && !f.vol.HasPendingJobs()
	}, 5*time.Second, 10*time.Millisecond)

	res, err := f.root.Commit(context.Background(), f.vol, model.CommitRequest{
		ChangeCount:          f.vol.ChangeCount(),
		PackagesToDeactivate: []string{"a-1.hpkg"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a-1.hpkg"}, res.Deactivated)
}

func TestRoot_AddVolumeAfterClose(t *testing.T) {
	f := newFixture(t, false, model.MountTypeHome)
	require.NoError(t, f.root.Close())

	assert.ErrorIs(t, f.root.AddVolume(f.vol), root.ErrQueueClosed)
	assert.False(t, f.vol.HasPendingJobs())
	assert.Nil(t, f.root.Volume(f.vol.Location()))
	assert.Empty(t, f.root.Volumes())
}

type markJob struct{ done chan struct{} }

func (j markJob) Kind() string { return "mark" }

func (j markJob) Do(context.Context) { close(j.done) }

func (j markJob) Abandon() {}

func TestRoot_VerifyIncludesPendingVolumeState(t *testing.T) {
	f := newFixture(t, true, model.MountTypeSystem)
	f.write(t, f.pkgDir, "app-1.hpkg", packages.Info{Name: "app", Version: "1", Requires: []string{"lib"}})

	homeDir := t.TempDir()
	homePkg := filepath.Join(homeDir, "packages")
	require.NoError(t, os.MkdirAll(homePkg, 0755))
	f.write(t, homePkg, "lib-1.hpkg", packages.Info{Name: "lib", Version: "1"})
	log := logging.NewLogger(logging.LevelDebug)
	log.SetOutput(&bytes.Buffer{})
	home := volume.New(volume.Config{
		Location:     model.MountTypeHome,
		RootPath:     homeDir,
		PackagesPath: homePkg,
		Live:         true,
	}, volume.Deps{
		Files:      packages.NewFileManager(packages.ArchiveParser{}),
		Controller: activation.NewMemoryController(),
		Launcher:   &proc.Recorder{},
		Users:      sysuser.NewMemoryManager(),
		Attrs:      fsutil.NewMemoryAttrStore(),
		Locks:      lock.NewManager(),
		Scheduler:  f.root,
		Log:        log,
	})
	// Loaded outside the root: the queued init then fails on the held
	// lock and the volume stays pending with its state.
	require.NoError(t, home.Init(context.Background()))
	require.NoError(t, f.root.AddVolume(home))

	f.start(t)
	done := make(chan struct{})
	require.NoError(t, f.root.QueueJob(markJob{done: done}))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never reached the marker job")
	}

	assert.Nil(t, f.root.Volume(model.MountTypeHome))
	assert.Empty(t, f.rep.all(), "lib resolved from the pending home volume")
}
