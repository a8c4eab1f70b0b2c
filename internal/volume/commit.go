package volume

import (
	"context"
	"path/filepath"
	"time"

	"github.com/pkgfs-project/pkgfsd/internal/commit"
	"github.com/pkgfs-project/pkgfsd/internal/notify"
	"github.com/pkgfs-project/pkgfsd/internal/packages"
	"github.com/pkgfs-project/pkgfsd/pkg/errclass"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
)

func (v *Volume) newHandler() *commit.Handler {
	v.stateMu.RLock()
	vol := commit.Volume{
		Location:     v.cfg.Location,
		RootPath:     v.cfg.RootPath,
		PackagesPath: v.cfg.PackagesPath,
		AdminPath:    v.adminPath,
		Live:         v.live,
		ChangeCount:  v.changeCount,
	}
	latest := v.latest
	v.stateMu.RUnlock()

	return commit.NewHandler(vol, commit.Deps{
		Files:      v.deps.Files,
		Controller: v.deps.Controller,
		Launcher:   v.deps.Launcher,
		Users:      v.deps.Users,
		Attrs:      v.deps.Attrs,
		Log:        v.log.Component("commit"),
		Now:        v.deps.Now,
	}, latest)
}

// Commit runs a client transaction and installs its result. Worker only.
func (v *Volume) Commit(ctx context.Context, req model.CommitRequest) (*commit.Result, error) {
	if v.latest == nil {
		return nil, errclass.ErrInternal.WithMessagef("volume %s not initialized", v.cfg.Location)
	}
	start := v.deps.Now()
	h := v.newHandler()
	res, err := h.Commit(ctx, req)
	v.finish(model.EventTypeCommit, h, res, err, start)
	return res, err
}

// CommitPendingChanges applies manual changes of the packages directory.
// Nil slices mean the volume's own pending sets; callers that ordered the
// change pass the packages explicitly. It returns nil, nil when there is
// nothing to do. Worker only.
func (v *Volume) CommitPendingChanges(ctx context.Context, toActivate, toDeactivate []*packages.Package) (*commit.Result, error) {
	if toActivate == nil && toDeactivate == nil {
		toActivate, toDeactivate = v.PendingChanges()
	}
	if len(toActivate) == 0 && len(toDeactivate) == 0 {
		return nil, nil
	}
	start := v.deps.Now()
	h := v.newHandler()
	res, err := h.CommitPending(ctx, toActivate, toDeactivate)
	v.finish(model.EventTypeManualChange, h, res, err, start)
	return res, err
}

func (v *Volume) finish(kind model.JournalEventType, h *commit.Handler, res *commit.Result, err error, start time.Time) {
	dur := v.deps.Now().Sub(start)
	if err != nil {
		te := errclass.As(err)
		v.deps.Metrics.RecordCommit(string(te.Kind), dur)
		if h.RolledBack() {
			v.deps.Metrics.RecordRollback()
		}
		v.record(model.JournalRecord{
			EventType:   model.EventTypeCommitFailed,
			ChangeCount: v.ChangeCount(),
			Error:       te.Error(),
			Details:     map[string]any{"source": string(kind), "kind": string(te.Kind)},
		})
		v.publish(notify.Event{Event: notify.EventCommitFailed, Error: te.Error(), ChangeCount: v.ChangeCount()})
		return
	}

	v.install(res)
	v.deps.Metrics.RecordCommit(string(errclass.KindNone), dur)
	for _, issue := range res.Issues {
		v.deps.Metrics.RecordIssue(string(issue.Kind))
	}
	count := v.ChangeCount()
	rec := model.JournalRecord{
		EventType:   kind,
		ChangeCount: count,
		Activated:   res.Activated,
		Deactivated: res.Deactivated,
		OldState:    stateName(res.OldStateDir),
	}
	if len(res.Issues) > 0 || !res.Live {
		rec.Details = map[string]any{"issues": len(res.Issues), "live": res.Live}
	}
	v.record(rec)
	v.publish(notify.Event{
		Event:       notify.EventActivationChanged,
		ChangeCount: count,
		Activated:   res.Activated,
		Deactivated: res.Deactivated,
		OldState:    stateName(res.OldStateDir),
	})
}

// install makes a commit result the latest state. A live result is also
// the active state; otherwise the active state stays until reboot.
func (v *Volume) install(res *commit.Result) {
	v.stateMu.Lock()
	defer v.stateMu.Unlock()

	old := v.latest
	v.latest = res.State
	res.State = nil
	v.changeCount += int64(res.Changes)

	switch {
	case res.Live && v.active != old:
		v.active.Release()
		old.Release()
		v.active = v.latest
	case res.Live:
		old.Release()
		v.active = v.latest
	case v.active != old:
		old.Release()
	}
	if !res.Live && v.live {
		v.log.Info("activation change pending until reboot")
		v.live = false
	}

	for name := range v.toActivate {
		if p := v.latest.Lookup(name); p == nil || p.Active() {
			delete(v.toActivate, name)
		}
	}
	for name := range v.toDeactivate {
		if p := v.latest.Lookup(name); p == nil || !p.Active() {
			delete(v.toDeactivate, name)
		}
	}
}

func (v *Volume) record(rec model.JournalRecord) {
	rec.Location = v.cfg.Location
	if _, err := v.journal.Append(rec); err != nil {
		v.log.WarnErr("failed to append journal record", err)
	}
}

func (v *Volume) publish(e notify.Event) {
	if v.deps.Notifier == nil {
		return
	}
	e.Location = v.cfg.Location
	e.Root = v.cfg.RootPath
	v.deps.Notifier.Publish(e)
}

func stateName(dir string) string {
	if dir == "" {
		return ""
	}
	return filepath.Base(dir)
}
