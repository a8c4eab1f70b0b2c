package volume

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkgfs-project/pkgfsd/internal/packages"
	"github.com/pkgfs-project/pkgfsd/pkg/errclass"
)

// EventKind is the kind of a packages directory change.
type EventKind int

const (
	EventCreated EventKind = iota
	EventRemoved
)

func (k EventKind) String() string {
	if k == EventRemoved {
		return "removed"
	}
	return "created"
}

// Event is a raw change of the packages directory.
type Event struct {
	Kind EventKind
	Name string
}

// HandleEvent queues a change of the packages directory and re-arms the
// debounce timer. It does not touch the package state.
func (v *Volume) HandleEvent(kind EventKind, name string) {
	if !IsPackageFileName(name) {
		return
	}
	v.eventMu.Lock()
	defer v.eventMu.Unlock()
	if v.closed {
		return
	}
	v.events = append(v.events, Event{Kind: kind, Name: name})
	v.armTimerLocked()
}

// HandleMove queues a rename inside the packages directory as a removal
// followed by a creation.
func (v *Volume) HandleMove(from, to string) {
	v.HandleEvent(EventRemoved, from)
	v.HandleEvent(EventCreated, to)
}

func (v *Volume) armTimerLocked() {
	if v.timer != nil {
		v.timer.Stop()
	}
	v.timerGen++
	gen := v.timerGen
	v.timer = time.AfterFunc(v.cfg.Debounce, func() { v.debounceFired(gen) })
}

func (v *Volume) debounceFired(gen uint64) {
	v.eventMu.Lock()
	if gen != v.timerGen || v.closed {
		v.eventMu.Unlock()
		return
	}
	v.timer = nil
	pending := len(v.events)
	v.eventMu.Unlock()

	if pending > 0 && v.deps.Scheduler != nil {
		v.deps.Scheduler.ScheduleEvents(v)
	}
}

// PendingEvents returns the number of queued raw events.
func (v *Volume) PendingEvents() int {
	v.eventMu.Lock()
	defer v.eventMu.Unlock()
	return len(v.events)
}

// ProcessPendingEvents applies the queued events to the latest state and
// reports whether activation changes are pending. Worker only.
func (v *Volume) ProcessPendingEvents(ctx context.Context) bool {
	v.eventMu.Lock()
	events := v.events
	v.events = nil
	v.eventMu.Unlock()

	for _, ev := range events {
		if ctx.Err() != nil {
			break
		}
		switch ev.Kind {
		case EventCreated:
			v.packageCreated(ev.Name)
		case EventRemoved:
			v.packageRemoved(ev.Name)
		}
		v.deps.Metrics.RecordNodeEvent(ev.Kind.String())
	}
	return v.HasPendingChanges()
}

// packageCreated handles a package file appearing. Every package added to
// the latest state bumps the change count.
func (v *Volume) packageCreated(name string) bool {
	v.stateMu.RLock()
	p := v.latest.Lookup(name)
	v.stateMu.RUnlock()

	if p != nil {
		if p.File().ConsumeCreatedIgnore() {
			return false
		}
		if v.toDeactivate[name] {
			v.log.Debug("removed package reappeared", map[string]any{"package": name})
			delete(v.toDeactivate, name)
		}
		return false
	}

	f, err := v.deps.Files.Get(v.cfg.PackagesPath, name)
	if err != nil {
		v.log.WarnErr("ignoring new package file", err, map[string]any{"package": name})
		return false
	}
	p = packages.NewPackage(f)
	v.stateMu.Lock()
	err = v.latest.Add(p)
	if err == nil {
		v.changeCount++
	}
	v.stateMu.Unlock()
	if err != nil {
		p.Release()
		v.log.WarnErr("ignoring new package file", err, map[string]any{"package": name})
		return false
	}
	v.log.Info("package file added", map[string]any{"package": name})
	v.toActivate[name] = true
	return true
}

// packageRemoved handles a package file disappearing. Inactive packages
// are dropped at once; active ones wait for deactivation.
func (v *Volume) packageRemoved(name string) bool {
	v.stateMu.RLock()
	p := v.latest.Lookup(name)
	v.stateMu.RUnlock()

	if p == nil || p.File().DirPath() != v.cfg.PackagesPath {
		return false
	}
	if p.File().ConsumeRemovedIgnore() {
		return false
	}

	if v.toActivate[name] || !p.Active() {
		delete(v.toActivate, name)
		v.stateMu.Lock()
		removed := v.latest.Remove(p)
		if removed != nil {
			v.changeCount++
		}
		v.stateMu.Unlock()
		if removed != nil {
			removed.Release()
		}
		v.log.Info("package file removed", map[string]any{"package": name})
		return removed != nil
	}

	v.log.Info("active package file removed", map[string]any{"package": name})
	v.toDeactivate[name] = true
	return false
}

// HasPendingChanges reports whether manual changes wait for activation.
// Worker only.
func (v *Volume) HasPendingChanges() bool {
	return len(v.toActivate) > 0 || len(v.toDeactivate) > 0
}

// PendingChanges returns the latest-state packages waiting for activation
// and deactivation, sorted by file name. Stale entries are dropped.
// Worker only.
func (v *Volume) PendingChanges() (toActivate, toDeactivate []*packages.Package) {
	v.stateMu.RLock()
	defer v.stateMu.RUnlock()

	for _, name := range sortedKeys(v.toActivate) {
		p := v.latest.Lookup(name)
		if p == nil || p.Active() {
			delete(v.toActivate, name)
			continue
		}
		toActivate = append(toActivate, p)
	}
	for _, name := range sortedKeys(v.toDeactivate) {
		p := v.latest.Lookup(name)
		if p == nil || !p.Active() {
			delete(v.toDeactivate, name)
			continue
		}
		toDeactivate = append(toDeactivate, p)
	}
	return toActivate, toDeactivate
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (v *Volume) startMonitor() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errclass.ErrFailedToOpenDirectory.WithPaths(v.cfg.PackagesPath).WithSystemError(err)
	}
	if err := w.Add(v.cfg.PackagesPath); err != nil {
		w.Close()
		return errclass.ErrFailedToOpenDirectory.WithPaths(v.cfg.PackagesPath).WithSystemError(err)
	}
	v.watcher = w
	v.watchDone = make(chan struct{})
	go v.watch(w)
	return nil
}

// watch translates fsnotify events. A rename out of the directory arrives
// as Rename of the old name; the new name arrives as Create.
func (v *Volume) watch(w *fsnotify.Watcher) {
	defer close(v.watchDone)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			name := filepath.Base(ev.Name)
			switch {
			case ev.Has(fsnotify.Create):
				v.HandleEvent(EventCreated, name)
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				v.HandleEvent(EventRemoved, name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			v.log.WarnErr("packages directory monitor error", err)
		}
	}
}
