// Package gc prunes old-state directories of a volume.
package gc

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkgfs-project/pkgfsd/internal/journal"
	"github.com/pkgfs-project/pkgfsd/internal/notify"
	"github.com/pkgfs-project/pkgfsd/pkg/fsutil"
	"github.com/pkgfs-project/pkgfsd/pkg/logging"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
)

// PlanDirName is the directory under the administrative directory that
// holds pending plans.
const PlanDirName = "gc-plans"

// State is one old-state directory.
type State struct {
	Name string
	Time time.Time
	Seq  int
	Path string
}

// Notifier receives pruning notifications.
type Notifier interface {
	Publish(event notify.Event)
}

// Options configure a Collector.
type Options struct {
	Location model.MountType
	// BootState is the state the system was booted into. It is never
	// pruned.
	BootState string
	Notifier  Notifier
	Log       *logging.Logger
	Now       func() time.Time
}

// Collector plans and runs pruning of one administrative directory.
type Collector struct {
	adminDir string
	opts     Options
	journal  *journal.Appender
	log      *logging.Logger
}

// NewCollector creates a collector for adminDir.
func NewCollector(adminDir string, opts Options) *Collector {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = logging.Component("gc")
	}
	return &Collector{
		adminDir: adminDir,
		opts:     opts,
		journal:  journal.NewAppender(filepath.Join(adminDir, model.JournalFileName)),
		log:      opts.Log.WithFields(map[string]any{"admin": adminDir}),
	}
}

// ListStates returns the old-state directories, newest first. Entries
// with malformed names are skipped.
func (c *Collector) ListStates() ([]State, error) {
	entries, err := os.ReadDir(c.adminDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var states []State
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		ts, seq, err := model.ParseStateDirName(e.Name())
		if err != nil {
			continue
		}
		states = append(states, State{Name: e.Name(), Time: ts, Seq: seq, Path: filepath.Join(c.adminDir, e.Name())})
	}
	sort.Slice(states, func(i, j int) bool {
		if !states[i].Time.Equal(states[j].Time) {
			return states[i].Time.After(states[j].Time)
		}
		return states[i].Seq > states[j].Seq
	})
	return states, nil
}

type protection struct {
	protected   map[string]bool
	byRetention int
	byBoot      int
}

func (c *Collector) protect(states []State, policy model.RetentionPolicy) protection {
	p := protection{protected: make(map[string]bool)}
	cutoff := c.opts.Now().Add(-policy.KeepMinAge)
	for i, s := range states {
		switch {
		case s.Name == c.opts.BootState:
			p.byBoot++
		case i < policy.KeepMinStates, s.Time.After(cutoff):
			p.byRetention++
		default:
			continue
		}
		p.protected[s.Name] = true
	}
	return p
}

// Plan computes which states the policy allows to delete and stores the
// plan for Run.
func (c *Collector) Plan(policy model.RetentionPolicy) (*model.GCPlan, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	states, err := c.ListStates()
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	prot := c.protect(states, policy)

	plan := &model.GCPlan{
		PlanID:               uuid.NewString(),
		CreatedAt:            c.opts.Now().UTC(),
		Location:             c.opts.Location,
		Protected:            []string{},
		ToDelete:             []string{},
		ProtectedByRetention: prot.byRetention,
		ProtectedByBoot:      prot.byBoot,
		CandidateCount:       len(states),
		RetentionPolicy:      policy,
	}
	for _, s := range states {
		if prot.protected[s.Name] {
			plan.Protected = append(plan.Protected, s.Name)
			continue
		}
		plan.ToDelete = append(plan.ToDelete, s.Name)
		plan.DeletableBytes += dirSize(s.Path)
	}

	if err := c.writePlan(plan); err != nil {
		return nil, fmt.Errorf("write plan: %w", err)
	}
	c.log.Info("gc plan created", map[string]any{"plan_id": plan.PlanID, "to_delete": len(plan.ToDelete)})
	return plan, nil
}

// Run deletes the states of a stored plan after checking that none of them
// became protected. It returns the deleted state names.
func (c *Collector) Run(planID string) ([]string, error) {
	plan, err := c.loadPlan(planID)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	states, err := c.ListStates()
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	prot := c.protect(states, plan.RetentionPolicy)
	for _, name := range plan.ToDelete {
		if prot.protected[name] {
			return nil, fmt.Errorf("plan mismatch: %s is now protected", name)
		}
	}

	var deleted []string
	for _, name := range plan.ToDelete {
		if err := os.RemoveAll(filepath.Join(c.adminDir, name)); err != nil {
			c.log.WarnErr("failed to delete state", err, map[string]any{"state": name})
			continue
		}
		deleted = append(deleted, name)
	}
	if err := fsutil.FsyncDir(c.adminDir); err != nil {
		c.log.WarnErr("failed to sync administrative directory", err)
	}
	c.deletePlan(planID)

	if _, err := c.journal.Append(model.JournalRecord{
		EventType: model.EventTypeStatePruned,
		Location:  c.opts.Location,
		Details:   map[string]any{"plan_id": planID, "states": deleted},
	}); err != nil {
		c.log.WarnErr("failed to append journal record", err)
	}
	if c.opts.Notifier != nil && len(deleted) > 0 {
		c.opts.Notifier.Publish(notify.Event{Event: notify.EventStatesPruned, Location: c.opts.Location, Deactivated: deleted})
	}
	c.log.Info("gc run done", map[string]any{"plan_id": planID, "deleted": len(deleted)})
	return deleted, nil
}

func (c *Collector) planPath(planID string) string {
	return filepath.Join(c.adminDir, PlanDirName, planID+".json")
}

func (c *Collector) writePlan(plan *model.GCPlan) error {
	if err := os.MkdirAll(filepath.Join(c.adminDir, PlanDirName), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.AtomicWrite(c.planPath(plan.PlanID), data, 0644)
}

func (c *Collector) loadPlan(planID string) (*model.GCPlan, error) {
	if _, err := uuid.Parse(planID); err != nil {
		return nil, fmt.Errorf("invalid plan id %q", planID)
	}
	data, err := os.ReadFile(c.planPath(planID))
	if err != nil {
		return nil, err
	}
	var plan model.GCPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (c *Collector) deletePlan(planID string) {
	if err := os.Remove(c.planPath(planID)); err != nil && !os.IsNotExist(err) {
		c.log.WarnErr("failed to delete plan", err, map[string]any{"plan_id": planID})
	}
}

func dirSize(dir string) int64 {
	var size int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				size += info.Size()
			}
		}
		return nil
	})
	return size
}
