// Package fstx records filesystem mutations so that a multi-step
// operation can be undone as a unit.
package fstx

import (
	"fmt"
	"os"

	"github.com/pkgfs-project/pkgfsd/pkg/errclass"
	"github.com/pkgfs-project/pkgfsd/pkg/fsutil"
	"github.com/pkgfs-project/pkgfsd/pkg/logging"
)

// OpID identifies an operation within one Transaction.
type OpID int

// Kind is the kind of a recorded operation.
type Kind int

const (
	KindCreate Kind = iota
	KindRemove
	KindMove
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindRemove:
		return "remove"
	case KindMove:
		return "move"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Operation is one recorded mutation.
type Operation struct {
	ID   OpID
	Kind Kind
	// Path is the created or removed entry, or the move source.
	Path string
	// Target is the backup of a removed entry or the move destination.
	Target   string
	Modified []OpID
	Disabled bool
}

// Transaction is an ordered undo log. It is not safe for concurrent use.
type Transaction struct {
	ops    []*Operation
	nextID OpID
	log    *logging.Logger
}

// New creates an empty Transaction. A nil logger uses the global one.
func New(log *logging.Logger) *Transaction {
	if log == nil {
		log = logging.Component("fstx")
	}
	return &Transaction{log: log}
}

// CreateEntry records that path is being created. Rolling back removes it,
// recursively for directories.
func (t *Transaction) CreateEntry(path string, modified ...OpID) *Pending {
	return t.add(KindCreate, path, "", modified)
}

// RemoveEntry records that path is being removed after being preserved at
// backup. Rolling back copies backup over path. An empty backup makes the
// operation impossible to roll back.
func (t *Transaction) RemoveEntry(path, backup string, modified ...OpID) *Pending {
	return t.add(KindRemove, path, backup, modified)
}

// MoveEntry records that from is being renamed to to. Rolling back renames
// it back.
func (t *Transaction) MoveEntry(from, to string, modified ...OpID) *Pending {
	return t.add(KindMove, from, to, modified)
}

func (t *Transaction) add(kind Kind, path, target string, modified []OpID) *Pending {
	op := &Operation{
		ID:       t.nextID,
		Kind:     kind,
		Path:     path,
		Target:   target,
		Modified: append([]OpID(nil), modified...),
	}
	t.nextID++
	t.ops = append(t.ops, op)
	return &Pending{tx: t, op: op}
}

func (t *Transaction) unregister(op *Operation) {
	for i := len(t.ops) - 1; i >= 0; i-- {
		if t.ops[i] == op {
			t.ops = append(t.ops[:i], t.ops[i+1:]...)
			return
		}
	}
}

func (t *Transaction) find(id OpID) *Operation {
	for _, op := range t.ops {
		if op.ID == id {
			return op
		}
	}
	return nil
}

// Disable keeps RollBack from undoing the operation id.
func (t *Transaction) Disable(id OpID) {
	if op := t.find(id); op != nil {
		op.Disabled = true
	}
}

// Len returns the number of recorded operations.
func (t *Transaction) Len() int {
	return len(t.ops)
}

// Operations returns a copy of the log in recording order.
func (t *Transaction) Operations() []Operation {
	out := make([]Operation, len(t.ops))
	for i, op := range t.ops {
		out[i] = *op
	}
	return out
}

// RollBack undoes every enabled operation in reverse order. Failures are
// logged; an operation whose undo fails disables the operations it
// modified. The log is empty afterwards.
func (t *Transaction) RollBack() {
	for i := len(t.ops) - 1; i >= 0; i-- {
		op := t.ops[i]
		if op.Disabled {
			t.log.Warn("skipping disabled operation", map[string]any{
				"op": int(op.ID), "kind": op.Kind.String(), "path": op.Path,
			})
			continue
		}
		if err := undo(op); err != nil {
			t.log.ErrorErr("failed to roll back operation", err, map[string]any{
				"op": int(op.ID), "kind": op.Kind.String(), "path": op.Path, "target": op.Target,
			})
			for _, id := range op.Modified {
				if m := t.find(id); m != nil {
					m.Disabled = true
				}
			}
		}
	}
	t.ops = nil
}

func undo(op *Operation) error {
	switch op.Kind {
	case KindCreate:
		return os.RemoveAll(op.Path)
	case KindRemove:
		if op.Target == "" {
			return errclass.ErrNotSupported.WithPaths(op.Path).WithMessagef("no backup kept")
		}
		return fsutil.ReplaceWithCopy(op.Target, op.Path)
	case KindMove:
		return os.Rename(op.Target, op.Path)
	}
	return fmt.Errorf("unknown operation kind %d", op.Kind)
}

// Pending guards a recorded operation while the mutation it describes is
// carried out. Use it as
//
//	p := tx.CreateEntry(path)
//	defer p.Discard()
//	... perform the mutation, return on failure ...
//	p.Finish()
//
// so the log entry disappears when the step exits early.
type Pending struct {
	tx       *Transaction
	op       *Operation
	finished bool
}

// ID returns the operation id, valid for use as a modified reference
// before Finish.
func (p *Pending) ID() OpID {
	return p.op.ID
}

// Finish keeps the operation in the log.
func (p *Pending) Finish() OpID {
	p.finished = true
	return p.op.ID
}

// Discard removes the operation from the log unless Finish was called.
func (p *Pending) Discard() {
	if p.finished {
		return
	}
	p.finished = true
	p.tx.unregister(p.op)
}
