// Package solver checks package sets for unmet requirements and orders
// activation changes.
package solver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkgfs-project/pkgfsd/internal/packages"
)

// Repository is a named, read-only set of packages.
type Repository struct {
	Name     string
	Packages []*packages.Info
}

// Problem is an unmet requirement.
type Problem struct {
	Repository  string `json:"repository"`
	Package     string `json:"package"`
	Requirement string `json:"requirement"`
}

func (p Problem) String() string {
	return fmt.Sprintf("%s (%s) requires %q, which nothing provides", p.Package, p.Repository, p.Requirement)
}

// Change is a proposed activation change. Packages are identified by their
// info; Activate and Deactivate may be in any order.
type Change struct {
	Activate   []*packages.Info
	Deactivate []*packages.Info
}

// Result is an ordered change plus the problems of the resulting set.
type Result struct {
	// Activate lists dependencies before their dependents.
	Activate []*packages.Info
	// Deactivate lists dependents before their dependencies.
	Deactivate []*packages.Info
	Problems   []Problem
}

// Solver is the dependency solver the daemon consults. Repositories are
// added once per verification round and cleared with Reset.
type Solver interface {
	AddRepository(repo Repository)
	Reset()
	// Verify reports unmet requirements across all repositories.
	Verify(ctx context.Context) ([]Problem, error)
	// Resolve applies change to the union of the repositories, reports
	// the problems of the result and orders the change.
	Resolve(ctx context.Context, change Change) (*Result, error)
}

// Checker is a Solver that matches requirements against package names
// and provides entries. It does not search for alternatives.
type Checker struct {
	mu    sync.Mutex
	repos []Repository
}

// NewChecker creates an empty Checker.
func NewChecker() *Checker {
	return &Checker{}
}

func (c *Checker) AddRepository(repo Repository) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.repos = append(c.repos, repo)
}

func (c *Checker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.repos = nil
}

func (c *Checker) Verify(ctx context.Context) ([]Problem, error) {
	c.mu.Lock()
	repos := append([]Repository(nil), c.repos...)
	c.mu.Unlock()

	var all []*packages.Info
	for _, r := range repos {
		all = append(all, r.Packages...)
	}
	idx := newIndex(all)

	var problems []Problem
	for _, r := range repos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, info := range r.Packages {
			for _, req := range info.Requires {
				if !idx.satisfies(req) {
					problems = append(problems, Problem{Repository: r.Name, Package: info.Revision(), Requirement: req})
				}
			}
		}
	}
	return problems, nil
}

func (c *Checker) Resolve(ctx context.Context, change Change) (*Result, error) {
	c.mu.Lock()
	repos := append([]Repository(nil), c.repos...)
	c.mu.Unlock()

	removed := make(map[string]bool)
	for _, info := range change.Deactivate {
		removed[info.Revision()] = true
	}
	var after []*packages.Info
	seen := make(map[string]bool)
	for _, r := range repos {
		for _, info := range r.Packages {
			if !removed[info.Revision()] && !seen[info.Revision()] {
				seen[info.Revision()] = true
				after = append(after, info)
			}
		}
	}
	for _, info := range change.Activate {
		if !seen[info.Revision()] {
			seen[info.Revision()] = true
			after = append(after, info)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx := newIndex(after)
	res := &Result{
		Activate:   order(change.Activate),
		Deactivate: reverse(order(change.Deactivate)),
	}
	for _, info := range after {
		for _, req := range info.Requires {
			if !idx.satisfies(req) {
				res.Problems = append(res.Problems, Problem{Repository: "result", Package: info.Revision(), Requirement: req})
			}
		}
	}
	return res, nil
}

// order sorts infos so that a package comes after the packages in the
// same list it requires. Cycles are broken by name order.
func order(infos []*packages.Info) []*packages.Info {
	sorted := append([]*packages.Info(nil), infos...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Revision() < sorted[j].Revision() })

	idx := newIndex(sorted)
	var out []*packages.Info
	state := make(map[*packages.Info]int) // 1 visiting, 2 done
	var visit func(info *packages.Info)
	visit = func(info *packages.Info) {
		if state[info] != 0 {
			return
		}
		state[info] = 1
		for _, req := range info.Requires {
			for _, dep := range idx.providers(req) {
				if dep != info {
					visit(dep)
				}
			}
		}
		state[info] = 2
		out = append(out, info)
	}
	for _, info := range sorted {
		visit(info)
	}
	return out
}

func reverse(infos []*packages.Info) []*packages.Info {
	for i, j := 0, len(infos)-1; i < j; i, j = i+1, j-1 {
		infos[i], infos[j] = infos[j], infos[i]
	}
	return infos
}

// capability is something a package provides: its own name or a provides
// entry, with an optional version.
type capability struct {
	version string
	info    *packages.Info
}

type index map[string][]capability

func newIndex(infos []*packages.Info) index {
	idx := make(index)
	for _, info := range infos {
		idx[info.Name] = append(idx[info.Name], capability{version: info.Version, info: info})
		for _, p := range info.Provides {
			name, version := splitProvides(p)
			idx[name] = append(idx[name], capability{version: version, info: info})
		}
	}
	return idx
}

func (idx index) satisfies(req string) bool {
	return len(idx.providers(req)) > 0
}

func (idx index) providers(req string) []*packages.Info {
	r := ParseRequirement(req)
	var out []*packages.Info
	for _, c := range idx[r.Name] {
		if r.Matches(c.version) {
			out = append(out, c.info)
		}
	}
	return out
}

func splitProvides(s string) (name, version string) {
	name, version, _ = strings.Cut(strings.TrimSpace(s), "=")
	return strings.TrimSpace(name), strings.TrimSpace(version)
}
