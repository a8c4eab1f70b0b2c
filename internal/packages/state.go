package packages

import (
	"fmt"
	"sort"

	"github.com/pkgfs-project/pkgfsd/pkg/model"
)

// VolumeState is the set of packages of one volume at one point in time.
// Packages live in a slot arena; the name and node indices hold slot
// numbers. A package is in both indices or in neither.
type VolumeState struct {
	slots  []*Package
	free   []int
	byName map[string]int
	byNode map[model.NodeRef]int
}

// NewVolumeState creates an empty state.
func NewVolumeState() *VolumeState {
	return &VolumeState{
		byName: make(map[string]int),
		byNode: make(map[model.NodeRef]int),
	}
}

// Add registers p. The state takes ownership of p.
func (s *VolumeState) Add(p *Package) error {
	name := p.FileName()
	if _, ok := s.byName[name]; ok {
		return fmt.Errorf("package file %s already registered", name)
	}
	if _, ok := s.byNode[p.Entry()]; ok {
		return fmt.Errorf("package node %s already registered", p.Entry())
	}

	var slot int
	if n := len(s.free); n > 0 {
		slot = s.free[n-1]
		s.free = s.free[:n-1]
		s.slots[slot] = p
	} else {
		slot = len(s.slots)
		s.slots = append(s.slots, p)
	}
	s.byName[name] = slot
	s.byNode[p.Entry()] = slot
	return nil
}

// Remove unregisters p and returns it; ownership passes to the caller.
// It returns nil if p is not registered.
func (s *VolumeState) Remove(p *Package) *Package {
	slot, ok := s.byName[p.FileName()]
	if !ok || s.slots[slot] != p {
		return nil
	}
	delete(s.byName, p.FileName())
	delete(s.byNode, p.Entry())
	s.slots[slot] = nil
	s.free = append(s.free, slot)
	return p
}

// Lookup finds a package by file name.
func (s *VolumeState) Lookup(fileName string) *Package {
	if slot, ok := s.byName[fileName]; ok {
		return s.slots[slot]
	}
	return nil
}

// LookupNode finds a package by the node identity of its file.
func (s *VolumeState) LookupNode(ref model.NodeRef) *Package {
	if slot, ok := s.byNode[ref]; ok {
		return s.slots[slot]
	}
	return nil
}

// LookupName finds the package with the given package name, preferring an
// active one.
func (s *VolumeState) LookupName(name string) *Package {
	var found *Package
	for _, p := range s.slots {
		if p == nil || p.Name() != name {
			continue
		}
		if p.Active() {
			return p
		}
		found = p
	}
	return found
}

// Len returns the number of packages.
func (s *VolumeState) Len() int {
	return len(s.byName)
}

// Packages returns all packages ordered by file name.
func (s *VolumeState) Packages() []*Package {
	out := make([]*Package, 0, len(s.byName))
	for _, p := range s.slots {
		if p != nil {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileName() < out[j].FileName() })
	return out
}

// ActiveFileNames returns the file names of active packages, sorted.
func (s *VolumeState) ActiveFileNames() []string {
	var names []string
	for _, p := range s.Packages() {
		if p.Active() {
			names = append(names, p.FileName())
		}
	}
	return names
}

// Clone returns a shallow copy: new Package values sharing the files.
func (s *VolumeState) Clone() *VolumeState {
	c := NewVolumeState()
	for _, p := range s.Packages() {
		// Cannot fail: the source indices are consistent.
		_ = c.Add(p.Clone())
	}
	return c
}

// Release drops every package's file reference. The state must not be
// used afterwards.
func (s *VolumeState) Release() {
	for i, p := range s.slots {
		if p != nil {
			p.Release()
			s.slots[i] = nil
		}
	}
	s.slots = nil
	s.free = nil
	s.byName = make(map[string]int)
	s.byNode = make(map[model.NodeRef]int)
}
