package activation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pkgfs-project/pkgfsd/pkg/model"
)

// ErrNoKernelView is returned by Controller.ActivePackages when the
// controller cannot report the active set.
var ErrNoKernelView = errors.New("kernel active package set unavailable")

// Controller applies activation changes to the package filesystem mounted
// at a volume's root directory.
type Controller interface {
	ChangeActivation(ctx context.Context, rootPath string, req *Request) error
	ActivePackages(ctx context.Context, rootPath string) ([]model.NodeRef, error)
}

// NopController accepts every request and has no kernel view. It is used
// when kernel control is disabled.
type NopController struct{}

func (NopController) ChangeActivation(context.Context, string, *Request) error { return nil }

func (NopController) ActivePackages(context.Context, string) ([]model.NodeRef, error) {
	return nil, ErrNoKernelView
}

// MemoryController keeps the active set per root in memory and records
// every request.
type MemoryController struct {
	mu       sync.Mutex
	active   map[string]map[model.NodeRef]bool
	requests []*Request
	failNext error
}

// NewMemoryController creates an empty MemoryController.
func NewMemoryController() *MemoryController {
	return &MemoryController{active: make(map[string]map[model.NodeRef]bool)}
}

// FailNext makes the next ChangeActivation call return err.
func (c *MemoryController) FailNext(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = err
}

// Requests returns the successful requests so far.
func (c *MemoryController) Requests() []*Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Request(nil), c.requests...)
}

// SetActive replaces the active set of rootPath.
func (c *MemoryController) SetActive(rootPath string, refs ...model.NodeRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := make(map[model.NodeRef]bool, len(refs))
	for _, r := range refs {
		set[r] = true
	}
	c.active[rootPath] = set
}

func (c *MemoryController) ChangeActivation(_ context.Context, rootPath string, req *Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failNext; err != nil {
		c.failNext = nil
		return err
	}
	set := c.active[rootPath]
	if set == nil {
		set = make(map[model.NodeRef]bool)
		c.active[rootPath] = set
	}
	for _, it := range req.Items {
		switch it.Type {
		case ItemActivate:
			if set[it.Package] {
				return fmt.Errorf("%s already active", it.Name)
			}
			set[it.Package] = true
		case ItemDeactivate:
			delete(set, it.Package)
		}
	}
	c.requests = append(c.requests, req)
	return nil
}

func (c *MemoryController) ActivePackages(_ context.Context, rootPath string) ([]model.NodeRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.active[rootPath]
	if !ok {
		return nil, ErrNoKernelView
	}
	out := make([]model.NodeRef, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Device != out[j].Device {
			return out[i].Device < out[j].Device
		}
		return out[i].Node < out[j].Node
	})
	return out, nil
}
