package fsutil

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrNoAttribute is returned by AttrStore.Get when the attribute is not set.
var ErrNoAttribute = errors.New("attribute not set")

// AttrStore reads and writes named string attributes on filesystem entries
// without following symlinks.
type AttrStore interface {
	Get(path, name string) (string, error)
	Set(path, name, value string) error
}

// XattrStore stores attributes as extended attributes.
type XattrStore struct{}

// Get returns ErrNoAttribute when the entry has no such attribute.
func (XattrStore) Get(path, name string) (string, error) {
	buf := make([]byte, 256)
	for {
		n, err := unix.Lgetxattr(path, name, buf)
		switch {
		case err == nil:
			return string(buf[:n]), nil
		case errors.Is(err, unix.ENODATA):
			return "", ErrNoAttribute
		case errors.Is(err, unix.ERANGE) && len(buf) < 64*1024:
			buf = make([]byte, len(buf)*4)
		default:
			return "", fmt.Errorf("getxattr %s %s: %w", path, name, err)
		}
	}
}

func (XattrStore) Set(path, name, value string) error {
	if err := unix.Lsetxattr(path, name, []byte(value), 0); err != nil {
		return fmt.Errorf("setxattr %s %s: %w", path, name, err)
	}
	return nil
}

// MemoryAttrStore keeps attributes in memory, keyed by cleaned path. It is
// used where the filesystem does not support extended attributes.
type MemoryAttrStore struct {
	mu    sync.Mutex
	attrs map[string]map[string]string
}

// NewMemoryAttrStore creates an empty MemoryAttrStore.
func NewMemoryAttrStore() *MemoryAttrStore {
	return &MemoryAttrStore{attrs: make(map[string]map[string]string)}
}

func (m *MemoryAttrStore) Get(path, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.attrs[filepath.Clean(path)][name]
	if !ok {
		return "", ErrNoAttribute
	}
	return v, nil
}

func (m *MemoryAttrStore) Set(path, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := filepath.Clean(path)
	if m.attrs[key] == nil {
		m.attrs[key] = make(map[string]string)
	}
	m.attrs[key][name] = value
	return nil
}

// Delete drops every attribute of path.
func (m *MemoryAttrStore) Delete(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attrs, filepath.Clean(path))
}
