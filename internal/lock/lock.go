// Package lock guards a volume's administrative directory so that only one
// daemon drives it at a time.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
	"golang.org/x/sys/unix"
)

// ErrLocked is returned when another holder owns the lock.
var ErrLocked = errors.New("administrative directory is locked")

// Holder describes the current owner, as written into the lock file.
type Holder struct {
	ID         string    `json:"id"`
	PID        int       `json:"pid"`
	Purpose    string    `json:"purpose"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock is a held administrative lock.
type Lock struct {
	path   string
	file   *os.File
	holder Holder
}

// Holder returns the record written for this lock.
func (l *Lock) Holder() Holder { return l.holder }

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Manager hands out administrative locks and remembers the ones held by
// this process.
type Manager struct {
	mu   sync.Mutex
	held map[string]*Lock
}

// NewManager creates a new lock manager.
func NewManager() *Manager {
	return &Manager{held: make(map[string]*Lock)}
}

// Acquire takes the lock on adminDir without blocking.
func (m *Manager) Acquire(adminDir, purpose string) (*Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := filepath.Join(adminDir, model.LockFileName)
	if _, ok := m.held[path]; ok {
		return nil, fmt.Errorf("%w: already held by this process", ErrLocked)
	}
	if err := os.MkdirAll(adminDir, 0755); err != nil {
		return nil, fmt.Errorf("create admin dir: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock: %w", err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if h, rerr := ReadHolder(adminDir); rerr == nil {
				return nil, fmt.Errorf("%w: held by pid %d (%s)", ErrLocked, h.PID, h.Purpose)
			}
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("flock: %w", err)
	}

	l := &Lock{
		path: path,
		file: file,
		holder: Holder{
			ID:         uuid.NewString(),
			PID:        os.Getpid(),
			Purpose:    purpose,
			AcquiredAt: time.Now().UTC(),
		},
	}
	if err := writeHolder(file, l.holder); err != nil {
		unix.Flock(int(file.Fd()), unix.LOCK_UN)
		file.Close()
		return nil, err
	}
	m.held[path] = l
	return l, nil
}

// Release drops the lock. The lock file stays behind, emptied.
func (m *Manager) Release(l *Lock) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.held[l.path] != l {
		return fmt.Errorf("lock %s not held", l.path)
	}
	delete(m.held, l.path)

	_ = l.file.Truncate(0)
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("unlock: %w", err)
	}
	return l.file.Close()
}

// ReleaseAll drops every lock held through m.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	locks := make([]*Lock, 0, len(m.held))
	for _, l := range m.held {
		locks = append(locks, l)
	}
	m.mu.Unlock()
	for _, l := range locks {
		_ = m.Release(l)
	}
}

// Held reports whether this process holds the lock on adminDir.
func (m *Manager) Held(adminDir string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[filepath.Join(adminDir, model.LockFileName)]
	return ok
}

// ReadHolder reads the holder record of adminDir's lock file.
func ReadHolder(adminDir string) (Holder, error) {
	var h Holder
	data, err := os.ReadFile(filepath.Join(adminDir, model.LockFileName))
	if err != nil {
		return h, err
	}
	if len(data) == 0 {
		return h, fmt.Errorf("lock file empty")
	}
	if err := json.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("parse lock file: %w", err)
	}
	return h, nil
}

func writeHolder(file *os.File, h Holder) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal holder: %w", err)
	}
	if err := file.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock: %w", err)
	}
	if _, err := file.WriteAt(data, 0); err != nil {
		return fmt.Errorf("write lock: %w", err)
	}
	return file.Sync()
}
