package packages

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/pkgfs-project/pkgfsd/pkg/errclass"
	"github.com/pkgfs-project/pkgfsd/pkg/fsutil"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
)

// FileID identifies a package file by its containing directory and name.
type FileID struct {
	Directory model.NodeRef
	Name      string
}

// File is one package file on disk. Files are reference counted and
// shared through a FileManager; the last Release forgets the file.
type File struct {
	manager *FileManager

	id      FileID
	dirPath string
	entry   model.NodeRef
	info    *Info

	// Guarded by manager.mu.
	refs          int
	createdIgnore int
	removedIgnore int
}

// ID returns the file's current identity.
func (f *File) ID() FileID {
	f.manager.mu.Lock()
	defer f.manager.mu.Unlock()
	return f.id
}

// Name returns the file name.
func (f *File) Name() string {
	f.manager.mu.Lock()
	defer f.manager.mu.Unlock()
	return f.id.Name
}

// DirPath returns the path of the directory currently holding the file.
func (f *File) DirPath() string {
	f.manager.mu.Lock()
	defer f.manager.mu.Unlock()
	return f.dirPath
}

// Path returns the file's current path.
func (f *File) Path() string {
	f.manager.mu.Lock()
	defer f.manager.mu.Unlock()
	return filepath.Join(f.dirPath, f.id.Name)
}

// Entry returns the node identity of the file itself.
func (f *File) Entry() model.NodeRef { return f.entry }

// Info returns the parsed metadata.
func (f *File) Info() *Info { return f.info }

// Acquire adds a reference.
func (f *File) Acquire() {
	f.manager.mu.Lock()
	defer f.manager.mu.Unlock()
	f.refs++
}

// Release drops a reference. The manager forgets the file when the last
// reference is gone.
func (f *File) Release() {
	f.manager.mu.Lock()
	defer f.manager.mu.Unlock()
	f.refs--
	if f.refs == 0 {
		if f.manager.files[f.id] == f {
			delete(f.manager.files, f.id)
		}
	}
}

// IgnoreNextCreated makes the next "created" event for this file a no-op.
func (f *File) IgnoreNextCreated() {
	f.manager.mu.Lock()
	defer f.manager.mu.Unlock()
	f.createdIgnore++
}

// IgnoreNextRemoved makes the next "removed" event for this file a no-op.
func (f *File) IgnoreNextRemoved() {
	f.manager.mu.Lock()
	defer f.manager.mu.Unlock()
	f.removedIgnore++
}

// ConsumeCreatedIgnore reports whether a "created" event should be skipped,
// decrementing the counter if so.
func (f *File) ConsumeCreatedIgnore() bool {
	f.manager.mu.Lock()
	defer f.manager.mu.Unlock()
	if f.createdIgnore > 0 {
		f.createdIgnore--
		return true
	}
	return false
}

// ConsumeRemovedIgnore reports whether a "removed" event should be skipped,
// decrementing the counter if so.
func (f *File) ConsumeRemovedIgnore() bool {
	f.manager.mu.Lock()
	defer f.manager.mu.Unlock()
	if f.removedIgnore > 0 {
		f.removedIgnore--
		return true
	}
	return false
}

// UndoIgnoreNextCreated reverts an IgnoreNextCreated after the operation
// that would have produced the event was rolled back.
func (f *File) UndoIgnoreNextCreated() {
	f.manager.mu.Lock()
	defer f.manager.mu.Unlock()
	if f.createdIgnore > 0 {
		f.createdIgnore--
	}
}

// UndoIgnoreNextRemoved is the counterpart of UndoIgnoreNextCreated.
func (f *File) UndoIgnoreNextRemoved() {
	f.manager.mu.Lock()
	defer f.manager.mu.Unlock()
	if f.removedIgnore > 0 {
		f.removedIgnore--
	}
}

// FileManager deduplicates package files by identity.
type FileManager struct {
	parser Parser

	mu    sync.Mutex
	files map[FileID]*File
}

// NewFileManager creates a FileManager reading metadata with parser.
func NewFileManager(parser Parser) *FileManager {
	return &FileManager{parser: parser, files: make(map[FileID]*File)}
}

// Get returns the package file name inside dirPath with an added
// reference, parsing it if the manager does not know it yet.
func (m *FileManager) Get(dirPath, name string) (*File, error) {
	path := filepath.Join(dirPath, name)
	dirRef, err := fsutil.Node(dirPath)
	if err != nil {
		return nil, errclass.ErrFailedToOpenDirectory.WithPaths(dirPath).WithSystemError(err)
	}
	id := FileID{Directory: dirRef, Name: name}

	m.mu.Lock()
	if f, ok := m.files[id]; ok {
		f.refs++
		m.mu.Unlock()
		return f, nil
	}
	m.mu.Unlock()

	entry, err := fsutil.Node(path)
	if err != nil {
		return nil, errclass.ErrFailedToOpenFile.WithPaths(path).WithSystemError(err)
	}
	info, err := m.parser.Parse(path)
	if err != nil {
		if te, ok := err.(*errclass.TransactionError); ok {
			return nil, te.WithPaths(path)
		}
		return nil, errclass.ErrFailedToOpenPackage.WithPaths(path).WithSystemError(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another caller may have parsed the same file meanwhile.
	if f, ok := m.files[id]; ok {
		f.refs++
		return f, nil
	}
	f := &File{
		manager: m,
		id:      id,
		dirPath: dirPath,
		entry:   entry,
		info:    info,
		refs:    1,
	}
	m.files[id] = f
	return f, nil
}

// Moved records that f now lives in newDirPath under the same name.
func (m *FileManager) Moved(f *File, newDirPath string) error {
	dirRef, err := fsutil.Node(newDirPath)
	if err != nil {
		return errclass.ErrFailedToOpenDirectory.WithPaths(newDirPath).WithSystemError(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	newID := FileID{Directory: dirRef, Name: f.id.Name}
	if other, ok := m.files[newID]; ok && other != f {
		return fmt.Errorf("package file %s already registered in %s", f.id.Name, newDirPath)
	}
	if m.files[f.id] == f {
		delete(m.files, f.id)
	}
	f.id = newID
	f.dirPath = newDirPath
	m.files[newID] = f
	return nil
}

// Len returns the number of package files the manager knows.
func (m *FileManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}
