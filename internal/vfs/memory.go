package vfs

import (
	"io/fs"
	"path"
	"sync"
	"time"
)

// MemFS implements FS using an in-memory file system.
// It is primarily used for testing.
//
// MemFS is safe for concurrent use.
type MemFS struct {
	mu    sync.RWMutex
	files map[string]*memFile
}

type memFile struct {
	content []byte
	mode    fs.FileMode
	modTime time.Time
}

// NewMemFS creates a new in-memory file system.
func NewMemFS() *MemFS {
	return &MemFS{
		files: make(map[string]*memFile),
	}
}

// Ensure MemFS implements FS.
var _ FS = (*MemFS)(nil)

// AddFile adds or replaces a file with string content.
// The modification time is set to the current time.
func (m *MemFS) AddFile(filePath, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.files[path.Clean(filePath)] = &memFile{
		content: []byte(content),
		mode:    0644,
		modTime: time.Now(),
	}
}

// Touch updates the modification time of a file without changing content.
func (m *MemFS) Touch(filePath string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.files[path.Clean(filePath)]; ok {
		f.modTime = t
	}
}

// ReadFile reads the entire file content.
func (m *MemFS) ReadFile(filePath string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[path.Clean(filePath)]
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: filePath, Err: fs.ErrNotExist}
	}

	// Return a copy to prevent modification
	content := make([]byte, len(f.content))
	copy(content, f.content)
	return content, nil
}

// WriteFile writes data to a file, creating it if necessary.
func (m *MemFS) WriteFile(filePath string, data []byte, perm fs.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	content := make([]byte, len(data))
	copy(content, data)

	m.files[path.Clean(filePath)] = &memFile{
		content: content,
		mode:    perm,
		modTime: time.Now(),
	}
	return nil
}

// Stat returns file information.
func (m *MemFS) Stat(filePath string) (FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	filePath = path.Clean(filePath)
	f, ok := m.files[filePath]
	if !ok {
		return FileInfo{}, &fs.PathError{Op: "stat", Path: filePath, Err: fs.ErrNotExist}
	}

	return NewFileInfo(filePath, path.Base(filePath), int64(len(f.content)), f.mode, f.modTime, false), nil
}

// Remove removes a file.
func (m *MemFS) Remove(filePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	filePath = path.Clean(filePath)
	if _, ok := m.files[filePath]; !ok {
		return &fs.PathError{Op: "remove", Path: filePath, Err: fs.ErrNotExist}
	}
	delete(m.files, filePath)
	return nil
}

// Exists returns true if the path exists.
func (m *MemFS) Exists(filePath string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.files[path.Clean(filePath)]
	return ok
}

// Abs returns the cleaned path. MemFS paths are always treated as absolute.
func (m *MemFS) Abs(filePath string) (string, error) {
	if len(filePath) == 0 || filePath[0] != '/' {
		filePath = "/" + filePath
	}
	return path.Clean(filePath), nil
}
