package session

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// File is an open session log.
type File interface {
	io.ReadWriteSeeker
	io.Closer
	Truncate(size int64) error
}

// Storage is the persistent medium session logs are written to.
type Storage interface {
	Mount() error
	Mounted() bool
	Create(name string) (File, error)
}

// DirStorage stores session logs as files in a directory.
type DirStorage struct {
	Dir     string
	mounted bool
}

// NewDirStorage returns an unmounted directory storage.
func NewDirStorage(dir string) *DirStorage {
	return &DirStorage{Dir: dir}
}

// Mount creates the directory if needed and checks that it is writable.
func (s *DirStorage) Mount() error {
	s.mounted = false
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("mount %s: %w", s.Dir, err)
	}
	tmp, err := os.CreateTemp(s.Dir, ".mount-*")
	if err != nil {
		return fmt.Errorf("mount %s: %w", s.Dir, err)
	}
	name := tmp.Name()
	tmp.Close()
	os.Remove(name)
	s.mounted = true
	return nil
}

func (s *DirStorage) Mounted() bool {
	return s.mounted
}

// Create opens name for reading and writing, truncating an existing file.
func (s *DirStorage) Create(name string) (File, error) {
	if !s.mounted {
		return nil, ErrNotMounted
	}
	if name == "" || filepath.Base(name) != name || name == "." || name == ".." {
		return nil, fmt.Errorf("create %q: invalid file name", name)
	}
	f, err := os.OpenFile(filepath.Join(s.Dir, name), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	return f, nil
}
