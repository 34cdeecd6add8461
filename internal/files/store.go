package files

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/teris-io/shortid"
)

var (
	ErrTooLarge    = errors.New("file exceeds maximum size")
	ErrInvalidName = errors.New("invalid file name")
)

// DiskStore keeps attachment blobs in a single directory. Every blob gets a
// unique stored name so uploads with the same name never collide.
type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	return &DiskStore{dir: dir}, nil
}

// CleanName reduces a client supplied file name to its base name.
func CleanName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimSpace(filepath.Base(name))
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", ErrInvalidName
	}
	return name, nil
}

// Save copies at most maxBytes from r to a new blob and returns its stored
// name and size. Nothing is left on disk when it fails.
func (s *DiskStore) Save(name string, r io.Reader, maxBytes int64) (string, int64, error) {
	name, err := CleanName(name)
	if err != nil {
		return "", 0, err
	}

	id, err := shortid.Generate()
	if err != nil {
		return "", 0, fmt.Errorf("generate stored name: %w", err)
	}
	stored := id + "." + name

	f, err := os.OpenFile(s.path(stored), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", 0, fmt.Errorf("create blob: %w", err)
	}

	// one extra byte tells an exact fit from an oversized upload
	n, err := io.Copy(f, io.LimitReader(r, maxBytes+1))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil && n > maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(s.path(stored))
		if errors.Is(err, ErrTooLarge) {
			return "", 0, err
		}
		return "", 0, fmt.Errorf("write blob: %w", err)
	}

	return stored, n, nil
}

func (s *DiskStore) Open(stored string) (*os.File, error) {
	if stored != filepath.Base(stored) {
		return nil, ErrInvalidName
	}
	return os.Open(s.path(stored))
}

// Remove deletes a blob. A blob that is already gone is not an error.
func (s *DiskStore) Remove(stored string) error {
	if stored != filepath.Base(stored) {
		return ErrInvalidName
	}
	if err := os.Remove(s.path(stored)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *DiskStore) path(stored string) string {
	return filepath.Join(s.dir, stored)
}
