// Package workspace is the file-system side of the editor: the project's
// file tree with its own view state, file actions with undo/redo, the store
// backing the open document, and a watcher that re-imports the tree when the
// disk changes.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dannyswat/htmlstage"
)

// ErrOutsideRoot indicates a path that escapes the workspace root.
var ErrOutsideRoot = errors.New("path outside workspace root")

// ErrExists indicates that the destination of a create, rename, move or copy
// is already taken.
var ErrExists = errors.New("file already exists")

// Entry is one directory entry.
type Entry struct {
	Name  string
	IsDir bool
}

// Info is the part of a file's metadata the watcher compares.
type Info struct {
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// FS is the workspace file system. Paths are slash-separated and relative to
// the workspace root; "" is the root itself.
type FS interface {
	ReadDir(dir string) ([]Entry, error)
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte) error
	Mkdir(name string) error
	RemoveAll(name string) error
	Rename(from, to string) error
	Stat(name string) (Info, error)
	// Access reports ErrPermissionDenied when name cannot be read, or
	// written when write is set.
	Access(name string, write bool) error
}

// LocalFS is an FS rooted at a directory on the local disk.
type LocalFS struct {
	root string
}

// NewLocalFS returns a file system rooted at dir.
func NewLocalFS(dir string) (*LocalFS, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s: not a directory", abs)
	}
	return &LocalFS{root: abs}, nil
}

// Root returns the absolute root directory.
func (l *LocalFS) Root() string {
	return l.root
}

// abs resolves a workspace path to a disk path, rejecting escapes.
func (l *LocalFS) abs(name string) (string, error) {
	rel := path.Clean(filepath.ToSlash(name))
	if path.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s: %w", name, ErrOutsideRoot)
	}
	if rel == "." {
		return l.root, nil
	}
	return filepath.Join(l.root, filepath.FromSlash(rel)), nil
}

func (l *LocalFS) ReadDir(dir string) ([]Entry, error) {
	p, err := l.abs(dir)
	if err != nil {
		return nil, err
	}
	des, err := os.ReadDir(p)
	if err != nil {
		return nil, wrapPerm(err)
	}
	out := make([]Entry, 0, len(des))
	for _, de := range des {
		out = append(out, Entry{Name: de.Name(), IsDir: de.IsDir()})
	}
	return out, nil
}

func (l *LocalFS) ReadFile(name string) ([]byte, error) {
	p, err := l.abs(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	return data, wrapPerm(err)
}

func (l *LocalFS) WriteFile(name string, data []byte) error {
	p, err := l.abs(name)
	if err != nil {
		return err
	}
	return wrapPerm(os.WriteFile(p, data, 0o644))
}

func (l *LocalFS) Mkdir(name string) error {
	p, err := l.abs(name)
	if err != nil {
		return err
	}
	err = os.Mkdir(p, 0o755)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%s: %w", name, ErrExists)
	}
	return wrapPerm(err)
}

func (l *LocalFS) RemoveAll(name string) error {
	if path.Clean("/"+name) == "/" {
		return fmt.Errorf("refusing to remove the workspace root: %w", ErrOutsideRoot)
	}
	p, err := l.abs(name)
	if err != nil {
		return err
	}
	return wrapPerm(os.RemoveAll(p))
}

func (l *LocalFS) Rename(from, to string) error {
	src, err := l.abs(from)
	if err != nil {
		return err
	}
	dst, err := l.abs(to)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("%s: %w", to, ErrExists)
	}
	return wrapPerm(os.Rename(src, dst))
}

func (l *LocalFS) Stat(name string) (Info, error) {
	p, err := l.abs(name)
	if err != nil {
		return Info{}, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return Info{}, wrapPerm(err)
	}
	return Info{Size: fi.Size(), ModTime: fi.ModTime(), IsDir: fi.IsDir()}, nil
}

func (l *LocalFS) Access(name string, write bool) error {
	p, err := l.abs(name)
	if err != nil {
		return err
	}
	if err := checkAccess(p, write); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// wrapPerm maps OS permission errors onto htmlstage.ErrPermissionDenied.
func wrapPerm(err error) error {
	if err != nil && errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %v", htmlstage.ErrPermissionDenied, err)
	}
	return err
}

// copyTree copies the file or directory at from to to through fsys.
func copyTree(fsys FS, from, to string) error {
	info, err := fsys.Stat(from)
	if err != nil {
		return err
	}
	if !info.IsDir {
		data, err := fsys.ReadFile(from)
		if err != nil {
			return err
		}
		return fsys.WriteFile(to, data)
	}
	if err := fsys.Mkdir(to); err != nil {
		return err
	}
	entries, err := fsys.ReadDir(from)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := copyTree(fsys, path.Join(from, e.Name), path.Join(to, e.Name)); err != nil {
			return err
		}
	}
	return nil
}

// exists reports whether name is present.
func exists(fsys FS, name string) bool {
	_, err := fsys.Stat(name)
	return err == nil
}
