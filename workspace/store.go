package workspace

import (
	"context"
	"fmt"
	"path"
	"sync"
)

// FileStore is the htmlstage.DocumentStore for one workspace file. It
// remembers the text it last loaded or saved so that the watcher can tell
// outside edits from its own writes.
type FileStore struct {
	fs   FS
	path string

	mu    sync.Mutex
	known string
	info  Info
}

// NewFileStore returns a store for the workspace path p.
func NewFileStore(fsys FS, p string) *FileStore {
	return &FileStore{fs: fsys, path: p}
}

// Path returns the workspace path of the document.
func (s *FileStore) Path() string {
	return s.path
}

// Load implements htmlstage.DocumentStore.
func (s *FileStore) Load(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.fs.Access(s.path, false); err != nil {
		return "", err
	}
	data, err := s.fs.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("load %s: %w", s.path, err)
	}
	s.remember(string(data))
	return string(data), nil
}

// Save implements htmlstage.DocumentStore.
func (s *FileStore) Save(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := s.path
	if exists(s.fs, target) {
		if err := s.fs.Access(target, true); err != nil {
			return err
		}
	} else if err := s.fs.Access(path.Dir(target), true); err != nil {
		return err
	}
	if err := s.fs.WriteFile(target, []byte(text)); err != nil {
		return fmt.Errorf("save %s: %w", s.path, err)
	}
	s.remember(text)
	return nil
}

func (s *FileStore) remember(text string) {
	info, _ := s.fs.Stat(s.path)
	s.mu.Lock()
	s.known = text
	s.info = info
	s.mu.Unlock()
}

// CheckExternal reports the file's text when it changed on disk since the
// last Load, Save or CheckExternal. Unchanged size and modification time
// short-circuit without reading the file.
func (s *FileStore) CheckExternal() (string, bool, error) {
	info, err := s.fs.Stat(s.path)
	if err != nil {
		return "", false, err
	}
	s.mu.Lock()
	same := info.Size == s.info.Size && info.ModTime.Equal(s.info.ModTime)
	s.mu.Unlock()
	if same {
		return "", false, nil
	}

	data, err := s.fs.ReadFile(s.path)
	if err != nil {
		return "", false, err
	}
	text := string(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = info
	if text == s.known {
		return "", false, nil
	}
	s.known = text
	return text, true, nil
}
