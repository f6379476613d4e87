package htmlstage

import (
	"context"

	"github.com/google/uuid"

	"github.com/dannyswat/htmlstage/internal/debug"
)

// Session is one open document: its identity plus the coordinator that owns
// its tree, allocator, view state and history. It is created when a file is
// opened and dropped when it is closed.
type Session struct {
	ID   string
	Path string
	*Coordinator
}

// NewSession creates a session for the document at path. The session id is
// a random UUID; it tells clipboard entries of different documents apart.
func NewSession(path string, opts ...Option) *Session {
	id := uuid.NewString()
	opts = append(opts, WithSessionID(id))
	debug.Log("session %s: new for %s", id, path)
	return &Session{
		ID:          id,
		Path:        path,
		Coordinator: NewCoordinator(opts...),
	}
}

// OpenSession creates a session and loads its document through store.
func OpenSession(ctx context.Context, path string, store DocumentStore, opts ...Option) (*Session, error) {
	opts = append(opts, WithStore(store))
	s := NewSession(path, opts...)
	if err := s.Open(ctx); err != nil {
		return s, err
	}
	return s, nil
}

// Close releases the session: pending code text is dropped and the view
// state and history are cleared.
func (s *Session) Close() {
	s.debouncer.Cancel()
	s.clearPending()
	s.history.Clear()
	s.docMu.Lock()
	s.view.Clear()
	s.docMu.Unlock()
	debug.Log("session %s: closed", s.ID)
}
