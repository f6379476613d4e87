package htmlstage

import (
	"errors"
	"fmt"
)

// Structural errors. Edit operations record them per item in a BatchResult
// instead of returning them.
var (
	// ErrInvalidParent indicates that the target does not exist or cannot hold children.
	ErrInvalidParent = errors.New("invalid parent")

	// ErrCycleRejected indicates that a move would place a node inside its own subtree.
	ErrCycleRejected = errors.New("move would create a cycle")

	// ErrNotFound indicates that a uid is no longer in the tree.
	ErrNotFound = errors.New("node not found")

	// ErrInvalidSnapshot indicates a copied node that is not part of the valid projection.
	ErrInvalidSnapshot = errors.New("snapshot of invalid node")
)

// Workspace and text errors.
var (
	// ErrPermissionDenied indicates that a file-system handle lacks the required access.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrParseFailure indicates that code text could not be parsed into a tree.
	ErrParseFailure = errors.New("parse failure")
)

// Coordinator and history errors.
var (
	// ErrBusy indicates that a cycle could not start because another is running.
	ErrBusy = errors.New("coordinator busy")

	// ErrNothingToUndo indicates an empty undo side of the history log.
	ErrNothingToUndo = errors.New("nothing to undo")

	// ErrNothingToRedo indicates an empty redo side of the history log.
	ErrNothingToRedo = errors.New("nothing to redo")

	// ErrNoDocument indicates that no document is open.
	ErrNoDocument = errors.New("no document open")
)

// ParseError reports where parsing stopped.
type ParseError struct {
	Line   int
	Column int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse failure at %d:%d: %s", e.Line, e.Column, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrParseFailure }

// ItemError is the failure of one uid in a batch.
type ItemError struct {
	UID UID
	Err error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.UID, e.Err)
}

func (e ItemError) Unwrap() error { return e.Err }

// BatchResult collects per-item failures of a best-effort batch operation.
type BatchResult struct {
	Processed []UID
	Failures  []ItemError
}

func (b *BatchResult) ok(uid UID) {
	b.Processed = append(b.Processed, uid)
}

func (b *BatchResult) fail(uid UID, err error) {
	b.Failures = append(b.Failures, ItemError{UID: uid, Err: err})
}

// Partial reports whether at least one item failed.
func (b BatchResult) Partial() bool {
	return len(b.Failures) > 0
}

// Err joins the item failures, or returns nil when every item succeeded.
func (b BatchResult) Err() error {
	if len(b.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(b.Failures))
	for i, f := range b.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}
