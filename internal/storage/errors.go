package storage

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConstraint matches every *ConstraintError via errors.Is.
	ErrConstraint = errors.New("constraint violation")

	// ErrLikeConflict means the like state moved between read and write.
	ErrLikeConflict = errors.New("like state changed concurrently")
)

// ConstraintError reports a write rejected by a schema constraint or by
// input validation. Retrying the same write will not help.
type ConstraintError struct {
	Op  string
	Err error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%s: constraint violation: %v", e.Op, e.Err)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

func (e *ConstraintError) Is(target error) bool { return target == ErrConstraint }

// StoreWriteError wraps any other failure of a durable write. These are
// usually transient (busy database, I/O) and safe to retry later.
type StoreWriteError struct {
	Op  string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("%s: store write failed: %v", e.Op, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// writeError classifies err from a write operation.
func writeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return &ConstraintError{Op: op, Err: err}
	}
	return &StoreWriteError{Op: op, Err: err}
}
