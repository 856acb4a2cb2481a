package usagesync

import (
	"errors"
	"fmt"
)

// Kind classifies a failed synchronization
type Kind string

const (
	KindQueryFailure         Kind = "query_failure"
	KindMissingQuotaDocument Kind = "missing_quota_document"
	KindPersistenceConflict  Kind = "persistence_conflict"
	KindPersistence          Kind = "persistence_failure"
)

var (
	// ErrQueryFailure means the application inventory could not be read; nothing was written.
	ErrQueryFailure = errors.New("application query failed")
	// ErrMissingQuotaDocument means the quota store returned no document.
	ErrMissingQuotaDocument = errors.New("usage quota document missing")
	// ErrPersistenceConflict means the write lost a revision race with a concurrent writer.
	ErrPersistenceConflict = errors.New("usage quota persistence conflict")
	// ErrPersistence means the write failed for any other reason.
	ErrPersistence = errors.New("usage quota persistence failed")
)

var kindSentinels = map[Kind]error{
	KindQueryFailure:         ErrQueryFailure,
	KindMissingQuotaDocument: ErrMissingQuotaDocument,
	KindPersistenceConflict:  ErrPersistenceConflict,
	KindPersistence:          ErrPersistence,
}

// Error is returned by Job.Run on failure
type Error struct {
	Kind     Kind
	TenantID string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("usage sync for tenant %s: %s", e.TenantID, kindSentinels[e.Kind])
	}
	return fmt.Sprintf("usage sync for tenant %s: %s: %v", e.TenantID, kindSentinels[e.Kind], e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind
func (e *Error) Is(target error) bool {
	return target == kindSentinels[e.Kind]
}

// KindOf returns the failure kind of err, or "" when err did not come from a sync
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
