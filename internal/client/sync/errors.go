package sync

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSyncAlreadyRunning = errors.New("sync already running")
	ErrUnassignedAction   = errors.New("snapshot has no action")
	ErrActionMismatch     = errors.New("action does not apply to snapshot")
)

// IntegrityFault is an impossible ordering in the metadata timeline. It is never repaired.
type IntegrityFault struct {
	Name   string
	Reason string
}

func (e *IntegrityFault) Error() string {
	return fmt.Sprintf("integrity fault for %q: %s", e.Name, e.Reason)
}

// ServiceError is a remote call that kept failing after every retry.
type ServiceError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// MalformedRecordError is a remote record missing required fields. It is skipped, not fatal.
type MalformedRecordError struct {
	Name    string
	Missing []string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed remote record %q: missing %s", e.Name, strings.Join(e.Missing, ", "))
}

// LocalIOError is a failure of the local filesystem or local metadata table.
type LocalIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *LocalIOError) Error() string {
	return fmt.Sprintf("local %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *LocalIOError) Unwrap() error {
	return e.Err
}

func localIOError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &LocalIOError{Op: op, Path: path, Err: err}
}
