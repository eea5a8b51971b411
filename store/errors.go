package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyExists is returned by Create when the record is already stored.
	ErrAlreadyExists = errors.New("lattice: record already exists")

	// ErrUnprocessed is returned when the backend keeps reporting items of a
	// batch as unprocessed after every resubmission.
	ErrUnprocessed = errors.New("lattice: batch items left unprocessed")

	// ErrInvalidKey is returned for empty or malformed scope, type, id or index names.
	ErrInvalidKey = errors.New("lattice: invalid key")

	// ErrInvalidTablePrefix is returned when the table prefix does not match ^[a-z_]+$.
	ErrInvalidTablePrefix = errors.New("lattice: invalid table prefix")

	// ErrCorruptRecord is returned when a stored item cannot be decoded into a Record.
	ErrCorruptRecord = errors.New("lattice: corrupt record")
)

// OpError wraps a failed store operation with the record it concerned.
type OpError struct {
	Op    string
	Scope string
	Type  string
	ID    string
	Err   error
}

func (e *OpError) Error() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{e.Scope, e.Type, e.ID} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("lattice: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("lattice: %s %s: %v", e.Op, strings.Join(parts, "/"), e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// ResourceError reports a missing table or index. It is never retried.
type ResourceError struct {
	Op       string
	Resource string
	Err      error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("lattice: %s: resource %s not found (is the table provisioned?): %v", e.Op, e.Resource, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }
