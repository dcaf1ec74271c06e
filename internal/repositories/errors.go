package repositories

import "fmt"

// ErrorKind classifies a StoreError.
type ErrorKind int

const (
	// KindUnknown is an unclassified failure.
	KindUnknown ErrorKind = iota
	// KindNotFound means the record does not exist.
	KindNotFound
	// KindConflict means the write collides with existing state.
	KindConflict
	// KindUnavailable means the backend could not be reached.
	KindUnavailable
)

// StoreError is the RepositoryError returned by every backend.
type StoreError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

var _ RepositoryError = (*StoreError)(nil)

func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.kindText())
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.kindText(), e.Err)
}

func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool    { return e != nil && e.Kind == KindNotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.Kind == KindConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Kind == KindUnavailable }

func (e *StoreError) kindText() string {
	switch e.Kind {
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	}
	return "failed"
}

// NotFound builds a not-found StoreError.
func NotFound(op string) error {
	return &StoreError{Op: op, Kind: KindNotFound}
}

// Conflict builds a conflict StoreError.
func Conflict(op string, err error) error {
	return &StoreError{Op: op, Kind: KindConflict, Err: err}
}

// Unavailable builds an unavailable StoreError.
func Unavailable(op string, err error) error {
	return &StoreError{Op: op, Kind: KindUnavailable, Err: err}
}

// Failed wraps an unclassified backend error.
func Failed(op string, err error) error {
	return &StoreError{Op: op, Kind: KindUnknown, Err: err}
}
