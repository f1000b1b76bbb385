package loadcache

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAlreadyExists   = errors.New("loadcache: cache already exists")
	ErrNotFound        = errors.New("loadcache: cache not found")
	ErrTypeMismatch    = errors.New("loadcache: cache registered with different key/value types")
	ErrBindingConflict = errors.New("loadcache: cache name already bound to a different loader")
	ErrCancelled       = errors.New("loadcache: load cancelled")
	ErrClosed          = errors.New("loadcache: cache closed")
	ErrLoadFailed      = errors.New("loadcache: load failed")
)

// LoadError is returned when every attempt of a load failed and no stale value
// could be served. errors.Is(err, ErrLoadFailed) reports true for it.
type LoadError struct {
	Cache    string
	Key      any
	Attempts int
	Errs     []error // one per attempt, oldest first
}

func (e *LoadError) Error() string {
	last := "unknown error"
	if n := len(e.Errs); n > 0 {
		last = e.Errs[n-1].Error()
	}
	if e.Attempts > 1 {
		return fmt.Sprintf("loadcache: load %s[%v] failed after %d attempts: %s", e.Cache, e.Key, e.Attempts, last)
	}
	return fmt.Sprintf("loadcache: load %s[%v] failed: %s", e.Cache, e.Key, last)
}

func (e *LoadError) Is(target error) bool { return target == ErrLoadFailed }

func (e *LoadError) Unwrap() []error { return e.Errs }

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks a loader error as not worth retrying. The load fails on the
// first attempt regardless of Options.MaxRetries.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// PanicError wraps a value recovered from a panicking loader.
type PanicError struct {
	Value any
	Stack string
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("loadcache: loader panicked: %v\n%s", p.Value, strings.TrimSpace(p.Stack))
}

func cancelled(name string) error {
	return fmt.Errorf("%w: cache %q closed", ErrCancelled, name)
}
