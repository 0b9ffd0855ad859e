// Package apperr holds the failure kinds shared by the feed client.
//
// Every error that leaves pkg/api, pkg/dispatcher or pkg/session wraps one of
// these sentinels, so callers branch with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork means a command or fetch could not complete.
	ErrNetwork = errors.New("network failure")
	// ErrAuth means the credentials are invalid or the stored credential expired.
	ErrAuth = errors.New("auth failure")
	// ErrStaleReference means a post id is unknown where it was addressed.
	ErrStaleReference = errors.New("stale reference")
	// ErrValidation means the request was rejected before or by the backend.
	ErrValidation = errors.New("validation failure")
)

func Network(format string, args ...any) error {
	return wrap(ErrNetwork, format, args...)
}

func Auth(format string, args ...any) error {
	return wrap(ErrAuth, format, args...)
}

func StaleReference(format string, args ...any) error {
	return wrap(ErrStaleReference, format, args...)
}

func Validation(format string, args ...any) error {
	return wrap(ErrValidation, format, args...)
}

// Kind returns the sentinel err wraps, or nil.
func Kind(err error) error {
	for _, k := range []error{ErrNetwork, ErrAuth, ErrStaleReference, ErrValidation} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

func wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
