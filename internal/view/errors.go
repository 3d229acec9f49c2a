package view

import (
	"errors"
	"fmt"
)

// ErrSuperseded is returned by a load whose result arrived after the view
// had moved to another tree. The result is discarded.
var ErrSuperseded = errors.New("tree load superseded")

// ErrNotLoaded is returned by operations that need a loaded tree.
var ErrNotLoaded = errors.New("no tree loaded")

// DataError means the tree could not be fetched or understood: unknown
// id, malformed payload or an unreachable backend. It is shown as a retry
// prompt and never retried automatically.
type DataError struct {
	TreeID string
	Err    error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("loading tree %s: %v", e.TreeID, e.Err)
}

func (e *DataError) Unwrap() error { return e.Err }

// AuthError means the access token is missing or was rejected. Callers
// send the user to sign in; it is never retried in place.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication required: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }
