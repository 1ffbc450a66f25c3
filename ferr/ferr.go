// Package ferr centralizes the abstract error kinds raised across the
// function-routing platform so that callers can classify an error with
// errors.Is regardless of which component produced it.
package ferr

import "errors"

// Fatal-at-startup kinds.
var (
	ErrInvalidKey            = errors.New("invalid key material")
	ErrKeyStorageCorruption  = errors.New("key storage is corrupt")
)

// Recoverable, row/request-scoped kinds.
var (
	ErrDecryption          = errors.New("decryption failed")
	ErrOversizedPlaintext  = errors.New("plaintext exceeds maximum size")
	ErrDuplicateRoute      = errors.New("duplicate route name")
	ErrOverlappingRoute    = errors.New("overlapping route pattern")
	ErrHandlerNotFound     = errors.New("handler not found")
	ErrHandlerLoadFailure  = errors.New("handler load failed")
	ErrHandlerExecFailure  = errors.New("handler execution failed")
	ErrAuthFailure         = errors.New("authentication failed")
	ErrRotationInProgress  = errors.New("rotation already in progress")
	ErrTransientInfra      = errors.New("transient infrastructure error")
	ErrNotFound            = errors.New("not found")
)
