package chunkstore

import "errors"

// Errors returned by chunk store operations.
var (
	// ErrDimensionMismatch indicates a vector whose length does not match
	// the store's configured dimensionality. This is a hard error, never
	// silently coerced.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrNotFound indicates the requested chunk does not exist.
	ErrNotFound = errors.New("chunk not found")

	// ErrUnavailable indicates the underlying store could not be reached.
	ErrUnavailable = errors.New("chunk store unavailable")
)
