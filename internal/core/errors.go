package core

import "errors"

// Error kinds surfaced by the engine. Construction-time problems fail the
// call synchronously with one of these; run-time degradation (timeout,
// partial coverage) is reported as data on the Result instead.
var (
	// ErrInvalidState means an operation was attempted outside its
	// required lifecycle state, e.g. boost creation before load completes.
	ErrInvalidState = errors.New("invalid engine state")

	// ErrSchemaViolation means a field role was requested on a field that
	// does not support it, or the field does not exist.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrReindexRequired means schema or document changes have invalidated
	// the current index and a rebuild is needed before searching.
	ErrReindexRequired = errors.New("reindex required")

	// ErrTimeout means an operation exceeded its wall-clock bound.
	ErrTimeout = errors.New("operation timed out")

	// ErrCancelled means the caller cancelled a background operation.
	ErrCancelled = errors.New("operation cancelled")

	// ErrCapacityExceeded means the document count is over the configured
	// ceiling.
	ErrCapacityExceeded = errors.New("document capacity exceeded")

	// ErrNotFound means an unknown document key or dataset name.
	ErrNotFound = errors.New("not found")

	// ErrCorruptIndex means the internal index state failed a consistency
	// check during a build. Unrecoverable for the dataset: requires a full
	// unload and reload.
	ErrCorruptIndex = errors.New("corrupt index state")
)
