package graph

import (
	"errors"
	"fmt"

	"github.com/athapong/finkg/pkg/extract"
)

// ErrVersionConflict is returned by a store when a conditional fact write
// observes a version other than the one the caller read. The upsert engine
// retries its conflict resolution against the post-write state.
var ErrVersionConflict = errors.New("fact version conflict")

// ErrNotFound is returned by store lookups that match nothing.
var ErrNotFound = errors.New("not found")

// ValidationError marks a candidate that failed schema validation or
// normalization. The candidate is dropped and the batch continues.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// ResolutionError marks a fact whose endpoint entity could not be confidently
// created or matched. The dependent fact is dropped and the batch continues.
type ResolutionError struct {
	Name string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve entity %q: %v", e.Name, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ConflictError marks an upsert that exhausted its conditional-write retries.
type ConflictError struct {
	Key      NaturalKey
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("upsert conflict on %s after %d attempts", e.Key, e.Attempts)
}

// CapabilityError wraps a failure from an external capability (the extraction
// LLM or the graph store). The type is defined in pkg/extract, which cannot
// import this package; the alias keeps a single taxonomy across both sides.
type CapabilityError = extract.CapabilityError

// Query failure reasons surfaced to the caller.
const (
	QueryReasonUnsupportedIntent  = "UnsupportedIntent"
	QueryReasonUnresolvableEntity = "UnresolvableEntity"
	QueryReasonQueryEngineError   = "QueryEngineError"
)

// QueryError is a structured query failure, surfaced to the caller and never
// a crash.
type QueryError struct {
	Reason string
	Err    error
}

func (e *QueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("query failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("query failed (%s)", e.Reason)
}

func (e *QueryError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var cerr *CapabilityError
	if errors.As(err, &cerr) {
		return cerr.Transient
	}
	return errors.Is(err, ErrVersionConflict)
}
