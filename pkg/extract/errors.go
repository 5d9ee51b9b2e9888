package extract

import "fmt"

// CapabilityError wraps a failure from an external capability. Transient
// failures are retried with backoff; permanent ones are not. It lives here,
// at the bottom of the dependency chain, so the extraction client can build
// it directly; pkg/graph aliases it to keep one taxonomy for the store side.
type CapabilityError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *CapabilityError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s capability error in %s: %v", kind, e.Op, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }
