package compositor

import "fmt"

// EncodeError wraps a non-zero exit from an encode process. The stderr tail
// is preserved for diagnosing causes like concurrent-process contention.
type EncodeError struct {
	Stage string
	Err   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode failed at %s: %v", e.Stage, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// ConcatMismatchError means mixed-mode segment files disagree on codec
// parameters. Per-segment encodes share one parameter set, so this is an
// internal defect, not an input problem.
type ConcatMismatchError struct {
	Detail string
}

func (e *ConcatMismatchError) Error() string {
	return fmt.Sprintf("segment codec parameters mismatch: %s", e.Detail)
}
