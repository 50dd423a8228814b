package policy

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by device operations while the session is down.
	ErrNotConnected = errors.New("device not connected")
	// ErrConnectionExhausted is returned once the reconnect budget is spent.
	ErrConnectionExhausted = errors.New("device connection attempts exhausted")
	// ErrPolicyApplyPartial matches PartialApplyError via errors.Is.
	ErrPolicyApplyPartial = errors.New("policy partially applied")
)

// PartialApplyError reports a rule write that failed after earlier writes of
// the same policy were accepted by the device. Accepted writes are not rolled back.
type PartialApplyError struct {
	PolicyID  string
	RuleIndex int
	Written   int
	Err       error
}

func (e *PartialApplyError) Error() string {
	return fmt.Sprintf("policy %s partially applied: rule %d failed after %d writes: %v",
		e.PolicyID, e.RuleIndex, e.Written, e.Err)
}

func (e *PartialApplyError) Unwrap() []error {
	return []error{ErrPolicyApplyPartial, e.Err}
}
