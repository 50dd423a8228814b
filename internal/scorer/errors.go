package scorer

import (
	"errors"
	"fmt"
)

var (
	// ErrServiceUnavailable is returned by Initialize when the health check fails.
	ErrServiceUnavailable = errors.New("scoring service unavailable")
	// ErrTrainingInProgress is returned by Train while another run is in flight.
	ErrTrainingInProgress = errors.New("training already in progress")
)

// ServiceCallError reports a failed or malformed scoring service call. It
// means no classification is available, not that the packet is normal.
type ServiceCallError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ServiceCallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("scoring service %s failed (HTTP %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("scoring service %s failed: %v", e.Op, e.Err)
}

func (e *ServiceCallError) Unwrap() error {
	return e.Err
}
