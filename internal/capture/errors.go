package capture

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrToolMissing is returned when the capture binary cannot be found on the host.
	ErrToolMissing = errors.New("capture tool not found")
	// ErrAlreadyCapturing is returned by StartCapture while a capture is running.
	ErrAlreadyCapturing = errors.New("capture already running")
)

// ToolInvocationError reports a capture tool run that exited abnormally.
type ToolInvocationError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolInvocationError) Error() string {
	msg := fmt.Sprintf("capture tool %q failed (exit %d)", strings.Join(e.Args, " "), e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ToolInvocationError) Unwrap() error {
	return e.Err
}
