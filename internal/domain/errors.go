package domain

import (
	"errors"
	"fmt"
)

// Caller-misuse sentinels. Returned, never panicked: the controller defends
// its single-session invariant even against misbehaving callers.
var (
	// ErrSessionActive is returned by Start when a session is already running.
	ErrSessionActive = errors.New("monitoring session already active")

	// ErrNoActiveSession is returned by Stop/UpdateAllowList with no session.
	ErrNoActiveSession = errors.New("no active monitoring session")
)

// ProbeErrorKind classifies transient foreground-probe failures.
type ProbeErrorKind string

const (
	ProbePermissionDenied ProbeErrorKind = "permission_denied"
	ProbeHandleInvalid    ProbeErrorKind = "handle_invalid"
	ProbeOSFailure        ProbeErrorKind = "os_failure"
	ProbeUnsupported      ProbeErrorKind = "unsupported"
)

// ProbeError is a transient failure of a single foreground sample.
// The probe never retries; retry policy belongs to the polling loop.
type ProbeError struct {
	Kind ProbeErrorKind
	Err  error
}

func (e *ProbeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("foreground probe failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("foreground probe failed (%s)", e.Kind)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// NewProbeError wraps an OS-level failure as a transient probe error.
func NewProbeError(kind ProbeErrorKind, err error) *ProbeError {
	return &ProbeError{Kind: kind, Err: err}
}

// ProbeInitError means the probe cannot be used at all on this host.
// Start fails immediately; the session never begins.
type ProbeInitError struct {
	Err error
}

func (e *ProbeInitError) Error() string {
	return fmt.Sprintf("foreground probe initialization failed: %v", e.Err)
}

func (e *ProbeInitError) Unwrap() error { return e.Err }

// CaptureError means an evidence capture attempt failed. The violation is
// still valid and persisted with EvidenceCaptured=false.
type CaptureError struct {
	ViolationID string
	Err         error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("evidence capture failed for violation %s: %v", e.ViolationID, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }
