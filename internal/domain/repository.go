package domain

import "context"

// ForegroundProbe samples the application currently holding foreground
// focus. "No window focused" is a valid empty identity, not an error.
// Implementation: platform-specific (osascript on macOS, xprop on X11),
// with process details resolved via gopsutil.
type ForegroundProbe interface {
	// Sample returns the current foreground application, or a *ProbeError.
	Sample() (ApplicationIdentity, error)
}

// ProcessResolver turns a PID into process identity details.
// Implementation: gopsutil for cross-platform support.
type ProcessResolver interface {
	// Resolve returns the process name and executable path for a PID.
	// ExecutablePath may be empty when the OS denies access.
	Resolve(pid int32) (name string, executablePath string, err error)

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int32) bool
}

// EventStore durably persists the monitoring audit trail.
// Writes must be idempotent: appending the same event id twice is a no-op.
// Store failures are logged by the controller but never halt monitoring.
type EventStore interface {
	// Append persists one lifecycle event. Violation-carrying events also
	// upsert the derived violations row keyed by violation id.
	Append(ctx context.Context, event MonitoringEvent) error

	// UpdateViolationEvidence records the evidence capture outcome for a
	// violation, keyed by id. Valid whether the violation is open or closed.
	UpdateViolationEvidence(ctx context.Context, violationID, path string, captured bool) error

	// ListEvents returns the events of a session in append order.
	ListEvents(ctx context.Context, sessionID string) ([]MonitoringEvent, error)

	// ListViolations returns the session's violations ordered by start time.
	ListViolations(ctx context.Context, sessionID string) ([]Violation, error)

	// Close releases the underlying database connection.
	Close() error
}

// KeyProvider abstracts the source of the event store encryption key.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// EvidenceCapturer attempts to produce an image artifact for a violation.
// The core treats the mechanism as opaque and calls it at most once per
// violation, from a background goroutine.
type EvidenceCapturer interface {
	// Capture produces an artifact and returns its path, or a *CaptureError.
	Capture(ctx context.Context, sessionID, violationID, hint string) (string, error)
}
