// Package domain contains core business entities and collaborator interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// ApplicationIdentity describes the application holding foreground focus
// at the moment of a single probe sample. It is ephemeral: produced each
// poll tick and never persisted directly.
type ApplicationIdentity struct {
	Name           string
	WindowTitle    string
	ProcessID      int32
	ExecutablePath string // empty when the OS would not reveal it
	NormalizedName string // Name lowercased with non-alphanumerics stripped
}

// IsEmpty reports whether the sample represents "no foreground app"
// (desktop, lock screen, or nothing focused). Empty identities are always
// treated as allowed.
func (a ApplicationIdentity) IsEmpty() bool {
	return a.Name == ""
}

// SameApplication reports whether two samples refer to the same running
// application instance. Either a name or a PID change counts as a switch.
func (a ApplicationIdentity) SameApplication(other ApplicationIdentity) bool {
	return a.NormalizedName == other.NormalizedName && a.ProcessID == other.ProcessID
}

// AllowList is the ordered set of proctor-supplied application
// entries. Entries are kept verbatim for display; normalization happens
// at comparison time. An empty list allows nothing (fail closed).
type AllowList []string

// SessionParams are the caller-supplied inputs to start monitoring.
// The Session Registry collaborator produces these.
type SessionParams struct {
	SessionID    string
	SubjectID    string
	DeviceID     string
	AllowList    AllowList
	PollInterval time.Duration
}

// MonitoringSession is the single active session owned by the controller.
// Exactly one may exist per controller instance at any time.
type MonitoringSession struct {
	SessionID    string
	SubjectID    string
	DeviceID     string
	AllowList    AllowList
	StartedAt    time.Time
	PollInterval time.Duration
}

// Violation records one continuous excursion of focus to a disallowed
// application. Open while EndedAt is nil; closed (and handed to the event
// store) once focus leaves. Evidence fields are filled by an independent
// keyed update and may land after the close.
type Violation struct {
	ViolationID      string
	SessionID        string
	ApplicationName  string
	WindowTitle      string
	ProcessID        int32
	ExecutablePath   string
	StartedAt        time.Time
	EndedAt          *time.Time
	DurationMs       int64
	EvidencePath     string
	EvidenceCaptured bool
}

// IsOpen reports whether the violation has not yet been closed.
func (v *Violation) IsOpen() bool {
	return v.EndedAt == nil
}

// EventType identifies a monitoring lifecycle event variant.
type EventType string

const (
	EventSessionStart       EventType = "sessionStart"
	EventSessionEnd         EventType = "sessionEnd"
	EventApplicationChanged EventType = "applicationChanged"
	EventViolationOpened    EventType = "violationOpened"
	EventViolationClosed    EventType = "violationClosed"
	EventProbeError         EventType = "probeError"
)

// MonitoringEvent is one entry of the append-only audit trail. Events are
// never mutated after write; duplicate appends of the same EventID must be
// harmless (idempotent upsert in the store).
type MonitoringEvent struct {
	EventID   string
	SessionID string
	Type      EventType
	Timestamp time.Time

	// Variant payloads; exactly the fields relevant to Type are set.
	Violation *Violation           // violationOpened / violationClosed
	Identity  *ApplicationIdentity // applicationChanged
	Message   string               // probeError, sessionEnd reason
}

// SessionStatus is the controller's externally visible state snapshot.
type SessionStatus struct {
	Active        bool
	SessionID     string
	StartedAt     time.Time
	OpenViolation *Violation
	ErrorCount    int
}
