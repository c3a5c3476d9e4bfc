package monitor

import (
	"time"

	"github.com/google/uuid"

	"github.com/Saifurrehman2094/labguard/internal/domain"
)

// Transition is the outcome of feeding one classified sample to the
// tracker. When both fields are set (focus hopped straight from one
// disallowed app to another) the close precedes the open.
type Transition struct {
	Closed *domain.Violation
	Opened *domain.Violation
}

// ViolationTracker is the violation state machine. It holds at most one
// open violation - the single *Violation field makes two simultaneous open
// violations unrepresentable.
type ViolationTracker struct {
	open *domain.Violation

	now   func() time.Time
	newID func() string
}

// NewViolationTracker creates a tracker in the clear state.
func NewViolationTracker() *ViolationTracker {
	return &ViolationTracker{
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Open returns the currently open violation, or nil when clear.
func (t *ViolationTracker) Open() *domain.Violation {
	return t.open
}

// OnSample advances the state machine with the current foreground sample
// and its classification outcome:
//
//	clear + disallowed            -> open
//	open  + allowed               -> close
//	open  + disallowed, same PID  -> no-op (same ongoing violation)
//	open  + disallowed, other app -> close, then open for the new app
//	clear + allowed               -> no-op
func (t *ViolationTracker) OnSample(sessionID string, curr domain.ApplicationIdentity, allowed bool) Transition {
	var tr Transition

	if t.open != nil {
		if !allowed && curr.ProcessID == t.open.ProcessID {
			return tr
		}
		tr.Closed = t.close()
	}

	if !allowed {
		tr.Opened = t.openViolation(sessionID, curr)
	}

	return tr
}

// ForceClose closes any open violation regardless of current focus. Used on
// session stop so no violation is left open in storage. Returns the closed
// violation, or nil when the tracker was already clear.
func (t *ViolationTracker) ForceClose() *domain.Violation {
	if t.open == nil {
		return nil
	}
	return t.close()
}

func (t *ViolationTracker) openViolation(sessionID string, curr domain.ApplicationIdentity) *domain.Violation {
	t.open = &domain.Violation{
		ViolationID:     t.newID(),
		SessionID:       sessionID,
		ApplicationName: curr.Name,
		WindowTitle:     curr.WindowTitle,
		ProcessID:       curr.ProcessID,
		ExecutablePath:  curr.ExecutablePath,
		StartedAt:       t.now(),
	}
	return t.open
}

func (t *ViolationTracker) close() *domain.Violation {
	v := t.open
	ended := t.now()
	v.EndedAt = &ended
	v.DurationMs = ended.Sub(v.StartedAt).Milliseconds()
	t.open = nil
	return v
}
