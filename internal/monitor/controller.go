package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Saifurrehman2094/labguard/internal/classify"
	"github.com/Saifurrehman2094/labguard/internal/domain"
)

// ControllerConfig holds controller tuning knobs.
type ControllerConfig struct {
	// ErrorThreshold is the number of consecutive probe errors tolerated
	// before the controller aborts the session.
	ErrorThreshold int

	// EventBuffer is the capacity of the published event channel. Sends
	// never block the tick path; overflow is counted and logged.
	EventBuffer int
}

// DefaultControllerConfig returns default controller configuration.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		ErrorThreshold: 3,
		EventBuffer:    256,
	}
}

// Controller is the top-level orchestrator. It owns at most one monitoring
// session at a time (session == nil means idle), wires the polling loop
// through the classifier into the violation tracker, persists lifecycle
// events, dispatches evidence capture, and applies the error-recovery
// policy.
//
// Construct one Controller per host process and pass it to callers
// explicitly; there is no package-level instance.
type Controller struct {
	config   ControllerConfig
	probe    domain.ForegroundProbe
	store    domain.EventStore
	evidence *EvidenceCoordinator
	logger   *zap.Logger

	events  chan domain.MonitoringEvent
	dropped int64

	mu                sync.Mutex
	session           *domain.MonitoringSession
	poller            *Poller
	tracker           *ViolationTracker
	consecutiveErrors int
	stopping          bool
}

// NewController creates an idle controller. capturer may be nil to disable
// evidence capture.
func NewController(config ControllerConfig, probe domain.ForegroundProbe, store domain.EventStore, capturer domain.EvidenceCapturer, logger *zap.Logger) *Controller {
	if config.ErrorThreshold <= 0 {
		config.ErrorThreshold = DefaultControllerConfig().ErrorThreshold
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = DefaultControllerConfig().EventBuffer
	}

	c := &Controller{
		config: config,
		probe:  probe,
		store:  store,
		logger: logger,
		events: make(chan domain.MonitoringEvent, config.EventBuffer),
	}
	c.evidence = NewEvidenceCoordinator(capturer, store, c.captureFailed, logger)
	return c
}

// Events returns the channel on which lifecycle events are published, in
// order per session. External layers (UI, reporting) subscribe here;
// persistence does not depend on it.
func (c *Controller) Events() <-chan domain.MonitoringEvent {
	return c.events
}

// Start begins monitoring a session. It fails with ErrSessionActive when a
// session is already running, and with *ProbeInitError when the probe is
// unusable on this host (the session never starts).
func (c *Controller) Start(params domain.SessionParams) error {
	if params.SessionID == "" {
		return fmt.Errorf("session id is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil || c.stopping {
		return domain.ErrSessionActive
	}

	// Probe health check before committing to the session. An unsupported
	// or broken probe fails loudly here rather than silently mid-session.
	if _, err := c.probe.Sample(); err != nil {
		return &domain.ProbeInitError{Err: err}
	}

	session := &domain.MonitoringSession{
		SessionID:    params.SessionID,
		SubjectID:    params.SubjectID,
		DeviceID:     params.DeviceID,
		AllowList:    params.AllowList,
		StartedAt:    time.Now(),
		PollInterval: params.PollInterval,
	}

	c.session = session
	c.tracker = NewViolationTracker()
	c.consecutiveErrors = 0
	c.poller = NewPoller(c.probe, params.PollInterval, PollerCallbacks{
		OnSample:  c.handleSample,
		OnSuccess: c.handleSuccess,
		OnError:   c.handleProbeError,
	}, c.logger)
	session.PollInterval = c.poller.Interval()

	c.emitLocked(domain.MonitoringEvent{
		EventID:   uuid.NewString(),
		SessionID: session.SessionID,
		Type:      domain.EventSessionStart,
		Timestamp: session.StartedAt,
	})

	c.poller.Start()

	c.logger.Info("monitoring started",
		zap.String("session_id", session.SessionID),
		zap.String("subject_id", session.SubjectID),
		zap.String("device_id", session.DeviceID),
		zap.Duration("poll_interval", session.PollInterval),
		zap.Int("allow_list_size", len(session.AllowList)))

	return nil
}

// Stop ends the active session: stops the polling loop, waits for any
// in-flight tick, force-closes an open violation, records sessionEnd, and
// clears session state. Returns ErrNoActiveSession when idle.
func (c *Controller) Stop() error {
	return c.shutdown("stopped", false)
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() domain.SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := domain.SessionStatus{}
	if c.session == nil {
		return status
	}

	status.ErrorCount = c.consecutiveErrors
	status.Active = true
	status.SessionID = c.session.SessionID
	status.StartedAt = c.session.StartedAt
	if c.tracker != nil {
		if open := c.tracker.Open(); open != nil {
			copied := *open
			status.OpenViolation = &copied
		}
	}
	return status
}

// UpdateAllowList replaces the active session's allow list and immediately
// re-classifies the current foreground app, so a newly disallowed app in
// focus is flagged without waiting for the next transition.
func (c *Controller) UpdateAllowList(newList domain.AllowList) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil || c.stopping {
		return domain.ErrNoActiveSession
	}

	c.session.AllowList = newList
	c.logger.Info("allow list updated",
		zap.String("session_id", c.session.SessionID),
		zap.Int("entries", len(newList)))

	if curr, ok := c.poller.Current(); ok {
		c.applySampleLocked(curr)
	}
	return nil
}

// DroppedEvents reports how many events overflowed the subscriber channel.
func (c *Controller) DroppedEvents() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// handleSample runs on the poller goroutine when focus moved to a
// different application.
func (c *Controller) handleSample(prev, curr domain.ApplicationIdentity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil || c.stopping {
		return
	}

	identity := curr
	c.emitLocked(domain.MonitoringEvent{
		EventID:   uuid.NewString(),
		SessionID: c.session.SessionID,
		Type:      domain.EventApplicationChanged,
		Timestamp: time.Now(),
		Identity:  &identity,
	})

	c.applySampleLocked(curr)
}

// applySampleLocked classifies a sample and advances the violation state
// machine, emitting close before open when both happen in one tick.
// Callers must hold c.mu.
func (c *Controller) applySampleLocked(curr domain.ApplicationIdentity) {
	decision := classify.Classify(curr, c.session.AllowList)

	c.logger.Debug("classified foreground app",
		zap.String("app", curr.Name),
		zap.Bool("allowed", decision.Allowed),
		zap.String("match_type", string(decision.MatchType)),
		zap.String("matched_entry", decision.MatchedEntry))

	tr := c.tracker.OnSample(c.session.SessionID, curr, decision.Allowed)

	if tr.Closed != nil {
		c.emitViolationLocked(domain.EventViolationClosed, tr.Closed)
	}
	if tr.Opened != nil {
		c.emitViolationLocked(domain.EventViolationOpened, tr.Opened)
		c.evidence.Dispatch(c.session.SessionID, tr.Opened.ViolationID, tr.Opened.WindowTitle)
	}
}

// handleSuccess resets the consecutive-error counter: transient errors are
// distinguished from persistent failure.
func (c *Controller) handleSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.consecutiveErrors > 0 {
		c.logger.Info("probe recovered",
			zap.Int("errors_before_recovery", c.consecutiveErrors))
		c.consecutiveErrors = 0
	}
}

// handleProbeError counts consecutive probe failures and aborts the
// session at the configured threshold. Below it, monitoring continues
// uninterrupted and no violation state is lost.
func (c *Controller) handleProbeError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil || c.stopping {
		return
	}

	c.consecutiveErrors++
	c.logger.Warn("probe error",
		zap.Int("consecutive", c.consecutiveErrors),
		zap.Error(err))

	c.emitLocked(domain.MonitoringEvent{
		EventID:   uuid.NewString(),
		SessionID: c.session.SessionID,
		Type:      domain.EventProbeError,
		Timestamp: time.Now(),
		Message:   err.Error(),
	})

	if c.consecutiveErrors >= c.config.ErrorThreshold {
		reason := fmt.Sprintf("probe failure threshold exceeded (%d consecutive errors)", c.consecutiveErrors)
		c.logger.Error("aborting session", zap.String("reason", reason))
		// Shutdown must not run on the tick goroutine: stopping the
		// poller waits for the in-flight tick to finish.
		go func() {
			if err := c.shutdown(reason, true); err != nil {
				c.logger.Debug("session already shut down", zap.Error(err))
			}
		}()
	}
}

// captureFailed surfaces an evidence capture failure on the event stream.
// The violation record stays valid with EvidenceCaptured=false.
func (c *Controller) captureFailed(sessionID, violationID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.emitLocked(domain.MonitoringEvent{
		EventID:   uuid.NewString(),
		SessionID: sessionID,
		Type:      domain.EventProbeError,
		Timestamp: time.Now(),
		Message:   fmt.Sprintf("evidence capture failed for violation %s: %v", violationID, err),
	})
}

// shutdown stops the polling loop, force-closes any open violation, and
// records sessionEnd. Cleanup always runs to completion; intermediate
// errors are logged, never re-open the session.
func (c *Controller) shutdown(reason string, fatal bool) error {
	c.mu.Lock()
	if c.session == nil || c.stopping {
		c.mu.Unlock()
		return domain.ErrNoActiveSession
	}
	c.stopping = true
	poller := c.poller
	c.mu.Unlock()

	// Waits for the in-flight tick, so the force-close below can never
	// race an in-progress open.
	poller.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	session := c.session

	if closed := c.tracker.ForceClose(); closed != nil {
		c.emitViolationLocked(domain.EventViolationClosed, closed)
	}

	c.emitLocked(domain.MonitoringEvent{
		EventID:   uuid.NewString(),
		SessionID: session.SessionID,
		Type:      domain.EventSessionEnd,
		Timestamp: time.Now(),
		Message:   reason,
	})

	c.session = nil
	c.poller = nil
	c.tracker = nil
	c.consecutiveErrors = 0
	c.stopping = false

	if fatal {
		c.logger.Error("monitoring aborted",
			zap.String("session_id", session.SessionID),
			zap.String("reason", reason))
	} else {
		c.logger.Info("monitoring stopped",
			zap.String("session_id", session.SessionID))
	}
	return nil
}

// emitViolationLocked persists and publishes a violation lifecycle event
// with a defensive copy of the violation. Callers must hold c.mu.
func (c *Controller) emitViolationLocked(eventType domain.EventType, v *domain.Violation) {
	copied := *v
	c.emitLocked(domain.MonitoringEvent{
		EventID:   uuid.NewString(),
		SessionID: v.SessionID,
		Type:      eventType,
		Timestamp: time.Now(),
		Violation: &copied,
	})
}

// emitLocked writes an event to the store and publishes it to subscribers.
// Store failures degrade to a log line: monitoring continuity takes
// priority over persistence confirmation, and close events carry full
// violation data so a lost open write heals on close.
func (c *Controller) emitLocked(event domain.MonitoringEvent) {
	if err := c.store.Append(context.Background(), event); err != nil {
		c.logger.Warn("event store write failed",
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}

	select {
	case c.events <- event:
	default:
		c.dropped++
		c.logger.Warn("event subscriber channel full, dropping event",
			zap.String("event_type", string(event.Type)),
			zap.Int64("dropped_total", c.dropped))
	}
}
