package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Saifurrehman2094/labguard/internal/domain"
)

// DefaultCaptureTimeout bounds a single evidence capture attempt.
const DefaultCaptureTimeout = 10 * time.Second

// EvidenceCoordinator dispatches evidence capture for opened violations.
// Capture is fire-and-forget: the violation-open path is never delayed by
// capture latency, and the result is applied through a keyed store update
// so it lands correctly even if the violation has already closed.
type EvidenceCoordinator struct {
	capturer domain.EvidenceCapturer
	store    domain.EventStore
	timeout  time.Duration
	logger   *zap.Logger

	// onFailure lets the controller surface capture failures on its event
	// stream. Failures are isolated: the violation record stays valid.
	onFailure func(sessionID, violationID string, err error)

	wg sync.WaitGroup
}

// NewEvidenceCoordinator creates a coordinator. capturer may be nil, in
// which case Dispatch is a no-op (headless hosts).
func NewEvidenceCoordinator(capturer domain.EvidenceCapturer, store domain.EventStore, onFailure func(sessionID, violationID string, err error), logger *zap.Logger) *EvidenceCoordinator {
	return &EvidenceCoordinator{
		capturer:  capturer,
		store:     store,
		timeout:   DefaultCaptureTimeout,
		logger:    logger,
		onFailure: onFailure,
	}
}

// Dispatch starts one background capture attempt for an opened violation.
// At most one attempt per violation; no retries. The hint is the window
// title observed at open time.
func (c *EvidenceCoordinator) Dispatch(sessionID, violationID, hint string) {
	if c.capturer == nil {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.capture(sessionID, violationID, hint)
	}()
}

// Wait blocks until all dispatched captures have completed. Used by tests
// and final cleanup; the controller does not wait on it during Stop.
func (c *EvidenceCoordinator) Wait() {
	c.wg.Wait()
}

func (c *EvidenceCoordinator) capture(sessionID, violationID, hint string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	path, err := c.capturer.Capture(ctx, sessionID, violationID, hint)
	if err != nil {
		c.logger.Warn("evidence capture failed",
			zap.String("violation_id", violationID),
			zap.Error(err))
		if c.onFailure != nil {
			c.onFailure(sessionID, violationID, err)
		}
		return
	}

	if err := c.store.UpdateViolationEvidence(ctx, violationID, path, true); err != nil {
		c.logger.Warn("evidence update failed",
			zap.String("violation_id", violationID),
			zap.String("path", path),
			zap.Error(err))
		return
	}

	c.logger.Info("evidence captured",
		zap.String("violation_id", violationID),
		zap.String("path", path))
}
