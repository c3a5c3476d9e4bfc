// Package monitor implements the monitoring coordination core: the polling
// loop, the violation state machine, evidence dispatch, and the controller
// that wires them to the event store.
package monitor

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Saifurrehman2094/labguard/internal/domain"
)

const (
	// DefaultPollInterval is how often the foreground probe is sampled.
	DefaultPollInterval = time.Second

	// MinPollInterval bounds CPU usage; lower requested intervals are clamped.
	MinPollInterval = 100 * time.Millisecond
)

// PollerCallbacks are invoked from the poller's own goroutine, strictly
// serialized with sampling: the next tick is not scheduled until the
// callback chain returns.
type PollerCallbacks struct {
	// OnSample fires when the foreground identity changed since the last
	// successful sample (normalized name or PID differs).
	OnSample func(prev, curr domain.ApplicationIdentity)

	// OnSuccess fires on every successful sample, changed or not.
	OnSuccess func()

	// OnError fires on a transient probe failure. The previous sample is
	// kept unchanged: a failed probe is not a transition.
	OnError func(err error)
}

// Poller drives the foreground probe on a fixed-delay timer. Fixed delay,
// not fixed rate: each tick is scheduled only after the previous sample and
// its callbacks complete, so ticks never overlap.
type Poller struct {
	probe     domain.ForegroundProbe
	interval  time.Duration
	callbacks PollerCallbacks
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	last    domain.ApplicationIdentity
	sampled bool
}

// NewPoller creates an idle poller. The interval is clamped to
// MinPollInterval; zero or negative means DefaultPollInterval.
func NewPoller(probe domain.ForegroundProbe, interval time.Duration, callbacks PollerCallbacks, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if interval < MinPollInterval {
		interval = MinPollInterval
	}
	return &Poller{
		probe:     probe,
		interval:  interval,
		callbacks: callbacks,
		logger:    logger,
	}
}

// Interval returns the effective (clamped) poll interval.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Start begins polling. Starting an already-running poller is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go p.run(p.stopCh, p.doneCh)
}

// Stop cancels the pending timer and waits for an in-flight tick (if any)
// to finish its full callback chain. Idempotent: stopping an idle poller
// is a no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	done := p.doneCh
	p.mu.Unlock()

	<-done
}

// Current returns the most recent successful sample, if any.
func (p *Poller) Current() (domain.ApplicationIdentity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.sampled
}

func (p *Poller) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-timer.C:
			p.tick()
			timer.Reset(p.interval)
		}
	}
}

func (p *Poller) tick() {
	curr, err := p.probe.Sample()
	if err != nil {
		p.logger.Debug("probe sample failed", zap.Error(err))
		if p.callbacks.OnError != nil {
			p.callbacks.OnError(err)
		}
		return
	}

	p.mu.Lock()
	prev := p.last
	changed := !curr.SameApplication(prev)
	p.last = curr
	p.sampled = true
	p.mu.Unlock()

	if p.callbacks.OnSuccess != nil {
		p.callbacks.OnSuccess()
	}
	if changed && p.callbacks.OnSample != nil {
		p.callbacks.OnSample(prev, curr)
	}
}
