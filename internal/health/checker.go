// Package health runs periodic full-chain verification and tracks whether
// the ledger is intact and reachable.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/WipeLedger/internal/certledger"
)

// State is the monitor's view of the ledger.
type State string

const (
	StateUnknown     State = "unknown"
	StateHealthy     State = "healthy"
	StateDegraded    State = "degraded"
	StateUnavailable State = "unavailable"
)

// Config holds integrity check configuration.
type Config struct {
	CheckInterval time.Duration
	CheckTimeout  time.Duration
	// FailThreshold is the number of consecutive storage errors before the
	// ledger is reported unavailable.
	FailThreshold int
}

// ChainVerifier walks the whole chain.
type ChainVerifier interface {
	VerifyAll(ctx context.Context) (*certledger.Report, error)
}

// MetricsRecordFunc is an optional callback for recording each report.
type MetricsRecordFunc func(r *certledger.Report)

// Status is the outcome of the most recent check.
type Status struct {
	State     State     `json:"state"`
	CheckedAt time.Time `json:"checked_at,omitempty"`
	Length    int       `json:"length"`
	Root      string    `json:"root,omitempty"`
	Breaks    []int64   `json:"breaks"`
	Error     string    `json:"error,omitempty"`
}

// Checker runs periodic integrity checks.
type Checker struct {
	verifier  ChainVerifier
	notifier  certledger.Notifier
	onMetrics MetricsRecordFunc
	cfg       Config
	logger    *zap.Logger

	mu        sync.RWMutex
	status    Status
	failCount int
}

// New creates a new Checker.
func New(verifier ChainVerifier, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 10 * time.Minute
	}
	if cfg.CheckTimeout == 0 {
		cfg.CheckTimeout = time.Minute
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	return &Checker{
		verifier: verifier,
		cfg:      cfg,
		logger:   logger,
		status:   Status{State: StateUnknown, Breaks: []int64{}},
	}
}

// SetNotifier configures where chain.broken and chain.restored events go.
func (h *Checker) SetNotifier(n certledger.Notifier) {
	h.notifier = n
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start runs the check loop until ctx is done.
func (h *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Check runs one full verification and returns the resulting status.
func (h *Checker) Check(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.CheckTimeout)
	defer cancel()

	report, err := h.verifier.VerifyAll(ctx)
	now := time.Now().UTC()

	h.mu.Lock()
	prev := h.status
	next := prev
	next.CheckedAt = now

	if err != nil {
		h.failCount++
		next.Error = err.Error()
		if h.failCount >= h.cfg.FailThreshold {
			next.State = StateUnavailable
		}
		h.status = next
		count := h.failCount
		h.mu.Unlock()

		h.logger.Error("health: chain verification failed",
			zap.Int("fail_count", count),
			zap.Error(err),
		)
		return next
	}

	h.failCount = 0
	next.Error = ""
	next.Length = report.Length
	next.Root = report.Root
	next.Breaks = report.Positions()
	if report.Valid {
		next.State = StateHealthy
	} else {
		next.State = StateDegraded
	}
	h.status = next
	h.mu.Unlock()

	if h.onMetrics != nil {
		h.onMetrics(report)
	}

	switch {
	case next.State == StateDegraded && prev.State != StateDegraded:
		// Transition: → degraded
		h.logger.Warn("health: chain degraded",
			zap.Int("length", report.Length),
			zap.Int64s("breaks", next.Breaks),
		)
		h.notify(ctx, certledger.EventChainBroken, report)
	case next.State == StateHealthy && prev.State == StateDegraded:
		// Transition: degraded → healthy
		h.logger.Info("health: chain recovered", zap.Int("length", report.Length))
		h.notify(ctx, certledger.EventChainRestored, report)
	}
	return next
}

// Status returns the most recent status.
func (h *Checker) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := h.status
	s.Breaks = append(make([]int64, 0, len(h.status.Breaks)), h.status.Breaks...)
	return s
}

// Ready reports whether the ledger has been checked and its storage is
// reachable. A degraded chain is still ready: reads stay useful to auditors.
func (h *Checker) Ready() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status.State == StateHealthy || h.status.State == StateDegraded
}

func (h *Checker) notify(ctx context.Context, typ certledger.EventType, r *certledger.Report) {
	if h.notifier == nil {
		return
	}
	ev := certledger.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Position:  -1,
		ChainLink: r.Root,
		At:        time.Now().UTC(),
	}
	if len(r.Breaks) > 0 {
		ev.CertificateID = r.Breaks[0].CertificateID
		ev.Position = r.Breaks[0].Position
	}
	h.notifier.Notify(ctx, ev)
}
