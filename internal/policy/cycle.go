package policy

import (
	"context"
	"sync"
	"time"

	"github.com/Rogers-F/turngov/internal/domain"
)

// DefaultCycleRetention is how long a completed cycle stays readable.
const DefaultCycleRetention = 5 * time.Minute

// DefaultCycleIdleTimeout is how long an unfinished cycle may go without a
// recorded step before it is abandoned.
const DefaultCycleIdleTimeout = 30 * time.Minute

type cycleEntry struct {
	state     domain.CycleState
	expiresAt time.Time
}

// CycleOption configures a CycleTracker.
type CycleOption func(*CycleTracker)

// WithCycleIdleTimeout sets how long a pending or in-progress cycle lives
// after its last step. Non-positive values keep the default.
func WithCycleIdleTimeout(d time.Duration) CycleOption {
	return func(t *CycleTracker) {
		if d > 0 {
			t.idle = d
		}
	}
}

// CycleTracker holds the compliance cycle of each gated operation, keyed by
// operation id. Completed cycles expire after the retention window and
// unfinished ones after the idle timeout; expiry is checked on access and
// by Sweep, never by per-entry timers.
type CycleTracker struct {
	mu        sync.Mutex
	entries   map[string]*cycleEntry
	retention time.Duration
	idle      time.Duration
	now       func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCycleTracker creates a tracker. A zero retention uses the default and
// a nil clock uses time.Now.
func NewCycleTracker(retention time.Duration, now func() time.Time, opts ...CycleOption) *CycleTracker {
	if retention <= 0 {
		retention = DefaultCycleRetention
	}
	if now == nil {
		now = time.Now
	}
	t := &CycleTracker{
		entries:   make(map[string]*cycleEntry),
		retention: retention,
		idle:      DefaultCycleIdleTimeout,
		now:       now,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Init registers a new pending cycle.
func (t *CycleTracker) Init(state domain.CycleState) {
	state.Status = domain.CyclePending
	if state.CompletedSteps == nil {
		state.CompletedSteps = []domain.CompletedStep{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[state.OperationID] = &cycleEntry{state: state, expiresAt: t.now().Add(t.idle)}
}

// Get returns a copy of the cycle for operationID.
func (t *CycleTracker) Get(operationID string) (domain.CycleState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.lookup(operationID)
	if !ok {
		return domain.CycleState{}, false
	}
	return copyState(e.state), true
}

// RecordStep appends step to the cycle and restarts its idle timeout. It
// returns false without error when the step is not required or already
// recorded.
func (t *CycleTracker) RecordStep(operationID string, step domain.CycleStep, at time.Time) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.lookup(operationID)
	if !ok {
		return false, notFound(operationID)
	}
	if e.state.Status != domain.CycleCompleted {
		e.expiresAt = t.now().Add(t.idle)
	}
	if !containsStep(e.state.RequiredSteps, step) {
		return false, nil
	}
	for _, done := range e.state.CompletedSteps {
		if done.Name == step {
			return false, nil
		}
	}
	e.state.CompletedSteps = append(e.state.CompletedSteps, domain.CompletedStep{
		ID:        step.Number(),
		Name:      step,
		Timestamp: at,
	})
	e.state.Status = domain.CycleInProgress
	return true, nil
}

// Complete marks the cycle completed and starts its retention window.
func (t *CycleTracker) Complete(operationID string) (domain.CycleState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.lookup(operationID)
	if !ok {
		return domain.CycleState{}, notFound(operationID)
	}
	e.state.Status = domain.CycleCompleted
	e.expiresAt = t.now().Add(t.retention)
	return copyState(e.state), nil
}

// Sweep drops every completed cycle past its retention and every unfinished
// cycle past its idle timeout, and returns the number removed.
func (t *CycleTracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, e := range t.entries {
		if expired(e, now) {
			delete(t.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of cycles held, expired ones included until swept.
func (t *CycleTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// StartSweeper spawns a goroutine that sweeps expired cycles every interval.
func (t *CycleTracker) StartSweeper(ctx context.Context, interval time.Duration, onSweep func(removed int)) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-t.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				n := t.Sweep(t.now())
				if onSweep != nil {
					onSweep(n)
				}
			}
		}
	}()
}

// Stop signals the sweeper to exit. Safe to call multiple times.
func (t *CycleTracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

// lookup returns a live entry, dropping it if expired. Callers hold mu.
func (t *CycleTracker) lookup(operationID string) (*cycleEntry, bool) {
	e, ok := t.entries[operationID]
	if !ok {
		return nil, false
	}
	if expired(e, t.now()) {
		delete(t.entries, operationID)
		return nil, false
	}
	return e, true
}

func expired(e *cycleEntry, now time.Time) bool {
	return !now.Before(e.expiresAt)
}

func copyState(s domain.CycleState) domain.CycleState {
	s.RequiredSteps = append([]domain.CycleStep{}, s.RequiredSteps...)
	s.CompletedSteps = append([]domain.CompletedStep{}, s.CompletedSteps...)
	return s
}

func containsStep(steps []domain.CycleStep, s domain.CycleStep) bool {
	for _, v := range steps {
		if v == s {
			return true
		}
	}
	return false
}

func notFound(operationID string) error {
	return domain.NewEngineError(domain.ErrCycleNotFound.Code, "No cycle state found for operation "+operationID)
}
