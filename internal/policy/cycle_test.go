package policy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rogers-F/turngov/internal/domain"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCycleRetention(t *testing.T) {
	clock := &manualClock{now: fixedNow}
	tr := NewCycleTracker(0, clock.Now)
	tr.Init(domain.CycleState{OperationID: "op-1", RequiredSteps: []domain.CycleStep{domain.StepExecute}})
	tr.Init(domain.CycleState{OperationID: "op-2"})

	_, err := tr.Complete("op-1")
	require.NoError(t, err)

	clock.Advance(DefaultCycleRetention - time.Second)
	_, ok := tr.Get("op-1")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = tr.Get("op-1")
	assert.False(t, ok)

	// pending cycles live until the idle timeout
	_, ok = tr.Get("op-2")
	assert.True(t, ok)
	assert.Equal(t, 1, tr.Len())
}

func TestCycleSweep(t *testing.T) {
	clock := &manualClock{now: fixedNow}
	tr := NewCycleTracker(time.Minute, clock.Now)
	for _, id := range []string{"a", "b", "c"} {
		tr.Init(domain.CycleState{OperationID: id})
	}
	_, _ = tr.Complete("a")
	_, _ = tr.Complete("b")

	assert.Equal(t, 0, tr.Sweep(fixedNow.Add(30*time.Second)))
	assert.Equal(t, 2, tr.Sweep(fixedNow.Add(time.Minute)))
	assert.Equal(t, 1, tr.Len())
}

func TestCycleIdleExpiry(t *testing.T) {
	clock := &manualClock{now: fixedNow}
	tr := NewCycleTracker(time.Minute, clock.Now, WithCycleIdleTimeout(10*time.Minute))
	steps := []domain.CycleStep{domain.StepBackup, domain.StepExecute}
	tr.Init(domain.CycleState{OperationID: "abandoned", RequiredSteps: steps})
	tr.Init(domain.CycleState{OperationID: "active", RequiredSteps: steps})

	clock.Advance(8 * time.Minute)
	recorded, err := tr.RecordStep("active", domain.StepBackup, clock.Now())
	require.NoError(t, err)
	assert.True(t, recorded)

	clock.Advance(3 * time.Minute)
	assert.Equal(t, 1, tr.Sweep(clock.Now()))
	_, ok := tr.Get("abandoned")
	assert.False(t, ok)
	s, ok := tr.Get("active")
	require.True(t, ok)
	assert.Equal(t, domain.CycleInProgress, s.Status)

	_, err = tr.RecordStep("abandoned", domain.StepBackup, clock.Now())
	assert.ErrorIs(t, err, domain.ErrCycleNotFound)

	clock.Advance(7 * time.Minute)
	assert.Equal(t, 1, tr.Sweep(clock.Now()))
	assert.Equal(t, 0, tr.Len())
}

func TestCycleSweeperStops(t *testing.T) {
	clock := &manualClock{now: fixedNow}
	tr := NewCycleTracker(time.Millisecond, clock.Now)
	tr.Init(domain.CycleState{OperationID: "a"})
	_, _ = tr.Complete("a")
	clock.Advance(time.Second)

	swept := make(chan int, 1)
	tr.StartSweeper(context.Background(), 5*time.Millisecond, func(n int) {
		select {
		case swept <- n:
		default:
		}
	})

	select {
	case n := <-swept:
		assert.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not run")
	}
	tr.Stop()
	tr.Stop()
	assert.Equal(t, 0, tr.Len())
}

func TestCycleGetReturnsCopy(t *testing.T) {
	tr := NewCycleTracker(0, nil)
	tr.Init(domain.CycleState{OperationID: "a", RequiredSteps: []domain.CycleStep{domain.StepBackup}})

	s, _ := tr.Get("a")
	s.RequiredSteps[0] = domain.StepCleanup

	s, _ = tr.Get("a")
	assert.Equal(t, domain.StepBackup, s.RequiredSteps[0])
}
