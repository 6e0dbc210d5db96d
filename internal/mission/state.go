package mission

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Flag is a single boolean of the shared mission state
type Flag int

const (
	FlagConnected Flag = iota
	FlagScanOnDemand
	FlagScanning
	FlagPositionEstimated
	FlagInitialXAcked
	FlagInitialYAcked
	FlagInitialZAcked
	FlagInitialYawAcked

	flagCount
)

func (f Flag) String() string {
	switch f {
	case FlagConnected:
		return "connected"
	case FlagScanOnDemand:
		return "scanOnDemand"
	case FlagScanning:
		return "scanning"
	case FlagPositionEstimated:
		return "positionEstimated"
	case FlagInitialXAcked:
		return "initialX"
	case FlagInitialYAcked:
		return "initialY"
	case FlagInitialZAcked:
		return "initialZ"
	case FlagInitialYawAcked:
		return "initialYaw"
	default:
		return fmt.Sprintf("flag(%d)", int(f))
	}
}

// State holds the flags shared between the parameter update notifications,
// which write them, and the sequencer, which only reads them. Every write
// wakes up all goroutines waiting on Changed. Readers must re-read a flag
// every time they need it instead of caching an observed value.
type State struct {
	flags     [flagCount]atomic.Bool
	scanCount atomic.Uint64

	mu      sync.Mutex
	changed chan struct{}
}

// NewState creates a State with every flag cleared
func NewState() *State {
	return &State{changed: make(chan struct{})}
}

// Get returns the current value of f
func (s *State) Get(f Flag) bool {
	return s.flags[f].Load()
}

// Set stores v into f and wakes up waiters
func (s *State) Set(f Flag, v bool) {
	s.flags[f].Store(v)
	if f == FlagScanning && v {
		s.scanCount.Add(1)
	}
	s.broadcast()
}

// ScanCount returns how many times scanning was reported as started. It lets
// a waiter tell a fresh scan apart from one that never started.
func (s *State) ScanCount() uint64 {
	return s.scanCount.Load()
}

// InitialPositionAcked reports whether every initial position register was confirmed
func (s *State) InitialPositionAcked() bool {
	return s.Get(FlagInitialXAcked) && s.Get(FlagInitialYAcked) &&
		s.Get(FlagInitialZAcked) && s.Get(FlagInitialYawAcked)
}

// ResetInitialPositionAcks clears the acknowledgement flags before new values are pushed
func (s *State) ResetInitialPositionAcks() {
	for _, f := range []Flag{FlagInitialXAcked, FlagInitialYAcked, FlagInitialZAcked, FlagInitialYawAcked} {
		s.flags[f].Store(false)
	}
	s.broadcast()
}

// Changed returns a channel that is closed on the next write. Obtain the
// channel before evaluating the condition being waited for.
func (s *State) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// Wait blocks until pred holds. pred is re-evaluated on every write and on
// every poll tick, so a missed notification only delays the wake-up. A zero
// timeout waits until ctx is done, otherwise the returned error wraps
// ErrWaitTimeout once the timeout elapses.
func (s *State) Wait(ctx context.Context, pred func() bool, poll, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, timeout, fmt.Errorf("%w after %s", ErrWaitTimeout, timeout))
		defer cancel()
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		changed := s.Changed()
		if pred() {
			return nil
		}

		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-changed:
		case <-ticker.C:
		}
	}
}

func (s *State) broadcast() {
	s.mu.Lock()
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

// Snapshot returns the value of every flag by name, for logging
func (s *State) Snapshot() map[string]bool {
	out := make(map[string]bool, flagCount)
	for f := Flag(0); f < flagCount; f++ {
		out[f.String()] = s.Get(f)
	}
	return out
}
