// Package estimator decides when the vehicle's state estimator has settled
// on a position after a reset.
package estimator

import "fmt"

const (
	DefaultWindowSize = 10
	DefaultThreshold  = 0.001

	// DefaultSentinel seeds the windows so that convergence cannot be claimed
	// before a full window of real samples has been observed
	DefaultSentinel = 1000.0
)

// Phase is the state of a single position fix cycle
type Phase int

const (
	PhaseResetting Phase = iota // Reset command issued, waiting for the estimator to settle
	PhaseSampling               // Collecting variance samples
	PhaseConverged              // Variance is stable, position read-outs can be trusted
)

func (p Phase) String() string {
	switch p {
	case PhaseResetting:
		return "resetting"
	case PhaseSampling:
		return "sampling"
	case PhaseConverged:
		return "converged"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// WithWindowSize sets the number of samples per axis window
func WithWindowSize(size int) func(*Monitor) {
	return func(m *Monitor) {
		m.size = size
	}
}

// WithThreshold sets the maximum spread of a window considered converged
func WithThreshold(threshold float64) func(*Monitor) {
	return func(m *Monitor) {
		m.threshold = threshold
	}
}

// WithSentinel sets the value windows are seeded with on reset
func WithSentinel(sentinel float64) func(*Monitor) {
	return func(m *Monitor) {
		m.sentinel = sentinel
	}
}

// Monitor tracks the position variance of the three spatial axes over a
// sliding window. It is converged once the spread (max - min) of every axis
// window is below the threshold. Monitor is not safe for concurrent use.
type Monitor struct {
	size      int
	threshold float64
	sentinel  float64

	axes    [3]window
	samples int
}

// NewMonitor creates a new Monitor with its windows seeded
func NewMonitor(options ...func(*Monitor)) *Monitor {
	m := Monitor{
		size:      DefaultWindowSize,
		threshold: DefaultThreshold,
		sentinel:  DefaultSentinel,
	}

	for _, option := range options {
		option(&m)
	}

	if m.size <= 0 {
		m.size = DefaultWindowSize
	}

	m.Reset()
	return &m
}

// Reset refills every window with the sentinel value and clears the sample
// counter. It must be called on every estimator reset.
func (m *Monitor) Reset() {
	for i := range m.axes {
		m.axes[i] = newWindow(m.size, m.sentinel)
	}
	m.samples = 0
}

// Observe admits one variance sample per axis, evicting the oldest ones
func (m *Monitor) Observe(varX, varY, varZ float64) {
	m.axes[0].push(varX)
	m.axes[1].push(varY)
	m.axes[2].push(varZ)
	m.samples++
}

// IsConverged reports whether the spread of every axis window is below the
// threshold. A window still holding sentinel slots never converges.
func (m *Monitor) IsConverged() bool {
	if m.samples < m.size {
		return false
	}
	for i := range m.axes {
		if m.axes[i].spread() >= m.threshold {
			return false
		}
	}
	return true
}

// Spread returns the current max - min of the x, y and z windows
func (m *Monitor) Spread() (x, y, z float64) {
	return m.axes[0].spread(), m.axes[1].spread(), m.axes[2].spread()
}

// Samples returns the number of samples observed since the last reset
func (m *Monitor) Samples() int {
	return m.samples
}

// window is a fixed size FIFO ring of samples
type window struct {
	values []float64
	next   int
}

func newWindow(size int, fill float64) window {
	values := make([]float64, size)
	for i := range values {
		values[i] = fill
	}
	return window{values: values}
}

func (w *window) push(v float64) {
	w.values[w.next] = v
	w.next = (w.next + 1) % len(w.values)
}

func (w *window) spread() float64 {
	lo, hi := w.values[0], w.values[0]
	for _, v := range w.values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return hi - lo
}
