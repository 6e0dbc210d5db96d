package estimator

import "testing"

func TestMonitor_ConvergesOnWindowFill(t *testing.T) {
	m := NewMonitor()

	for i := 1; i <= DefaultWindowSize; i++ {
		m.Observe(0, 0, 0)

		converged := m.IsConverged()
		if i < DefaultWindowSize && converged {
			t.Fatalf("Converged too early, after %d samples", i)
		}
		if i == DefaultWindowSize && !converged {
			t.Fatalf("Expected convergence after %d samples", i)
		}
	}

	if m.Samples() != DefaultWindowSize {
		t.Errorf("Expected %d samples, got %d", DefaultWindowSize, m.Samples())
	}
}

func TestMonitor_OscillatingNeverConverges(t *testing.T) {
	m := NewMonitor()

	for i := 0; i < 200; i++ {
		v := 0.01
		if i%2 == 0 {
			v = 0.01 + 2*DefaultThreshold
		}
		m.Observe(0.01, v, 0.01)

		if m.IsConverged() {
			t.Fatalf("Converged after %d oscillating samples", i+1)
		}
	}
}

func TestMonitor_SingleNoisyAxisBlocksConvergence(t *testing.T) {
	m := NewMonitor()

	for i := 0; i < DefaultWindowSize; i++ {
		m.Observe(0.002, 0.002, 0.002+float64(i)*0.0005)
	}
	if m.IsConverged() {
		t.Fatal("Expected no convergence while z spread is above threshold")
	}

	for i := 0; i < DefaultWindowSize; i++ {
		m.Observe(0.002, 0.002, 0.0021)
	}
	if !m.IsConverged() {
		x, y, z := m.Spread()
		t.Fatalf("Expected convergence once z settled, spread = %f %f %f", x, y, z)
	}
}

func TestMonitor_ResetDiscardsConvergedState(t *testing.T) {
	m := NewMonitor()
	for i := 0; i < DefaultWindowSize; i++ {
		m.Observe(0, 0, 0)
	}
	if !m.IsConverged() {
		t.Fatal("Expected convergence before reset")
	}

	m.Reset()

	if m.IsConverged() {
		t.Error("Expected no convergence right after reset")
	}
	if m.Samples() != 0 {
		t.Errorf("Expected sample counter to be cleared, got %d", m.Samples())
	}

	for i := 0; i < DefaultWindowSize-1; i++ {
		m.Observe(0, 0, 0)
	}
	if m.IsConverged() {
		t.Error("Expected a full window of fresh samples before converging again")
	}
}

func TestMonitor_Options(t *testing.T) {
	m := NewMonitor(WithWindowSize(3), WithThreshold(0.5), WithSentinel(10))

	m.Observe(1, 1, 1)
	m.Observe(1.2, 1.2, 1.2)
	if m.IsConverged() {
		t.Fatal("Expected sentinel to block convergence")
	}

	m.Observe(1.4, 1.4, 1.4)
	if !m.IsConverged() {
		t.Error("Expected convergence with spread 0.4 below threshold 0.5")
	}
}

func TestMonitor_SpreadExactlyAtThresholdIsNotConverged(t *testing.T) {
	m := NewMonitor(WithWindowSize(2), WithThreshold(0.5))

	m.Observe(0, 0, 0)
	m.Observe(0.5, 0, 0)

	if m.IsConverged() {
		t.Error("Expected spread equal to the threshold not to converge")
	}
}

func TestMonitor_PartialWindowIsNotConverged(t *testing.T) {
	tests := []struct {
		name    string
		options []func(*Monitor)
		samples int
	}{
		{"fresh default monitor", nil, 0},
		{"fresh small window", []func(*Monitor){WithWindowSize(3)}, 0},
		{"one short of a full window", []func(*Monitor){WithWindowSize(3)}, 2},
		{"fresh zero sentinel", []func(*Monitor){WithSentinel(0)}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(tt.options...)
			for i := 0; i < tt.samples; i++ {
				m.Observe(0, 0, 0)
			}

			if m.IsConverged() {
				t.Errorf("Expected no convergence after %d samples", tt.samples)
			}
		})
	}
}
