package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/roman-kulish/rem-builder/internal/rem"
)

func newTestStore(t *testing.T) *SqliteStore {
	t.Helper()

	s := NewSqliteStore(filepath.Join(t.TempDir(), "rem.db"))
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	})
	return s
}

func scanWindow(start time.Time, n int, pos rem.Position) []rem.Measurement {
	ms := make([]rem.Measurement, 0, n)
	for i := 0; i < n; i++ {
		ssid := "office"
		if i%2 == 1 {
			ssid = "guest"
		}
		ms = append(ms, rem.NewMeasurement(start, pos, ssid, -40-i%60, fmt.Sprintf("a0b1c2%06x", i), 1+i%13))
	}
	return ms
}

func TestSqliteStore_Sessions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	origin := map[string]float64{"x": 1, "y": 2, "z": 0, "yaw": 90}

	second, err := s.CreateSession(ctx, t0.Add(time.Hour), "radio://0/80/2M", nil)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	first, err := s.CreateSession(ctx, t0, "radio://0/80/2M", origin)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	sess, err := s.Session(ctx, first)
	if err != nil {
		t.Fatalf("Failed to load session: %v", err)
	}
	if !sess.StartTime.Equal(t0) {
		t.Errorf("Expected start time %s, got %s", t0, sess.StartTime)
	}
	if sess.Origin == nil || *sess.Origin != `{"x":1,"y":2,"yaw":90,"z":0}` {
		t.Errorf("Unexpected origin: %v", sess.Origin)
	}

	sessions, err := s.Sessions(ctx)
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != first || sessions[1].ID != second {
		t.Errorf("Expected sessions ordered by start time, got %d, %d", sessions[0].ID, sessions[1].ID)
	}
	if sessions[1].Origin != nil {
		t.Errorf("Expected no origin, got %q", *sessions[1].Origin)
	}

	if _, err = s.Session(ctx, 42); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Expected sql.ErrNoRows for a missing session, got %v", err)
	}
}

func TestSqliteStore_StoreAndReadMeasurements(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	id, err := s.CreateSession(ctx, t0, "radio://0/80/2M", nil)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	// larger than a single insert statement
	first := scanWindow(t0.Add(time.Minute), maxBatchSize*2+7, rem.Position{X: 1, Y: 2, Z: 0.5})
	second := scanWindow(t0.Add(2*time.Minute), 10, rem.Position{X: 2, Y: 2, Z: 0.5})

	if err = s.StoreMeasurements(ctx, id, first); err != nil {
		t.Fatalf("Failed to store measurements: %v", err)
	}
	if err = s.StoreMeasurements(ctx, id, second); err != nil {
		t.Fatalf("Failed to store measurements: %v", err)
	}
	if err = s.StoreMeasurements(ctx, id, nil); err != nil {
		t.Fatalf("Expected storing nothing to succeed: %v", err)
	}

	tests := []struct {
		name string
		opts []ReaderOption
		want int
	}{
		{"all", nil, len(first) + len(second)},
		{"time range", []ReaderOption{WithTimeRange(t0.Add(90*time.Second), t0.Add(time.Hour))}, len(second)},
		{"ssid", []ReaderOption{WithSSID("guest")}, len(first)/2 + len(second)/2},
		{"min rssi", []ReaderOption{WithMinRSSI(-41)}, countRSSI(first, -41) + countRSSI(second, -41)},
		{"unknown ssid", []ReaderOption{WithSSID("nope")}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := s.ReadMeasurements(ctx, id, tt.opts...)
			if err != nil {
				t.Fatalf("Failed to create reader: %v", err)
			}
			defer r.Close()

			if r.Session().ID != id {
				t.Errorf("Expected session %d, got %d", id, r.Session().ID)
			}

			var n int
			var last time.Time
			for r.Next(ctx) {
				m := r.Current()
				if m.Timestamp.Before(last) {
					t.Fatalf("Measurements out of order: %s before %s", m.Timestamp, last)
				}
				last = m.Timestamp
				n++
			}
			if err := r.Error(); err != nil {
				t.Fatalf("Reader failed: %v", err)
			}
			if n != tt.want {
				t.Errorf("Expected %d measurements, got %d", tt.want, n)
			}
		})
	}
}

func TestSqliteStore_ReadMeasurementsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	id, err := s.CreateSession(ctx, ts, "radio://0/80/2M", nil)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	want := rem.NewMeasurement(ts, rem.Position{X: 1.25, Y: -0.5, Z: 0.75}, "Cafe; 2nd floor", -67, "1a2b3c4d5e", 11)
	if err = s.StoreMeasurements(ctx, id, []rem.Measurement{want}); err != nil {
		t.Fatalf("Failed to store measurement: %v", err)
	}

	r, err := s.ReadMeasurements(ctx, id)
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer r.Close()

	if !r.Next(ctx) {
		t.Fatalf("Expected a measurement, error = %v", r.Error())
	}

	got := *r.Current()
	if !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("Expected timestamp %s, got %s", want.Timestamp, got.Timestamp)
	}
	got.Timestamp = want.Timestamp
	if got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}

	if r.Next(ctx) {
		t.Error("Expected a single measurement")
	}
}

func TestSqliteStore_ReadMeasurementsValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	id, err := s.CreateSession(ctx, t0, "radio://0/80/2M", nil)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	if _, err = s.ReadMeasurements(ctx, id, WithTimeRange(t0.Add(time.Hour), t0)); err == nil {
		t.Error("Expected error for an inverted time range")
	}
	if _, err = s.ReadMeasurements(ctx, id+1); err == nil {
		t.Error("Expected error for a missing session")
	}
	if _, err = s.ReadMeasurements(ctx, 0); err == nil {
		t.Error("Expected error for a zero session ID")
	}
}

func countRSSI(ms []rem.Measurement, threshold int) (n int) {
	for _, m := range ms {
		if m.RSSI >= threshold {
			n++
		}
	}
	return
}

func TestNewSqliteStore_MaxBatchSize(t *testing.T) {
	tests := []struct {
		name string
		size int
		want int
	}{
		{"default", 0, maxBatchSize},
		{"negative", -5, maxBatchSize},
		{"custom", 500, 500},
		{"at the limit", MaxBatchSizeLimit, MaxBatchSizeLimit},
		{"over the limit", MaxBatchSizeLimit + 1, MaxBatchSizeLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSqliteStore(filepath.Join(t.TempDir(), "rem.db"), WithMaxBatchSize(tt.size))
			if s.maxBatchSize != tt.want {
				t.Errorf("Expected batch size %d, got %d", tt.want, s.maxBatchSize)
			}
		})
	}

	if MaxBatchSizeLimit*measurementColumns > maxVariableNumber {
		t.Errorf("A full batch binds %d values, over the %d statement limit", MaxBatchSizeLimit*measurementColumns, maxVariableNumber)
	}
}

func TestSqliteStore_StoreMeasurementsAtBatchLimit(t *testing.T) {
	ctx := context.Background()
	s := NewSqliteStore(filepath.Join(t.TempDir(), "rem.db"), WithMaxBatchSize(MaxBatchSizeLimit))
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	})

	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	id, err := s.CreateSession(ctx, t0, "radio://0/80/2M", nil)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	ms := scanWindow(t0, MaxBatchSizeLimit+1, rem.Position{X: 1, Y: 1, Z: 0.5})
	if err = s.StoreMeasurements(ctx, id, ms); err != nil {
		t.Fatalf("Failed to store a full batch: %v", err)
	}
}
