package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/rem-builder/internal/rem"
)

const (
	// DefaultPollInterval is how long the drain loop sleeps when no complete line is buffered
	DefaultPollInterval = 200 * time.Millisecond
)

// ErrAlreadyRunning is returned by Run when the drain loop has been started before
var ErrAlreadyRunning = errors.New("demultiplexer is already running")

// Phase is the position of the demultiplexer within the scan protocol
type Phase int

const (
	PhaseIdle             Phase = iota // Waiting for AT+CWLAP
	PhaseAwaitingPosition              // Waiting for the position fix
	PhaseAwaitingBegin                 // Waiting for the start reading marker
	PhaseReading                       // Collecting access point records until the stop reading marker
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingPosition:
		return "awaiting-position"
	case PhaseAwaitingBegin:
		return "awaiting-begin"
	case PhaseReading:
		return "reading"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ScanEventKind distinguishes scan window boundaries
type ScanEventKind int

const (
	ScanOpened ScanEventKind = iota
	ScanClosed
)

func (k ScanEventKind) String() string {
	if k == ScanOpened {
		return "opened"
	}
	return "closed"
}

// ScanEvent reports a scan window boundary. Position and Count are only set
// when the window is closed.
type ScanEvent struct {
	Kind      ScanEventKind `json:"kind"`
	StartTime time.Time     `json:"startTime"`
	Position  rem.Position  `json:"position"`
	Count     int           `json:"count"`
}

// Flusher persists the measurement log once the drain loop stops
type Flusher interface {
	Flush(ctx context.Context, measurements []rem.Measurement) error
}

// FlusherFunc adapts a function to the Flusher interface
type FlusherFunc func(ctx context.Context, measurements []rem.Measurement) error

func (f FlusherFunc) Flush(ctx context.Context, measurements []rem.Measurement) error {
	return f(ctx, measurements)
}

// WithLogger sets the logger for the demultiplexer
func WithLogger(logger *slog.Logger) func(*Demultiplexer) {
	return func(d *Demultiplexer) {
		d.logger = logger.With(slog.String("component", "console"))
	}
}

// WithPollInterval sets how long the drain loop waits for more input
func WithPollInterval(interval time.Duration) func(*Demultiplexer) {
	return func(d *Demultiplexer) {
		d.pollInterval = interval
	}
}

// WithClock sets the time source used for scan start timestamps
func WithClock(now func() time.Time) func(*Demultiplexer) {
	return func(d *Demultiplexer) {
		d.now = now
	}
}

// WithEventHandler registers a callback for scan window boundaries. The
// callback runs on the drain goroutine and must not block.
func WithEventHandler(fn func(ScanEvent)) func(*Demultiplexer) {
	return func(d *Demultiplexer) {
		d.onEvent = fn
	}
}

// WithMeasurementHandler registers a callback invoked for every measurement
// as soon as it is decoded. The callback runs on the drain goroutine and must
// not block.
func WithMeasurementHandler(fn func(rem.Measurement)) func(*Demultiplexer) {
	return func(d *Demultiplexer) {
		d.onMeasurement = fn
	}
}

// WithFlusher sets the sink the measurement log is flushed to when the drain loop stops
func WithFlusher(f Flusher) func(*Demultiplexer) {
	return func(d *Demultiplexer) {
		d.flusher = f
	}
}

// Demultiplexer reassembles the unbuffered vehicle console stream into lines
// and decodes scan windows into an ordered measurement log.
//
// Feed may be called from any goroutine. Lines are decoded by the drain loop
// started with Start or Run, which is the only writer of the protocol state.
type Demultiplexer struct {
	mu  sync.Mutex
	buf []byte

	stateMu     sync.RWMutex
	phase       Phase
	position    rem.Position
	scanStart   time.Time
	resultCount int

	logMu        sync.RWMutex
	measurements []rem.Measurement

	pollInterval  time.Duration
	now           func() time.Time
	onEvent       func(ScanEvent)
	onMeasurement func(rem.Measurement)
	flusher       Flusher
	logger        *slog.Logger

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	flushErr error
}

// NewDemultiplexer creates a new Demultiplexer with a discard logger
func NewDemultiplexer(options ...func(*Demultiplexer)) *Demultiplexer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	d := Demultiplexer{
		phase:        PhaseIdle,
		pollInterval: DefaultPollInterval,
		now:          time.Now,
		logger:       logger,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}

	for _, option := range options {
		option(&d)
	}

	return &d
}

// Feed appends raw console bytes to the line buffer
func (d *Demultiplexer) Feed(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	d.mu.Lock()
	d.buf = append(d.buf, chunk...)
	d.mu.Unlock()
}

// Write implements io.Writer on top of Feed, so that console sources can copy into the demultiplexer
func (d *Demultiplexer) Write(p []byte) (int, error) {
	d.Feed(p)
	return len(p), nil
}

// Start launches the drain loop on its own goroutine. The loop is marked as
// running before Start returns, so a Stop issued afterwards always waits for
// the flush. The returned channel yields the flush error once the loop exits.
func (d *Demultiplexer) Start(ctx context.Context) (<-chan error, error) {
	if !d.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}

	errc := make(chan error, 1)
	go func() {
		errc <- d.loop(ctx)
	}()

	return errc, nil
}

// Run drains the line buffer until ctx is cancelled or Stop is called, then
// flushes the measurement log exactly once and returns the flush error.
func (d *Demultiplexer) Run(ctx context.Context) error {
	errc, err := d.Start(ctx)
	if err != nil {
		return err
	}
	return <-errc
}

func (d *Demultiplexer) loop(ctx context.Context) error {
	defer close(d.done)

	d.logger.Debug("console drain loop started")

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		d.Drain()

		select {
		case <-ctx.Done():
		case <-d.stop:
		case <-ticker.C:
			continue
		}

		d.Drain() // pick up whatever was fed right before stopping
		d.flushErr = d.flush(context.WithoutCancel(ctx))
		return d.flushErr
	}
}

// Stop terminates the drain loop and waits for the measurement log flush.
// It is safe to call Stop multiple times. Stopping a loop that was never
// started returns nil, a later Start flushes right away.
func (d *Demultiplexer) Stop() error {
	d.stopOnce.Do(func() {
		close(d.stop)
	})

	if !d.started.Load() {
		return nil
	}

	<-d.done
	return d.flushErr
}

// Drain processes every complete line currently buffered. The buffer lock is
// only held while the complete lines are copied out.
func (d *Demultiplexer) Drain() {
	for _, line := range d.takeLines() {
		d.Process(line)
	}
}

func (d *Demultiplexer) takeLines() []string {
	d.mu.Lock()
	idx := bytes.LastIndexByte(d.buf, '\n')
	if idx < 0 {
		d.mu.Unlock()
		return nil
	}

	chunk := string(d.buf[:idx])
	d.buf = append(d.buf[:0], d.buf[idx+1:]...)
	d.mu.Unlock()

	lines := strings.Split(chunk, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r\n")
	}
	return lines
}

// Process classifies a single console line and advances the protocol state
func (d *Demultiplexer) Process(text string) {
	d.logger.Debug("CF: " + text)

	d.stateMu.Lock()
	event, measurement := d.advance(ParseLine(text))
	d.stateMu.Unlock()

	if measurement != nil {
		d.logMu.Lock()
		d.measurements = append(d.measurements, *measurement)
		d.logMu.Unlock()

		if d.onMeasurement != nil {
			d.onMeasurement(*measurement)
		}
	}

	if event != nil && d.onEvent != nil {
		d.onEvent(*event)
	}
}

// advance applies the phase grammar. Every phase accepts a single line shape,
// everything else leaves the state untouched. Must be called with stateMu held.
func (d *Demultiplexer) advance(line Line) (*ScanEvent, *rem.Measurement) {
	switch d.phase {
	case PhaseIdle:
		if _, ok := line.(ScanStart); ok {
			d.phase = PhaseAwaitingPosition
			d.scanStart = d.now().UTC()
			d.resultCount = 0

			d.logger.Debug("scan window opened", slog.Time("startTime", d.scanStart))
			return &ScanEvent{Kind: ScanOpened, StartTime: d.scanStart}, nil
		}

	case PhaseAwaitingPosition:
		if fix, ok := line.(PositionFix); ok {
			d.position = rem.Position{X: fix.X, Y: fix.Y, Z: fix.Z}
			d.phase = PhaseAwaitingBegin

			d.logger.Debug("position fix received",
				slog.Float64("x", fix.X), slog.Float64("y", fix.Y), slog.Float64("z", fix.Z))
		}

	case PhaseAwaitingBegin:
		if _, ok := line.(BeginMarker); ok {
			d.phase = PhaseReading
			d.logger.Debug("reading access points")
		}

	case PhaseReading:
		switch l := line.(type) {
		case AccessPoint:
			m := rem.NewMeasurement(d.scanStart, d.position, l.SSID, l.RSSI, l.MAC, l.Channel)
			d.resultCount++
			return nil, &m

		case EndMarker:
			event := ScanEvent{
				Kind:      ScanClosed,
				StartTime: d.scanStart,
				Position:  d.position,
				Count:     d.resultCount,
			}

			d.logger.Info(fmt.Sprintf("%d access points found", d.resultCount))

			d.phase = PhaseIdle
			d.scanStart = time.Time{}
			d.resultCount = 0
			return &event, nil
		}
	}

	return nil, nil
}

func (d *Demultiplexer) flush(ctx context.Context) error {
	measurements := d.Measurements()
	d.logger.Info(fmt.Sprintf("collected %d measurements", len(measurements)))

	if d.flusher == nil {
		return nil
	}
	if err := d.flusher.Flush(ctx, measurements); err != nil {
		return fmt.Errorf("flushing measurements: %w", err)
	}
	return nil
}

// Phase returns the current protocol phase
func (d *Demultiplexer) Phase() Phase {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.phase
}

// ResultCount returns the number of access points decoded in the open scan window
func (d *Demultiplexer) ResultCount() int {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.resultCount
}

// ScanStartTime returns the start time of the open scan window, zero when idle
func (d *Demultiplexer) ScanStartTime() time.Time {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.scanStart
}

// Measurements returns a copy of the measurement log in discovery order
func (d *Demultiplexer) Measurements() []rem.Measurement {
	d.logMu.RLock()
	defer d.logMu.RUnlock()

	out := make([]rem.Measurement, len(d.measurements))
	copy(out, d.measurements)
	return out
}
