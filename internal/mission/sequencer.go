package mission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/roman-kulish/rem-builder/internal/estimator"
)

const (
	DefaultSetpointCount    = 50
	DefaultSetpointInterval = 100 * time.Millisecond
	DefaultVariancePeriod   = 500 * time.Millisecond
	DefaultResetSettle      = 100 * time.Millisecond
	DefaultShutdownSettle   = 5 * time.Second
	DefaultProgressInterval = 10 * time.Second

	ackPollInterval      = 500 * time.Millisecond
	scanPollInterval     = 100 * time.Millisecond
	scanDonePollInterval = 200 * time.Millisecond
)

// ErrWaitTimeout is returned when a configured wait timeout elapses before
// the awaited condition holds
var ErrWaitTimeout = errors.New("wait timed out")

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) func(*Sequencer) {
	return func(s *Sequencer) {
		s.logger = logger
	}
}

// WithDryRun skips estimator initialisation and motion while still running
// every scan cycle
func WithDryRun(dryRun bool) func(*Sequencer) {
	return func(s *Sequencer) {
		s.dryRun = dryRun
	}
}

// WithWaitTimeout bounds every wait on the shared state. Zero waits forever.
func WithWaitTimeout(d time.Duration) func(*Sequencer) {
	return func(s *Sequencer) {
		s.waitTimeout = d
	}
}

// WithSetpointDwell sets how many setpoints are sent per waypoint and how far apart
func WithSetpointDwell(count int, interval time.Duration) func(*Sequencer) {
	return func(s *Sequencer) {
		s.setpointCount = count
		s.setpointInterval = interval
	}
}

// WithVariancePeriod sets the sampling period of the position variance stream
func WithVariancePeriod(d time.Duration) func(*Sequencer) {
	return func(s *Sequencer) {
		s.variancePeriod = d
	}
}

// WithResetSettle sets the pause between raising and lowering the estimator reset register
func WithResetSettle(d time.Duration) func(*Sequencer) {
	return func(s *Sequencer) {
		s.resetSettle = d
	}
}

// WithShutdownSettle sets the pause between closing the link and powering down
func WithShutdownSettle(d time.Duration) func(*Sequencer) {
	return func(s *Sequencer) {
		s.shutdownSettle = d
	}
}

// WithProgressInterval sets how often a pending wait is logged
func WithProgressInterval(d time.Duration) func(*Sequencer) {
	return func(s *Sequencer) {
		s.progressInterval = d
	}
}

// WithConsole sets the console component stopped, and flushed, on shutdown
func WithConsole(console Stopper) func(*Sequencer) {
	return func(s *Sequencer) {
		s.console = console
	}
}

// WithMonitor replaces the default convergence monitor
func WithMonitor(m *estimator.Monitor) func(*Sequencer) {
	return func(s *Sequencer) {
		s.monitor = m
	}
}

// Sequencer drives the mission: estimator initialisation, the waypoint route
// with its scan cycles, and the shutdown sequence. It only reads the shared
// State, the RadioCoordinator writes it.
type Sequencer struct {
	vehicle     Vehicle
	coordinator *RadioCoordinator
	state       *State
	origin      Origin
	console     Stopper
	monitor     *estimator.Monitor
	logger      *slog.Logger

	dryRun           bool
	waitTimeout      time.Duration
	setpointCount    int
	setpointInterval time.Duration
	variancePeriod   time.Duration
	resetSettle      time.Duration
	shutdownSettle   time.Duration
	progressInterval time.Duration
}

// NewSequencer creates a new Sequencer
func NewSequencer(vehicle Vehicle, coordinator *RadioCoordinator, origin Origin, options ...func(*Sequencer)) (*Sequencer, error) {
	if err := vehicle.validate(); err != nil {
		return nil, err
	}
	if coordinator == nil {
		return nil, errors.New("sequencer: missing radio coordinator")
	}

	s := Sequencer{
		vehicle:          vehicle,
		coordinator:      coordinator,
		state:            coordinator.State(),
		origin:           origin,
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		setpointCount:    DefaultSetpointCount,
		setpointInterval: DefaultSetpointInterval,
		variancePeriod:   DefaultVariancePeriod,
		resetSettle:      DefaultResetSettle,
		shutdownSettle:   DefaultShutdownSettle,
		progressInterval: DefaultProgressInterval,
	}

	for _, option := range options {
		option(&s)
	}

	if s.monitor == nil {
		s.monitor = estimator.NewMonitor()
	}
	if s.progressInterval <= 0 {
		s.progressInterval = DefaultProgressInterval
	}

	return &s, nil
}

// Run initialises the estimator, flies the route and always runs the
// shutdown sequence, even when the mission fails or ctx is cancelled.
func (s *Sequencer) Run(ctx context.Context, route []Waypoint) error {
	missionErr := s.Initialize(ctx)
	if missionErr == nil {
		missionErr = s.Fly(ctx, route)
	}
	if missionErr != nil {
		s.logger.Error("mission aborted", slog.Any("error", missionErr))
	}

	shutdownErr := s.Shutdown(context.WithoutCancel(ctx))
	return errors.Join(missionErr, shutdownErr)
}

// Initialize enables the robust TDOA mode and pushes the origin into the
// estimator. Outside a dry run it then waits for every register to be
// confirmed, resets the estimator and waits for the position to converge.
func (s *Sequencer) Initialize(ctx context.Context) error {
	if err := s.vehicle.Params.SetValue(ctx, ParamRobustTDOA, "1"); err != nil {
		return fmt.Errorf("failed to enable robust TDOA: %w", err)
	}

	if s.dryRun {
		if err := s.setOrigin(ctx); err != nil {
			return err
		}
		s.logger.Info("dry run, skipping estimator initialisation")
		return nil
	}

	if err := s.pushOrigin(ctx); err != nil {
		return err
	}

	if err := s.stabilize(ctx); err != nil {
		return err
	}

	return s.waitFor(ctx, "position estimate", ackPollInterval, func() bool {
		return s.state.Get(FlagPositionEstimated)
	})
}

// pushOrigin sets the initial position and waits until the vehicle has
// confirmed every component of it.
func (s *Sequencer) pushOrigin(ctx context.Context) error {
	// subscribe first so that no confirmation is missed
	unsubscribe := s.vehicle.Params.Subscribe(ParamGroupKalman, s.coordinator.HandleParamUpdate)
	defer unsubscribe()

	s.state.ResetInitialPositionAcks()

	if err := s.setOrigin(ctx); err != nil {
		return err
	}

	return s.waitFor(ctx, "initial position confirmation", ackPollInterval, s.state.InitialPositionAcked)
}

func (s *Sequencer) setOrigin(ctx context.Context) error {
	values := []struct {
		name  string
		value float64
	}{
		{ParamInitialX, s.origin.X},
		{ParamInitialY, s.origin.Y},
		{ParamInitialZ, s.origin.Z},
		{ParamInitialYaw, s.origin.YawRadians()},
	}

	for _, v := range values {
		if err := s.vehicle.Params.SetValue(ctx, v.name, formatFloat(v.value)); err != nil {
			return fmt.Errorf("failed to set %s: %w", v.name, err)
		}
	}

	s.logger.Info("initial position set",
		slog.Float64("x", s.origin.X),
		slog.Float64("y", s.origin.Y),
		slog.Float64("z", s.origin.Z),
		slog.Float64("yaw", s.origin.Yaw))

	return nil
}

// stabilize resets the estimator and feeds the position variance stream to
// the convergence monitor until it reports a stable fix.
func (s *Sequencer) stabilize(ctx context.Context) error {
	s.state.Set(FlagPositionEstimated, false)
	s.monitor.Reset()

	s.logger.Info("resetting estimator", slog.String("phase", estimator.PhaseResetting.String()))

	if err := s.vehicle.Params.SetValue(ctx, ParamResetEstimator, "1"); err != nil {
		return fmt.Errorf("failed to reset estimator: %w", err)
	}
	if err := sleep(ctx, s.resetSettle); err != nil {
		return err
	}
	if err := s.vehicle.Params.SetValue(ctx, ParamResetEstimator, "0"); err != nil {
		return fmt.Errorf("failed to reset estimator: %w", err)
	}

	streamCtx, cancel := s.withWaitTimeout(ctx, "estimator convergence")
	defer cancel()

	stream, err := s.vehicle.Variance.StreamVariance(streamCtx, s.variancePeriod)
	if err != nil {
		return fmt.Errorf("failed to stream position variance: %w", err)
	}

	s.logger.Info("waiting for estimator to converge", slog.String("phase", estimator.PhaseSampling.String()))

	progress := time.NewTicker(s.progressInterval)
	defer progress.Stop()

	started := time.Now()

	for {
		select {
		case <-streamCtx.Done():
			return fmt.Errorf("waiting for estimator convergence: %w", context.Cause(streamCtx))

		case <-progress.C:
			x, y, z := s.monitor.Spread()
			s.logger.Info("still waiting for estimator convergence",
				slog.Duration("elapsed", time.Since(started).Round(time.Second)),
				slog.Float64("spreadX", x),
				slog.Float64("spreadY", y),
				slog.Float64("spreadZ", z))

		case v, ok := <-stream:
			if !ok {
				return errors.New("position variance stream closed before convergence")
			}

			s.monitor.Observe(v.VarPX, v.VarPY, v.VarPZ)
			if !s.monitor.IsConverged() {
				s.logger.Debug("estimator not converged yet", slog.Int("samples", s.monitor.Samples()))
				continue
			}

			s.logger.Info("position found",
				slog.String("phase", estimator.PhaseConverged.String()),
				slog.Int("samples", s.monitor.Samples()))
			s.state.Set(FlagPositionEstimated, true)
			return nil
		}
	}
}

// Fly visits every waypoint in order and, where flagged, runs a full scan
// cycle before moving on
func (s *Sequencer) Fly(ctx context.Context, route []Waypoint) error {
	for i, wp := range route {
		target := wp.Target(s.origin)
		logger := s.logger.With(slog.Int("waypoint", i))

		logger.Info("setting waypoint",
			slog.Float64("x", target.X),
			slog.Float64("y", target.Y),
			slog.Float64("z", target.Z),
			slog.Float64("yaw", target.Yaw),
			slog.Bool("scan", wp.Scan))

		if !s.dryRun {
			if err := s.goTo(ctx, target); err != nil {
				return fmt.Errorf("waypoint %d: %w", i, err)
			}
		}

		if !wp.Scan {
			continue
		}

		if err := s.scan(ctx, logger); err != nil {
			return fmt.Errorf("waypoint %d: %w", i, err)
		}
	}

	return nil
}

// goTo streams the same setpoint for the dwell duration, the vehicle drops
// setpoints that are not refreshed
func (s *Sequencer) goTo(ctx context.Context, target Setpoint) error {
	for i := 0; i < s.setpointCount; i++ {
		if err := s.vehicle.Flight.SendPositionSetpoint(ctx, target.X, target.Y, target.Z, target.Yaw); err != nil {
			s.logger.Warn("failed to send setpoint", slog.Any("error", err))
		}
		if err := sleep(ctx, s.setpointInterval); err != nil {
			return err
		}
	}
	return nil
}

// scan triggers one on-board scan and returns once the vehicle reported it
// as started and then as finished
func (s *Sequencer) scan(ctx context.Context, logger *slog.Logger) error {
	if err := s.waitFor(ctx, "scan on demand", scanPollInterval, func() bool {
		return s.state.Get(FlagScanOnDemand)
	}); err != nil {
		return err
	}

	started := s.state.ScanCount()

	logger.Info("triggering scan")
	if err := s.vehicle.Params.SetValue(ctx, ParamScanNow, "1"); err != nil {
		return fmt.Errorf("failed to trigger scan: %w", err)
	}

	if err := s.waitFor(ctx, "scan start", scanPollInterval, func() bool {
		return s.state.ScanCount() > started
	}); err != nil {
		return err
	}

	if err := s.waitFor(ctx, "scan completion", scanDonePollInterval, func() bool {
		return !s.state.Get(FlagScanning)
	}); err != nil {
		return err
	}

	logger.Info("scan complete")
	return nil
}

// Shutdown stops the motors, flushes the console, releases the link and
// powers the platform down. Power-down failures are logged and swallowed.
func (s *Sequencer) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")

	if err := s.vehicle.Flight.SendStopSetpoint(ctx); err != nil {
		s.logger.Warn("failed to send stop setpoint", slog.Any("error", err))
	}

	var flushErr error
	if s.console != nil {
		if flushErr = s.console.Stop(); flushErr != nil {
			s.logger.Error("failed to flush scan results", slog.Any("error", flushErr))
		}
	}

	s.coordinator.Close()

	if err := s.vehicle.Link.Close(); err != nil {
		s.logger.Warn("failed to close link", slog.Any("error", err))
	}

	if err := sleep(ctx, s.shutdownSettle); err != nil {
		s.logger.Warn("shutdown settle interrupted", slog.Any("error", err))
	}

	if err := s.vehicle.Power.PowerDown(ctx); err != nil {
		s.logger.Debug("power down failed", slog.Any("error", err))
	}

	if flushErr != nil {
		return fmt.Errorf("failed to flush scan results: %w", flushErr)
	}
	return nil
}

// waitFor blocks until cond holds, logging a progress line every
// progressInterval while it waits.
func (s *Sequencer) waitFor(ctx context.Context, what string, poll time.Duration, cond func() bool) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		progress := time.NewTicker(s.progressInterval)
		defer progress.Stop()

		started := time.Now()
		for {
			select {
			case <-done:
				return
			case <-progress.C:
				s.logger.Info("still waiting",
					slog.String("for", what),
					slog.Duration("elapsed", time.Since(started).Round(time.Second)))
			}
		}
	}()

	if err := s.state.Wait(ctx, cond, poll, s.waitTimeout); err != nil {
		return fmt.Errorf("waiting for %s: %w", what, err)
	}
	return nil
}

func (s *Sequencer) withWaitTimeout(ctx context.Context, what string) (context.Context, context.CancelFunc) {
	if s.waitTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeoutCause(ctx, s.waitTimeout, fmt.Errorf("%w after %s: %s", ErrWaitTimeout, s.waitTimeout, what))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
