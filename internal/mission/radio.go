package mission

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRadioQuietPeriod is how long the link stays closed while the
// on-board scanner is using the shared radio
const DefaultRadioQuietPeriod = 3 * time.Second

// WithRadioLogger sets the logger
func WithRadioLogger(logger *slog.Logger) func(*RadioCoordinator) {
	return func(c *RadioCoordinator) {
		c.logger = logger
	}
}

// WithQuietPeriod sets how long the link stays closed during a scan
func WithQuietPeriod(d time.Duration) func(*RadioCoordinator) {
	return func(c *RadioCoordinator) {
		c.quietPeriod = d
	}
}

// RadioCoordinator turns parameter update notifications into the shared
// mission State and releases the radio link while the vehicle scans, since
// the scanner and the link share the same radio.
type RadioCoordinator struct {
	state       *State
	link        Link
	params      ParamRegistry
	logger      *slog.Logger
	quietPeriod time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	closed      bool
	unsubscribe func()
	cycling     atomic.Bool
	wg          sync.WaitGroup
}

// NewRadioCoordinator creates a new RadioCoordinator writing into state
func NewRadioCoordinator(state *State, link Link, params ParamRegistry, options ...func(*RadioCoordinator)) *RadioCoordinator {
	c := RadioCoordinator{
		state:       state,
		link:        link,
		params:      params,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		quietPeriod: DefaultRadioQuietPeriod,
	}

	for _, option := range options {
		option(&c)
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	return &c
}

// State returns the shared state the coordinator writes into
func (c *RadioCoordinator) State() *State {
	return c.state
}

// HandleParamUpdate is the UpdateFunc for the scanner and estimator
// parameter groups. Unknown names and unparsable values are ignored.
func (c *RadioCoordinator) HandleParamUpdate(name, value string) {
	v, err := parseParamBool(value)
	if err != nil {
		c.logger.Warn("ignoring parameter update",
			slog.String("name", name),
			slog.String("value", value),
			slog.Any("error", err))
		return
	}

	switch name {
	case ParamScanOnDemand:
		c.logger.Info("scan on demand updated", slog.Bool("value", v))
		c.state.Set(FlagScanOnDemand, v)

	case ParamScanNow:
		c.logger.Info("scan now updated", slog.Bool("value", v))
		c.state.Set(FlagScanning, v)
		if v {
			c.powerCycle()
		}

	case ParamInitialX:
		c.state.Set(FlagInitialXAcked, true)
	case ParamInitialY:
		c.state.Set(FlagInitialYAcked, true)
	case ParamInitialZ:
		c.state.Set(FlagInitialZAcked, true)
	case ParamInitialYaw:
		c.state.Set(FlagInitialYawAcked, true)

	default:
		c.logger.Debug("unhandled parameter update", slog.String("name", name), slog.String("value", value))
	}
}

// OnConnected subscribes to the scanner parameter group and enables scanning
// on demand unless the vehicle already reported it as enabled.
func (c *RadioCoordinator) OnConnected() {
	c.logger.Info("link connected")
	c.state.Set(FlagConnected, true)

	c.mu.Lock()
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.unsubscribe = c.params.Subscribe(ParamGroupScanner, c.HandleParamUpdate)
	c.mu.Unlock()

	if c.state.Get(FlagScanOnDemand) {
		return
	}
	if err := c.params.SetValue(c.ctx, ParamScanOnDemand, "1"); err != nil {
		c.logger.Error("failed to enable scan on demand", slog.Any("error", err))
	}
}

func (c *RadioCoordinator) OnDisconnected() {
	c.logger.Info("link disconnected")
	c.state.Set(FlagConnected, false)
}

func (c *RadioCoordinator) OnConnectionFailed(err error) {
	c.logger.Warn("link connection failed", slog.Any("error", err))
	c.state.Set(FlagConnected, false)
}

func (c *RadioCoordinator) OnConnectionLost(err error) {
	c.logger.Warn("link connection lost", slog.Any("error", err))
	c.state.Set(FlagConnected, false)
}

// powerCycle closes the link, waits for the quiet period and opens it again
// on its own goroutine. Triggers arriving while a cycle runs are dropped.
func (c *RadioCoordinator) powerCycle() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if !c.cycling.CompareAndSwap(false, true) {
		c.logger.Debug("radio power cycle already in progress")
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.cycling.Store(false)

		c.logger.Info("shutting down radio while scanning", slog.Duration("quiet", c.quietPeriod))
		if err := c.link.Close(); err != nil {
			c.logger.Warn("failed to close link", slog.Any("error", err))
		}

		t := time.NewTimer(c.quietPeriod)
		defer t.Stop()

		select {
		case <-c.ctx.Done():
			return
		case <-t.C:
		}

		c.logger.Info("starting radio again")
		if err := c.link.Open(c.ctx); err != nil {
			c.logger.Error("failed to reopen link", slog.Any("error", err))
		}
	}()
}

// Wait blocks until an in-flight power cycle completes
func (c *RadioCoordinator) Wait() {
	c.wg.Wait()
}

// Close aborts an in-flight power cycle, drops the scanner subscription and
// waits for the background work to exit.
func (c *RadioCoordinator) Close() {
	c.mu.Lock()
	c.closed = true
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// parseParamBool accepts integer and float renditions of a boolean register
func parseParamBool(value string) (bool, error) {
	if b, err := strconv.ParseBool(value); err == nil {
		return b, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return false, err
	}
	return f != 0, nil
}
