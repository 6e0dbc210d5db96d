package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/roman-kulish/rem-builder/internal/console"
	"github.com/roman-kulish/rem-builder/internal/mission"
)

// ServiceFunc runs a background service until ctx is cancelled
type ServiceFunc func(ctx context.Context, demux *console.Demultiplexer) error

type service struct {
	name string
	run  ServiceFunc
}

// WithService registers a background service running alongside the mission
func WithService(name string, fn ServiceFunc) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.services = append(o.services, service{name: name, run: fn})
	}
}

// Orchestrator runs the console drain loop and the background services for
// as long as the mission flies, and stops them once it is over.
type Orchestrator struct {
	sequencer *mission.Sequencer
	demux     *console.Demultiplexer
	services  []service
	logger    *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(sequencer *mission.Sequencer, demux *console.Demultiplexer, logger *slog.Logger, options ...func(*Orchestrator)) *Orchestrator {
	o := Orchestrator{
		sequencer: sequencer,
		demux:     demux,
		logger:    logger,
	}

	for _, option := range options {
		option(&o)
	}

	return &o
}

// Run flies the route. The mission shutdown sequence stops the console drain
// loop, which flushes the measurement log.
func (o *Orchestrator) Run(ctx context.Context, route []mission.Waypoint) error {
	ctx, o.cancel = context.WithCancel(ctx)
	defer o.cancel()

	// started synchronously, so that the mission shutdown always waits for the flush
	drained, err := o.demux.Start(ctx)
	if err != nil && !errors.Is(err, console.ErrAlreadyRunning) {
		return err
	}

	for _, svc := range o.services {
		o.wg.Add(1)
		go o.runService(ctx, svc)
	}

	err = o.sequencer.Run(ctx, route)

	o.cancel()
	o.wg.Wait()

	if drained != nil {
		// the flush error is reported by the mission shutdown as well
		if flushErr := <-drained; flushErr != nil {
			o.logger.Debug("console drain loop stopped", slog.Any("error", flushErr))
		}
	}

	return err
}

func (o *Orchestrator) runService(ctx context.Context, svc service) {
	defer o.wg.Done()

	o.logger.Info("starting service", slog.String("service", svc.name))

	if err := svc.run(ctx, o.demux); err != nil {
		o.logger.Error("service failed", slog.String("service", svc.name), slog.Any("error", err))
		return
	}

	o.logger.Info("service stopped", slog.String("service", svc.name))
}
