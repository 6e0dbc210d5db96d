package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roman-kulish/rem-builder/internal/console"
	"github.com/roman-kulish/rem-builder/internal/livefeed"
	"github.com/roman-kulish/rem-builder/internal/mission"
	"github.com/roman-kulish/rem-builder/internal/rem"
	"github.com/roman-kulish/rem-builder/internal/storage"
	"github.com/roman-kulish/rem-builder/internal/vehicle/mqttlink"
	"github.com/roman-kulish/rem-builder/internal/vehicle/serialconsole"
)

const databaseFile = "rembuilder.sqlite"

// Run wires the vehicle link, the console demultiplexer, the mission and the
// optional live feed together, and flies the configured route.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	startTime := time.Now().UTC()

	store, err := createStorage(&config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	defer func() {
		if cErr := store.Close(); cErr != nil {
			logger.Error("failed to close storage", slog.Any("error", cErr))
		}
	}()

	sessionID, err := store.CreateSession(ctx, startTime, config.Link.URI, config.Mission.Origin)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	logger.Info("session created", slog.Int64("session", sessionID))

	var hub *livefeed.Hub
	if config.LiveFeed.Enabled {
		hub = livefeed.NewHub(
			livefeed.WithLogger(logger),
			livefeed.WithAllowedOrigins(config.LiveFeed.AllowedOrigins...))
	}

	sink := &resultSink{
		outputDir: config.Storage.OutputDirectory,
		startTime: startTime,
		obfuscate: config.Storage.ObfuscateMAC,
		store:     store,
		sessionID: sessionID,
		logger:    logger,
	}

	demux := console.NewDemultiplexer(demuxOptions(config, logger, sink, hub)...)

	linkOptions := []func(*mqttlink.Client){
		mqttlink.WithLogger(logger),
		mqttlink.WithCredentials(config.Link.Username, config.Link.Password),
	}
	if config.Link.ClientID != "" {
		linkOptions = append(linkOptions, mqttlink.WithClientID(config.Link.ClientID))
	}
	if config.Link.TopicPrefix != "" {
		linkOptions = append(linkOptions, mqttlink.WithTopicPrefix(config.Link.TopicPrefix))
	}
	if config.Link.ConnectTimeout > 0 {
		linkOptions = append(linkOptions, mqttlink.WithConnectTimeout(config.Link.ConnectTimeout.Std()))
	}
	if config.Console.Source == ConsoleSourceMQTT {
		linkOptions = append(linkOptions, mqttlink.WithConsole(demux))
	}

	link := mqttlink.New(config.Link.Broker, linkOptions...)

	coordinator := mission.NewRadioCoordinator(mission.NewState(), link, link,
		mission.WithRadioLogger(logger),
		mission.WithQuietPeriod(config.Mission.QuietPeriod.Std()))
	link.SetLifecycleHandler(coordinator)

	vehicle := mission.Vehicle{
		Params:   link,
		Flight:   link,
		Link:     link,
		Variance: link,
		Power:    link,
	}

	sequencer, err := mission.NewSequencer(vehicle, coordinator, config.Mission.Origin,
		mission.WithLogger(logger),
		mission.WithDryRun(config.Mission.DryRun),
		mission.WithWaitTimeout(config.Mission.WaitTimeout.Std()),
		mission.WithSetpointDwell(config.Mission.SetpointCount, config.Mission.SetpointInterval.Std()),
		mission.WithShutdownSettle(config.Mission.ShutdownSettle.Std()),
		mission.WithConsole(demux))
	if err != nil {
		return fmt.Errorf("failed to create sequencer: %w", err)
	}

	orchestrator := NewOrchestrator(sequencer, demux, logger, orchestratorOptions(config, logger, hub)...)

	if err = link.Open(ctx); err != nil {
		return fmt.Errorf("failed to open link: %w", err)
	}

	return orchestrator.Run(ctx, config.Mission.Waypoints)
}

func demuxOptions(config *Config, logger *slog.Logger, sink *resultSink, hub *livefeed.Hub) []func(*console.Demultiplexer) {
	options := []func(*console.Demultiplexer){
		console.WithLogger(logger),
		console.WithFlusher(sink),
	}
	if config.Console.PollInterval > 0 {
		options = append(options, console.WithPollInterval(config.Console.PollInterval.Std()))
	}
	if hub != nil {
		options = append(options,
			console.WithMeasurementHandler(hub.PublishMeasurement),
			console.WithEventHandler(func(ev console.ScanEvent) {
				hub.PublishScan(livefeed.Scan{
					Kind:      ev.Kind.String(),
					StartTime: ev.StartTime,
					Position:  ev.Position,
					Count:     ev.Count,
				})
			}))
	}
	return options
}

func orchestratorOptions(config *Config, logger *slog.Logger, hub *livefeed.Hub) []func(*Orchestrator) {
	var options []func(*Orchestrator)

	if config.Console.Source == ConsoleSourceSerial {
		reader := serialconsole.New(config.Console.SerialPort,
			serialconsole.WithLogger(logger),
			serialconsole.WithBaudRate(config.Console.BaudRate))

		options = append(options, WithService("serial console", func(ctx context.Context, demux *console.Demultiplexer) error {
			return reader.Run(ctx, demux)
		}))
	}

	if hub != nil {
		listen := config.LiveFeed.Listen
		options = append(options, WithService("live feed", func(ctx context.Context, _ *console.Demultiplexer) error {
			return hub.ListenAndServe(ctx, listen)
		}))
	}

	return options
}

// resultSink persists the measurement log into the result file and the session store
type resultSink struct {
	outputDir string
	startTime time.Time
	obfuscate bool
	store     storage.Store
	sessionID int64
	logger    *slog.Logger
}

func (s *resultSink) Flush(ctx context.Context, measurements []rem.Measurement) error {
	var fileErr, storeErr error

	path, fileErr := rem.WriteFile(s.outputDir, s.startTime, measurements, rem.WithObfuscatedMAC(s.obfuscate))
	if fileErr == nil {
		s.logger.Info("result file written", slog.String("path", path), slog.Int("measurements", len(measurements)))
	}

	if s.store != nil {
		storeErr = s.store.StoreMeasurements(ctx, s.sessionID, measurements)
		if storeErr == nil {
			s.logger.Info("measurements stored", slog.Int64("session", s.sessionID))
		}
	}

	return errors.Join(fileErr, storeErr)
}

func createStorage(config *StorageConfig) (*storage.SqliteStore, error) {
	for _, dir := range []string{config.DataDirectory, config.OutputDirectory} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory '%s': %w", dir, err)
		}
	}

	dbPath := filepath.Join(config.DataDirectory, databaseFile)
	return storage.NewSqliteStore(dbPath, storage.WithMaxBatchSize(config.MaxBatchSize)), nil
}
