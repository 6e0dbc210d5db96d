package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"

	"github.com/roman-kulish/rem-builder/internal/rem"
	"github.com/roman-kulish/rem-builder/internal/storage"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	measurements, err := loadMeasurements(ctx, config, logger)
	if err != nil {
		return err
	}

	grid, err := NewGrid(measurements, config.CellSize)
	if err != nil {
		return err
	}

	bounds := config.Bounds(grid.Histogram.PercentileBounds())

	logger.Info("finished reading measurements",
		slog.Group("stats",
			slog.Int("measurements", grid.Measurements),
			slog.Int("networks", grid.Networks),
			slog.Int("scans", grid.Scans),
			slog.Float64("minX", grid.MinX),
			slog.Float64("maxX", grid.MaxX),
			slog.Float64("minY", grid.MinY),
			slog.Float64("maxY", grid.MaxY),
			slog.String("minRSSI", fmt.Sprintf("%0.fdBm", bounds.Min)),
			slog.String("maxRSSI", fmt.Sprintf("%0.fdBm", bounds.Max)),
		))

	renderer, err := NewMapRenderer(RenderConfig{
		CellPixels:    config.CellPixels,
		Aggregation:   config.Aggregation,
		Location:      config.TimeZone,
		ColorTheme:    config.Theme,
		NoAnnotations: config.NoAnnotations,
	})
	if err != nil {
		return fmt.Errorf("creating map renderer: %w", err)
	}

	logger.Info("rendering map",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.String("format", string(config.Format)),
			slog.String("theme", string(config.Theme)),
			slog.Int("cols", grid.Cols),
			slog.Int("rows", grid.Rows),
		))

	img, err := renderer.Render(grid, bounds)
	if err != nil {
		return fmt.Errorf("rendering map: %w", err)
	}

	return writeImage(config.OutputFile, config.Format, img)
}

func loadMeasurements(ctx context.Context, config *Config, logger *slog.Logger) ([]rem.Measurement, error) {
	if config.InputFile != "" {
		ms, err := rem.ReadFile(config.InputFile)
		if err != nil {
			return nil, fmt.Errorf("reading result file: %w", err)
		}

		filter := Filter{SSID: config.SSID, MinRSSI: config.Threshold}
		return filter.Apply(ms), nil
	}

	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return nil, fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	return readSession(ctx, store, config, logger)
}

func readSession(ctx context.Context, store storage.Store, config *Config, logger *slog.Logger) (ms []rem.Measurement, err error) {
	var opts []storage.ReaderOption
	var filters []any

	if config.SSID != nil {
		opts = append(opts, storage.WithSSID(*config.SSID))
		filters = append(filters, slog.String("ssid", *config.SSID))
	}
	if config.Threshold != nil {
		opts = append(opts, storage.WithMinRSSI(*config.Threshold))
		filters = append(filters, slog.String("threshold", fmt.Sprintf("%ddBm", *config.Threshold)))
	}

	logger.Info("iterator configuration", filters...)

	iter, err := store.ReadMeasurements(ctx, config.SessionID, opts...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cErr := iter.Close(); cErr != nil {
			err = errors.Join(err, cErr)
		}
	}()

	if session := iter.Session(); session != nil {
		logger.Info("reading session",
			slog.Int64("session", session.ID),
			slog.Time("start", session.StartTime),
			slog.String("link", session.LinkURI))
	}

	for iter.Next(ctx) {
		ms = append(ms, *iter.Current())
	}
	if err = iter.Error(); err != nil {
		return nil, err
	}

	return ms, nil
}

func writeImage(path string, format ImageFormat, img image.Image) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := out.Close(); cErr != nil {
			err = errors.Join(err, cErr)
		}
	}()

	switch format {
	case ImageJPEG:
		return jpeg.Encode(out, img, &jpeg.Options{
			Quality: 98,
		})
	default:
		return png.Encode(out, img)
	}
}
