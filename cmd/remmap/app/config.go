package app

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	ImagePNG  ImageFormat = "png"
	ImageJPEG ImageFormat = "jpeg"

	defaultCellSize = 0.25 // meters
)

type ImageFormat string

// Config holds the remmap command line options
type Config struct {
	DBPath        string
	SessionID     int64
	InputFile     string // Result file, an alternative to DBPath
	OutputFile    string
	Format        ImageFormat
	Theme         ColorTheme
	Aggregation   Aggregation
	CellSize      float64 // meters
	CellPixels    int
	SSID          *string
	Threshold     *int // Measurements weaker than this are dropped
	MinRSSI       *float64
	MaxRSSI       *float64
	TimeZone      *time.Location
	Verbose       bool
	NoAnnotations bool
}

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

func NewConfig() *Config {
	return &Config{
		Format:      ImagePNG,
		Theme:       EnhancedTheme,
		Aggregation: AggregateMax,
		CellSize:    defaultCellSize,
		CellPixels:  defaultCellPixels,
		TimeZone:    time.Local,
	}
}

// NewConfigFromArgs parses the command line arguments, without the program name
func NewConfigFromArgs(args []string, output io.Writer) (*Config, error) {
	c := NewConfig()

	fs := flag.NewFlagSet("remmap", flag.ContinueOnError)
	fs.SetOutput(output)

	var imageFormat, theme, aggregation, tz, ssid string
	var threshold int
	var minRSSI, maxRSSI float64
	fs.StringVar(&c.DBPath, "db", "", "Path to the database file")
	fs.Int64Var(&c.SessionID, "s", 1, "Session ID")
	fs.StringVar(&c.InputFile, "in", "", "Path to a result file, instead of the database")
	fs.StringVar(&c.OutputFile, "o", "", "Path to the output file, without extension")
	fs.StringVar(&imageFormat, "f", string(ImagePNG), "Output image format. [png, jpeg]")
	fs.StringVar(&theme, "theme", string(EnhancedTheme), "Colour theme. [enhanced, classic, grayscale, jungle, thermal, marine]")
	fs.StringVar(&aggregation, "agg", string(AggregateMax), "Cell aggregation. [max, mean]")
	fs.Float64Var(&c.CellSize, "cell", defaultCellSize, "Grid cell size in meters")
	fs.IntVar(&c.CellPixels, "px", defaultCellPixels, "Grid cell size in pixels")
	fs.StringVar(&ssid, "ssid", "", "Only render the given network")
	fs.IntVar(&threshold, "threshold", 0, "Drop measurements weaker than the given RSSI (dBm)")
	fs.Float64Var(&minRSSI, "min-rssi", 0, "Define a manual minimum of the colour scale (dBm)")
	fs.Float64Var(&maxRSSI, "max-rssi", 0, "Define a manual maximum of the colour scale (dBm)")
	fs.StringVar(&tz, "tz", "", "Time zone of the time labels, e.g. Europe/Berlin")
	fs.BoolVar(&c.Verbose, "verbose", false, "Enable more verbose output")
	fs.BoolVar(&c.NoAnnotations, "no-annotations", false, "Disable annotations such as scales and the legend")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "ssid":
			c.SSID = &ssid
		case "threshold":
			c.Threshold = &threshold
		case "min-rssi":
			c.MinRSSI = &minRSSI
		case "max-rssi":
			c.MaxRSSI = &maxRSSI
		}
	})

	imageFormat = strings.ToLower(imageFormat)

	var err error
	switch {
	case c.DBPath == "" && c.InputFile == "":
		err = errors.New("either db path or input file is required")
	case c.DBPath != "" && c.InputFile != "":
		err = errors.New("db path and input file are mutually exclusive")
	case c.DBPath != "" && c.SessionID <= 0:
		err = errors.New("session id is required")
	case c.OutputFile == "":
		err = errors.New("output file is required")
	case c.CellSize <= 0:
		err = fmt.Errorf("cell size must be positive: %v", c.CellSize)
	case c.CellPixels <= 0:
		err = fmt.Errorf("cell pixels must be positive: %d", c.CellPixels)
	case c.MinRSSI != nil && c.MaxRSSI != nil && *c.MinRSSI >= *c.MaxRSSI:
		err = fmt.Errorf("min rssi must be below max rssi: %v >= %v", *c.MinRSSI, *c.MaxRSSI)
	}
	if err == nil {
		if _, ok := validImageFormats[ImageFormat(imageFormat)]; !ok {
			err = fmt.Errorf("invalid image format: %s", imageFormat)
		}
	}
	if err == nil {
		c.Theme, err = ParseColorTheme(strings.ToLower(theme))
	}
	if err == nil {
		c.Aggregation = Aggregation(strings.ToLower(aggregation))
		if c.Aggregation != AggregateMax && c.Aggregation != AggregateMean {
			err = fmt.Errorf("invalid aggregation: %s", aggregation)
		}
	}
	if err == nil && tz != "" {
		if c.TimeZone, err = time.LoadLocation(tz); err != nil {
			err = fmt.Errorf("loading time zone: %w", err)
		}
	}

	if err != nil {
		fs.Usage()
		return nil, err
	}

	c.Format = ImageFormat(imageFormat)
	c.OutputFile = fmt.Sprintf("%s.%s", c.OutputFile, c.Format)
	return c, nil
}

// Bounds applies the manual colour scale limits on top of the computed ones
func (c *Config) Bounds(computed SignalBounds) SignalBounds {
	if c.MinRSSI != nil {
		computed.Min = *c.MinRSSI
	}
	if c.MaxRSSI != nil {
		computed.Max = *c.MaxRSSI
	}
	if computed.Max <= computed.Min {
		computed.Max = computed.Min + 1
	}
	return computed
}
