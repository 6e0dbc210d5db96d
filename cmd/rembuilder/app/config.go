package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/rem-builder/internal/mission"
	"github.com/roman-kulish/rem-builder/internal/storage"
)

const (
	ConsoleSourceMQTT   ConsoleSource = "mqtt"
	ConsoleSourceSerial ConsoleSource = "serial"

	defaultDataDirectory   = "data"
	defaultOutputDirectory = "output"
	defaultLiveFeedListen  = "127.0.0.1:8080"
)

// ConsoleSource selects where the on-board console bytes come from
type ConsoleSource string

// Config represents the main application configuration
type Config struct {
	Settings Settings       `yaml:"settings"`
	Link     LinkConfig     `yaml:"link"`
	Console  ConsoleConfig  `yaml:"console"`
	Mission  MissionConfig  `yaml:"mission"`
	Storage  StorageConfig  `yaml:"storage"`
	LiveFeed LiveFeedConfig `yaml:"liveFeed"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel slog.Level `yaml:"logLevel"`
}

// LinkConfig represents the MQTT radio bridge settings
type LinkConfig struct {
	Broker         string   `yaml:"broker"`
	ClientID       string   `yaml:"clientId"`
	TopicPrefix    string   `yaml:"topicPrefix"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	URI            string   `yaml:"uri"` // Radio URI of the vehicle, recorded with the session
	ConnectTimeout Duration `yaml:"connectTimeout"`
}

// ConsoleConfig represents the on-board console settings
type ConsoleConfig struct {
	Source       ConsoleSource `yaml:"source"`
	SerialPort   string        `yaml:"serialPort"`
	BaudRate     int           `yaml:"baudRate"`
	PollInterval Duration      `yaml:"pollInterval"`
}

// MissionConfig represents the route and its timing
type MissionConfig struct {
	Origin           mission.Origin     `yaml:"origin"`
	Waypoints        []mission.Waypoint `yaml:"waypoints"`
	DryRun           bool               `yaml:"dryRun"`
	WaitTimeout      Duration           `yaml:"waitTimeout"` // 0 waits forever
	SetpointCount    int                `yaml:"setpointCount"`
	SetpointInterval Duration           `yaml:"setpointInterval"`
	QuietPeriod      Duration           `yaml:"quietPeriod"`
	ShutdownSettle   Duration           `yaml:"shutdownSettle"`
}

// StorageConfig represents storage settings
type StorageConfig struct {
	DataDirectory   string `yaml:"dataDirectory"`
	OutputDirectory string `yaml:"outputDirectory"`
	MaxBatchSize    int    `yaml:"maxBatchSize"`
	ObfuscateMAC    bool   `yaml:"obfuscateMAC"`
}

// LiveFeedConfig represents the websocket live feed settings
type LiveFeedConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Listen         string   `yaml:"listen"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// LoadConfig reads, defaults and validates the configuration file
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	config := Config{
		Console: ConsoleConfig{
			Source: ConsoleSourceMQTT,
		},
		Mission: MissionConfig{
			SetpointCount:    mission.DefaultSetpointCount,
			SetpointInterval: NewDuration(mission.DefaultSetpointInterval),
			QuietPeriod:      NewDuration(mission.DefaultRadioQuietPeriod),
			ShutdownSettle:   NewDuration(mission.DefaultShutdownSettle),
		},
		Storage: StorageConfig{
			DataDirectory:   defaultDataDirectory,
			OutputDirectory: defaultOutputDirectory,
		},
		LiveFeed: LiveFeedConfig{
			Listen: defaultLiveFeedListen,
		},
	}

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	if err = dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err = config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks the configuration for missing or inconsistent values
func (c *Config) Validate() error {
	var errs []error

	if c.Link.Broker == "" {
		errs = append(errs, errors.New("link.broker is required"))
	}

	switch c.Console.Source {
	case ConsoleSourceMQTT:
	case ConsoleSourceSerial:
		if c.Console.SerialPort == "" {
			errs = append(errs, errors.New("console.serialPort is required for the serial console source"))
		}
	default:
		errs = append(errs, fmt.Errorf("console.source: unknown source '%s'", c.Console.Source))
	}

	if len(c.Mission.Waypoints) == 0 {
		errs = append(errs, errors.New("mission.waypoints must not be empty"))
	}
	if c.Mission.SetpointCount <= 0 {
		errs = append(errs, fmt.Errorf("mission.setpointCount must be positive: %d given", c.Mission.SetpointCount))
	}

	durations := map[string]Duration{
		"link.connectTimeout":      c.Link.ConnectTimeout,
		"console.pollInterval":     c.Console.PollInterval,
		"mission.waitTimeout":      c.Mission.WaitTimeout,
		"mission.setpointInterval": c.Mission.SetpointInterval,
		"mission.quietPeriod":      c.Mission.QuietPeriod,
		"mission.shutdownSettle":   c.Mission.ShutdownSettle,
	}
	for name, d := range durations {
		if err := d.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if c.Storage.OutputDirectory == "" {
		errs = append(errs, errors.New("storage.outputDirectory is required"))
	}
	if c.Storage.MaxBatchSize < 0 {
		errs = append(errs, fmt.Errorf("storage.maxBatchSize must not be negative: %d given", c.Storage.MaxBatchSize))
	}
	if c.Storage.MaxBatchSize > storage.MaxBatchSizeLimit {
		errs = append(errs, fmt.Errorf("storage.maxBatchSize must not exceed %d: %d given", storage.MaxBatchSizeLimit, c.Storage.MaxBatchSize))
	}

	if c.LiveFeed.Enabled && c.LiveFeed.Listen == "" {
		errs = append(errs, errors.New("liveFeed.listen is required when the live feed is enabled"))
	}

	return errors.Join(errs...)
}

// Duration is a time.Duration read from its string form, e.g. "500ms" or "3s"
type Duration time.Duration

func NewDuration(d time.Duration) Duration {
	return Duration(d)
}

// Std returns the duration as time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalJSON(bytes []byte) error {
	var v string
	if err := json.Unmarshal(bytes, &v); err != nil {
		return err
	}

	duration, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("app.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d Duration) Validate() error {
	if d < 0 {
		return fmt.Errorf("must not be negative: %s", d)
	}
	return nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}
