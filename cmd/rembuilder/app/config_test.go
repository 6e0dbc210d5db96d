package app

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/roman-kulish/rem-builder/internal/mission"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
settings:
  logLevel: debug
link:
  broker: tcp://127.0.0.1:1883
  uri: radio://0/80/2M/E7E7E7E7E7
mission:
  origin: {x: 1.5, y: 0.5, z: 0, yaw: 90}
  waypoints:
    - {dz: 0.5}
    - {dx: 1, dz: 0.5, scan: true}
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if config.Settings.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want %v", config.Settings.LogLevel, slog.LevelDebug)
	}
	if config.Console.Source != ConsoleSourceMQTT {
		t.Errorf("Console.Source = %q, want %q", config.Console.Source, ConsoleSourceMQTT)
	}
	if config.Mission.SetpointCount != mission.DefaultSetpointCount {
		t.Errorf("SetpointCount = %d, want %d", config.Mission.SetpointCount, mission.DefaultSetpointCount)
	}
	if got := config.Mission.QuietPeriod.Std(); got != mission.DefaultRadioQuietPeriod {
		t.Errorf("QuietPeriod = %v, want %v", got, mission.DefaultRadioQuietPeriod)
	}
	if config.Mission.WaitTimeout != 0 {
		t.Errorf("WaitTimeout = %v, want 0", config.Mission.WaitTimeout)
	}
	if config.Storage.OutputDirectory != defaultOutputDirectory {
		t.Errorf("OutputDirectory = %q, want %q", config.Storage.OutputDirectory, defaultOutputDirectory)
	}

	want := mission.Origin{X: 1.5, Y: 0.5, Yaw: 90}
	if config.Mission.Origin != want {
		t.Errorf("Origin = %+v, want %+v", config.Mission.Origin, want)
	}
	if len(config.Mission.Waypoints) != 2 || !config.Mission.Waypoints[1].Scan {
		t.Errorf("Waypoints = %+v", config.Mission.Waypoints)
	}
}

func TestLoadConfig_Durations(t *testing.T) {
	path := writeConfig(t, `
link:
  broker: tcp://127.0.0.1:1883
  connectTimeout: 2s
console:
  pollInterval: 50ms
mission:
  waitTimeout: 1m
  quietPeriod: 1500ms
  waypoints:
    - {dz: 0.5}
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	tests := []struct {
		name string
		got  Duration
		want time.Duration
	}{
		{"connectTimeout", config.Link.ConnectTimeout, 2 * time.Second},
		{"pollInterval", config.Console.PollInterval, 50 * time.Millisecond},
		{"waitTimeout", config.Mission.WaitTimeout, time.Minute},
		{"quietPeriod", config.Mission.QuietPeriod, 1500 * time.Millisecond},
	}

	for _, tt := range tests {
		if tt.got.Std() != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing broker",
			content: `
mission:
  waypoints: [{dz: 0.5}]
`,
			wantErr: "link.broker is required",
		},
		{
			name: "empty route",
			content: `
link: {broker: tcp://127.0.0.1:1883}
`,
			wantErr: "mission.waypoints must not be empty",
		},
		{
			name: "serial without port",
			content: `
link: {broker: tcp://127.0.0.1:1883}
console: {source: serial}
mission:
  waypoints: [{dz: 0.5}]
`,
			wantErr: "console.serialPort is required",
		},
		{
			name: "unknown console source",
			content: `
link: {broker: tcp://127.0.0.1:1883}
console: {source: usb}
mission:
  waypoints: [{dz: 0.5}]
`,
			wantErr: "unknown source 'usb'",
		},
		{
			name: "negative duration",
			content: `
link: {broker: tcp://127.0.0.1:1883}
mission:
  quietPeriod: -1s
  waypoints: [{dz: 0.5}]
`,
			wantErr: "mission.quietPeriod: must not be negative",
		},
		{
			name: "malformed duration",
			content: `
link: {broker: tcp://127.0.0.1:1883}
mission:
  waitTimeout: soon
  waypoints: [{dz: 0.5}]
`,
			wantErr: "failed to parse",
		},
		{
			name: "negative batch size",
			content: `
link: {broker: tcp://127.0.0.1:1883}
storage: {maxBatchSize: -1}
mission:
  waypoints: [{dz: 0.5}]
`,
			wantErr: "storage.maxBatchSize must not be negative",
		},
		{
			name: "batch size over the statement variable limit",
			content: `
link: {broker: tcp://127.0.0.1:1883}
storage: {maxBatchSize: 3641}
mission:
  waypoints: [{dz: 0.5}]
`,
			wantErr: "storage.maxBatchSize must not exceed 3640",
		},
		{
			name: "unknown field",
			content: `
link: {broker: tcp://127.0.0.1:1883, port: 1883}
mission:
  waypoints: [{dz: 0.5}]
`,
			wantErr: "field port not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			if err == nil {
				t.Fatalf("LoadConfig() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadConfig() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("LoadConfig() error = nil, want error")
	}
}

func TestDuration_JSON(t *testing.T) {
	d := NewDuration(3 * time.Second)

	b, err := d.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	if string(b) != `"3s"` {
		t.Errorf("MarshalJSON() = %s, want \"3s\"", b)
	}

	var got Duration
	if err = got.UnmarshalJSON(b); err != nil {
		t.Fatalf("UnmarshalJSON() error = %v", err)
	}
	if got != d {
		t.Errorf("UnmarshalJSON() = %v, want %v", got, d)
	}
}
