package app

import (
	"io"
	"strings"
	"testing"
)

func TestNewConfigFromArgs(t *testing.T) {
	c, err := NewConfigFromArgs([]string{
		"-in", "scan.out",
		"-o", "map",
		"-f", "JPEG",
		"-theme", "marine",
		"-agg", "mean",
		"-ssid", "lab",
		"-threshold", "-85",
		"-max-rssi", "-20",
		"-tz", "UTC",
	}, io.Discard)
	if err != nil {
		t.Fatalf("NewConfigFromArgs() error = %v", err)
	}

	if c.OutputFile != "map.jpeg" {
		t.Errorf("OutputFile = %q, want map.jpeg", c.OutputFile)
	}
	if c.Theme != MarineTheme || c.Aggregation != AggregateMean {
		t.Errorf("Theme = %q, Aggregation = %q", c.Theme, c.Aggregation)
	}
	if c.SSID == nil || *c.SSID != "lab" {
		t.Errorf("SSID = %v, want lab", c.SSID)
	}
	if c.Threshold == nil || *c.Threshold != -85 {
		t.Errorf("Threshold = %v, want -85", c.Threshold)
	}
	if c.MinRSSI != nil {
		t.Errorf("MinRSSI = %v, want unset", *c.MinRSSI)
	}
	if c.TimeZone.String() != "UTC" {
		t.Errorf("TimeZone = %v, want UTC", c.TimeZone)
	}

	got := c.Bounds(SignalBounds{Min: -95, Max: -35})
	if got.Min != -95 || got.Max != -20 {
		t.Errorf("Bounds() = [%v, %v], want [-95, -20]", got.Min, got.Max)
	}
}

func TestNewConfigFromArgs_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no input", []string{"-o", "map"}, "either db path or input file"},
		{"both inputs", []string{"-db", "a.sqlite", "-in", "a.out", "-o", "map"}, "mutually exclusive"},
		{"no output", []string{"-in", "a.out"}, "output file is required"},
		{"bad format", []string{"-in", "a.out", "-o", "map", "-f", "gif"}, "invalid image format"},
		{"bad theme", []string{"-in", "a.out", "-o", "map", "-theme", "rainbow"}, "unknown colour theme"},
		{"bad aggregation", []string{"-in", "a.out", "-o", "map", "-agg", "median"}, "invalid aggregation"},
		{"bad cell", []string{"-in", "a.out", "-o", "map", "-cell", "0"}, "cell size must be positive"},
		{"inverted bounds", []string{"-in", "a.out", "-o", "map", "-min-rssi", "-20", "-max-rssi", "-80"}, "min rssi must be below"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfigFromArgs(tt.args, io.Discard)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("NewConfigFromArgs() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
