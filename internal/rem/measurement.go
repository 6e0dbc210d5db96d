package rem

import (
	"fmt"
	"strings"
	"time"
)

const macLength = 12

// Position is a position fix in meters, as reported by the vehicle's state estimator
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Measurement is a single access point observation tied to the vehicle position
// at the start of the scan window it was discovered in. All measurements of one
// scan window share the same timestamp and position.
type Measurement struct {
	Timestamp time.Time `json:"timestamp"` // Scan start time, UTC
	X         float64   `json:"x"`         // Position fix at scan start, meters
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
	SSID      string    `json:"ssid"`    // Network name, may be empty
	RSSI      int       `json:"rssi"`    // Signal strength in dBm, typically -100..0
	MAC       string    `json:"mac"`     // 12 hex digits, zero left-padded
	Channel   int       `json:"channel"` // 802.11 channel
}

// NewMeasurement creates a Measurement, normalising the timestamp to UTC and
// left-padding the MAC address with zeroes to 12 characters.
func NewMeasurement(timestamp time.Time, pos Position, ssid string, rssi int, mac string, channel int) Measurement {
	return Measurement{
		Timestamp: timestamp.UTC(),
		X:         pos.X,
		Y:         pos.Y,
		Z:         pos.Z,
		SSID:      ssid,
		RSSI:      rssi,
		MAC:       padMAC(mac),
		Channel:   channel,
	}
}

// Position returns the position fix the measurement was taken at
func (m Measurement) Position() Position {
	return Position{X: m.X, Y: m.Y, Z: m.Z}
}

// NormalizedSignalStrength maps the 802.11 RSSI range, -100 (weakest) to -10
// (strongest), onto [0, 1]. Values outside of that range are not clamped.
func (m Measurement) NormalizedSignalStrength() float64 {
	return float64(m.RSSI+100) / 90
}

// ObfuscatedMAC returns the MAC address with the device specific half hidden,
// keeping only the vendor prefix.
func (m Measurement) ObfuscatedMAC() string {
	if len(m.MAC) <= 6 {
		return m.MAC
	}
	return m.MAC[:6] + strings.Repeat("-", len(m.MAC)-6)
}

func (m Measurement) String() string {
	return fmt.Sprintf("%s %s rssi=%d mac=%s chn=%d at (%.2f, %.2f, %.2f)",
		m.Timestamp.Format(time.RFC3339), m.SSID, m.RSSI, m.MAC, m.Channel, m.X, m.Y, m.Z)
}

func padMAC(mac string) string {
	if len(mac) >= macLength {
		return mac
	}
	return strings.Repeat("0", macLength-len(mac)) + mac
}
