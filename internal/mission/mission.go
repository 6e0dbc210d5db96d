// Package mission flies the vehicle along a waypoint route and coordinates
// on-board access point scans with the radio link.
package mission

import (
	"context"
	"fmt"
	"math"

	"github.com/roman-kulish/rem-builder/internal/telemetry"
)

// Remote parameters used by the mission
const (
	ParamGroupScanner = "esp8266"
	ParamGroupKalman  = "kalman"

	ParamScanOnDemand = "esp8266.scanOnDemand"
	ParamScanNow      = "esp8266.scanNow"

	ParamInitialX       = "kalman.initialX"
	ParamInitialY       = "kalman.initialY"
	ParamInitialZ       = "kalman.initialZ"
	ParamInitialYaw     = "kalman.initialYaw" // radians
	ParamResetEstimator = "kalman.resetEstimation"
	ParamRobustTDOA     = "kalman.robustTdoa"
)

// UpdateFunc receives asynchronous parameter update notifications
type UpdateFunc func(name, value string)

// ParamRegistry is the remote named parameter registry of the vehicle
type ParamRegistry interface {
	// SetValue requests a parameter change. The change is confirmed
	// asynchronously through the update notifications.
	SetValue(ctx context.Context, name, value string) error

	// Subscribe registers fn for update notifications of every parameter in
	// group. The returned function removes the subscription.
	Subscribe(group string, fn UpdateFunc) (unsubscribe func())
}

// FlightController is the flight-control command channel
type FlightController interface {
	// SendPositionSetpoint commands an absolute position in meters and a yaw in degrees.
	// Setpoints expire on the vehicle and must be refreshed.
	SendPositionSetpoint(ctx context.Context, x, y, z, yaw float64) error

	// SendStopSetpoint stops the motors
	SendStopSetpoint(ctx context.Context) error
}

// Link is the radio link between the ground station and the vehicle
type Link interface {
	Open(ctx context.Context) error
	Close() error
}

// PowerSwitch powers down the vehicle platform
type PowerSwitch interface {
	PowerDown(ctx context.Context) error
}

// Stopper stops a background component, flushing whatever it holds
type Stopper interface {
	Stop() error
}

// LifecycleHandler receives radio link state changes
type LifecycleHandler interface {
	OnConnected()
	OnDisconnected()
	OnConnectionFailed(err error)
	OnConnectionLost(err error)
}

// Vehicle groups the external collaborators the mission drives
type Vehicle struct {
	Params   ParamRegistry
	Flight   FlightController
	Link     Link
	Variance telemetry.VarianceSource
	Power    PowerSwitch
}

func (v Vehicle) validate() error {
	switch {
	case v.Params == nil:
		return fmt.Errorf("vehicle: missing parameter registry")
	case v.Flight == nil:
		return fmt.Errorf("vehicle: missing flight controller")
	case v.Link == nil:
		return fmt.Errorf("vehicle: missing link")
	case v.Variance == nil:
		return fmt.Errorf("vehicle: missing variance source")
	case v.Power == nil:
		return fmt.Errorf("vehicle: missing power switch")
	}
	return nil
}

// Origin is the fixed mission origin, every waypoint is relative to it
type Origin struct {
	X   float64 `yaml:"x" json:"x"`     // meters
	Y   float64 `yaml:"y" json:"y"`     // meters
	Z   float64 `yaml:"z" json:"z"`     // meters
	Yaw float64 `yaml:"yaw" json:"yaw"` // degrees
}

// YawRadians returns the origin yaw in radians, as expected by the estimator
func (o Origin) YawRadians() float64 {
	return o.Yaw * math.Pi / 180
}

// Waypoint is a displacement from the mission origin, optionally flagged to
// trigger an access point scan on arrival
type Waypoint struct {
	DX   float64 `yaml:"dx"`
	DY   float64 `yaml:"dy"`
	DZ   float64 `yaml:"dz"`
	DYaw float64 `yaml:"dyaw"` // degrees
	Scan bool    `yaml:"scan"`
}

// Setpoint is an absolute position and yaw command
type Setpoint struct {
	X, Y, Z float64
	Yaw     float64 // degrees
}

// Target returns the absolute setpoint of the waypoint
func (w Waypoint) Target(o Origin) Setpoint {
	return Setpoint{
		X:   o.X + w.DX,
		Y:   o.Y + w.DY,
		Z:   o.Z + w.DZ,
		Yaw: o.Yaw + w.DYaw,
	}
}
