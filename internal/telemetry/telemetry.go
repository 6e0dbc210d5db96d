package telemetry

import (
	"time"
)

// Variance is a position variance log record from the vehicle state estimator
type Variance struct {
	Timestamp time.Time `json:"timestamp"` // Time the record was logged
	VarPX     float64   `json:"varPX"`     // Position variance along X in m²
	VarPY     float64   `json:"varPY"`     // Position variance along Y in m²
	VarPZ     float64   `json:"varPZ"`     // Position variance along Z in m²
}
