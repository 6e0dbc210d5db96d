package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roman-kulish/rem-builder/internal/rem"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && cErr != sql.ErrTxDone && *err == nil {
		*err = cErr
	}
}

// toNullString accepts a string, a []byte or any JSON serialisable value
func toNullString(v any) (sql.NullString, error) {
	switch v := v.(type) {
	case nil:
		return sql.NullString{}, nil

	case string:
		return sql.NullString{String: v, Valid: true}, nil

	case []byte:
		return sql.NullString{String: string(v), Valid: true}, nil

	default:
		p, err := json.Marshal(v)
		if err != nil {
			return sql.NullString{}, fmt.Errorf("marshaling value: %w", err)
		}
		return sql.NullString{String: string(p), Valid: true}, nil
	}
}

func toMeasurementData(sessionID int64, m *rem.Measurement) *measurementData {
	return &measurementData{
		SessionID: sessionID,
		Timestamp: m.Timestamp.UTC(),
		X:         m.X,
		Y:         m.Y,
		Z:         m.Z,
		SSID:      m.SSID,
		RSSI:      m.RSSI,
		MAC:       m.MAC,
		Channel:   m.Channel,
	}
}

func (d *measurementData) toMeasurement() rem.Measurement {
	return rem.Measurement{
		Timestamp: d.Timestamp.UTC(),
		X:         d.X,
		Y:         d.Y,
		Z:         d.Z,
		SSID:      d.SSID,
		RSSI:      d.RSSI,
		MAC:       d.MAC,
		Channel:   d.Channel,
	}
}
