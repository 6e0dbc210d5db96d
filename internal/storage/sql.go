package storage

import (
	_ "embed"
)

// maxBatchSize is the default number of measurements inserted by a single statement
const maxBatchSize = 100

const (
	measurementColumns = 9
	maxVariableNumber  = 32766 // SQLITE_MAX_VARIABLE_NUMBER since 3.32.0
)

// MaxBatchSizeLimit is the largest batch whose bound values fit one statement
const MaxBatchSizeLimit = maxVariableNumber / measurementColumns

const (
	insertSessionSQL = `
INSERT INTO sessions (
                      start_time,
                      link_uri,
                      origin)
VALUES (?, ?, ?)`

	selectSessionSQL = `
SELECT
    id,
    start_time,
    link_uri,
    origin
FROM sessions
WHERE
    id = ?`

	selectSessionsSQL = `
SELECT
    id,
    start_time,
    link_uri,
    origin
FROM sessions
ORDER BY start_time`

	insertMeasurementSQL = `
INSERT INTO measurements (session_id,
                          timestamp,
                          x,
                          y,
                          z,
                          ssid,
                          rssi,
                          mac,
                          channel)
VALUES `

	selectMeasurementsSQL = `
SELECT
    timestamp,
    x,
    y,
    z,
    ssid,
    rssi,
    mac,
    channel
FROM measurements
WHERE
    session_id = ?
    AND (? IS NULL OR timestamp >= ?)
    AND (? IS NULL OR timestamp <= ?)
    AND (? IS NULL OR ssid = ?)
    AND (? IS NULL OR rssi >= ?)
ORDER BY timestamp, id`
)

var (
	//go:embed schema.sql
	initSchemaSQL string

	//go:embed indexes.sql
	initIndexesSQL string
)
