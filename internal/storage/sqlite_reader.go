package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roman-kulish/rem-builder/internal/rem"
)

// MeasurementReader provides an iterator-based interface for reading
// measurements with optional time, network and signal strength filtering.
type MeasurementReader interface {
	// Session returns metadata about the session this reader is accessing.
	Session() *Session

	// Next advances the iterator and returns true if there is another
	// measurement to read, false when the iteration is complete or if an
	// error occurred.
	Next(context.Context) bool

	// Current returns the current measurement in the iteration.
	// If called after Next() returns false, the behavior is undefined.
	Current() *rem.Measurement

	// Error returns any error that occurred during iteration.
	Error() error

	// Close releases any resources associated with the reader.
	Close() error
}

// ReaderOption configures a MeasurementReader with specific filtering criteria
type ReaderOption func(*SqliteMeasurementReader)

// WithTimeRange excludes measurements taken before start or after end
func WithTimeRange(start, end time.Time) ReaderOption {
	return func(r *SqliteMeasurementReader) {
		start, end = start.UTC(), end.UTC()
		r.startTime = &start
		r.endTime = &end
	}
}

// WithSSID only returns measurements of the named network
func WithSSID(ssid string) ReaderOption {
	return func(r *SqliteMeasurementReader) {
		r.ssid = &ssid
	}
}

// WithMinRSSI excludes measurements weaker than rssi dBm
func WithMinRSSI(rssi int) ReaderOption {
	return func(r *SqliteMeasurementReader) {
		r.minRSSI = &rssi
	}
}

// SqliteMeasurementReader implements MeasurementReader for SQLite database backend.
type SqliteMeasurementReader struct {
	db *sql.DB

	sessionID int64
	session   *Session

	startTime *time.Time // Optional start of time range filter
	endTime   *time.Time // Optional end of time range filter
	ssid      *string    // Optional network filter
	minRSSI   *int       // Optional signal strength filter

	current *rem.Measurement
	rows    *sql.Rows
	err     error
}

var _ MeasurementReader = (*SqliteMeasurementReader)(nil)

func newSqliteMeasurementReader(ctx context.Context, db *sql.DB, sessionID int64, opts ...ReaderOption) (*SqliteMeasurementReader, error) {
	r := &SqliteMeasurementReader{
		db:        db,
		sessionID: sessionID,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.init(ctx); err != nil {
		return nil, fmt.Errorf("initializing reader: %w", err)
	}
	return r, nil
}

func (r *SqliteMeasurementReader) init(ctx context.Context) error {
	if r.db == nil {
		return errors.New("database connection required")
	}
	if r.sessionID <= 0 {
		return errors.New("session ID required")
	}

	steps := []struct {
		msg string
		fn  func(context.Context) error
	}{
		{msg: "loading session", fn: r.loadSession},
		{msg: "validating filters", fn: r.validateFilters},
		{msg: "initializing query", fn: r.initQuery},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.msg, err)
		}
	}
	return nil
}

func (r *SqliteMeasurementReader) loadSession(ctx context.Context) (err error) {
	r.session, err = loadSession(ctx, r.db, r.sessionID)
	return
}

func (r *SqliteMeasurementReader) validateFilters(context.Context) error {
	if r.startTime != nil && r.endTime != nil && r.startTime.After(*r.endTime) {
		return fmt.Errorf("start time %s is after end time %s", r.startTime, r.endTime)
	}
	return nil
}

func (r *SqliteMeasurementReader) initQuery(ctx context.Context) (err error) {
	stmt, err := r.db.PrepareContext(ctx, selectMeasurementsSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	r.rows, err = stmt.QueryContext(ctx,
		r.sessionID,
		r.startTime, r.startTime,
		r.endTime, r.endTime,
		r.ssid, r.ssid,
		r.minRSSI, r.minRSSI,
	)
	return err
}

func (r *SqliteMeasurementReader) Session() *Session {
	return r.session
}

func (r *SqliteMeasurementReader) Next(ctx context.Context) bool {
	if r.err != nil || r.rows == nil {
		return false
	}

	select {
	case <-ctx.Done():
		r.err = ctx.Err()
		return false
	default:
	}

	if !r.rows.Next() {
		r.current = nil
		return false
	}

	var data measurementData
	if r.err = r.rows.Scan(
		&data.Timestamp,
		&data.X,
		&data.Y,
		&data.Z,
		&data.SSID,
		&data.RSSI,
		&data.MAC,
		&data.Channel,
	); r.err != nil {
		r.err = fmt.Errorf("scanning measurement: %w", r.err)
		return false
	}

	m := data.toMeasurement()
	r.current = &m
	return true
}

func (r *SqliteMeasurementReader) Current() *rem.Measurement {
	return r.current
}

func (r *SqliteMeasurementReader) Error() error {
	if r.err != nil {
		return r.err
	}
	if r.rows != nil {
		return r.rows.Err()
	}
	return nil
}

func (r *SqliteMeasurementReader) Close() error {
	if r.rows != nil {
		err := r.rows.Close()
		r.current = nil
		r.rows = nil
		return err
	}
	return nil
}
