package storage

import (
	"context"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/roman-kulish/rem-builder/internal/rem"
)

// Store provides an interface for persisting mission sessions and the access
// point measurements collected during them.
type Store interface {
	// CreateSession records a new mission run and returns its unique identifier.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - startTime: Mission start time
	//   - linkURI: Radio link URI of the vehicle
	//   - origin: Optional mission origin. Can be string, []byte, or JSON-serializable object
	//
	// Returns:
	//   - sessionID: Unique identifier for the created session
	//   - error: If session creation fails or context is cancelled
	CreateSession(ctx context.Context, startTime time.Time, linkURI string, origin any) (sessionID int64, err error)

	// Session retrieves a specific session by its ID.
	Session(ctx context.Context, id int64) (session *Session, err error)

	// Sessions returns all sessions ordered by start time in ascending order.
	Sessions(ctx context.Context) (sessions []*Session, err error)

	// StoreMeasurements saves the measurements of one scan window. All
	// measurements are stored in a single atomic transaction.
	StoreMeasurements(ctx context.Context, sessionID int64, ms []rem.Measurement) error

	// ReadMeasurements returns a reader over the measurements of a session,
	// ordered by timestamp. The reader must be closed after use.
	ReadMeasurements(ctx context.Context, sessionID int64, opts ...ReaderOption) (MeasurementReader, error)

	// Close releases all database connections and resources.
	// It is safe to call Close multiple times.
	Close() error
}
