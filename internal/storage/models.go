package storage

import (
	"database/sql"
	"time"
)

// Session is a single mission run
type Session struct {
	ID        int64     `json:"id"`
	StartTime time.Time `json:"startTime"`
	LinkURI   string    `json:"linkUri"`
	Origin    *string   `json:"origin,omitempty"` // JSON encoded mission origin
}

type sessionData struct {
	ID        int64
	StartTime time.Time
	LinkURI   string
	Origin    sql.NullString
}

func (d *sessionData) toSession() *Session {
	sess := Session{
		ID:        d.ID,
		StartTime: d.StartTime.UTC(),
		LinkURI:   d.LinkURI,
	}
	if d.Origin.Valid {
		sess.Origin = &d.Origin.String
	}
	return &sess
}

type measurementData struct {
	SessionID int64
	Timestamp time.Time
	X         float64
	Y         float64
	Z         float64
	SSID      string
	RSSI      int
	MAC       string
	Channel   int
}
