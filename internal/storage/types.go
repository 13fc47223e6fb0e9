package storage

import (
	"errors"
	"time"
)

// ErrSQLiteNotBuilt is returned by Open for the sqlite driver in binaries
// built without the sqlite tag.
var ErrSQLiteNotBuilt = errors.New("sqlite support not compiled in (build with -tags sqlite)")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines backend (batches + cursor snapshot/journal)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// BatchRecord is one publish transport call as seen by a worker.
// Keep it compact and schema-stable.
type BatchRecord struct {
	At       time.Time `json:"at"`
	URI      string    `json:"uri"`
	Size     int       `json:"size"`
	Channels []string  `json:"channels,omitempty"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms"`
}
