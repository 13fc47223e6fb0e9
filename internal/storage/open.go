package storage

import (
	"context"
	"fmt"
	"strings"

	logx "pubcontrol/pkg/logx"
)

// Store persists batch outcomes and per-channel id cursors.
type Store interface {
	AppendBatch(ctx context.Context, r BatchRecord) error
	// RecentBatches returns up to limit records, oldest first.
	RecentBatches(ctx context.Context, limit int) ([]BatchRecord, error)
	PutLastID(ctx context.Context, channel, id string) error
	LastID(ctx context.Context, channel string) (id string, ok bool, err error)
	Close() error
}

type opener func(Config, logx.Logger) (Store, error)

var drivers = map[string]opener{
	"file":    openFile,
	"sqlite":  openSQLite,
	"sqlite3": openSQLite,
}

// Open returns the store for cfg.Driver, or (nil, nil) when the driver is
// empty or "none".
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	open, ok := drivers[driver]
	if !ok {
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("storage: %s driver needs a path", driver)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	st, err := open(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", driver, err)
	}
	return st, nil
}
