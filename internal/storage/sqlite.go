//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	logx "pubcontrol/pkg/logx"
)

//go:embed migrations.sql
var schema string

const (
	// keepBatches bounds the batches table.
	keepBatches  = 100_000
	pruneEvery   = 500
	pruneTimeout = 50 * time.Millisecond
)

const (
	qInsertBatch = `INSERT INTO batches(at, uri, size, channels, ok, err, took_ms) VALUES(?,?,?,?,?,?,?)`
	qRecent      = `SELECT at, uri, size, channels, ok, err, took_ms FROM (
		SELECT id, at, uri, size, channels, ok, err, took_ms FROM batches ORDER BY id DESC LIMIT ?
	) ORDER BY id ASC`
	qPutCursor = `INSERT INTO cursor(channel, id) VALUES(?,?) ON CONFLICT(channel) DO UPDATE SET id = excluded.id`
	qGetCursor = `SELECT id FROM cursor WHERE channel = ?`
	qPrune     = `DELETE FROM batches WHERE id <= (SELECT MAX(id) FROM batches) - ?`
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	insert, recent, putCursor, getCursor *sql.Stmt

	appends atomic.Uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers and keeps the pragmas below in effect.
	db.SetMaxOpenConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	setup := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		schema,
	}
	ctx := context.Background()
	for _, q := range setup {
		if _, err := db.ExecContext(ctx, q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite setup: %w", err)
		}
	}

	s := &sqliteStore{db: db, log: log}
	for _, p := range []struct {
		dst **sql.Stmt
		q   string
	}{
		{&s.insert, qInsertBatch},
		{&s.recent, qRecent},
		{&s.putCursor, qPutCursor},
		{&s.getCursor, qGetCursor},
	} {
		if *p.dst, err = db.PrepareContext(ctx, p.q); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("sqlite prepare: %w", err)
		}
	}
	return s, nil
}

func (s *sqliteStore) Close() error {
	var errs []error
	for _, st := range []*sql.Stmt{s.insert, s.recent, s.putCursor, s.getCursor} {
		if st != nil {
			errs = append(errs, st.Close())
		}
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

func (s *sqliteStore) AppendBatch(ctx context.Context, r BatchRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	channels, err := json.Marshal(r.Channels)
	if err != nil {
		return err
	}
	var errText sql.NullString
	if r.Error != "" {
		errText = sql.NullString{String: r.Error, Valid: true}
	}
	if _, err := s.insert.ExecContext(ctx,
		r.At.UTC().Format(time.RFC3339Nano), r.URI, r.Size, string(channels), r.OK, errText, r.TookMS,
	); err != nil {
		return err
	}

	if s.appends.Add(1)%pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
		defer cancel()
		if _, err := s.db.ExecContext(pctx, qPrune, keepBatches); err != nil {
			s.log.Debug("batch prune failed", logx.Err(err))
		}
	}
	return nil
}

func (s *sqliteStore) RecentBatches(ctx context.Context, limit int) ([]BatchRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.recent.QueryContext(ctx, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]BatchRecord, 0, limit)
	for rows.Next() {
		var (
			r        BatchRecord
			at       string
			channels sql.NullString
			errText  sql.NullString
		)
		if err := rows.Scan(&at, &r.URI, &r.Size, &channels, &r.OK, &errText, &r.TookMS); err != nil {
			return nil, err
		}
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		r.Error = errText.String
		if channels.Valid {
			_ = json.Unmarshal([]byte(channels.String), &r.Channels)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutLastID(ctx context.Context, channel, id string) error {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return nil
	}
	_, err := s.putCursor.ExecContext(ctx, channel, id)
	return err
}

func (s *sqliteStore) LastID(ctx context.Context, channel string) (string, bool, error) {
	var id string
	switch err := s.getCursor.QueryRowContext(ctx, strings.TrimSpace(channel)).Scan(&id); {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	return id, true, nil
}
