package storage

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	logx "pubcontrol/pkg/logx"
)

const (
	defaultCompactEvery = 1000
	maxRecordLine       = 1 << 20
)

var errClosed = errors.New("storage: closed")

// fileStore keeps plain files next to cfg.Path (its extension is dropped):
//
//	<prefix>.batches.jsonl  one BatchRecord per line, append only
//	<prefix>.cursor.json    channel -> id snapshot
//	<prefix>.cursor.log     cursor updates since the snapshot
//
// Every compactEvery cursor updates the log is folded into the snapshot.
type fileStore struct {
	log logx.Logger

	mu      sync.Mutex
	closed  bool
	batches *os.File

	cursor       map[string]string
	cursorLog    *os.File
	snapshotPath string
	sinceCompact int
	compactEvery int
}

type cursorEntry struct {
	Channel string `json:"channel"`
	ID      string `json:"id"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := filepath.Clean(strings.TrimSpace(cfg.Path))
	prefix := strings.TrimSuffix(path, filepath.Ext(path))
	if err := os.MkdirAll(filepath.Dir(prefix), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		cursor:       map[string]string{},
		snapshotPath: prefix + ".cursor.json",
		compactEvery: defaultCompactEvery,
	}
	if err := s.loadCursor(prefix + ".cursor.log"); err != nil {
		return nil, err
	}

	var err error
	if s.batches, err = openAppend(prefix + ".batches.jsonl"); err != nil {
		return nil, err
	}
	if s.cursorLog, err = openAppend(prefix + ".cursor.log"); err != nil {
		_ = s.batches.Close()
		return nil, err
	}
	return s, nil
}

// loadCursor rebuilds the cursor from the snapshot and the update log. A
// damaged file only costs the cursor entries it held.
func (s *fileStore) loadCursor(logPath string) error {
	b, err := os.ReadFile(s.snapshotPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return err
	default:
		if err := json.Unmarshal(b, &s.cursor); err != nil {
			s.log.Warn("cursor snapshot unreadable; starting empty", logx.Err(err))
			s.cursor = map[string]string{}
		}
	}

	bad := 0
	err = scanLines(logPath, func(line []byte) bool {
		var e cursorEntry
		if json.Unmarshal(line, &e) != nil || e.Channel == "" {
			bad++
			return true
		}
		s.cursor[e.Channel] = e.ID
		return true
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if bad > 0 {
		s.log.Warn("cursor log has unreadable lines", logx.Int("skipped", bad))
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.batches.Close(), s.cursorLog.Close())
}

func (s *fileStore) AppendBatch(_ context.Context, r BatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	return writeLine(s.batches, r)
}

// RecentBatches scans the whole batch file keeping the last limit records.
func (s *fileStore) RecentBatches(ctx context.Context, limit int) ([]BatchRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}

	ring := make([]BatchRecord, limit)
	n := 0
	err := scanLines(s.batches.Name(), func(line []byte) bool {
		if ctx.Err() != nil {
			return false
		}
		var r BatchRecord
		if json.Unmarshal(line, &r) == nil {
			ring[n%limit] = r
			n++
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if n <= limit {
		return ring[:n], nil
	}
	start := n % limit
	return append(ring[start:], ring[:start]...), nil
}

func (s *fileStore) PutLastID(_ context.Context, channel, id string) error {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	if err := writeLine(s.cursorLog, cursorEntry{Channel: channel, ID: id}); err != nil {
		return err
	}
	s.cursor[channel] = id

	if s.sinceCompact++; s.sinceCompact >= s.compactEvery {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("cursor compact failed", logx.Err(err))
		} else {
			s.sinceCompact = 0
		}
	}
	return nil
}

func (s *fileStore) LastID(_ context.Context, channel string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.cursor[strings.TrimSpace(channel)]
	return id, ok, nil
}

// compactLocked writes the snapshot, then empties the update log. A crash in
// between replays updates already in the snapshot, which is harmless.
func (s *fileStore) compactLocked() error {
	b, err := json.Marshal(s.cursor)
	if err != nil {
		return err
	}
	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.cursorLog.Truncate(0); err != nil {
		return err
	}
	_, err = s.cursorLog.Seek(0, io.SeekEnd)
	return err
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
}

func writeLine(f *os.File, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = f.Write(append(b, '\n'))
	return err
}

// scanLines calls fn for each non-empty line of path until fn returns false.
func scanLines(path string, fn func(line []byte) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxRecordLine)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		if !fn(sc.Bytes()) {
			break
		}
	}
	return sc.Err()
}
