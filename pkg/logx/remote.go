package logx

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	remoteQueueSize   = 256
	remoteSendTimeout = 10 * time.Second
	maxMessageLen     = 3500
	maxFieldLen       = 600
)

// RemoteConfig selects which lines are shipped: at least MinLevel (default
// warn), at most RatePerSec per second (minimum 1).
type RemoteConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int
}

// RemoteSink receives decoded log entries (zerolog JSON fields). SendLog runs
// on one dedicated goroutine and may block up to its context deadline.
type RemoteSink interface {
	SendLog(ctx context.Context, entry map[string]any) error
}

// remote is a zerolog.LevelWriter that filters, rate limits and queues lines
// for a RemoteSink. Writes never block.
type remote struct {
	queue   chan map[string]any
	dropped atomic.Uint64

	mu       sync.Mutex
	sink     RemoteSink
	limiter  *rate.Limiter
	minLevel zerolog.Level

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func newRemote() *remote {
	return &remote{
		queue:    make(chan map[string]any, remoteQueueSize),
		limiter:  rate.NewLimiter(1, 1),
		minLevel: zerolog.WarnLevel,
	}
}

func (r *remote) setSink(sink RemoteSink) {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
}

func (r *remote) configure(cfg RemoteConfig) {
	rps := max(1, cfg.RatePerSec)
	r.mu.Lock()
	r.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	r.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	r.mu.Unlock()
}

func (r *remote) start() {
	r.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		r.mu.Lock()
		r.cancel, r.done = cancel, make(chan struct{})
		r.mu.Unlock()
		go r.ship(ctx)
	})
}

func (r *remote) stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (r *remote) ship(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-r.queue:
			r.mu.Lock()
			sink := r.sink
			r.mu.Unlock()
			if sink == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, remoteSendTimeout)
			// Sink errors are dropped; logging them would loop back here.
			_ = sink.SendLog(sctx, entry)
			cancel()
		}
	}
}

func (r *remote) Write(p []byte) (int, error) { return r.WriteLevel(zerolog.NoLevel, p) }

func (r *remote) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	r.mu.Lock()
	ok := r.sink != nil && level >= r.minLevel && level != zerolog.NoLevel && r.limiter.Allow()
	r.mu.Unlock()
	if !ok {
		return len(p), nil
	}
	if entry := decodeRemoteEntry(p); entry != nil {
		select {
		case r.queue <- entry:
		default:
			r.dropped.Add(1)
		}
	}
	return len(p), nil
}

// decodeRemoteEntry turns one zerolog JSON line into fields for the sink.
// Long strings are cut; a line that is not JSON becomes {"message": line}.
func decodeRemoteEntry(p []byte) map[string]any {
	line := strings.TrimSpace(string(p))
	if line == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		return map[string]any{zerolog.MessageFieldName: clip(line, maxMessageLen)}
	}
	for k, v := range m {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if k == zerolog.MessageFieldName {
			m[k] = clip(s, maxMessageLen)
		} else {
			m[k] = clip(s, maxFieldLen)
		}
	}
	return m
}

// clip shortens s to n bytes, ending in "..." when there is room.
func clip(s string, n int) string {
	switch {
	case n <= 0 || len(s) <= n:
		return s
	case n < 10:
		return s[:n]
	default:
		return s[:n-3] + "..."
	}
}
