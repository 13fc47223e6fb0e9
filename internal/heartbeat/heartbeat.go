// Package heartbeat publishes a small liveness item on a schedule so
// subscribers can tell the relay is alive.
package heartbeat

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	logx "pubcontrol/pkg/logx"
	"pubcontrol/pkg/pubcontrol"
)

// Publisher is the subset of *pubcontrol.PubControl the service needs.
type Publisher interface {
	PublishAsync(channel string, item *pubcontrol.Item, cb pubcontrol.Callback) error
}

type Config struct {
	Enabled  bool
	Schedule string
	Channel  string
	Timezone string
}

// Service triggers heartbeats with robfig/cron. Start and Stop are idempotent.
type Service struct {
	cfg Config
	pub Publisher
	log logx.Logger

	host    string
	started time.Time
	now     func() time.Time

	mu   sync.Mutex
	c    *cron.Cron
	done chan struct{}

	seq    atomic.Uint64
	failed atomic.Uint64
}

func New(cfg Config, pub Publisher, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	host, _ := os.Hostname()
	return &Service{cfg: cfg, pub: pub, log: log, host: host, now: time.Now}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

// Start registers the schedule and starts triggering. Triggering stops when
// ctx ends or Stop is called. It returns an error for an invalid schedule or
// timezone.
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	if s.pub == nil {
		return errors.New("heartbeat: publisher is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	spec, err := ParseSchedule(s.cfg.Schedule)
	if err != nil {
		return err
	}
	sched, err := spec.Schedule()
	if err != nil {
		return err
	}
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.started = s.now()
	c := cron.New(cron.WithLocation(loc))
	c.Schedule(sched, cron.FuncJob(s.Beat))
	c.Start()
	s.c = c
	s.done = make(chan struct{})
	go s.stopOnDone(ctx, c, s.done)
	s.log.Info("heartbeat started", logx.String("schedule", spec.String()), logx.String("channel", s.cfg.Channel))
	return nil
}

func (s *Service) stopOnDone(ctx context.Context, c *cron.Cron, done <-chan struct{}) {
	select {
	case <-ctx.Done():
	case <-done:
		return
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.stop(stopCtx, c)
}

// Running reports whether the schedule is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// Stop stops triggering and waits for a running beat, bounded by ctx.
func (s *Service) Stop(ctx context.Context) { s.stop(ctx, nil) }

// stop detaches the running cron, or only want when it is non-nil.
func (s *Service) stop(ctx context.Context, want *cron.Cron) {
	s.mu.Lock()
	c := s.c
	if c == nil || (want != nil && c != want) {
		s.mu.Unlock()
		return
	}
	s.c = nil
	close(s.done)
	s.done = nil
	s.mu.Unlock()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("heartbeat stopped", logx.Int64("sent", int64(s.seq.Load())), logx.Int64("failed", int64(s.failed.Load())))
}

// Beat publishes one heartbeat item now.
func (s *Service) Beat() {
	seq := s.seq.Add(1)
	now := s.now()
	body := map[string]any{
		"seq":  seq,
		"host": s.host,
		"at":   now.UTC().Format(time.RFC3339),
	}
	if !s.started.IsZero() {
		body["uptime_s"] = int64(now.Sub(s.started).Seconds())
	}
	item := pubcontrol.NewItem([]pubcontrol.Format{pubcontrol.JSONObjectFormat{Value: body}},
		pubcontrol.WithID(uuid.NewString()))

	err := s.pub.PublishAsync(s.cfg.Channel, item, func(ok bool, msg string) {
		if !ok {
			s.failed.Add(1)
			s.log.Warn("heartbeat publish failed", logx.Int64("seq", int64(seq)), logx.String("err", msg))
		}
	})
	if err != nil {
		s.failed.Add(1)
		s.log.Warn("heartbeat enqueue failed", logx.Int64("seq", int64(seq)), logx.Err(err))
	}
}

// Sent reports how many heartbeats were triggered.
func (s *Service) Sent() uint64 { return s.seq.Load() }
