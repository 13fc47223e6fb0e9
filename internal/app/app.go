package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"pubcontrol/internal/config"
	"pubcontrol/internal/heartbeat"
	"pubcontrol/internal/journal"
	"pubcontrol/internal/observability/admin"
	"pubcontrol/internal/observability/metrics"
	"pubcontrol/internal/runtime/supervisor"
	"pubcontrol/internal/storage"
	"pubcontrol/pkg/eventbus"
	logx "pubcontrol/pkg/logx"
	"pubcontrol/pkg/pubcontrol"
)

const (
	maxEnvelopeBytes    = 4 << 20
	statusRecentBatches = 20
)

// App is the long-running relay: it reads envelopes, publishes them to every
// configured endpoint and keeps itself in sync with the config file.
type App struct {
	cfgm *config.ConfigManager

	// sup owns config watch/reload and input reading; bg owns the journal and
	// watchdog, which must outlive the final flush.
	sup *supervisor.Supervisor
	bg  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	journal *journal.Recorder
	metrics *metrics.Metrics

	emu sync.RWMutex
	eng *engines

	hmu sync.Mutex
	hb  *heartbeat.Service

	amu   sync.Mutex
	admin *admin.Service

	started time.Time

	closed atomic.Bool
	stats  Stats
}

// Stats counts envelopes seen by Serve and their async outcomes.
type Stats struct {
	Accepted  atomic.Uint64
	Rejected  atomic.Uint64
	Delivered atomic.Uint64
	Failed    atomic.Uint64
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	// Remote logging needs the engines, which need the logger; bootstrap with
	// the remote sink off, attach it, then apply the final config.
	baseLogCfg := mapLogConfig(cfg)
	bootLogCfg := baseLogCfg
	bootLogCfg.Remote.Enabled = false
	logSvc, log := logx.New(bootLogCfg)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("journal enabled", logx.String("driver", sc.Driver))
	}

	eng, err := buildEngines(cfg, log, bus)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		eng:     eng,
		metrics: metrics.New(),
	}
	a.metrics.SetEndpoints(len(cfg.Endpoints))
	if store != nil {
		a.journal = journal.New(store, bus, log.With(logx.String("comp", "journal")))
	}
	a.hb = heartbeat.New(mapHeartbeatConfig(cfg), a, log.With(logx.String("comp", "heartbeat")))
	a.admin = a.newAdmin(cfg)

	logSvc.SetRemoteSink(logSink{a: a})
	logSvc.Apply(baseLogCfg)
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Stats() *Stats { return &a.stats }

// Store returns the journal store, or nil when journaling is off.
func (a *App) Store() storage.Store { return a.store }

func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.bg = supervisor.NewSupervisor(context.Background(), supervisor.WithLogger(a.log))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if a.journal != nil {
		a.journal.Start(a.bg)
	}
	a.metrics.Start(a.bg, a.bus)
	a.hmu.Lock()
	err := a.hb.Start(a.sup.Context())
	a.hmu.Unlock()
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}

	a.amu.Lock()
	err = a.admin.Start(a.sup.Context())
	a.amu.Unlock()
	if err != nil {
		return fmt.Errorf("admin: %w", err)
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.startWatchdog()
	a.notify(daemon.SdNotifyReady)
	a.log.Info("relay started", logx.Int("endpoints", len(a.cfgm.Get().Endpoints)))
	return nil
}

// applyConfig moves the running relay to newCfg. Engines are rebuilt when
// anything they depend on changed; queued publishes of the old engines are
// flushed before this returns.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	changed := map[string]bool{}
	for _, s := range sections {
		changed[s] = true
	}

	a.notify(daemon.SdNotifyReloading)
	defer a.notify(daemon.SdNotifyReady)

	if changed["journal"] {
		a.log.Warn("journal config changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if changed["endpoints"] || changed["async"] || changed["logging"] || changed["log_channel"] {
		eng, err := buildEngines(newCfg, a.log, a.bus)
		if err != nil {
			a.log.Warn("invalid publish config; keeping previous", logx.Err(err))
		} else {
			a.emu.Lock()
			old := a.eng
			a.eng = eng
			a.emu.Unlock()
			a.metrics.SetEndpoints(len(newCfg.Endpoints))
			start := time.Now()
			old.finish()
			a.log.Debug("previous engines flushed", logx.Duration("took", time.Since(start)))
		}
	}

	if changed["heartbeat"] {
		a.hmu.Lock()
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.hb.Stop(stopCtx)
		cancel()
		a.hb = heartbeat.New(mapHeartbeatConfig(newCfg), a, a.log.With(logx.String("comp", "heartbeat")))
		if err := a.hb.Start(ctx); err != nil {
			a.log.Warn("heartbeat restart failed", logx.Err(err))
		}
		a.hmu.Unlock()
	}

	if changed["admin"] {
		a.amu.Lock()
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.admin.Stop(stopCtx)
		cancel()
		a.admin = a.newAdmin(newCfg)
		if err := a.admin.Start(ctx); err != nil {
			a.log.Warn("admin restart failed", logx.Err(err))
		}
		a.amu.Unlock()
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) newAdmin(cfg *config.Config) *admin.Service {
	svc := admin.New(mapAdminConfig(cfg), a.Status, a.log.With(logx.String("comp", "admin")))
	svc.Mount("/metrics", a.metrics.Handler())
	return svc
}

// AdminAddr returns the admin server's bound address, or "" when it is off.
func (a *App) AdminAddr() string {
	a.amu.Lock()
	defer a.amu.Unlock()
	return a.admin.Addr()
}

// Status is the body of the admin /status endpoint.
func (a *App) Status(ctx context.Context) any {
	type endpoint struct {
		URI     string `json:"uri"`
		Running bool   `json:"running"`
	}
	out := map[string]any{
		"uptime_s":    int64(time.Since(a.started).Seconds()),
		"accepted":    a.stats.Accepted.Load(),
		"rejected":    a.stats.Rejected.Load(),
		"delivered":   a.stats.Delivered.Load(),
		"failed":      a.stats.Failed.Load(),
		"bus_dropped": a.bus.Dropped(),
		"goroutines": map[string]supervisor.Counters{
			"relay":      a.sup.Counters(),
			"background": a.bg.Counters(),
		},
	}

	a.emu.RLock()
	clients := a.eng.main.Clients()
	a.emu.RUnlock()
	eps := make([]endpoint, 0, len(clients))
	for _, c := range clients {
		eps = append(eps, endpoint{URI: c.URI(), Running: c.Running()})
	}
	out["endpoints"] = eps

	if a.store != nil {
		recent, err := a.store.RecentBatches(ctx, statusRecentBatches)
		if err != nil {
			out["recent_batches_error"] = err.Error()
		} else {
			out["recent_batches"] = recent
		}
	}
	return out
}

// PublishAsync publishes through the current engine generation. It satisfies
// heartbeat.Publisher.
func (a *App) PublishAsync(channel string, item *pubcontrol.Item, cb pubcontrol.Callback) error {
	a.emu.RLock()
	defer a.emu.RUnlock()
	return publish(context.Background(), a.eng.main, channel, item, cb)
}

// Serve reads newline-delimited envelopes from r and publishes each one until
// r is exhausted or ctx is done. Malformed lines are logged and skipped.
func (a *App) Serve(ctx context.Context, r io.Reader) error {
	type line struct {
		n    int
		data []byte
	}
	lines := make(chan line)
	scanErr := make(chan error, 1)

	// The scanner may block on r forever; it is deliberately not supervised.
	go func() {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxEnvelopeBytes)
		n := 0
		for sc.Scan() {
			n++
			b := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line{n: n, data: b}:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					return fmt.Errorf("read input: %w", err)
				}
				return nil
			}
			if len(strings.TrimSpace(string(l.data))) == 0 {
				continue
			}
			if err := a.handleLine(ctx, l.data); err != nil {
				a.stats.Rejected.Add(1)
				a.metrics.ObserveEnvelope(false)
				a.log.Warn("envelope rejected", logx.Int("line", l.n), logx.Err(err))
			}
		}
	}
}

func (a *App) handleLine(ctx context.Context, b []byte) error {
	env, err := DecodeEnvelope(b)
	if err != nil {
		return err
	}
	chain := a.store != nil && a.cfgm.Get().Relay.ChainPrevID
	if chain && env.ID != nil && env.PrevID == nil {
		prev, ok, err := a.store.LastID(ctx, env.Channel)
		if err != nil {
			a.log.Warn("cursor lookup failed", logx.String("channel", env.Channel), logx.Err(err))
		} else if ok {
			env.PrevID = &prev
		}
	}
	item, err := env.Item()
	if err != nil {
		return err
	}

	channel := env.Channel
	err = a.PublishAsync(channel, item, func(ok bool, msg string) {
		a.metrics.ObserveDelivery(ok)
		if ok {
			a.stats.Delivered.Add(1)
			return
		}
		a.stats.Failed.Add(1)
		a.log.Warn("publish failed", logx.String("channel", channel), logx.String("err", msg))
	})
	if err != nil {
		// Endpoints that did enqueue still deliver; the callback already
		// counted the failed ones.
		return err
	}
	a.stats.Accepted.Add(1)
	a.metrics.ObserveEnvelope(true)

	if chain && env.ID != nil {
		if err := a.store.PutLastID(ctx, channel, *env.ID); err != nil {
			a.log.Warn("cursor update failed", logx.String("channel", channel), logx.Err(err))
		}
	}
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify(daemon.SdNotifyStopping)

	// Stop reloads first so engines are not swapped during the final flush.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				max = min(max, time.Until(dl))
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("admin", 2*time.Second, func(c context.Context) error {
		a.amu.Lock()
		defer a.amu.Unlock()
		a.admin.Stop(c)
		return nil
	})
	step("heartbeat", 2*time.Second, func(c context.Context) error {
		a.hmu.Lock()
		defer a.hmu.Unlock()
		a.hb.Stop(c)
		return nil
	})
	// Finish blocks until every queued publish has been attempted.
	step("engines", 30*time.Second, func(context.Context) error {
		// Under the write lock so no log entry is mid-enqueue when finish runs.
		a.emu.Lock()
		a.closed.Store(true)
		eng := a.eng
		a.emu.Unlock()
		eng.finish()
		return nil
	})
	a.bg.Cancel()
	step("journal", 2*time.Second, func(c context.Context) error { return a.bg.Wait(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped",
		logx.Int64("accepted", int64(a.stats.Accepted.Load())),
		logx.Int64("rejected", int64(a.stats.Rejected.Load())),
		logx.Int64("delivered", int64(a.stats.Delivered.Load())),
		logx.Int64("failed", int64(a.stats.Failed.Load())),
	)
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
