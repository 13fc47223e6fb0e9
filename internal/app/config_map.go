package app

import (
	"fmt"
	"strings"
	"time"

	"pubcontrol/internal/config"
	"pubcontrol/internal/heartbeat"
	"pubcontrol/internal/observability/admin"
	"pubcontrol/internal/storage"
	"pubcontrol/pkg/eventbus"
	logx "pubcontrol/pkg/logx"
	"pubcontrol/pkg/pubcontrol"
)

const defaultPublishTimeout = 10 * time.Second

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Remote: logx.RemoteConfig{
			Enabled:    cfg.Logging.Remote.Enabled && strings.TrimSpace(cfg.LogChannel) != "",
			MinLevel:   cfg.Logging.Remote.MinLevel,
			RatePerSec: cfg.Logging.Remote.RatePerSec,
		},
	}
}

// MapEndpoints converts configured endpoints; trailing slashes are dropped
// from URIs since "/publish/" is appended.
func MapEndpoints(cfg *config.Config) []pubcontrol.EndpointConfig {
	out := make([]pubcontrol.EndpointConfig, 0, len(cfg.Endpoints))
	for _, e := range cfg.Endpoints {
		out = append(out, pubcontrol.EndpointConfig{
			URI:  strings.TrimRight(strings.TrimSpace(e.URI), "/"),
			Iss:  e.Iss,
			Key:  []byte(e.Key),
			User: e.User,
			Pass: e.Pass,
		})
	}
	return out
}

// mapPubControlOptions builds the client options for the publishing engine.
// The log sink engine gets a Nop logger and no bus so its own failures can
// never feed back into the log.
func mapPubControlOptions(cfg *config.Config, log logx.Logger, bus eventbus.Bus) ([]pubcontrol.Option, error) {
	timeout := defaultPublishTimeout
	rate := 0
	if a := cfg.Async; a != nil {
		var err error
		timeout, err = config.ParseDurationOrDefault("async.timeout", a.Timeout, defaultPublishTimeout)
		if err != nil {
			return nil, err
		}
		rate = a.RatePerSec
	}
	opts := []pubcontrol.Option{
		pubcontrol.WithTransport(pubcontrol.NewHTTPTransport(timeout)),
		pubcontrol.WithLogger(log),
		pubcontrol.WithRateLimit(rate),
		pubcontrol.WithAsync(cfg.AsyncEnabled()),
	}
	if bus != nil {
		opts = append(opts, pubcontrol.WithEventBus(bus))
	}
	return opts, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if !config.JournalEnabled(cfg) {
		return storage.Config{}, false, nil
	}
	jc := cfg.Journal
	driver := strings.ToLower(strings.TrimSpace(jc.Driver))
	path := strings.TrimSpace(jc.Path)
	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("journal.path is required when journal.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("journal.busy_timeout", jc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown journal.driver: %s", jc.Driver)
	}
}

func mapHeartbeatConfig(cfg *config.Config) heartbeat.Config {
	if cfg.Heartbeat == nil {
		return heartbeat.Config{}
	}
	h := cfg.Heartbeat
	return heartbeat.Config{
		Enabled:  h.Enabled,
		Schedule: h.Schedule,
		Channel:  strings.TrimSpace(h.Channel),
		Timezone: strings.TrimSpace(h.Timezone),
	}
}

func mapAdminConfig(cfg *config.Config) admin.Config {
	if cfg.Admin == nil {
		return admin.Config{}
	}
	ad := cfg.Admin
	// Validated already; zero means no timeout.
	read, _ := config.ParseDurationField("admin.read_timeout", ad.ReadTimeout)
	idle, _ := config.ParseDurationOrDefault("admin.idle_timeout", ad.IdleTimeout, time.Minute)
	return admin.Config{
		Enabled:       ad.Enabled,
		Addr:          strings.TrimSpace(ad.Addr),
		Token:         strings.TrimSpace(ad.Token),
		AllowInsecure: ad.AllowInsecure,
		Pprof:         ad.Pprof,
		ReadTimeout:   read,
		IdleTimeout:   idle,
	}
}

// validateConfig runs the checks that need packages config cannot import.
func validateConfig(cfg *config.Config) error {
	if h := cfg.Heartbeat; h != nil && h.Enabled {
		if _, err := heartbeat.ParseSchedule(h.Schedule); err != nil {
			return fmt.Errorf("heartbeat.schedule: %w", err)
		}
	}
	if _, err := mapPubControlOptions(cfg, logx.Nop(), nil); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}
