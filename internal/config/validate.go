package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate checks structural constraints that do not need other packages.
// Schedules are checked by the caller through SetValidator.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	for i, e := range cfg.Endpoints {
		path := fmt.Sprintf("endpoints[%d]", i)
		uri := strings.TrimSpace(e.URI)
		if uri == "" {
			return fmt.Errorf("%s.uri is required", path)
		}
		u, err := url.Parse(uri)
		if err != nil {
			return fmt.Errorf("%s.uri: %w", path, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%s.uri: scheme must be http or https, got %q", path, u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("%s.uri: host is required", path)
		}
		if (e.Iss == "") != (e.Key == "") {
			return fmt.Errorf("%s: iss and key must be set together", path)
		}
		if e.Pass != "" && e.User == "" {
			return fmt.Errorf("%s: pass set without user", path)
		}
	}

	if a := cfg.Async; a != nil {
		if a.RatePerSec < 0 {
			return errors.New("async.rate_per_sec must be >= 0")
		}
		if _, err := ParseDurationField("async.timeout", a.Timeout); err != nil {
			return err
		}
	}
	if cfg.Logging.Remote.RatePerSec < 0 {
		return errors.New("logging.remote.rate_per_sec must be >= 0")
	}
	if cfg.Logging.Remote.Enabled && strings.TrimSpace(cfg.LogChannel) == "" {
		return errors.New("logging.remote.enabled requires log_channel")
	}

	if j := cfg.Journal; j != nil {
		driver := strings.ToLower(strings.TrimSpace(j.Driver))
		switch driver {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(j.Path) == "" {
				return fmt.Errorf("journal.path is required when journal.driver=%s", driver)
			}
		default:
			return fmt.Errorf("unknown journal.driver: %s", j.Driver)
		}
		if _, err := ParseDurationField("journal.busy_timeout", j.BusyTimeout); err != nil {
			return err
		}
	}
	if cfg.Relay.ChainPrevID && !JournalEnabled(cfg) {
		return errors.New("relay.chain_prev_id requires a journal")
	}

	if h := cfg.Heartbeat; h != nil && h.Enabled {
		if strings.TrimSpace(h.Channel) == "" {
			return errors.New("heartbeat.channel is required when heartbeat is enabled")
		}
		if strings.TrimSpace(h.Schedule) == "" {
			return errors.New("heartbeat.schedule is required when heartbeat is enabled")
		}
		if tz := strings.TrimSpace(h.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("heartbeat.timezone: invalid %q: %w", tz, err)
			}
		}
	}
	if ad := cfg.Admin; ad != nil && ad.Enabled {
		if _, err := ParseDurationField("admin.read_timeout", ad.ReadTimeout); err != nil {
			return err
		}
		if _, err := ParseDurationField("admin.idle_timeout", ad.IdleTimeout); err != nil {
			return err
		}
	}
	return nil
}

// JournalEnabled reports whether a journal driver is configured.
func JournalEnabled(cfg *Config) bool {
	if cfg == nil || cfg.Journal == nil {
		return false
	}
	d := strings.TrimSpace(cfg.Journal.Driver)
	return d != "" && !strings.EqualFold(d, "none")
}

// ParseDurationField parses an optional, non-negative Go duration. Empty is 0.
// path names the field in errors.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %w", path, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %s", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def standing in for an
// empty or zero value.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
