package config

// Config is the relay configuration file (YAML or JSON).
type Config struct {
	Endpoints []EndpointConfig `json:"endpoints"`
	Logging   LoggingConfig    `json:"logging"`

	// Async controls background publishing. If omitted, async is enabled with
	// no rate limit.
	Async *AsyncConfig `json:"async,omitempty"`

	Journal   *JournalConfig   `json:"journal,omitempty"`
	Heartbeat *HeartbeatConfig `json:"heartbeat,omitempty"`
	Relay     RelayConfig      `json:"relay"`
	Admin     *AdminConfig     `json:"admin,omitempty"`

	// LogChannel, when set together with logging.remote.enabled, receives
	// warn+ log lines as json-object items.
	LogChannel string `json:"log_channel,omitempty"`
}

// EndpointConfig is one publish endpoint.
//
// JWT auth is configured when both iss and key are set; basic auth when user
// is set. Basic wins when both are present.
type EndpointConfig struct {
	URI  string `json:"uri"`
	Iss  string `json:"iss,omitempty"`
	Key  string `json:"key,omitempty"` // do not log
	User string `json:"user,omitempty"`
	Pass string `json:"pass,omitempty"` // do not log
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Remote  LoggingRemote `json:"remote"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingRemote struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// AsyncConfig controls the per-endpoint background workers.
//
// Enabled is a pointer so we can distinguish "omitted" (default true) from an
// explicit false.
type AsyncConfig struct {
	Enabled    *bool `json:"enabled,omitempty"`
	RatePerSec int   `json:"rate_per_sec,omitempty"`
	// Timeout bounds one publish HTTP call (Go duration string). "0s" disables it.
	Timeout string `json:"timeout,omitempty"`
}

// AsyncEnabled reports the effective async flag.
func (c *Config) AsyncEnabled() bool {
	if c == nil || c.Async == nil || c.Async.Enabled == nil {
		return true
	}
	return *c.Async.Enabled
}

// JournalConfig controls the optional delivery journal.
//
// Example:
//
//	"journal": { "driver": "file", "path": "./state/relay" }
type JournalConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// HeartbeatConfig publishes a liveness item on a schedule.
//
// Schedule accepts a cron expression, "@every 30s", a Go duration or "HH:MM".
type HeartbeatConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`
	Channel  string `json:"channel"`
	Timezone string `json:"timezone,omitempty"`
}

type RelayConfig struct {
	// ChainPrevID fills prev-id from the last id published on the channel
	// when an envelope carries an id but no prev-id. Requires a journal.
	ChainPrevID bool `json:"chain_prev_id,omitempty"`
}

// AdminConfig controls the local admin HTTP server (/healthz, /status and
// optionally /debug/pprof/).
//
// Example:
//
//	"admin": { "enabled": true, "addr": "127.0.0.1:6060", "pprof": true }
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}
