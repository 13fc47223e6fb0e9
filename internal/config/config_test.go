package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "pubcontrol/pkg/logx"
)

const sampleYAML = `
endpoints:
  - uri: http://localhost:5561
    iss: realm
    key: secret
  - uri: https://api.example.com
    user: alice
    pass: hunter2
logging:
  level: debug
  console: true
async:
  rate_per_sec: 20
  timeout: 5s
journal:
  driver: file
  path: ./state/relay
heartbeat:
  enabled: true
  schedule: "@every 30s"
  channel: relay.heartbeat
`

func TestParseYAML(t *testing.T) {
	cfg, err := ParseBytes("relay.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Endpoints) != 2 || cfg.Endpoints[0].Key != "secret" || cfg.Endpoints[1].User != "alice" {
		t.Fatalf("endpoints = %+v", cfg.Endpoints)
	}
	if !cfg.AsyncEnabled() || cfg.Async.RatePerSec != 20 {
		t.Fatalf("async = %+v", cfg.Async)
	}
	if cfg.Heartbeat == nil || cfg.Heartbeat.Channel != "relay.heartbeat" {
		t.Fatalf("heartbeat = %+v", cfg.Heartbeat)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestParseRejectsUnknownAndTrailing(t *testing.T) {
	if _, err := ParseBytes("relay.yaml", []byte("endpoints: []\nbogus: 1\n")); err == nil {
		t.Fatal("unknown field accepted")
	}
	if _, err := ParseBytes("relay.json", []byte(`{"endpoints":[]} {"endpoints":[]}`)); err == nil {
		t.Fatal("trailing data accepted")
	}
	if _, err := ParseBytes("relay.json", []byte(`{"endpoints":[{"uri":"http://a"}]}`)); err != nil {
		t.Fatalf("json: %v", err)
	}
}

func TestAsyncEnabledDefault(t *testing.T) {
	off := false
	cases := []struct {
		cfg  *Config
		want bool
	}{
		{nil, true},
		{&Config{}, true},
		{&Config{Async: &AsyncConfig{}}, true},
		{&Config{Async: &AsyncConfig{Enabled: &off}}, false},
	}
	for i, tc := range cases {
		if got := tc.cfg.AsyncEnabled(); got != tc.want {
			t.Fatalf("case %d: AsyncEnabled = %v, want %v", i, got, tc.want)
		}
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"missing uri", Config{Endpoints: []EndpointConfig{{}}}, "endpoints[0].uri is required"},
		{"bad scheme", Config{Endpoints: []EndpointConfig{{URI: "ftp://x"}}}, "scheme"},
		{"iss without key", Config{Endpoints: []EndpointConfig{{URI: "http://x", Iss: "r"}}}, "iss and key"},
		{"pass without user", Config{Endpoints: []EndpointConfig{{URI: "http://x", Pass: "p"}}}, "pass set without user"},
		{"bad timeout", Config{Async: &AsyncConfig{Timeout: "soon"}}, "async.timeout"},
		{"negative rate", Config{Async: &AsyncConfig{RatePerSec: -1}}, "rate_per_sec"},
		{"remote without channel", Config{Logging: LoggingConfig{Remote: LoggingRemote{Enabled: true}}}, "log_channel"},
		{"journal without path", Config{Journal: &JournalConfig{Driver: "sqlite"}}, "journal.path"},
		{"unknown driver", Config{Journal: &JournalConfig{Driver: "redis", Path: "x"}}, "unknown journal.driver"},
		{"chain without journal", Config{Relay: RelayConfig{ChainPrevID: true}}, "chain_prev_id"},
		{"heartbeat without channel", Config{Heartbeat: &HeartbeatConfig{Enabled: true, Schedule: "1m"}}, "heartbeat.channel"},
		{"heartbeat bad tz", Config{Heartbeat: &HeartbeatConfig{Enabled: true, Schedule: "1m", Channel: "c", Timezone: "Mars/Base"}}, "heartbeat.timezone"},
		{"admin bad timeout", Config{Admin: &AdminConfig{Enabled: true, ReadTimeout: "later"}}, "admin.read_timeout"},
		{"ok", Config{Endpoints: []EndpointConfig{{URI: "https://x/prefix"}}, Journal: &JournalConfig{Driver: "none"}}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&tc.cfg)
			if tc.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	oldCfg := &Config{Endpoints: []EndpointConfig{{URI: "http://a", Iss: "r", Key: "old-secret"}}}
	newCfg := &Config{
		Endpoints: []EndpointConfig{{URI: "http://a", Iss: "r", Key: "new-secret"}, {URI: "http://b", User: "u", Pass: "pw-secret"}},
		Heartbeat: &HeartbeatConfig{Enabled: true, Schedule: "1m", Channel: "hb"},
	}
	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(sections, ",") != "endpoints,heartbeat" {
		t.Fatalf("sections = %v", sections)
	}

	var buf bytes.Buffer
	logx.NewWriter(&buf, "debug").Info("summary", attrs...)
	out := buf.String()
	for _, secret := range []string{"new-secret", "old-secret", "pw-secret"} {
		if strings.Contains(out, secret) {
			t.Fatalf("summary leaked %q: %s", secret, out)
		}
	}
	if !strings.Contains(out, `"endpoints.count":2`) {
		t.Fatalf("summary = %s", out)
	}

	if sections, _ := SummarizeConfigChange(newCfg, newCfg); len(sections) != 0 {
		t.Fatalf("identical configs reported changes: %v", sections)
	}
}

func TestManagerWatchPublishesValidChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	write := func(s string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(s), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write("endpoints:\n  - uri: http://a\n")

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register before the first write.
	time.Sleep(200 * time.Millisecond)
	write("endpoints:\n  - uri: ftp://invalid\n")
	time.Sleep(600 * time.Millisecond)
	write("endpoints:\n  - uri: http://b\n")

	select {
	case cfg := <-sub:
		if len(cfg.Endpoints) != 1 || cfg.Endpoints[0].URI != "http://b" {
			t.Fatalf("published = %+v", cfg.Endpoints)
		}
		if m.Get() != cfg {
			t.Fatal("published config not committed")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}
}

func TestParseExpandsEnv(t *testing.T) {
	t.Setenv("RELAY_TEST_KEY", "k3y")
	cfg, err := ParseBytes("relay.yaml", []byte("endpoints:\n  - uri: http://a\n    iss: realm\n    key: ${RELAY_TEST_KEY}\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := cfg.Endpoints[0].Key; got != "k3y" {
		t.Fatalf("key = %q", got)
	}

	_, err = ParseBytes("relay.json", []byte(`{"endpoints":[{"uri":"http://a","user":"u","pass":"${RELAY_TEST_UNSET_1}"}]}`))
	if err == nil || !strings.Contains(err.Error(), "RELAY_TEST_UNSET_1") {
		t.Fatalf("unset variable error = %v", err)
	}

	// bare $NAME is literal
	cfg, err = ParseBytes("relay.json", []byte(`{"endpoints":[{"uri":"http://a","user":"u","pass":"pa$word"}]}`))
	if err != nil || cfg.Endpoints[0].Pass != "pa$word" {
		t.Fatalf("literal dollar: cfg=%+v err=%v", cfg, err)
	}
}

func TestParseDurationHelpers(t *testing.T) {
	if d, err := ParseDurationOrDefault("x", "", 3*time.Second); err != nil || d != 3*time.Second {
		t.Fatalf("default = %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "0s", time.Second); err != nil || d != time.Second {
		t.Fatalf("zero = %v, %v", d, err)
	}
	if _, err := ParseDurationField("async.timeout", "-1s"); err == nil || !strings.Contains(err.Error(), "async.timeout") {
		t.Fatalf("negative = %v", err)
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatal("garbage duration accepted")
	}
}
