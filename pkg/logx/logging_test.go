package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

type captureSink struct {
	mu      sync.Mutex
	entries []map[string]any
}

func (c *captureSink) SendLog(ctx context.Context, entry map[string]any) error {
	c.mu.Lock()
	c.entries = append(c.entries, entry)
	c.mu.Unlock()
	return nil
}

func (c *captureSink) snapshot() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.entries...)
}

func TestRemoteSinkHonorsMinLevel(t *testing.T) {
	svc, log := New(Config{Level: "debug", Remote: RemoteConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100}})
	t.Cleanup(func() { _ = svc.Close() })
	sink := &captureSink{}
	svc.SetRemoteSink(sink)

	log.Info("quiet")
	log.Warn("loud", String("endpoint", "http://localhost:5561"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(sink.snapshot()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	got := sink.snapshot()
	if len(got) != 1 {
		t.Fatalf("expected 1 shipped entry, got %d", len(got))
	}
	if got[0]["message"] != "loud" {
		t.Fatalf("message = %v, want loud", got[0]["message"])
	}
	if got[0]["endpoint"] != "http://localhost:5561" {
		t.Fatalf("endpoint field missing: %v", got[0])
	}
}

func TestWithAddsFixedFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "worker"))
	log.Debug("batch flushed", Int("size", 3))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v (raw=%q)", err, buf.String())
	}
	if m["comp"] != "worker" || m["size"] != float64(3) {
		t.Fatalf("unexpected fields: %v", m)
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var log Logger
	if !log.IsZero() {
		t.Fatal("expected zero logger")
	}
	log.Error("ignored")
}

func TestDecodeRemoteEntryTruncates(t *testing.T) {
	long := strings.Repeat("x", 1000)
	m := decodeRemoteEntry([]byte(`{"level":"warn","message":"m","detail":"` + long + `"}`))
	if s, _ := m["detail"].(string); len(s) != 600 {
		t.Fatalf("detail length = %d, want 600", len(s))
	}
	raw := decodeRemoteEntry([]byte("not json"))
	if raw["message"] != "not json" {
		t.Fatalf("raw fallback = %v", raw)
	}
}

func TestCallerPointsAtCallSite(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf, "info").Info("here")

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %q", c)
	}
}

func TestApplyKeepsDerivedLoggersLive(t *testing.T) {
	svc, root := New(Config{Level: "error"})
	t.Cleanup(func() { _ = svc.Close() })
	log := root.With(String("comp", "x"))

	sink := &captureSink{}
	svc.SetRemoteSink(sink)
	svc.Apply(Config{Level: "debug", Remote: RemoteConfig{Enabled: true, MinLevel: "debug", RatePerSec: 10}})
	log.Debug("after apply")

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	got := sink.snapshot()
	if len(got) != 1 || got[0]["comp"] != "x" {
		t.Fatalf("shipped = %v", got)
	}
}
