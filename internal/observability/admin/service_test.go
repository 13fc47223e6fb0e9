package admin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "pubcontrol/pkg/logx"
)

func TestStatusRequiresToken(t *testing.T) {
	s := New(Config{Enabled: true, Token: "t0k"}, func(context.Context) any {
		return map[string]any{"accepted": 3}
	}, logx.Nop())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/status", nil)
	req.Header.Set("Authorization", "Bearer t0k")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["accepted"] != float64(3) {
		t.Fatalf("body = %v", body)
	}

	resp, err = http.Get(srv.URL + "/healthz?token=t0k")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(b) != "ok" {
		t.Fatalf("healthz = %d %q", resp.StatusCode, b)
	}
}

func TestPprofOnlyWhenEnabled(t *testing.T) {
	for _, enabled := range []bool{false, true} {
		srv := httptest.NewServer(New(Config{Enabled: true, Pprof: enabled}, nil, logx.Nop()).Handler())
		resp, err := http.Get(srv.URL + "/debug/pprof/cmdline")
		srv.Close()
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		if got := resp.StatusCode == http.StatusOK; got != enabled {
			t.Fatalf("pprof enabled=%v served=%v (status %d)", enabled, got, resp.StatusCode)
		}
	}
}

func TestStartRefusesPublicBindWithoutToken(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, nil, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		s.Stop(context.Background())
		t.Fatal("public bind without token accepted")
	}
}

func TestStartStop(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, nil, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatal("no bound address")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	s.Stop(ctx)
	if s.Addr() != "" {
		t.Fatal("address still set after stop")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":6060":          false,
		"10.0.0.1:6060":  false,
		"nonsense":       false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestMountUsesAuth(t *testing.T) {
	s := New(Config{Enabled: true, Token: "k"}, nil, logx.Nop())
	s.Mount("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("m 1"))
	}))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	for token, want := range map[string]int{"": http.StatusUnauthorized, "k": http.StatusOK} {
		resp, err := http.Get(srv.URL + "/metrics?token=" + token)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("token %q: status %d, want %d", token, resp.StatusCode, want)
		}
	}
}
