package pubcontrol

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestApplyConfigAuth(t *testing.T) {
	p := New([]EndpointConfig{
		{URI: "http://jwt", Iss: "realm", Key: []byte("secret")},
		{URI: "http://basic", User: "u", Pass: "p"},
		{URI: "http://iss-only", Iss: "realm"},
		{URI: "http://plain"},
	}, WithTransport(newFakeTransport()))

	clients := p.Clients()
	if len(clients) != 4 {
		t.Fatalf("clients = %d, want 4", len(clients))
	}
	jwtAuth := clients[0].Auth()
	if jwtAuth.JWT == nil || jwtAuth.JWT.Claim["iss"] != "realm" || string(jwtAuth.JWT.Key) != "secret" || jwtAuth.Basic != nil {
		t.Fatalf("jwt client auth = %+v", jwtAuth)
	}
	if b := clients[1].Auth().Basic; b == nil || b.User != "u" || b.Pass != "p" {
		t.Fatalf("basic client auth = %+v", b)
	}
	if a := clients[2].Auth(); a.JWT != nil || a.Basic != nil {
		t.Fatalf("iss without key configured auth: %+v", a)
	}
	if a := clients[3].Auth(); a.JWT != nil || a.Basic != nil {
		t.Fatalf("plain client has auth: %+v", a)
	}

	p.ApplyConfig(EndpointConfig{URI: "http://more"})
	if len(p.Clients()) != 5 {
		t.Fatal("ApplyConfig did not append")
	}
	p.RemoveAllClients()
	if len(p.Clients()) != 0 {
		t.Fatal("RemoveAllClients left clients behind")
	}
}

func TestPublishAsyncAggregatesAcrossEndpoints(t *testing.T) {
	ft := newFakeTransport()
	ft.failFor = map[string]string{"http://b/publish/": "boom"}
	p := New([]EndpointConfig{{URI: "http://a"}, {URI: "http://b"}, {URI: "http://c"}}, WithTransport(ft))

	var log resultLog
	if err := p.PublishAsync("ch", jsonItem(map[string]any{"x": 1}), log.callback()); err != nil {
		t.Fatalf("PublishAsync: %v", err)
	}
	p.Finish()

	res := log.snapshot()
	if len(res) != 1 || res[0].success || res[0].message != "failed to publish: boom" {
		t.Fatalf("results = %+v", res)
	}
	if got := len(ft.snapshot()); got != 3 {
		t.Fatalf("transport calls = %d, want 3", got)
	}
}

func TestPublishAsyncEachBroadcastFiresOnce(t *testing.T) {
	ft := newFakeTransport()
	p := New([]EndpointConfig{{URI: "http://a"}, {URI: "http://b"}}, WithTransport(ft))

	var first, second resultLog
	_ = p.PublishAsync("ch", jsonItem(nil), first.callback())
	_ = p.PublishAsync("ch", jsonItem(nil), second.callback())
	p.Finish()

	for name, log := range map[string]*resultLog{"first": &first, "second": &second} {
		if res := log.snapshot(); len(res) != 1 || !res[0].success {
			t.Fatalf("%s broadcast results = %+v", name, res)
		}
	}
}

func TestPublishAsyncNoClients(t *testing.T) {
	p := New(nil, WithTransport(newFakeTransport()))
	var log resultLog
	if err := p.PublishAsync("ch", jsonItem(nil), log.callback()); err != nil {
		t.Fatalf("PublishAsync: %v", err)
	}
	if res := log.snapshot(); len(res) != 1 || !res[0].success {
		t.Fatalf("results = %+v", res)
	}
	p.Finish()
}

func TestPublishAsyncEnqueueErrorCountsAsFailure(t *testing.T) {
	ft := newFakeTransport()
	p := New(nil, WithTransport(ft))
	p.AddClient(NewClient("http://ok", WithTransport(ft)))
	broken := NewClient("http://broken", WithTransport(ft), WithTokenSigner(failingSigner{}))
	broken.SetAuthJWT(map[string]any{"iss": "x"}, []byte("k"))
	p.AddClient(broken)

	var log resultLog
	err := p.PublishAsync("ch", jsonItem(nil), log.callback())
	if err == nil || !strings.Contains(err.Error(), "http://broken") {
		t.Fatalf("error = %v", err)
	}
	p.Finish()
	if res := log.snapshot(); len(res) != 1 || res[0].success {
		t.Fatalf("results = %+v", res)
	}
}

func TestPublishStopsAtFirstError(t *testing.T) {
	ft := newFakeTransport()
	ft.failFor = map[string]string{"http://a/publish/": "nope"}
	p := New([]EndpointConfig{{URI: "http://a"}, {URI: "http://b"}}, WithTransport(ft))

	err := p.Publish(context.Background(), "ch", jsonItem(nil))
	if !errors.Is(err, ErrPublishRejected) {
		t.Fatalf("error = %v, want ErrPublishRejected", err)
	}
	if calls := ft.snapshot(); len(calls) != 1 || calls[0].URL != "http://a/publish/" {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestPublishAsyncUnsupported(t *testing.T) {
	p := New([]EndpointConfig{{URI: "http://a"}}, WithTransport(newFakeTransport()), WithAsync(false))
	if p.AsyncSupported() {
		t.Fatal("AsyncSupported = true")
	}
	if err := p.PublishAsync("ch", jsonItem(nil), nil); !errors.Is(err, ErrAsyncUnsupported) {
		t.Fatalf("error = %v", err)
	}
	p.Finish()
	if err := p.Publish(context.Background(), "ch", jsonItem(nil)); err != nil {
		t.Fatalf("sync publish with async disabled: %v", err)
	}
}
