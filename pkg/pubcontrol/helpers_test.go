package pubcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
)

type recordedCall struct {
	URL    string
	Header http.Header
	Items  []map[string]any
}

// fakeTransport records every POST and answers with a fixed status, or with
// failFor[url] when the URL is listed there.
type fakeTransport struct {
	mu      sync.Mutex
	calls   []recordedCall
	status  int
	body    string
	err     error
	failFor map[string]string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{status: http.StatusOK}
}

func (f *fakeTransport) Post(ctx context.Context, url string, header http.Header, body []byte) (int, []byte, error) {
	var decoded struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return 0, nil, errors.New("fake transport: bad body: " + err.Error())
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{URL: url, Header: header.Clone(), Items: decoded.Items})
	if f.err != nil {
		return 0, nil, f.err
	}
	if msg, ok := f.failFor[url]; ok {
		return http.StatusInternalServerError, []byte(msg), nil
	}
	return f.status, []byte(f.body), nil
}

func (f *fakeTransport) snapshot() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

type result struct {
	success bool
	message string
}

// resultLog collects callback invocations.
type resultLog struct {
	mu      sync.Mutex
	results []result
}

func (r *resultLog) callback() Callback {
	return func(success bool, message string) {
		r.mu.Lock()
		r.results = append(r.results, result{success, message})
		r.mu.Unlock()
	}
}

func (r *resultLog) snapshot() []result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]result(nil), r.results...)
}

func jsonItem(v map[string]any, opts ...ItemOption) *Item {
	return NewItem([]Format{JSONObjectFormat{Value: v}}, opts...)
}
