package pubcontrol

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
)

// Transport performs one blocking HTTP POST. A non-nil error means the round
// trip itself failed; any HTTP status is returned as-is.
type Transport interface {
	Post(ctx context.Context, url string, header http.Header, body []byte) (status int, respBody []byte, err error)
}

// HTTPTransport is the default Transport on top of net/http.
type HTTPTransport struct {
	Client *http.Client
}

// NewHTTPTransport returns a transport whose requests time out after timeout
// (0 disables the client-side timeout).
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{Client: &http.Client{Timeout: timeout}}
}

func (t *HTTPTransport) Post(ctx context.Context, url string, header http.Header, body []byte) (int, []byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	// Cap error bodies; endpoints answer with short diagnostics.
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}

type publishBody struct {
	Items []map[string]any `json:"items"`
}

// publishCall POSTs items to uri + "/publish/" and maps failures to
// *TransportError or *PublishRejectedError. All items share one outcome.
func publishCall(ctx context.Context, t Transport, uri, authHeader string, items []map[string]any) error {
	body, err := json.Marshal(publishBody{Items: items})
	if err != nil {
		return &TransportError{Err: err}
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	if authHeader != "" {
		header.Set("Authorization", authHeader)
	}
	status, respBody, err := t.Post(ctx, uri+"/publish/", header, body)
	if err != nil {
		return &TransportError{Err: err}
	}
	if status < 200 || status >= 300 {
		return &PublishRejectedError{StatusCode: status, Body: string(respBody)}
	}
	return nil
}
