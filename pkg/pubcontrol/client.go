package pubcontrol

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
)

var errNilItem = errors.New("pubcontrol: nil item")

// Client publishes to a single endpoint. It is safe for concurrent use.
//
// The async worker is started by the first PublishAsync and stopped by
// Finish; a later PublishAsync starts a fresh one.
type Client struct {
	// mu guards uri and auth. It is never held while talking to the worker.
	mu   sync.Mutex
	uri  string
	auth AuthConfig

	opts options

	// wmu guards w and stays held while Finish waits for the worker to exit.
	wmu sync.Mutex
	w   *worker
}

func NewClient(uri string, opts ...Option) *Client {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &Client{uri: uri, opts: o}
}

func (c *Client) URI() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uri
}

// Auth returns a copy of the current credentials.
func (c *Client) Auth() AuthConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auth.clone()
}

// SetAuthBasic configures Basic credentials. Basic takes precedence over JWT
// when both are configured.
func (c *Client) SetAuthBasic(user, pass string) {
	c.mu.Lock()
	c.auth.Basic = &BasicAuth{User: user, Pass: pass}
	c.mu.Unlock()
}

// SetAuthJWT configures a JWT claim and signing key. The claim is copied.
func (c *Client) SetAuthJWT(claim map[string]any, key []byte) {
	c.mu.Lock()
	c.auth.JWT = &JWTAuth{Claim: maps.Clone(claim), Key: append([]byte(nil), key...)}
	c.mu.Unlock()
}

// Running reports whether an async worker is currently active.
func (c *Client) Running() bool {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.w != nil && workerState(c.w.state.Load()) == workerRunning
}

func (c *Client) resolve() (uri, header string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	header, err = GenerateHeader(c.auth, c.opts.signer, c.opts.now())
	if err != nil {
		return "", "", fmt.Errorf("pubcontrol: auth header for %s: %w", c.uri, err)
	}
	return c.uri, header, nil
}

// Publish sends item to channel and blocks until the endpoint answers.
// Transport failures come back as *TransportError or *PublishRejectedError.
func (c *Client) Publish(ctx context.Context, channel string, item *Item) error {
	if item == nil {
		return errNilItem
	}
	export, err := item.Export()
	if err != nil {
		return err
	}
	return c.publishExport(ctx, channel, export)
}

func (c *Client) publishExport(ctx context.Context, channel string, export map[string]any) error {
	export["channel"] = channel
	uri, auth, err := c.resolve()
	if err != nil {
		return err
	}
	return publishCall(ctx, c.opts.transport, uri, auth, []map[string]any{export})
}

// PublishAsync queues item for the background worker and returns without
// network I/O. Export and auth errors are returned synchronously; transport
// outcomes are only reported through cb, which may be nil.
func (c *Client) PublishAsync(channel string, item *Item, cb Callback) error {
	if !c.opts.async {
		return ErrAsyncUnsupported
	}
	if item == nil {
		return errNilItem
	}
	export, err := item.Export()
	if err != nil {
		return err
	}
	return c.enqueue(channel, export, cb)
}

func (c *Client) enqueue(channel string, export map[string]any, cb Callback) error {
	if !c.opts.async {
		return ErrAsyncUnsupported
	}
	export["channel"] = channel
	uri, auth, err := c.resolve()
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.w == nil {
		c.w = newWorker(c.opts, uri)
		c.w.start()
	}
	c.w.push(entry{kind: entryPublish, req: request{uri: uri, auth: auth, channel: channel, export: export, cb: cb}})
	return nil
}

// Finish flushes every request queued so far and blocks until the worker has
// exited. It is a no-op when no worker is running, so it may be called twice.
//
// Callbacks must not call Finish on the same client, and must not call
// PublishAsync on it while a Finish is in progress.
func (c *Client) Finish() {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.w == nil {
		return
	}
	c.w.stopAndWait()
	c.w = nil
}
