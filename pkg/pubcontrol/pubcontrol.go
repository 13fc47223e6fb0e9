package pubcontrol

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
)

// EndpointConfig describes one endpoint. When both Iss and Key are set the
// client is configured for JWT auth with the claim {"iss": Iss}. User enables
// Basic auth instead.
type EndpointConfig struct {
	URI  string
	Iss  string
	Key  []byte
	User string
	Pass string
}

// PubControl broadcasts publishes to a set of clients.
type PubControl struct {
	mu      sync.RWMutex
	clients []*Client
	opts    []Option
	async   bool
}

// New builds a PubControl with a client per endpoint. opts apply to every
// client created by New and ApplyConfig.
func New(endpoints []EndpointConfig, opts ...Option) *PubControl {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	p := &PubControl{opts: append([]Option(nil), opts...), async: o.async}
	p.ApplyConfig(endpoints...)
	return p
}

// ApplyConfig appends one client per endpoint.
func (p *PubControl) ApplyConfig(endpoints ...EndpointConfig) {
	created := make([]*Client, 0, len(endpoints))
	for _, e := range endpoints {
		c := NewClient(e.URI, p.opts...)
		if e.Iss != "" && len(e.Key) > 0 {
			c.SetAuthJWT(map[string]any{"iss": e.Iss}, e.Key)
		}
		if e.User != "" {
			c.SetAuthBasic(e.User, e.Pass)
		}
		created = append(created, c)
	}
	p.mu.Lock()
	p.clients = append(p.clients, created...)
	p.mu.Unlock()
}

func (p *PubControl) AddClient(c *Client) {
	if c == nil {
		return
	}
	p.mu.Lock()
	p.clients = append(p.clients, c)
	p.mu.Unlock()
}

// RemoveAllClients drops every client without finishing them; call Finish
// first if async work may be pending.
func (p *PubControl) RemoveAllClients() {
	p.mu.Lock()
	p.clients = nil
	p.mu.Unlock()
}

// Clients returns a snapshot of the configured clients.
func (p *PubControl) Clients() []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*Client(nil), p.clients...)
}

// AsyncSupported reports the capability flag the PubControl was built with.
func (p *PubControl) AsyncSupported() bool { return p.async }

// Publish synchronously publishes to every client in order, stopping at the
// first failure.
func (p *PubControl) Publish(ctx context.Context, channel string, item *Item) error {
	if item == nil {
		return errNilItem
	}
	export, err := item.Export()
	if err != nil {
		return err
	}
	for _, c := range p.Clients() {
		if err := c.publishExport(ctx, channel, maps.Clone(export)); err != nil {
			return fmt.Errorf("publish to %s: %w", c.URI(), err)
		}
	}
	return nil
}

// PublishAsync queues item on every client. cb, when non-nil, runs exactly
// once after every endpoint has reported, with the first error seen. With no
// clients configured cb runs immediately with success.
//
// A client that fails to enqueue (auth signing, async disabled) counts as a
// failed endpoint for cb and its error is also returned.
func (p *PubControl) PublishAsync(channel string, item *Item, cb Callback) error {
	if !p.async {
		return ErrAsyncUnsupported
	}
	if item == nil {
		return errNilItem
	}
	export, err := item.Export()
	if err != nil {
		return err
	}

	clients := p.Clients()
	var handle Callback
	if cb != nil {
		if len(clients) == 0 {
			cb(true, "")
			return nil
		}
		handle = NewAggregator(len(clients), cb).Handle
	}

	var errs []error
	for _, c := range clients {
		if err := c.enqueue(channel, maps.Clone(export), handle); err != nil {
			errs = append(errs, fmt.Errorf("enqueue for %s: %w", c.URI(), err))
			if handle != nil {
				handle(false, err.Error())
			}
		}
	}
	return errors.Join(errs...)
}

// Finish finishes every client in turn. See Client.Finish.
func (p *PubControl) Finish() {
	if !p.async {
		return
	}
	for _, c := range p.Clients() {
		c.Finish()
	}
}
