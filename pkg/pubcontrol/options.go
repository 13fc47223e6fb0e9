package pubcontrol

import (
	"time"

	"golang.org/x/time/rate"

	"pubcontrol/pkg/eventbus"
	logx "pubcontrol/pkg/logx"
)

// Callback receives the outcome of an async publish. message is empty on success.
type Callback func(success bool, message string)

type options struct {
	transport Transport
	signer    TokenSigner
	log       logx.Logger
	bus       eventbus.Bus
	limiter   *rate.Limiter
	now       func() time.Time
	async     bool
}

func defaultOptions() options {
	return options{
		transport: NewHTTPTransport(0),
		signer:    JWTSigner{},
		log:       logx.Nop(),
		now:       time.Now,
		async:     true,
	}
}

// Option configures a Client (or, through PubControl, every client it creates).
type Option func(*options)

// WithTransport replaces the HTTP transport.
func WithTransport(t Transport) Option {
	return func(o *options) {
		if t != nil {
			o.transport = t
		}
	}
}

// WithTokenSigner replaces the JWT signer (default HS256).
func WithTokenSigner(s TokenSigner) Option {
	return func(o *options) {
		if s != nil {
			o.signer = s
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(o *options) {
		if !log.IsZero() {
			o.log = log
		}
	}
}

// WithEventBus makes workers publish a BatchEvent after every flush.
func WithEventBus(bus eventbus.Bus) Option {
	return func(o *options) { o.bus = bus }
}

// WithRateLimit bounds async flushes to perSec batches per second per client.
// perSec <= 0 disables limiting. Sync publishes are never limited.
func WithRateLimit(perSec int) Option {
	return func(o *options) {
		if perSec <= 0 {
			o.limiter = nil
			return
		}
		o.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
	}
}

// WithClock overrides the time source used for JWT expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithAsync declares whether the host allows background publishing.
// When false, PublishAsync returns ErrAsyncUnsupported.
func WithAsync(enabled bool) Option {
	return func(o *options) { o.async = enabled }
}
