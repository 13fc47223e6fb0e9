package app

import (
	"context"
	"strings"

	"pubcontrol/internal/config"
	"pubcontrol/pkg/eventbus"
	logx "pubcontrol/pkg/logx"
	"pubcontrol/pkg/pubcontrol"
)

// engines holds the publishing engines built from one config generation.
// logs is nil when remote logging is off.
type engines struct {
	main       *pubcontrol.PubControl
	logs       *pubcontrol.PubControl
	logChannel string
}

func buildEngines(cfg *config.Config, log logx.Logger, bus eventbus.Bus) (*engines, error) {
	opts, err := mapPubControlOptions(cfg, log.With(logx.String("comp", "pubcontrol")), bus)
	if err != nil {
		return nil, err
	}
	e := &engines{main: pubcontrol.New(MapEndpoints(cfg), opts...)}

	if mapLogConfig(cfg).Remote.Enabled {
		logOpts, err := mapPubControlOptions(cfg, logx.Nop(), nil)
		if err != nil {
			return nil, err
		}
		e.logs = pubcontrol.New(MapEndpoints(cfg), logOpts...)
		e.logChannel = strings.TrimSpace(cfg.LogChannel)
	}
	return e, nil
}

// finish flushes every queued publish of both engines.
func (e *engines) finish() {
	if e == nil {
		return
	}
	e.main.Finish()
	if e.logs != nil {
		e.logs.Finish()
	}
}

// publish sends item through p, asynchronously when p allows it. Without async
// support the call is synchronous and cb receives the outcome inline.
func publish(ctx context.Context, p *pubcontrol.PubControl, channel string, item *pubcontrol.Item, cb pubcontrol.Callback) error {
	if p.AsyncSupported() {
		return p.PublishAsync(channel, item, cb)
	}
	err := p.Publish(ctx, channel, item)
	if cb != nil {
		if err != nil {
			cb(false, err.Error())
		} else {
			cb(true, "")
		}
	}
	return nil
}

// logSink ships remote log entries as json-object items on the log channel.
type logSink struct {
	a *App
}

func (s logSink) SendLog(ctx context.Context, entry map[string]any) error {
	a := s.a
	a.emu.RLock()
	defer a.emu.RUnlock()
	if a.closed.Load() {
		return nil
	}
	e := a.eng
	if e == nil || e.logs == nil || e.logChannel == "" {
		return nil
	}
	item := pubcontrol.NewItem([]pubcontrol.Format{pubcontrol.JSONObjectFormat{Value: entry}})
	return publish(ctx, e.logs, e.logChannel, item, nil)
}
