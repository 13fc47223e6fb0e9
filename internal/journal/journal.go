// Package journal persists publish batch outcomes observed on the event bus.
package journal

import (
	"context"
	"time"

	"pubcontrol/internal/runtime/supervisor"
	"pubcontrol/internal/storage"
	"pubcontrol/pkg/eventbus"
	logx "pubcontrol/pkg/logx"
	"pubcontrol/pkg/pubcontrol"
)

const (
	subscribeBuffer = 256
	appendTimeout   = 2 * time.Second
)

// Recorder appends one storage.BatchRecord per batch event.
type Recorder struct {
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger
}

func New(store storage.Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, bus: bus, log: log}
}

// Start subscribes to batch events and records them on a goroutine owned by
// sup. When the supervisor context ends, events already buffered are still
// written before the goroutine exits.
func (r *Recorder) Start(sup *supervisor.Supervisor) {
	if r.store == nil || r.bus == nil {
		return
	}
	events, unsub := r.bus.Subscribe(subscribeBuffer, "pubcontrol.batch.")
	sup.Go0("journal.record", func(ctx context.Context) {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				for {
					select {
					case e := <-events:
						r.Record(e)
					default:
						return
					}
				}
			case e, ok := <-events:
				if !ok {
					return
				}
				r.Record(e)
			}
		}
	})
}

// Record writes e if it carries a pubcontrol.BatchEvent.
func (r *Recorder) Record(e eventbus.Event) {
	ev, ok := e.Data.(pubcontrol.BatchEvent)
	if !ok {
		return
	}
	rec := storage.BatchRecord{
		At:       ev.At,
		URI:      ev.URI,
		Size:     ev.Size,
		Channels: ev.Channels,
		OK:       ev.Error == "",
		Error:    ev.Error,
		TookMS:   ev.Duration.Milliseconds(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	if err := r.store.AppendBatch(ctx, rec); err != nil {
		r.log.Warn("journal append failed", logx.String("uri", ev.URI), logx.Err(err))
	}
}
