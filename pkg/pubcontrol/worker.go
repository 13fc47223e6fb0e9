package pubcontrol

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"pubcontrol/internal/runtime/supervisor"
	"pubcontrol/pkg/eventbus"
	logx "pubcontrol/pkg/logx"
)

// MaxBatch is the most requests a worker sends in one transport call.
const MaxBatch = 10

type workerState int32

const (
	workerNotStarted workerState = iota
	workerRunning
	workerStopped
)

func (s workerState) String() string {
	switch s {
	case workerRunning:
		return "running"
	case workerStopped:
		return "stopped"
	default:
		return "not-started"
	}
}

type entryKind uint8

const (
	entryPublish entryKind = iota
	entryStop
)

// request is immutable once queued. auth is the header computed at enqueue time.
type request struct {
	uri     string
	auth    string
	channel string
	export  map[string]any
	cb      Callback
}

type entry struct {
	kind entryKind
	req  request
}

// worker drains one client's queue on a dedicated goroutine. The queue is
// unbounded; wake carries at most one pending wake-up so producers never block.
type worker struct {
	transport Transport
	log       logx.Logger
	bus       eventbus.Bus
	opts      options

	mu    sync.Mutex
	queue []entry
	wake  chan struct{}

	sup     *supervisor.Supervisor
	state   atomic.Int32
	flushes atomic.Uint64
}

func newWorker(opts options, uri string) *worker {
	return &worker{
		transport: opts.transport,
		log:       opts.log.With(logx.String("comp", "pubcontrol.worker"), logx.String("uri", uri)),
		bus:       opts.bus,
		opts:      opts,
		wake:      make(chan struct{}, 1),
	}
}

func (w *worker) start() {
	if !w.state.CompareAndSwap(int32(workerNotStarted), int32(workerRunning)) {
		return
	}
	w.sup = supervisor.NewSupervisor(context.Background(), supervisor.WithLogger(w.log))
	w.sup.Go0("pubcontrol.worker", w.run)
}

func (w *worker) push(e entry) {
	w.mu.Lock()
	w.queue = append(w.queue, e)
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// stopAndWait queues the stop marker and blocks until the loop has exited.
func (w *worker) stopAndWait() {
	if workerState(w.state.Load()) != workerRunning {
		return
	}
	w.push(entry{kind: entryStop})
	_ = w.sup.Wait(context.Background())
	w.state.Store(int32(workerStopped))
}

func (w *worker) run(ctx context.Context) {
	for {
		batch, stop := w.next()
		if len(batch) > 0 {
			w.flush(ctx, batch)
		}
		if stop {
			w.mu.Lock()
			discarded := len(w.queue)
			w.queue = nil
			w.mu.Unlock()
			if discarded > 0 {
				w.log.Warn("requests queued behind stop were discarded", logx.Int("discarded", discarded))
			}
			return
		}
	}
}

// next blocks until the queue is non-empty, then pops up to MaxBatch publish
// entries. Popping a stop marker ends the batch and reports stop=true.
func (w *worker) next() ([]request, bool) {
	for {
		w.mu.Lock()
		if len(w.queue) > 0 {
			batch := make([]request, 0, min(len(w.queue), MaxBatch))
			stop := false
			for len(w.queue) > 0 && len(batch) < MaxBatch {
				e := w.queue[0]
				w.queue[0] = entry{}
				w.queue = w.queue[1:]
				if e.kind == entryStop {
					stop = true
					break
				}
				batch = append(batch, e.req)
			}
			w.mu.Unlock()
			return batch, stop
		}
		w.mu.Unlock()
		<-w.wake
	}
}

// flush sends the batch as contiguous runs sharing (uri, auth); with a single
// client configuration that is exactly one transport call.
func (w *worker) flush(ctx context.Context, batch []request) {
	for start := 0; start < len(batch); {
		end := start + 1
		for end < len(batch) && batch[end].uri == batch[start].uri && batch[end].auth == batch[start].auth {
			end++
		}
		w.flushRun(ctx, batch[start:end])
		start = end
	}
}

func (w *worker) flushRun(ctx context.Context, run []request) {
	if lim := w.opts.limiter; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			w.log.Warn("rate limit wait failed; sending unthrottled", logx.Int("size", len(run)), logx.Err(err))
		}
	}

	items := make([]map[string]any, len(run))
	channels := make([]string, len(run))
	for i, r := range run {
		items[i] = r.export
		channels[i] = r.channel
	}

	begin := time.Now()
	err := w.call(ctx, run[0].uri, run[0].auth, items)
	took := time.Since(begin)
	w.flushes.Add(1)

	success, message := err == nil, ""
	ev := BatchEvent{URI: run[0].uri, Size: len(run), Channels: channels, Duration: took, At: time.Now()}
	typ := EventBatchSent
	if err != nil {
		message = err.Error()
		ev.Error = message
		typ = EventBatchFailed
		w.log.Warn("publish batch failed", logx.Int("size", len(run)), logx.Duration("took", took), logx.Err(err))
	} else {
		w.log.Debug("publish batch sent", logx.Int("size", len(run)), logx.Duration("took", took))
	}
	if w.bus != nil {
		w.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
	}

	for _, r := range run {
		if r.cb != nil {
			w.invoke(r.cb, success, message)
		}
	}
}

// call runs the transport call, turning a transport panic into a batch failure
// so one bad request cannot take the worker down.
func (w *worker) call(ctx context.Context, uri, auth string, items []map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("publish transport panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = &TransportError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return publishCall(ctx, w.transport, uri, auth, items)
}

func (w *worker) invoke(cb Callback, success bool, message string) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("publish callback panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	cb(success, message)
}
