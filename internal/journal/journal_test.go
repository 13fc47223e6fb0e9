package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pubcontrol/internal/runtime/supervisor"
	"pubcontrol/internal/storage"
	"pubcontrol/pkg/eventbus"
	logx "pubcontrol/pkg/logx"
	"pubcontrol/pkg/pubcontrol"
)

func TestRecorderPersistsBatchEvents(t *testing.T) {
	store, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "journal")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	bus := eventbus.New()
	sup := supervisor.NewSupervisor(context.Background())
	New(store, bus, logx.Nop()).Start(sup)

	at := time.Now()
	bus.Publish(eventbus.Event{Type: pubcontrol.EventBatchSent, Data: pubcontrol.BatchEvent{
		URI: "http://a", Size: 3, Channels: []string{"x", "x", "y"}, Duration: 40 * time.Millisecond, At: at,
	}})
	bus.Publish(eventbus.Event{Type: pubcontrol.EventBatchFailed, Data: pubcontrol.BatchEvent{
		URI: "http://b", Size: 1, Error: "failed to publish: boom", At: at,
	}})
	bus.Publish(eventbus.Event{Type: "unrelated", Data: 42})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var recs []storage.BatchRecord
	for ctx.Err() == nil {
		recs, _ = store.RecentBatches(ctx, 10)
		if len(recs) >= 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	sup.Cancel()
	_ = sup.Wait(ctx)

	if len(recs) != 2 {
		t.Fatalf("records = %+v", recs)
	}
	if !recs[0].OK || recs[0].Size != 3 || recs[0].TookMS != 40 || len(recs[0].Channels) != 3 {
		t.Fatalf("sent record = %+v", recs[0])
	}
	if recs[1].OK || recs[1].Error != "failed to publish: boom" {
		t.Fatalf("failed record = %+v", recs[1])
	}
}

func TestRecorderIgnoresForeignData(t *testing.T) {
	st := &countingStore{}
	New(st, nil, logx.Nop()).Record(eventbus.Event{Type: pubcontrol.EventBatchSent, Data: "nope"})
	if st.n != 0 {
		t.Fatal("non-batch data recorded")
	}
}

type countingStore struct{ n int }

func (c *countingStore) AppendBatch(context.Context, storage.BatchRecord) error { c.n++; return nil }
func (c *countingStore) RecentBatches(context.Context, int) ([]storage.BatchRecord, error) {
	return nil, nil
}
func (c *countingStore) PutLastID(context.Context, string, string) error { return nil }
func (c *countingStore) LastID(context.Context, string) (string, bool, error) {
	return "", false, nil
}
func (c *countingStore) Close() error { return nil }
