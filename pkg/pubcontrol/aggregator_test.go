package pubcontrol

import (
	"sync"
	"testing"
)

func TestAggregatorAllSucceed(t *testing.T) {
	var log resultLog
	a := NewAggregator(3, log.callback())
	a.Handle(true, "")
	a.Handle(true, "")
	if len(log.snapshot()) != 0 {
		t.Fatal("fired before all results arrived")
	}
	if a.Remaining() != 1 {
		t.Fatalf("remaining = %d, want 1", a.Remaining())
	}
	a.Handle(true, "")
	res := log.snapshot()
	if len(res) != 1 || !res[0].success || res[0].message != "" {
		t.Fatalf("results = %+v", res)
	}
	if !a.Completed() {
		t.Fatal("not completed")
	}
}

func TestAggregatorFirstErrorWins(t *testing.T) {
	orders := [][]result{
		{{false, "first"}, {true, ""}, {false, "second"}},
		{{true, ""}, {false, "first"}, {false, "second"}},
		{{true, ""}, {true, ""}, {false, "first"}},
	}
	for i, order := range orders {
		var log resultLog
		a := NewAggregator(len(order), log.callback())
		for _, r := range order {
			a.Handle(r.success, r.message)
		}
		res := log.snapshot()
		if len(res) != 1 || res[0].success || res[0].message != "first" {
			t.Fatalf("order %d: results = %+v", i, res)
		}
	}
}

func TestAggregatorIgnoresExtraResults(t *testing.T) {
	var log resultLog
	a := NewAggregator(1, log.callback())
	a.Handle(true, "")
	a.Handle(false, "late")
	if res := log.snapshot(); len(res) != 1 || !res[0].success {
		t.Fatalf("results = %+v", res)
	}
	if a.Remaining() != 0 {
		t.Fatalf("remaining = %d", a.Remaining())
	}
}

func TestAggregatorReset(t *testing.T) {
	var first, second resultLog
	a := NewAggregator(1, first.callback())
	a.Handle(false, "boom")

	a.Reset(2, second.callback())
	if a.Completed() {
		t.Fatal("completed after reset")
	}
	a.Handle(true, "")
	a.Handle(true, "")
	if res := second.snapshot(); len(res) != 1 || !res[0].success {
		t.Fatalf("results after reset = %+v", res)
	}
	if len(first.snapshot()) != 1 {
		t.Fatal("reset re-fired the old callback")
	}
}

func TestAggregatorConcurrentHandle(t *testing.T) {
	const n = 64
	var log resultLog
	a := NewAggregator(n, log.callback())

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a.Handle(i%7 != 0, "fail")
		}(i)
	}
	wg.Wait()

	res := log.snapshot()
	if len(res) != 1 || res[0].success || res[0].message != "fail" {
		t.Fatalf("results = %+v", res)
	}
}
