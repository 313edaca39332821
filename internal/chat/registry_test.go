package chat

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/danmuck/chatrelay/internal/testutil/testlog"
)

type nopSink struct{ name string }

func (nopSink) Deliver(string) error { return nil }

func TestRegistryConcurrentClaimSingleWinner(t *testing.T) {
	testlog.Start(t)
	reg := NewRegistry()

	const contenders = 64
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if reg.TryClaim("alice") {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Fatalf("expected exactly one winner, got=%d", got)
	}
	if reg.Len() != 1 {
		t.Fatalf("expected one entry, got=%d", reg.Len())
	}
}

func TestRegistryReleaseAllowsReclaim(t *testing.T) {
	testlog.Start(t)
	reg := NewRegistry()
	if !reg.TryClaim("alice") {
		t.Fatalf("first claim failed")
	}
	if reg.TryClaim("alice") {
		t.Fatalf("second claim must fail while held")
	}
	reg.Release("alice")
	reg.Release("alice")
	reg.Release("nobody")
	if !reg.TryClaim("alice") {
		t.Fatalf("claim after release failed")
	}
}

func TestRegistrySinkBinding(t *testing.T) {
	testlog.Start(t)
	reg := NewRegistry()

	if reg.SetSink("ghost", nopSink{name: "ghost"}) {
		t.Fatalf("SetSink on unheld handle must be ignored")
	}
	if _, ok := reg.LookupSink("ghost"); ok {
		t.Fatalf("unheld handle must not resolve")
	}

	reg.TryClaim("alice")
	if _, ok := reg.LookupSink("alice"); ok {
		t.Fatalf("claimed handle without sink must not resolve")
	}
	if got := len(reg.SnapshotSinks()); got != 0 {
		t.Fatalf("snapshot must omit unbound entries, got=%d", got)
	}

	alice := nopSink{name: "alice"}
	if !reg.SetSink("alice", alice) {
		t.Fatalf("SetSink on held handle failed")
	}
	sink, ok := reg.LookupSink("alice")
	if !ok || sink != (Sink)(alice) {
		t.Fatalf("unexpected lookup: sink=%v ok=%v", sink, ok)
	}

	reg.RemoveSink("alice")
	if _, ok := reg.LookupSink("alice"); ok {
		t.Fatalf("removed sink must not resolve")
	}
	if reg.TryClaim("alice") {
		t.Fatalf("RemoveSink must keep the handle held")
	}
}

func TestRegistrySnapshotAndHandles(t *testing.T) {
	testlog.Start(t)
	reg := NewRegistry()
	for _, h := range []string{"carol", "alice", "bob"} {
		reg.TryClaim(h)
		reg.SetSink(h, nopSink{name: h})
	}
	reg.TryClaim("pending")

	if got := len(reg.SnapshotSinks()); got != 3 {
		t.Fatalf("expected 3 sinks, got=%d", got)
	}
	handles := reg.Handles()
	want := []string{"alice", "bob", "carol", "pending"}
	if len(handles) != len(want) {
		t.Fatalf("unexpected handles: %v", handles)
	}
	for i := range want {
		if handles[i] != want[i] {
			t.Fatalf("unexpected handles order: %v", handles)
		}
	}
}

func TestRegistrySnapshotsStayConsistentUnderChurn(t *testing.T) {
	testlog.Start(t)
	reg := NewRegistry()

	const handles = 16
	const rounds = 200
	sinks := make(map[Sink]string, handles)
	names := make([]string, handles)
	owned := make([]Sink, handles)
	for i := range names {
		names[i] = "user" + string(rune('a'+i))
		owned[i] = &recordingSink{}
		sinks[owned[i]] = names[i]
	}

	stop := make(chan struct{})
	var churn sync.WaitGroup
	for i := range names {
		churn.Add(1)
		go func(handle string, sink Sink) {
			defer churn.Done()
			for r := 0; r < rounds; r++ {
				if !reg.TryClaim(handle) {
					continue
				}
				reg.SetSink(handle, sink)
				reg.RemoveSink(handle)
				reg.SetSink(handle, sink)
				reg.Release(handle)
			}
		}(names[i], owned[i])
	}

	var snapshots sync.WaitGroup
	errs := make(chan string, 4)
	for w := 0; w < 4; w++ {
		snapshots.Add(1)
		go func() {
			defer snapshots.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				seen := make(map[Sink]bool)
				for _, sink := range reg.SnapshotSinks() {
					if sink == nil {
						errs <- "nil sink in snapshot"
						return
					}
					if _, ok := sinks[sink]; !ok {
						errs <- "unknown sink in snapshot"
						return
					}
					if seen[sink] {
						errs <- "duplicate sink for " + sinks[sink]
						return
					}
					seen[sink] = true
				}
				if got := len(reg.Handles()); got > handles {
					errs <- "more handles than claimants"
					return
				}
			}
		}()
	}

	churn.Wait()
	close(stop)
	snapshots.Wait()
	close(errs)
	for msg := range errs {
		t.Fatalf("inconsistent snapshot: %s", msg)
	}
	if reg.Len() != 0 {
		t.Fatalf("every claimant released, got handles=%v", reg.Handles())
	}
}
