package bus

import (
	"context"
	"testing"
	"time"
)

func TestDrainDeliversByKind(t *testing.T) {
	b := New(10)
	var next, all int
	b.Subscribe(KindNextStep, func(_ context.Context, s *Signal) { next++ })
	b.Subscribe(KindAll, func(_ context.Context, s *Signal) { all++ })

	b.Publish(&Signal{Kind: KindNextStep, Content: "T2"})
	b.Publish(&Signal{Kind: KindSyncReport, Content: "ok"})
	b.Publish(nil)

	if b.Size() != 2 {
		t.Fatalf("expected 2 queued, got %d", b.Size())
	}
	if n := b.Drain(context.Background()); n != 2 {
		t.Fatalf("expected 2 delivered, got %d", n)
	}
	if next != 1 || all != 2 {
		t.Fatalf("unexpected delivery counts next=%d all=%d", next, all)
	}
	if b.Size() != 0 {
		t.Fatalf("expected empty queue after drain")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New(1)
	b.Publish(&Signal{Kind: KindNote})
	b.Publish(&Signal{Kind: KindNote})
	if b.Dropped() != 1 {
		t.Fatalf("expected 1 dropped, got %d", b.Dropped())
	}
}

func TestPublishStampsTimestamp(t *testing.T) {
	b := New(1)
	sig := &Signal{Kind: KindNote}
	b.Publish(sig)
	if sig.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be set")
	}
}

func TestDispatchStopsOnCancel(t *testing.T) {
	b := New(4)
	got := make(chan string, 1)
	b.Subscribe(KindResumeCandidate, func(_ context.Context, s *Signal) { got <- s.RefID })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Dispatch(ctx) }()

	b.Publish(&Signal{Kind: KindResumeCandidate, RefID: "task-1"})
	select {
	case id := <-got:
		if id != "task-1" {
			t.Fatalf("unexpected ref %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not stop")
	}
}
