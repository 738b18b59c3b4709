// Package bus carries post-commit signals from the engine to whoever is
// listening: the CLI and the optional Kafka and Slack relays.
package bus

import (
	"context"
	"sync"
	"time"
)

// Signal kinds.
const (
	KindNextStep        = "next_step"
	KindResumeCandidate = "resume_candidate"
	KindSyncReport      = "sync_report"
	KindNote            = "note"
	// KindAll subscribes to every kind.
	KindAll = "*"
)

// Signal is one event published after a transaction commits.
type Signal struct {
	Kind      string         `json:"kind"`
	RefKind   string         `json:"ref_kind,omitempty"`
	RefID     string         `json:"ref_id,omitempty"`
	Severity  string         `json:"severity,omitempty"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher is what engine services depend on.
type Publisher interface {
	Publish(sig *Signal)
}

// SignalBus decouples the engine from its listeners.
type SignalBus struct {
	queue   chan *Signal
	subs    map[string][]func(context.Context, *Signal)
	dropped int
	mu      sync.RWMutex
}

// New creates a bus with the given queue capacity (default 100).
func New(capacity int) *SignalBus {
	if capacity <= 0 {
		capacity = 100
	}
	return &SignalBus{
		queue: make(chan *Signal, capacity),
		subs:  make(map[string][]func(context.Context, *Signal)),
	}
}

// Publish enqueues a signal. It never blocks: when the queue is full the
// signal is dropped and counted.
func (b *SignalBus) Publish(sig *Signal) {
	if sig == nil {
		return
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = time.Now().UTC()
	}
	select {
	case b.queue <- sig:
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
	}
}

// Subscribe registers a callback for one signal kind, or KindAll.
func (b *SignalBus) Subscribe(kind string, callback func(context.Context, *Signal)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[kind] = append(b.subs[kind], callback)
}

// Dispatch delivers queued signals until ctx is cancelled.
// This should be run as a goroutine.
func (b *SignalBus) Dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-b.queue:
			b.deliver(ctx, sig)
		}
	}
}

// Drain delivers everything currently queued and returns how many signals
// were delivered. Short-lived callers such as the CLI use it instead of
// Dispatch.
func (b *SignalBus) Drain(ctx context.Context) int {
	n := 0
	for {
		select {
		case sig := <-b.queue:
			b.deliver(ctx, sig)
			n++
		default:
			return n
		}
	}
}

func (b *SignalBus) deliver(ctx context.Context, sig *Signal) {
	b.mu.RLock()
	callbacks := append([]func(context.Context, *Signal){}, b.subs[sig.Kind]...)
	callbacks = append(callbacks, b.subs[KindAll]...)
	b.mu.RUnlock()

	for _, cb := range callbacks {
		cb(ctx, sig)
	}
}

// Size returns the number of queued signals.
func (b *SignalBus) Size() int {
	return len(b.queue)
}

// Dropped returns how many signals were discarded on a full queue.
func (b *SignalBus) Dropped() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Discard is a Publisher that drops everything.
type Discard struct{}

func (Discard) Publish(*Signal) {}
