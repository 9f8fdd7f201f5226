// Package event provides the in-process event bus carrying run
// lifecycle events and the diagnostics side-channel (panic reports for
// the external viewer/speech collaborators). Delivery to subscribers
// is asynchronous so publishers — the stream reader goroutines in
// particular — never block on a slow consumer.
package event

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Topic routes events to subscribers.
type Topic string

// Topics published by the orchestrator and diagnostics filter.
const (
	// TopicRunStarted fires when a target's process starts.
	TopicRunStarted Topic = "run.started"
	// TopicRunCompleted fires when a target's result is final.
	TopicRunCompleted Topic = "run.completed"
	// TopicPanicReport fires when the diagnostics filter recognizes a
	// panic signature mid-stream.
	TopicPanicReport Topic = "diagnostics.panic"
)

// Event is a routed payload.
type Event struct {
	Topic   Topic
	Payload any
}

// HandlerFunc processes one event.
type HandlerFunc func(ctx context.Context, ev Event)

// ErrBusClosed is returned when publishing to a stopped bus.
var ErrBusClosed = errors.New("event bus is stopped")

// Stats are bus delivery counters.
type Stats struct {
	Published uint64
	Delivered uint64
	Dropped   uint64
}

// Bus fans events out to topic subscribers through a bounded queue
// drained by a single delivery goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Topic][]HandlerFunc

	queue  chan Event
	done   chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewBus creates and starts a bus with the given queue size.
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = 64
	}
	b := &Bus{
		handlers: make(map[Topic][]HandlerFunc),
		queue:    make(chan Event, queueSize),
		done:     make(chan struct{}),
	}
	b.wg.Add(1)
	go b.deliver()
	return b
}

// SubscribeFunc registers fn for a topic.
func (b *Bus) SubscribeFunc(topic Topic, fn HandlerFunc) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], fn)
}

// PublishAsync queues an event without blocking. When the queue is
// full the event is dropped and counted, never stalling the caller.
func (b *Bus) PublishAsync(topic Topic, payload any) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	b.published.Add(1)
	select {
	case b.queue <- Event{Topic: topic, Payload: payload}:
		return nil
	default:
		b.dropped.Add(1)
		return nil
	}
}

// Stop drains queued events and waits for delivery to finish.
func (b *Bus) Stop(ctx context.Context) error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(b.done)

	finished := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns delivery counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
	}
}

func (b *Bus) deliver() {
	defer b.wg.Done()
	ctx := context.Background()
	for {
		select {
		case ev := <-b.queue:
			b.dispatch(ctx, ev)
		case <-b.done:
			// Drain what is already queued.
			for {
				select {
				case ev := <-b.queue:
					b.dispatch(ctx, ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, ev Event) {
	b.mu.RLock()
	subs := append([]HandlerFunc(nil), b.handlers[ev.Topic]...)
	b.mu.RUnlock()

	for _, fn := range subs {
		func() {
			defer func() {
				// A panicking subscriber must not take down delivery.
				_ = recover()
			}()
			fn(ctx, ev)
			b.delivered.Add(1)
		}()
	}
}
