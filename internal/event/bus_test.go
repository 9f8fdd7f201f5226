package event

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	b := NewBus(8)
	defer b.Stop(context.Background())

	var mu sync.Mutex
	var got []string
	b.SubscribeFunc(TopicPanicReport, func(_ context.Context, ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.Payload.(string))
	})

	if err := b.PublishAsync(TopicPanicReport, "report-1"); err != nil {
		t.Fatalf("PublishAsync() error = %v", err)
	}
	if err := b.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "report-1" {
		t.Errorf("delivered = %v, want [report-1]", got)
	}
}

func TestBusTopicIsolation(t *testing.T) {
	b := NewBus(8)

	delivered := make(chan Topic, 4)
	b.SubscribeFunc(TopicRunStarted, func(_ context.Context, ev Event) {
		delivered <- ev.Topic
	})

	b.PublishAsync(TopicRunCompleted, nil)
	b.PublishAsync(TopicRunStarted, nil)
	b.Stop(context.Background())
	close(delivered)

	var got []Topic
	for topic := range delivered {
		got = append(got, topic)
	}
	if len(got) != 1 || got[0] != TopicRunStarted {
		t.Errorf("delivered = %v, want only run.started", got)
	}
}

func TestBusNeverBlocksPublisher(t *testing.T) {
	b := NewBus(1)
	block := make(chan struct{})
	b.SubscribeFunc(TopicRunStarted, func(_ context.Context, _ Event) {
		<-block
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.PublishAsync(TopicRunStarted, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("PublishAsync blocked on a stalled subscriber")
	}
	close(block)
	b.Stop(context.Background())

	stats := b.Stats()
	if stats.Dropped == 0 {
		t.Error("expected dropped events with a full queue")
	}
}

func TestBusPublishAfterStop(t *testing.T) {
	b := NewBus(4)
	b.Stop(context.Background())
	if err := b.PublishAsync(TopicRunStarted, nil); err != ErrBusClosed {
		t.Errorf("PublishAsync() after stop = %v, want ErrBusClosed", err)
	}
}

func TestBusPanickingSubscriber(t *testing.T) {
	b := NewBus(4)
	var delivered bool
	b.SubscribeFunc(TopicRunStarted, func(_ context.Context, _ Event) {
		panic("bad handler")
	})
	b.SubscribeFunc(TopicRunStarted, func(_ context.Context, _ Event) {
		delivered = true
	})

	b.PublishAsync(TopicRunStarted, nil)
	b.Stop(context.Background())

	if !delivered {
		t.Error("panicking subscriber prevented later delivery")
	}
}
