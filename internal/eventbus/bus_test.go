package eventbus

import (
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestSubscribeAllTopics(t *testing.T) {
	t.Parallel()
	bus := New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	bus.Publish(Event{Topic: TopicTaskEnqueued, Data: "t1"})
	bus.Publish(Event{Topic: TopicJobFired, Data: "j1"})

	if e := recv(t, ch); e.Topic != TopicTaskEnqueued {
		t.Fatalf("first topic = %s", e.Topic)
	}
	if e := recv(t, ch); e.Topic != TopicJobFired {
		t.Fatalf("second topic = %s", e.Topic)
	}
}

func TestSubscribeFiltersTopics(t *testing.T) {
	t.Parallel()
	bus := New()
	ch, unsub := bus.Subscribe(4, TopicTaskCompleted)
	defer unsub()

	bus.Publish(Event{Topic: TopicTaskEnqueued})
	bus.Publish(Event{Topic: TopicTaskCompleted, Data: "t1"})

	e := recv(t, ch)
	if e.Topic != TopicTaskCompleted {
		t.Fatalf("topic = %s, want only the subscribed one", e.Topic)
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected extra event: %s", e.Topic)
	default:
	}
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	t.Parallel()
	bus := New()
	_, unsub := bus.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			bus.Publish(Event{Topic: TopicTaskEnqueued})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()
	bus := New()
	ch, unsub := bus.Subscribe(4)

	unsub()
	unsub() // idempotent

	bus.Publish(Event{Topic: TopicTaskEnqueued})
	if _, ok := <-ch; ok {
		t.Fatal("event delivered after unsubscribe")
	}
}

func TestPublishStampsTime(t *testing.T) {
	t.Parallel()
	bus := New()
	ch, unsub := bus.Subscribe(1)
	defer unsub()

	bus.Publish(Event{Topic: TopicJobCreated})
	if e := recv(t, ch); e.Time.IsZero() {
		t.Fatal("zero event time")
	}
}
