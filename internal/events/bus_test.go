package events

import (
	"testing"
	"time"
)

func TestSubscribeReceivesPublished(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 4)
	bus.Publish(TopicTask, Event{Type: TypeTaskClaimed, TaskID: "t1"})

	select {
	case got := <-ch:
		if got.Type != TypeTaskClaimed || got.TaskID != "t1" {
			t.Errorf("got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeOtherTopicDoesNotReceive(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicWorker, 4)
	bus.Publish(TopicTask, Event{Type: TypeTaskClaimed})

	select {
	case got, ok := <-ch:
		if ok {
			t.Errorf("unexpected event on worker topic: %+v", got)
		}
	case <-time.After(50 * time.Millisecond):
		// Expected: nothing delivered
	}
}

func TestTapReceivesEveryTopic(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Tap(8)
	bus.Publish(TopicTask, Event{Type: TypeTaskComplete})
	bus.Publish(TopicLevel, Event{Type: TypeLevelComplete})

	got := make([]string, 0, 2)
	for len(got) < 2 {
		select {
		case event := <-ch:
			got = append(got, event.Type)
		case <-time.After(time.Second):
			t.Fatalf("timed out, received %v", got)
		}
	}
	if got[0] != TypeTaskComplete || got[1] != TypeLevelComplete {
		t.Errorf("got %v", got)
	}
}

func TestPublishStampsEvents(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Tap(8)
	at := time.Now().UTC()
	bus.Publish(TopicTask, Event{Type: "a"})
	bus.Publish(TopicTask, Event{Type: "b", Timestamp: at})
	bus.Publish(TopicTask, Event{Type: "c", Timestamp: at}) // collision

	var got []Event
	for len(got) < 3 {
		select {
		case event := <-ch:
			got = append(got, event)
		case <-time.After(time.Second):
			t.Fatalf("timed out, received %d events", len(got))
		}
	}

	for i, event := range got {
		if event.ID == "" {
			t.Errorf("event %d has no id", i)
		}
		if event.Timestamp.IsZero() {
			t.Errorf("event %d has no timestamp", i)
		}
		if i > 0 && !event.Timestamp.After(got[i-1].Timestamp) {
			t.Errorf("timestamps not monotonic at event %d: %v then %v", i, got[i-1].Timestamp, event.Timestamp)
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 1)
	bus.Publish(TopicTask, Event{Type: "first"})
	bus.Publish(TopicTask, Event{Type: "second"}) // dropped, buffer full

	got := <-ch
	if got.Type != "first" {
		t.Errorf("got %q, want first", got.Type)
	}
	select {
	case extra := <-ch:
		t.Errorf("expected second event dropped, got %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicTask, 1)

	bus.Close()
	bus.Close()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}

	// Publishing after close must not panic.
	bus.Publish(TopicTask, Event{Type: "late"})
}
