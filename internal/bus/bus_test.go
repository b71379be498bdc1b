package bus

import (
	"errors"
	"testing"
)

type recordingSink struct {
	events []Event
	err    error
}

func (s *recordingSink) Append(e Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func TestPublish_OrderedDelivery(t *testing.T) {
	b := New()
	var order []string
	b.Subscribe(func(e Event) { order = append(order, "first") })
	b.Subscribe(func(e Event) { order = append(order, "second") })

	b.Publish(Event{Type: EventTaskCompleted})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("delivery order = %v, want [first second]", order)
	}
}

func TestPublish_PanickingSubscriberDoesNotSuppressOthers(t *testing.T) {
	b := New()
	delivered := false
	b.Subscribe(func(e Event) { panic("subscriber bug") })
	b.Subscribe(func(e Event) { delivered = true })

	b.Publish(Event{Type: EventTaskFailed})

	if !delivered {
		t.Error("panic in first subscriber suppressed delivery to second")
	}
}

func TestPublish_GoalNamespaceGoesToSinks(t *testing.T) {
	b := New()
	sink := &recordingSink{}
	b.AddSink(sink)

	b.Publish(Event{Type: EventGoalMerged, GoalID: "g1"})
	b.Publish(Event{Type: EventTaskCompleted, GoalID: "g1"})
	b.Publish(Event{Type: EventCascadeComplete, CondoID: "c1"})

	if len(sink.events) != 1 {
		t.Fatalf("sink got %d events, want 1 (goal.* only)", len(sink.events))
	}
	if sink.events[0].Type != EventGoalMerged {
		t.Errorf("sink event = %s, want %s", sink.events[0].Type, EventGoalMerged)
	}
}

func TestPublish_FailingSinkDoesNotBlockOthers(t *testing.T) {
	b := New()
	bad := &recordingSink{err: errors.New("disk full")}
	good := &recordingSink{}
	b.AddSink(bad)
	b.AddSink(good)

	b.Publish(Event{Type: EventGoalCompleted, GoalID: "g1"})

	if len(good.events) != 1 {
		t.Error("failing sink suppressed delivery to the next sink")
	}
}

func TestPublish_StampsTimestamp(t *testing.T) {
	b := New()
	var got Event
	b.Subscribe(func(e Event) { got = e })

	b.Publish(Event{Type: EventKickoff, GoalID: "g1"})

	if got.Timestamp.IsZero() {
		t.Error("expected Publish to stamp the timestamp")
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	count := 0
	unsub := b.Subscribe(func(e Event) { count++ })

	b.Publish(Event{Type: EventKickoff})
	unsub()
	b.Publish(Event{Type: EventKickoff})

	if count != 1 {
		t.Errorf("subscriber called %d times, want 1", count)
	}
}

func TestEventType_GoalNamespace(t *testing.T) {
	cases := []struct {
		typ  EventType
		want bool
	}{
		{EventKickoff, true},
		{EventGoalMerged, true},
		{EventPushFailed, true},
		{EventPRCreated, true},
		{EventTaskRetry, false},
		{EventCascadeComplete, false},
		{EventPlanFileChanged, false},
	}
	for _, c := range cases {
		if got := c.typ.GoalNamespace(); got != c.want {
			t.Errorf("%s.GoalNamespace() = %v, want %v", c.typ, got, c.want)
		}
	}
}
