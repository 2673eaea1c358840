package status

import (
	"testing"
	"time"

	"courier/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Unregistered {
		t.Errorf("initial state = %s, want UNREGISTERED", m.Current())
	}
}

func TestOnboardingPath(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{Registering, Connected, Disconnected, Connected}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	if m.Current() != Connected {
		t.Errorf("state = %s, want CONNECTED", m.Current())
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)

	// Cannot be connected without registering first.
	if err := m.Transition(Connected); err == nil {
		t.Error("expected error for UNREGISTERED -> CONNECTED")
	}
	if m.Current() != Unregistered {
		t.Errorf("state changed on invalid transition: %s", m.Current())
	}
}

func TestSelfTransitionIsNoop(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Registering); err != nil {
		t.Fatal(err)
	}
	// Registration error keeps the session in Registering; re-asserting
	// the state must not publish a change.
	if err := m.Transition(Registering); err != nil {
		t.Fatal(err)
	}

	<-ch // the real transition
	select {
	case evt := <-ch:
		t.Errorf("unexpected event for self-transition: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishesChanges(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Registering); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		change, ok := evt.Payload.(Change)
		if !ok {
			t.Fatalf("payload type = %T", evt.Payload)
		}
		if change.From != Unregistered || change.To != Registering {
			t.Errorf("change = %+v", change)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for state change event")
	}
}
