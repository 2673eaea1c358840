package bus

import "time"

// Event is a domain event published on the bus.
//
// Kind namespaces used across the client:
//
//	relay.*   inbound relay notifications published by the channel adapter
//	          (and by the responder, which re-injects bot replies through
//	          the same inbound path)
//	chat.*    local chat and message mutations for observers
//	session.* session state changes and registration outcomes
//	outbox.*  send pipeline progress
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Now builds an event stamped with the current time.
func Now(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
