package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"ledger/internal/core"
)

// messageVersion is bumped when the wire layout of EventMessage changes.
const messageVersion = 1

// EventMessage is the JSON body of a transaction event on the wire.
type EventMessage struct {
	Version     int               `json:"version"`
	Kind        core.EventKind    `json:"kind"`
	ID          string            `json:"id"`
	Transaction *core.Transaction `json:"transaction,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

func NewEventMessage(ev core.TransactionEvent) *EventMessage {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &EventMessage{
		Version:     messageVersion,
		Kind:        ev.Kind,
		ID:          ev.ID,
		Transaction: ev.Transaction,
		Timestamp:   ts,
	}
}

func (m *EventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// Event converts the message back to the domain event.
func (m *EventMessage) Event() core.TransactionEvent {
	return core.TransactionEvent{Kind: m.Kind, ID: m.ID, Transaction: m.Transaction, Timestamp: m.Timestamp}
}

// EventMessageFromJSON decodes and checks a message body. Created and
// updated events must carry the transaction.
func EventMessageFromJSON(data []byte) (*EventMessage, error) {
	var msg EventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if !msg.Kind.Valid() {
		return nil, fmt.Errorf("unknown event kind %q", msg.Kind)
	}
	if msg.ID == "" {
		return nil, fmt.Errorf("event without transaction id")
	}
	if msg.Kind != core.EventDeleted && msg.Transaction == nil {
		return nil, fmt.Errorf("%s event %s without transaction", msg.Kind, msg.ID)
	}
	return &msg, nil
}
