package core

import "time"

// EventKind names the mutation a TransactionEvent reports.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

// TransactionEvent is emitted after a mutation has been stored. Transaction
// is nil for deletions.
type TransactionEvent struct {
	Kind        EventKind    `json:"kind"`
	ID          string       `json:"id"`
	Transaction *Transaction `json:"transaction,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

func (k EventKind) Valid() bool {
	switch k {
	case EventCreated, EventUpdated, EventDeleted:
		return true
	}
	return false
}
