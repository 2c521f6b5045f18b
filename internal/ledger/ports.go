package ledger

import (
	"context"

	"ledger/internal/core"
)

// Ports for outbound adapters.
type (
	// Store is the durable keyed collection of transactions. Implementations
	// return *core.NotFoundError for unknown IDs and keep insertion order in
	// Query results.
	Store interface {
		// Create assigns an ID, and a date when the given one is zero.
		Create(ctx context.Context, t core.Transaction) (core.Transaction, error)
		// Update replaces every mutable field. A zero Date keeps the stored one.
		Update(ctx context.Context, id string, t core.Transaction) (core.Transaction, error)
		Delete(ctx context.Context, id string) error
		// Query returns the transactions inside p; the zero Period means all.
		Query(ctx context.Context, p core.Period) ([]core.Transaction, error)
	}

	// Publisher receives an event after every successful mutation.
	Publisher interface {
		Publish(ctx context.Context, ev core.TransactionEvent) error
	}

	// Pinger is implemented by stores that can report their health.
	Pinger interface {
		Ping(ctx context.Context) error
	}
)
