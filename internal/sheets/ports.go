// Package sheets defines the spreadsheet mirror port.
package sheets

import (
	"context"

	"ledger/internal/core"
)

// Mirror keeps an external copy of the ledger, one entry per transaction.
type Mirror interface {
	// Upsert inserts or replaces the entry of t.ID.
	Upsert(ctx context.Context, t core.Transaction) error
	// Delete removes the entry of id; absent entries are not an error.
	Delete(ctx context.Context, id string) error
	// IDs lists every mirrored transaction ID.
	IDs(ctx context.Context) ([]string, error)
}
