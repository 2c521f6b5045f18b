// Package view keeps a displayed period snapshot (transactions, summary and
// category breakdown) consistent with the ledger across mutations and period
// changes.
//
// Every operation takes a ticket when it is issued. A completion is committed
// only if its ticket is still the most recently issued one, so the snapshot
// always reflects the last request made, not the last one to finish.
package view

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"ledger/internal/core"
	"ledger/internal/log"
)

// Ledger is the command and query surface the synchronizer drives.
// *ledger.Service implements it.
type Ledger interface {
	AddTransaction(ctx context.Context, in core.Input) (core.Transaction, error)
	UpdateTransaction(ctx context.Context, id string, in core.Input) (core.Transaction, error)
	DeleteTransaction(ctx context.Context, id string) error
	ListTransactions(ctx context.Context, p core.Period) ([]core.Transaction, error)
	ComputeSummary(ctx context.Context, p core.Period) (core.Summary, error)
}

// State is one displayed snapshot. Transactions, Summary and Breakdown always
// belong to Period.
type State struct {
	Period       core.Period
	Transactions []core.Transaction
	Summary      core.Summary
	Breakdown    core.CategoryBreakdown
	// Notice is the message of the last failed operation, cleared by the
	// next successful one.
	Notice string
	Loaded bool
}

func (s State) clone() State {
	s.Transactions = slices.Clone(s.Transactions)
	if s.Breakdown != nil {
		b := make(core.CategoryBreakdown, len(s.Breakdown))
		for k, v := range s.Breakdown {
			b[k] = v
		}
		s.Breakdown = b
	}
	return s
}

type Synchronizer struct {
	ledger Ledger
	logger *log.Logger

	mu       sync.Mutex
	state    State
	selected core.Period
	issued   uint64

	// committed is the ticket that produced state.
	committed uint64
}

func New(l Ledger, logger *log.Logger) *Synchronizer {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Synchronizer{
		ledger: l,
		logger: logger.WithComponent(log.ComponentView),
		state:  State{Breakdown: core.CategoryBreakdown{}},
	}
}

// State returns a copy of the current snapshot.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// SelectPeriod switches the view to p. The list and summary are fetched
// together and replace the snapshot as a whole.
func (s *Synchronizer) SelectPeriod(ctx context.Context, p core.Period) error {
	s.mu.Lock()
	s.selected = p
	ticket := s.issue()
	s.mu.Unlock()

	next, err := s.load(ctx, p)
	if err != nil {
		s.fail(ctx, ticket, "select period", err)
		return err
	}
	s.commit(ctx, ticket, "select period", next)
	return nil
}

// Refresh re-derives the currently selected period.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	s.mu.Lock()
	p := s.selected
	ticket := s.issue()
	s.mu.Unlock()

	next, err := s.load(ctx, p)
	if err != nil {
		s.fail(ctx, ticket, log.OpRefresh, err)
		return err
	}
	s.commit(ctx, ticket, log.OpRefresh, next)
	return nil
}

// Add records a transaction and re-derives the selected period. A record
// dated outside that period is stored but not displayed.
func (s *Synchronizer) Add(ctx context.Context, in core.Input) (core.Transaction, error) {
	return s.mutate(ctx, log.OpCreate, func(ctx context.Context) (core.Transaction, error) {
		return s.ledger.AddTransaction(ctx, in)
	})
}

func (s *Synchronizer) Update(ctx context.Context, id string, in core.Input) (core.Transaction, error) {
	return s.mutate(ctx, log.OpUpdate, func(ctx context.Context) (core.Transaction, error) {
		return s.ledger.UpdateTransaction(ctx, id, in)
	})
}

// Delete removes the transaction. When the displayed snapshot is the result
// of the operation issued just before, the record is dropped from it without
// a re-fetch and the summary and breakdown are recomputed from the remaining
// records. Otherwise an earlier operation is still in flight and the selected
// period is loaded again, so the commit never misses its effect.
func (s *Synchronizer) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	p := s.selected
	ticket := s.issue()
	s.mu.Unlock()

	if err := s.ledger.DeleteTransaction(ctx, id); err != nil {
		s.fail(ctx, ticket, log.OpDelete, err)
		return err
	}

	s.mu.Lock()
	if ticket != s.issued {
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "Discarded stale view update", log.FieldOperation, log.OpDelete, "ticket", ticket)
		return nil
	}
	if s.committed == ticket-1 && s.state.Period == p {
		defer s.mu.Unlock()
		if !s.state.Loaded {
			s.state.Notice = ""
			s.committed = ticket
			return nil
		}
		remaining := slices.DeleteFunc(slices.Clone(s.state.Transactions), func(t core.Transaction) bool {
			return t.ID == id
		})
		s.state = derive(p, remaining)
		s.committed = ticket
		return nil
	}
	s.mu.Unlock()

	next, err := s.load(ctx, p)
	if err != nil {
		err = fmt.Errorf("transaction %s deleted but the view could not be refreshed: %w", id, err)
		s.fail(ctx, ticket, log.OpDelete, err)
		return err
	}
	s.commit(ctx, ticket, log.OpDelete, next)
	return nil
}

func (s *Synchronizer) mutate(ctx context.Context, op string, apply func(context.Context) (core.Transaction, error)) (core.Transaction, error) {
	s.mu.Lock()
	p := s.selected
	ticket := s.issue()
	s.mu.Unlock()

	t, err := apply(ctx)
	if err != nil {
		s.fail(ctx, ticket, op, err)
		return core.Transaction{}, err
	}

	next, err := s.load(ctx, p)
	if err != nil {
		err = fmt.Errorf("transaction %s saved but the view could not be refreshed: %w", t.ID, err)
		s.fail(ctx, ticket, op, err)
		return t, err
	}
	s.commit(ctx, ticket, op, next)
	return t, nil
}

// load fetches the list and summary of p concurrently. Nothing is returned
// unless both succeed.
func (s *Synchronizer) load(ctx context.Context, p core.Period) (State, error) {
	var (
		txs     []core.Transaction
		summary core.Summary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		txs, err = s.ledger.ListTransactions(gctx, p)
		return err
	})
	g.Go(func() error {
		var err error
		summary, err = s.ledger.ComputeSummary(gctx, p)
		return err
	})
	if err := g.Wait(); err != nil {
		return State{}, err
	}

	return State{
		Period:       p,
		Transactions: txs,
		Summary:      summary,
		Breakdown:    core.ComputeCategoryBreakdown(txs),
		Loaded:       true,
	}, nil
}

// derive builds a snapshot from an already known list.
func derive(p core.Period, txs []core.Transaction) State {
	return State{
		Period:       p,
		Transactions: txs,
		Summary:      core.ComputeSummary(txs),
		Breakdown:    core.ComputeCategoryBreakdown(txs),
		Loaded:       true,
	}
}

// issue must be called with mu held.
func (s *Synchronizer) issue() uint64 {
	s.issued++
	return s.issued
}

func (s *Synchronizer) commit(ctx context.Context, ticket uint64, op string, next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ticket != s.issued {
		s.logger.DebugContext(ctx, "Discarded stale view update", log.FieldOperation, op, "ticket", ticket)
		return
	}
	s.state = next
	s.committed = ticket
}

// fail records err as the notice when ticket is current. The displayed data
// is left as it was.
func (s *Synchronizer) fail(ctx context.Context, ticket uint64, op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ticket != s.issued {
		s.logger.DebugContext(ctx, "Discarded stale view failure", log.FieldOperation, op, log.FieldError, err)
		return
	}
	s.state.Notice = noticeFor(err)
	s.logger.WarnContext(ctx, "View operation failed", log.FieldOperation, op, log.FieldError, err)
}

func noticeFor(err error) string {
	if ve, ok := core.AsValidationError(err); ok {
		return fmt.Sprintf("Invalid %s: %s", ve.Field, ve.Reason)
	}
	if core.IsNotFound(err) {
		return "That transaction no longer exists"
	}
	if core.IsStoreError(err) {
		return "The ledger is unavailable, please try again"
	}
	return err.Error()
}
