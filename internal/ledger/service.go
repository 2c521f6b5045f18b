// Package ledger is the command and query surface of the transaction ledger.
// It validates input, talks to a Store, keeps a read cache consistent with
// mutations and emits events for downstream mirrors.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"ledger/internal/cache"
	"ledger/internal/core"
	"ledger/internal/log"
)

// Service orchestrates ledger operations across the store, the read cache
// and the event publisher.
type Service struct {
	store     Store
	publisher Publisher
	cache     cache.Cache[[]core.Transaction]
	logger    *log.Logger
	events    *log.StructuredLogger
	now       func() time.Time

	// generation is bumped by every mutation; a query only fills the cache
	// when no mutation happened while it was reading the store. cacheMu makes
	// that check and the fill atomic with respect to invalidate.
	generation atomic.Uint64
	cacheMu    sync.Mutex
}

type Option func(*Service)

// WithPublisher makes the service emit a TransactionEvent after each
// stored mutation. Publish failures are logged and never fail the command.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithCache puts a read cache in front of period queries.
func WithCache(c cache.Cache[[]core.Transaction]) Option {
	return func(s *Service) { s.cache = c }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.logger = l.WithComponent(log.ComponentLedger) }
}

// WithClock overrides the source of default transaction dates.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: log.New(log.DefaultConfig()).WithComponent(log.ComponentLedger),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.events = log.NewStructuredLogger(s.logger)
	return s
}

// AddTransaction validates in and stores it. Nothing reaches the store when
// validation fails.
func (s *Service) AddTransaction(ctx context.Context, in core.Input) (core.Transaction, error) {
	t, err := in.Normalize(s.now)
	if err != nil {
		return core.Transaction{}, err
	}

	created, err := s.store.Create(ctx, t)
	if err != nil {
		return core.Transaction{}, s.storeFailure(ctx, log.OpCreate, err)
	}

	s.invalidate()
	s.logMutation(ctx, log.OpCreate, created)
	s.publish(ctx, core.EventCreated, created.ID, &created)
	return created, nil
}

// UpdateTransaction replaces the mutable fields of the transaction with the
// given ID. The stored date is kept when in carries none.
func (s *Service) UpdateTransaction(ctx context.Context, id string, in core.Input) (core.Transaction, error) {
	if id == "" {
		return core.Transaction{}, &core.ValidationError{Field: "id", Reason: "required"}
	}
	t, err := in.Normalize(s.now)
	if err != nil {
		return core.Transaction{}, err
	}
	if in.Date.IsZero() {
		t.Date = time.Time{}
	}

	updated, err := s.store.Update(ctx, id, t)
	if err != nil {
		return core.Transaction{}, s.storeFailure(ctx, log.OpUpdate, err)
	}

	s.invalidate()
	s.logMutation(ctx, log.OpUpdate, updated)
	s.publish(ctx, core.EventUpdated, updated.ID, &updated)
	return updated, nil
}

// DeleteTransaction removes the transaction. Deleting an unknown or already
// deleted ID reports a NotFoundError.
func (s *Service) DeleteTransaction(ctx context.Context, id string) error {
	if id == "" {
		return &core.ValidationError{Field: "id", Reason: "required"}
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return s.storeFailure(ctx, log.OpDelete, err)
	}

	s.invalidate()
	s.events.LogMutation(ctx, log.OpDelete, id, "", "", "", "")
	s.publish(ctx, core.EventDeleted, id, nil)
	return nil
}

// ListTransactions returns the transactions of p in insertion order. The
// zero Period lists everything.
func (s *Service) ListTransactions(ctx context.Context, p core.Period) ([]core.Transaction, error) {
	key := cacheKey(p)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			return slices.Clone(cached), nil
		}
	}

	gen := s.generation.Load()
	txs, err := s.store.Query(ctx, p)
	if err != nil {
		return nil, s.storeFailure(ctx, log.OpList, err)
	}
	if txs == nil {
		txs = []core.Transaction{}
	}

	if s.cache != nil {
		s.cacheMu.Lock()
		if s.generation.Load() == gen {
			s.cache.Set(key, slices.Clone(txs))
		}
		s.cacheMu.Unlock()
	}
	return txs, nil
}

// ComputeSummary aggregates the transactions of p. An empty period yields
// zero totals.
func (s *Service) ComputeSummary(ctx context.Context, p core.Period) (core.Summary, error) {
	txs, err := s.ListTransactions(ctx, p)
	if err != nil {
		return core.Summary{}, err
	}
	return core.ComputeSummary(txs), nil
}

// ComputeBreakdown sums the expenses of p per category.
func (s *Service) ComputeBreakdown(ctx context.Context, p core.Period) (core.CategoryBreakdown, error) {
	txs, err := s.ListTransactions(ctx, p)
	if err != nil {
		return nil, err
	}
	return core.ComputeCategoryBreakdown(txs), nil
}

// Ready reports whether the underlying store is reachable. Stores that
// cannot be pinged are assumed ready.
func (s *Service) Ready(ctx context.Context) error {
	if p, ok := s.store.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return &core.StoreError{Op: "ping", Cause: err}
		}
	}
	return nil
}

// Close releases the store and the publisher when they hold resources.
func (s *Service) Close() error {
	var errs []error
	if c, ok := s.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if c, ok := s.publisher.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close ledger service: %w", errors.Join(errs...))
	}
	return nil
}

func (s *Service) invalidate() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.generation.Add(1)
	if s.cache != nil {
		s.cache.Purge()
	}
}

// storeFailure classifies an error returned by the store. Not found and
// validation errors keep their type; anything else becomes a StoreError.
func (s *Service) storeFailure(ctx context.Context, op string, err error) error {
	if core.IsNotFound(err) {
		return err
	}
	if _, ok := core.AsValidationError(err); ok {
		return err
	}

	fields := log.NewFields()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.WarnContext(ctx, "Store call interrupted", fields.WithOperation(op).WithError(err).ToSlice()...)
	} else {
		s.events.LogError(ctx, "Store call failed", err, log.ErrorTypeStore, op, fields)
	}

	var se *core.StoreError
	if errors.As(err, &se) {
		return err
	}
	return &core.StoreError{Op: op, Cause: err}
}

func (s *Service) logMutation(ctx context.Context, op string, t core.Transaction) {
	s.events.LogMutation(ctx, op, t.ID, t.Title, string(t.Type), core.FormatAmount(t.Amount), t.Category)
}

func (s *Service) publish(ctx context.Context, kind core.EventKind, id string, t *core.Transaction) {
	if s.publisher == nil {
		return
	}
	ev := core.TransactionEvent{Kind: kind, ID: id, Transaction: t, Timestamp: s.now().UTC()}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish transaction event",
			log.FieldEventKind, string(kind), log.FieldTxID, id, log.FieldError, err)
	}
}

func cacheKey(p core.Period) string {
	if p.IsAllTime() {
		return "all"
	}
	return p.String()
}
