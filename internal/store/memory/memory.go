// Package memory is an in-process transaction store. It keeps records in
// insertion order and is used by tests and the default server backend.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"ledger/internal/core"
)

type Store struct {
	mu    sync.Mutex
	items []core.Transaction
	index map[string]int
	now   func() time.Time
	newID func() string
}

func New() *Store {
	return &Store{
		index: make(map[string]int),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// NewWithSeed returns a store pre-filled with txs. Records without an ID get
// one assigned. It panics when a record cannot be stored, such as a
// duplicate ID.
func NewWithSeed(txs ...core.Transaction) *Store {
	s := New()
	for _, t := range txs {
		if _, err := s.Create(context.Background(), t); err != nil {
			panic(fmt.Sprintf("memory: seed %q: %v", t.ID, err))
		}
	}
	return s
}

func (s *Store) Create(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return core.Transaction{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = s.newID()
	}
	if _, exists := s.index[t.ID]; exists {
		return core.Transaction{}, &core.ValidationError{Field: "id", Reason: "already exists"}
	}
	if t.Date.IsZero() {
		t.Date = s.now().UTC()
	}
	s.index[t.ID] = len(s.items)
	s.items = append(s.items, t)
	return t, nil
}

// Update replaces the record in place, so its position in listings does not
// change.
func (s *Store) Update(ctx context.Context, id string, t core.Transaction) (core.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return core.Transaction{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return core.Transaction{}, &core.NotFoundError{ID: id}
	}
	t.ID = id
	if t.Date.IsZero() {
		t.Date = s.items[i].Date
	}
	s.items[i] = t
	return t, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return &core.NotFoundError{ID: id}
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	delete(s.index, id)
	for j := i; j < len(s.items); j++ {
		s.index[s.items[j].ID] = j
	}
	return nil
}

func (s *Store) Query(ctx context.Context, p core.Period) ([]core.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return core.FilterByPeriod(s.items, p), nil
}

// Len returns the number of stored transactions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
