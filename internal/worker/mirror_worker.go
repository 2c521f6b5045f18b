// Package worker applies transaction events to the spreadsheet mirror.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"ledger/internal/amqp"
	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/sheets"
)

// EventSource delivers transaction events until ctx ends.
type EventSource interface {
	ConsumeWithReconnect(ctx context.Context, handler amqp.Handler) error
}

// Source is the authoritative ledger the mirror is reconciled against.
type Source interface {
	Query(ctx context.Context, p core.Period) ([]core.Transaction, error)
}

// ReconcileResult counts the corrections made by one reconciliation pass.
type ReconcileResult struct {
	Added   int
	Removed int
}

type MirrorWorker struct {
	mirror   sheets.Mirror
	source   Source
	interval time.Duration
	logger   *log.Logger
}

// NewMirrorWorker builds a worker. A nil source or a zero interval disables
// periodic reconciliation.
func NewMirrorWorker(mirror sheets.Mirror, source Source, interval time.Duration, logger *log.Logger) *MirrorWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &MirrorWorker{
		mirror:   mirror,
		source:   source,
		interval: interval,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// HandleEvent applies one event to the mirror. It is an amqp.Handler.
func (w *MirrorWorker) HandleEvent(ctx context.Context, ev core.TransactionEvent) error {
	switch ev.Kind {
	case core.EventCreated, core.EventUpdated:
		if ev.Transaction == nil {
			return fmt.Errorf("%s event %s without transaction", ev.Kind, ev.ID)
		}
		if err := w.mirror.Upsert(ctx, *ev.Transaction); err != nil {
			return fmt.Errorf("mirror %s: %w", ev.ID, err)
		}
	case core.EventDeleted:
		if err := w.mirror.Delete(ctx, ev.ID); err != nil {
			return fmt.Errorf("remove %s from mirror: %w", ev.ID, err)
		}
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}

	w.logger.InfoContext(ctx, "Mirrored transaction event",
		log.FieldEventKind, string(ev.Kind), log.FieldTxID, ev.ID)
	return nil
}

// Reconcile adds transactions missing from the mirror and removes rows
// whose transaction no longer exists. It covers events lost while the
// worker was down.
func (w *MirrorWorker) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var res ReconcileResult
	if w.source == nil {
		return res, nil
	}

	txs, err := w.source.Query(ctx, core.AllTime)
	if err != nil {
		return res, fmt.Errorf("read ledger: %w", err)
	}
	mirrored, err := w.mirror.IDs(ctx)
	if err != nil {
		return res, fmt.Errorf("read mirror: %w", err)
	}

	present := make(map[string]struct{}, len(mirrored))
	for _, id := range mirrored {
		present[id] = struct{}{}
	}
	live := make(map[string]struct{}, len(txs))
	for _, t := range txs {
		live[t.ID] = struct{}{}
		if _, ok := present[t.ID]; ok {
			continue
		}
		if err := w.mirror.Upsert(ctx, t); err != nil {
			return res, fmt.Errorf("mirror %s: %w", t.ID, err)
		}
		res.Added++
	}
	for _, id := range mirrored {
		if _, ok := live[id]; ok {
			continue
		}
		if err := w.mirror.Delete(ctx, id); err != nil {
			return res, fmt.Errorf("remove %s from mirror: %w", id, err)
		}
		res.Removed++
	}

	if res.Added > 0 || res.Removed > 0 {
		w.logger.InfoContext(ctx, "Mirror reconciled", "added", res.Added, "removed", res.Removed)
	}
	return res, nil
}

// Run consumes events and, when enabled, reconciles on a ticker. It returns
// when ctx is cancelled or either loop fails.
func (w *MirrorWorker) Run(ctx context.Context, events EventSource) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return events.ConsumeWithReconnect(ctx, w.HandleEvent)
	})

	if w.source != nil && w.interval > 0 {
		g.Go(func() error {
			return w.reconcileLoop(ctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *MirrorWorker) reconcileLoop(ctx context.Context) error {
	if _, err := w.Reconcile(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Initial reconciliation failed", log.FieldError, err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Reconcile(ctx); err != nil && ctx.Err() == nil {
				w.logger.ErrorContext(ctx, "Reconciliation failed", log.FieldError, err)
			}
		}
	}
}
