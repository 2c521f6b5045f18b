// Package backend assembles a ledger service from configuration: the
// transaction store, the optional event publisher and the read cache.
package backend

import (
	"context"
	"errors"
	"fmt"

	"ledger/internal/amqp"
	"ledger/internal/cache"
	"ledger/internal/core"
	"ledger/internal/ledger"
	"ledger/internal/log"
	"ledger/internal/storage"
	"ledger/internal/store/memory"
)

type DefaultFactory struct {
	logger *log.Logger
	// newPublisher is swapped in tests to avoid a broker.
	newPublisher func(url, exchange, queue string, logger *log.Logger) (publisher, error)
}

type publisher interface {
	ledger.Publisher
	Close() error
}

func NewFactory(logger *log.Logger) *DefaultFactory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
		newPublisher: func(url, exchange, queue string, logger *log.Logger) (publisher, error) {
			return amqp.NewClient(url, exchange, queue, logger)
		},
	}
}

var _ Factory = (*DefaultFactory)(nil)

// Create builds the store for config.Type and wraps it in a service. A
// broker that cannot be reached is logged and publishing stays off; the
// ledger itself must keep working without it.
func (f *DefaultFactory) Create(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var cleanups []func() error
	opts := []ledger.Option{ledger.WithLogger(f.logger.WithComponent(log.ComponentLedger))}

	store, err := f.createStore(config)
	if err != nil {
		return nil, err
	}

	if config.AMQPURL != "" {
		pub, err := f.newPublisher(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, f.logger)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without events", log.FieldError, err)
		} else {
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
			opts = append(opts, ledger.WithPublisher(pub))
		}
	}

	var lru *cache.LRUCache[[]core.Transaction]
	if config.CacheSize > 0 && config.CacheTTL > 0 {
		lru = cache.NewLRUCache[[]core.Transaction](config.CacheSize, config.CacheTTL)
		manager := cache.NewManager(f.logger.WithComponent(log.ComponentCache).Logger)
		manager.Register(lru)
		manager.StartCleanup(config.CacheTTL)
		opts = append(opts, ledger.WithCache(lru))
		cleanups = append(cleanups, func() error {
			manager.Stop()
			return nil
		})
	}

	f.logger.Info("Initialized ledger backend",
		"backend", config.Type.String(),
		"events_enabled", config.AMQPURL != "",
		"cache_enabled", lru != nil)

	// The service owns the store and the publisher and closes them last.
	svc := ledger.NewService(store, opts...)
	cleanups = append([]func() error{svc.Close}, cleanups...)

	return &Result{
		Service: svc,
		Cache:   lru,
		Cleanup: runAll(cleanups),
	}, nil
}

func (f *DefaultFactory) createStore(config Config) (ledger.Store, error) {
	switch config.Type {
	case SQLiteBackend:
		s, err := storage.NewSQLiteStore(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
		}
		f.logger.Info("Initialized SQLite store", "db_path", config.SQLiteDBPath)
		return s, nil
	case MemoryBackend:
		f.logger.Info("Initialized in-memory store")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

// runAll releases in reverse order of acquisition.
func runAll(fns []func() error) CleanupFunc {
	return func() error {
		var errs []error
		for i := len(fns) - 1; i >= 0; i-- {
			if err := fns[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
