package backend

import (
	"context"
	"time"

	"ledger/internal/cache"
	"ledger/internal/core"
	"ledger/internal/ledger"
)

// CleanupFunc releases the resources held by a backend.
type CleanupFunc func() error

// Result is an assembled ledger service plus what the caller must release.
type Result struct {
	Service *ledger.Service
	// Cache is nil when caching is disabled.
	Cache   *cache.LRUCache[[]core.Transaction]
	Cleanup CleanupFunc
}

// Factory builds a ledger service for a configuration.
type Factory interface {
	Create(ctx context.Context, config Config) (*Result, error)
}

// Config holds what backend creation needs, detached from the environment.
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Events. An empty URL disables publishing.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	CacheSize int
	CacheTTL  time.Duration
}

// BackendType selects the transaction store.
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
