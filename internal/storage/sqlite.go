// Package storage is the SQLite implementation of the transaction store.
// Amounts are stored as decimal text and dates as UTC RFC 3339 text, so
// values read back are exactly the values written.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger/internal/core"

	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

const selectColumns = `SELECT id, title, amount, type, category, occurred_at FROM transactions`

type SQLiteStore struct {
	db    *sql.DB
	now   func() time.Time
	newID func() string
}

// NewSQLiteStore opens (creating when needed) the database at dbPath and
// applies pending migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := DSN(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY
	// between pooled connections.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now, newID: uuid.NewString}, nil
}

// DSN builds the modernc connection string with the pragmas the store
// relies on.
func DSN(dbPath string) string {
	return "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Create(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if t.ID == "" {
		t.ID = s.newID()
	}
	if t.Date.IsZero() {
		t.Date = s.now()
	}
	t.Date = t.Date.UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (id, title, amount, type, category, occurred_at, period)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Amount.String(), string(t.Type), t.Category,
		t.Date.Format(timeLayout), core.PeriodOf(t.Date).String())
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, t core.Transaction) (core.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	var occurredAt, period sql.NullString
	if !t.Date.IsZero() {
		occurredAt = sql.NullString{String: t.Date.UTC().Format(timeLayout), Valid: true}
		period = sql.NullString{String: core.PeriodOf(t.Date).String(), Valid: true}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE transactions
		    SET title = ?, amount = ?, type = ?, category = ?,
		        occurred_at = COALESCE(?, occurred_at),
		        period = COALESCE(?, period),
		        updated_at = ?
		  WHERE id = ?`,
		t.Title, t.Amount.String(), string(t.Type), t.Category,
		occurredAt, period, s.now().UTC().Format(timeLayout), id)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	} else if n == 0 {
		return core.Transaction{}, &core.NotFoundError{ID: id}
	}

	updated, err := scanTransaction(tx.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("reload transaction: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return core.Transaction{}, fmt.Errorf("commit update: %w", err)
	}
	return updated, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if n == 0 {
		return &core.NotFoundError{ID: id}
	}
	return nil
}

func (s *SQLiteStore) Query(ctx context.Context, p core.Period) ([]core.Transaction, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if p.IsAllTime() {
		rows, err = s.db.QueryContext(ctx, selectColumns+` ORDER BY seq`)
	} else {
		rows, err = s.db.QueryContext(ctx, selectColumns+` WHERE period = ? ORDER BY seq`, p.String())
	}
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	out := []core.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

// Count returns the number of stored transactions.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		t                        core.Transaction
		amount, typ, occurredAt string
	)
	if err := row.Scan(&t.ID, &t.Title, &amount, &typ, &t.Category, &occurredAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Transaction{}, &core.NotFoundError{ID: t.ID}
		}
		return core.Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("decode amount of %s: %w", t.ID, err)
	}
	date, err := time.Parse(timeLayout, occurredAt)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("decode date of %s: %w", t.ID, err)
	}

	t.Amount = d
	t.Type = core.TransactionType(typ)
	t.Date = date.UTC()
	return t, nil
}
