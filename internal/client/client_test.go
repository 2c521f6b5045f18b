package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/core"
	"ledger/internal/log"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, time.Second, srv.Client(), log.New(log.Config{Output: io.Discard}))
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://host", "://bad", "http://"} {
		_, err := New(raw, time.Second, nil, nil)
		assert.Error(t, err, raw)
	}
}

func TestQuerySendsMonth(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/transactions", r.URL.Path)
		gotQuery = r.URL.RawQuery
		_, _ = io.WriteString(w, `[{"id":"a","title":"Rent","amount":"200.10","type":"expense","category":"housing","date":"2024-01-15T00:00:00Z"}]`)
	})

	txs, err := c.Query(context.Background(), core.MustParsePeriod("2024-01"))
	require.NoError(t, err)
	assert.Equal(t, "month=2024-01", gotQuery)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Amount.Equal(decimal.RequireFromString("200.10")))
	assert.Equal(t, core.Expense, txs[0].Type)

	_, err = c.Query(context.Background(), core.AllTime)
	require.NoError(t, err)
	assert.Empty(t, gotQuery)
}

func TestQueryEmptyListIsNotNil(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	})
	txs, err := c.Query(context.Background(), core.AllTime)
	require.NoError(t, err)
	assert.NotNil(t, txs)
	assert.Empty(t, txs)
}

func TestCreateSendsExactAmount(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"new","title":"Coffee","amount":"0.10","type":"expense","category":"food","date":"2024-01-02T10:00:00Z"}`)
	})

	created, err := c.Create(context.Background(), core.Transaction{
		Title:    "Coffee",
		Amount:   decimal.RequireFromString("0.10"),
		Type:     core.Expense,
		Category: "food",
	})
	require.NoError(t, err)
	assert.Equal(t, "new", created.ID)
	assert.Equal(t, "0.1", body["amount"])
	_, hasDate := body["date"]
	assert.False(t, hasDate, "zero date must be omitted")
}

func TestUpdateMapsErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		switch r.URL.Path {
		case "/api/transactions/missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"transaction not found"}`)
		case "/api/transactions/bad":
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = io.WriteString(w, `{"error":"invalid title: must not be empty","field":"title","reason":"must not be empty"}`)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"error":"store unavailable"}`)
		}
	})
	ctx := context.Background()
	tx := core.Transaction{Title: "x", Amount: decimal.NewFromInt(1), Type: core.Income, Category: "other"}

	_, err := c.Update(ctx, "missing", tx)
	var nf *core.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing", nf.ID)

	_, err = c.Update(ctx, "bad", tx)
	ve, ok := core.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "title", ve.Field)
	assert.Equal(t, "must not be empty", ve.Reason)

	_, err = c.Update(ctx, "other", tx)
	assert.True(t, core.IsStoreError(err))
	assert.Contains(t, err.Error(), "store unavailable")
}

func TestDeleteNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		if r.URL.Path == "/api/transactions/a" {
			_, _ = io.WriteString(w, `{"message":"Transaction deleted!"}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	require.NoError(t, c.Delete(context.Background(), "a"))
	assert.True(t, core.IsNotFound(c.Delete(context.Background(), "b")))
}

func TestNetworkFailureIsStoreError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(url, time.Second, nil, log.New(log.Config{Output: io.Discard}))
	require.NoError(t, err)
	_, err = c.Query(context.Background(), core.AllTime)
	var se *core.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "list", se.Op)
}

func TestCancelledContextIsNotStoreError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Query(ctx, core.AllTime)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, core.IsStoreError(err))
}

func TestPing(t *testing.T) {
	var down atomic.Bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/readyz", r.URL.Path)
		if down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})
	assert.NoError(t, c.Ping(context.Background()))
	down.Store(true)
	assert.Error(t, c.Ping(context.Background()))
}
