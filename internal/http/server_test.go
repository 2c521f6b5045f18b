package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/cache"
	"ledger/internal/client"
	"ledger/internal/core"
	"ledger/internal/ledger"
	"ledger/internal/log"
	"ledger/internal/store/memory"
)

func quietLogger() *log.Logger {
	return log.New(log.Config{Output: io.Discard})
}

func newTestServer(t *testing.T, store ledger.Store, opts Options) *Server {
	t.Helper()
	c := cache.NewLRUCache[[]core.Transaction](10, time.Minute)
	svc := ledger.NewService(store, ledger.WithCache(c), ledger.WithLogger(quietLogger()))
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	if opts.RateLimitPerMinute == 0 {
		opts.RateLimitPerMinute = 1000
	}
	opts.Cache = c
	srv := NewServer(":0", svc, opts)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, memory.New(), Options{})

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := do(t, srv, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	}
}

type downStore struct{ ledger.Store }

func (downStore) Ping(context.Context) error { return errors.New("database is locked") }

func (downStore) Query(context.Context, core.Period) ([]core.Transaction, error) {
	return nil, errors.New("database is locked")
}

func TestReadyAndStoreFailure(t *testing.T) {
	srv := newTestServer(t, downStore{memory.New()}, Options{})

	rec := do(t, srv, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_ready")

	rec = do(t, srv, http.MethodGet, "/api/summary?month=2024-01", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "database is locked")
}

func TestJanuaryExample(t *testing.T) {
	srv := newTestServer(t, memory.New(), Options{})

	rec := do(t, srv, http.MethodPost, "/api/transactions", `{"title":"Salary","amount":500,"type":"income","category":"salary","date":"2024-01-10"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[core.Transaction](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "/api/transactions/"+created.ID, rec.Header().Get("Location"))

	rec = do(t, srv, http.MethodPost, "/api/transactions", `{"title":"Rent","amount":"200","type":"expense","category":"housing","date":"2024-01-15"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodPost, "/api/transactions", `{"title":"Feb rent","amount":"200","type":"expense","category":"housing","date":"2024-02-15"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/api/summary?month=2024-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"income":"500","expense":"200","balance":"300"}`, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/api/breakdown?month=2024-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"housing":"200"}`, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/api/transactions?month=2024-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]core.Transaction](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, "Salary", list[0].Title)
	assert.Equal(t, "Rent", list[1].Title)

	rec = do(t, srv, http.MethodGet, "/api/transactions", "")
	assert.Len(t, decode[[]core.Transaction](t, rec), 3)
}

func TestEmptyPeriodListsAsEmptyArray(t *testing.T) {
	srv := newTestServer(t, memory.New(), Options{})

	rec := do(t, srv, http.MethodGet, "/api/transactions?month=2030-01", "")
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))

	rec = do(t, srv, http.MethodGet, "/api/summary?month=2030-01", "")
	assert.JSONEq(t, `{"income":"0","expense":"0","balance":"0"}`, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/api/breakdown?month=2030-01", "")
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestValidationAndMalformedRequests(t *testing.T) {
	srv := newTestServer(t, memory.New(), Options{})

	rec := do(t, srv, http.MethodPost, "/api/transactions", `{"title":"  ","amount":"10","type":"expense"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, "title", body.Field)
	assert.NotEmpty(t, body.Reason)

	for _, bad := range []string{
		`{"title":"x","amount":"abc","type":"expense"}`,
		`{"title":"x","amount":-5,"type":"expense"}`,
		`{"title":"x","amount":0,"type":"expense"}`,
		`{"title":"x","amount":"10","type":"transfer"}`,
	} {
		rec = do(t, srv, http.MethodPost, "/api/transactions", bad)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, bad)
	}

	rec = do(t, srv, http.MethodPost, "/api/transactions", `{"title":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/summary?month=2024-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "month", decode[errorBody](t, rec).Field)

	rec = do(t, srv, http.MethodPatch, "/api/transactions", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/transactions", "")
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()), "rejected input must not be stored")
}

func TestUpdateAndDelete(t *testing.T) {
	srv := newTestServer(t, memory.New(), Options{})

	rec := do(t, srv, http.MethodPost, "/api/transactions", `{"title":"Rent","amount":"200","type":"expense","date":"2024-01-15T08:00:00Z"}`)
	created := decode[core.Transaction](t, rec)

	rec = do(t, srv, http.MethodPut, "/api/transactions/"+created.ID, `{"title":"Rent","amount":"250.50","type":"expense","category":"housing"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[core.Transaction](t, rec)
	assert.True(t, updated.Amount.Equal(decimal.RequireFromString("250.50")))
	assert.True(t, updated.Date.Equal(created.Date), "date must be kept when not supplied")

	rec = do(t, srv, http.MethodGet, "/api/summary?month=2024-01", "")
	assert.JSONEq(t, `{"income":"0","expense":"250.5","balance":"-250.5"}`, rec.Body.String())

	rec = do(t, srv, http.MethodPut, "/api/transactions/missing", `{"title":"x","amount":"1","type":"income"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodDelete, "/api/transactions/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Transaction deleted")

	rec = do(t, srv, http.MethodDelete, "/api/transactions/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "repeat delete must be not found")

	rec = do(t, srv, http.MethodGet, "/api/summary?month=2024-01", "")
	assert.JSONEq(t, `{"income":"0","expense":"0","balance":"0"}`, rec.Body.String())
}

func TestRateLimitOnlyOnMutations(t *testing.T) {
	srv := newTestServer(t, memory.New(), Options{RateLimitPerMinute: 1})

	rec := do(t, srv, http.MethodPost, "/api/transactions", `{"title":"a","amount":"1","type":"income"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = do(t, srv, http.MethodPost, "/api/transactions", `{"title":"b","amount":"1","type":"income"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	for i := 0; i < 3; i++ {
		rec = do(t, srv, http.MethodGet, "/api/transactions", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	srv := newTestServer(t, memory.New(), Options{})
	do(t, srv, http.MethodPost, "/api/transactions", `{"title":"a","amount":"1","type":"income"}`)
	do(t, srv, http.MethodGet, "/api/transactions", "")
	do(t, srv, http.MethodGet, "/api/transactions", "")

	rec := do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, "http_requests_total 3")
	assert.Contains(t, out, `ledger_mutations_total{op="create"} 1`)
	assert.Contains(t, out, "cache_hits_total 1")
	assert.Contains(t, out, "cache_misses_total 1")
}

// TestRemoteClientRoundTrip drives the API through the HTTP store so both
// ends agree on the wire format and error mapping.
func TestRemoteClientRoundTrip(t *testing.T) {
	srv := newTestServer(t, memory.New(), Options{})
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)

	remote, err := client.New(ts.URL, time.Second, ts.Client(), quietLogger())
	require.NoError(t, err)
	svc := ledger.NewService(remote, ledger.WithLogger(quietLogger()))
	ctx := context.Background()

	require.NoError(t, svc.Ready(ctx))

	created, err := svc.AddTransaction(ctx, core.Input{Title: "Coffee", Amount: "0.10", Type: "expense", Category: "food", Date: time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	for i := 0; i < 9; i++ {
		_, err = svc.AddTransaction(ctx, core.Input{Title: "Coffee", Amount: "0.10", Type: "expense", Category: "food", Date: time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)})
		require.NoError(t, err)
	}

	summary, err := svc.ComputeSummary(ctx, core.MustParsePeriod("2024-01"))
	require.NoError(t, err)
	assert.True(t, summary.Expense.Equal(decimal.NewFromInt(1)), "expense = %s", summary.Expense)

	_, err = svc.AddTransaction(ctx, core.Input{Title: "", Amount: "1", Type: "income"})
	ve, ok := core.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "title", ve.Field)

	require.NoError(t, svc.DeleteTransaction(ctx, created.ID))
	assert.True(t, core.IsNotFound(svc.DeleteTransaction(ctx, created.ID)))

	txs, err := svc.ListTransactions(ctx, core.AllTime)
	require.NoError(t, err)
	assert.Len(t, txs, 9)
}
