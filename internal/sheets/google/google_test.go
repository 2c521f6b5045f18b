package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"ledger/internal/core"
	"ledger/internal/log"
)

const testSpreadsheet = "sheet-123"

var rowRange = regexp.MustCompile(`^A(\d+):F(\d+)$`)

// fakeSheets is a tiny in-memory stand-in for the Sheets v4 REST API,
// covering the calls the mirror makes.
type fakeSheets struct {
	mu      sync.Mutex
	rows    [][]any
	deletes []gsheet.DimensionRange
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := "/v4/spreadsheets/" + testSpreadsheet
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	switch {
	case rest == "" && r.Method == http.MethodGet:
		writeJSON(w, map[string]any{"sheets": []any{
			map[string]any{"properties": map[string]any{"sheetId": 7, "title": "Other"}},
			map[string]any{"properties": map[string]any{"sheetId": 42, "title": "Transactions"}},
		}})
	case rest == ":batchUpdate" && r.Method == http.MethodPost:
		var req gsheet.BatchUpdateSpreadsheetRequest
		mustDecode(r.Body, &req)
		for _, q := range req.Requests {
			dr := q.DeleteDimension.Range
			f.deletes = append(f.deletes, *dr)
			f.rows = append(f.rows[:dr.StartIndex], f.rows[dr.EndIndex:]...)
		}
		writeJSON(w, map[string]any{"spreadsheetId": testSpreadsheet})
	case strings.HasPrefix(rest, "/values/"):
		f.values(w, r, strings.TrimPrefix(rest, "/values/"))
	default:
		http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusNotFound)
	}
}

func (f *fakeSheets) values(w http.ResponseWriter, r *http.Request, rng string) {
	appendCall := strings.HasSuffix(rng, ":append")
	rng = strings.TrimSuffix(rng, ":append")
	sheet, cells, _ := strings.Cut(rng, "!")
	if sheet != "Transactions" {
		http.Error(w, "unknown sheet "+sheet, http.StatusBadRequest)
		return
	}

	switch {
	case appendCall && r.Method == http.MethodPost:
		var vr gsheet.ValueRange
		mustDecode(r.Body, &vr)
		f.rows = append(f.rows, vr.Values...)
		writeJSON(w, map[string]any{"spreadsheetId": testSpreadsheet})
	case r.Method == http.MethodGet && cells == "A:A":
		col := make([][]any, 0, len(f.rows))
		for _, row := range f.rows {
			col = append(col, []any{row[0]})
		}
		writeJSON(w, map[string]any{"range": rng, "values": col})
	case r.Method == http.MethodGet && cells == "A1:F1":
		if len(f.rows) == 0 {
			writeJSON(w, map[string]any{"range": rng})
			return
		}
		writeJSON(w, map[string]any{"range": rng, "values": [][]any{f.rows[0]}})
	case r.Method == http.MethodPut:
		m := rowRange.FindStringSubmatch(cells)
		if m == nil {
			http.Error(w, "bad range "+cells, http.StatusBadRequest)
			return
		}
		n, _ := strconv.Atoi(m[1])
		var vr gsheet.ValueRange
		mustDecode(r.Body, &vr)
		for len(f.rows) < n {
			f.rows = append(f.rows, []any{""})
		}
		f.rows[n-1] = vr.Values[0]
		writeJSON(w, map[string]any{"updatedRows": 1})
	default:
		http.Error(w, "unexpected values call "+r.Method+" "+cells, http.StatusNotFound)
	}
}

func (f *fakeSheets) snapshot() [][]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]any, len(f.rows))
	copy(out, f.rows)
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func mustDecode(r io.Reader, v any) {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		panic(fmt.Sprintf("decode request: %v", err))
	}
}

func newTestClient(t *testing.T) (*Client, *fakeSheets) {
	t.Helper()
	fake := &fakeSheets{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := New(context.Background(),
		Config{SpreadsheetID: testSpreadsheet, SheetName: "Transactions"},
		log.New(log.Config{Output: io.Discard}),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithoutAuthentication(),
		goption.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c, fake
}

func sampleTx(id, title, amount string) core.Transaction {
	return core.Transaction{
		ID:       id,
		Title:    title,
		Amount:   decimal.RequireFromString(amount),
		Type:     core.Expense,
		Category: "housing",
		Date:     time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC),
	}
}

func TestNewRequiresSpreadsheetAndCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{}, nil)
	require.Error(t, err)

	_, err = New(context.Background(), Config{SpreadsheetID: "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing service account credentials")

	_, err = New(context.Background(), Config{SpreadsheetID: "x", CredentialsFile: "/non/existent.json"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read service account file")
}

func TestEnsureHeader(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestClient(t)

	require.NoError(t, c.EnsureHeader(ctx))
	require.NoError(t, c.EnsureHeader(ctx))

	rows := fake.snapshot()
	require.Len(t, rows, 1)
	assert.Equal(t, "ID", rows[0][0])
}

func TestUpsertAppendsThenUpdates(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestClient(t)
	require.NoError(t, c.EnsureHeader(ctx))

	require.NoError(t, c.Upsert(ctx, sampleTx("a", "Rent", "200")))
	require.NoError(t, c.Upsert(ctx, sampleTx("b", "=HYPERLINK(\"x\")", "12.5")))
	require.NoError(t, c.Upsert(ctx, sampleTx("a", "Rent adjusted", "210.75")))

	rows := fake.snapshot()
	require.Len(t, rows, 3)
	assert.Equal(t, []any{"a", "2024-01-15 09:30:00", "Rent adjusted", "expense", "housing", "210.75"}, rows[1])
	assert.Equal(t, "'=HYPERLINK(\"x\")", rows[2][2], "formulas must be neutralised")
	assert.Equal(t, "12.50", rows[2][5])

	ids, err := c.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestDeleteRemovesRowAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestClient(t)
	require.NoError(t, c.EnsureHeader(ctx))
	require.NoError(t, c.Upsert(ctx, sampleTx("a", "Rent", "200")))
	require.NoError(t, c.Upsert(ctx, sampleTx("b", "Food", "20")))

	require.NoError(t, c.Delete(ctx, "a"))
	require.NoError(t, c.Delete(ctx, "a"))

	rows := fake.snapshot()
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[1][0])

	require.Len(t, fake.deletes, 1)
	assert.Equal(t, int64(42), fake.deletes[0].SheetId)
	assert.Equal(t, "ROWS", fake.deletes[0].Dimension)
	assert.Equal(t, int64(1), fake.deletes[0].StartIndex)
	assert.Equal(t, int64(2), fake.deletes[0].EndIndex)
}

func TestUpsertRejectsMissingID(t *testing.T) {
	c, _ := newTestClient(t)
	assert.Error(t, c.Upsert(context.Background(), sampleTx("", "x", "1")))
}

func TestSanitizeCell(t *testing.T) {
	cases := map[string]string{
		"":        "",
		"Rent":    "Rent",
		"=1+1":    "'=1+1",
		"+39 333": "'+39 333",
		"-5":      "'-5",
		"@user":   "'@user",
	}
	for in, want := range cases {
		assert.Equal(t, want, sanitizeCell(in), in)
	}
}
