package connectors

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"finscribe/internal/config"
	"finscribe/pkg/models"
)

const testSheetURL = "https://docs.google.com/spreadsheets/d/abc123_-X/edit#gid=0"

type sheetsCall struct {
	method string
	path   string
	body   []byte
}

type fakeSheets struct {
	mu         sync.Mutex
	calls      []sheetsCall
	worksheets []string
	headers    bool
}

func (f *fakeSheets) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		f.mu.Lock()
		f.calls = append(f.calls, sheetsCall{method: r.Method, path: r.URL.Path, body: body})
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		path := r.URL.Path
		switch {
		case r.Method == http.MethodGet && path == "/v4/spreadsheets/abc123_-X":
			var list []map[string]any
			for i, title := range f.worksheets {
				list = append(list, map[string]any{"properties": map[string]any{"sheetId": i, "title": title}})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "abc123_-X", "sheets": list})
		case r.Method == http.MethodPost && strings.HasSuffix(path, ":batchUpdate"):
			_, _ = w.Write([]byte(`{"replies":[{"addSheet":{"properties":{"sheetId":7,"title":"Invoices"}}}]}`))
		case r.Method == http.MethodGet && strings.Contains(path, "/values/"):
			if f.headers {
				_, _ = w.Write([]byte(`{"values":[["Document"]]}`))
				return
			}
			_, _ = w.Write([]byte(`{}`))
		case r.Method == http.MethodPut || strings.HasSuffix(path, ":append"):
			_, _ = w.Write([]byte(`{}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func (f *fakeSheets) find(method, suffix string) []sheetsCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sheetsCall
	for _, c := range f.calls {
		if c.method == method && strings.HasSuffix(c.path, suffix) {
			out = append(out, c)
		}
	}
	return out
}

func newTestSheets(t *testing.T, fake *fakeSheets) *Sheets {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	svc, err := sheets.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)

	s, err := NewSheetsWithService(svc, config.SheetsSection{URL: testSheetURL, Worksheet: "Invoices"})
	require.NoError(t, err)
	return s
}

func sampleRecords() []Record {
	inv := &models.Invoice{
		InvoiceNumber: "INV-1",
		InvoiceDate:   "2024-01-31",
		Vendor:        models.Party{Name: "ACME GmbH"},
		Client:        models.Party{Name: "Globex"},
		FinancialSummary: models.FinancialSummary{
			Subtotal: 4.98, TaxAmount: 0.95, GrandTotal: 5.93, Currency: "€",
		},
	}
	return []Record{
		{
			DocID:   "d1",
			Source:  "scan-1.pdf",
			Invoice: inv,
			Report:  &models.ValidationReport{Notes: []string{"subtotal_mismatch: declared 3.98, computed 4.98"}},
			Status:  models.StatusCorrected,
		},
		{DocID: "d2", Status: models.StatusFailed, Error: "recognition failed"},
	}
}

func TestSheets_PushCreatesWorksheet(t *testing.T) {
	fake := &fakeSheets{}
	s := newTestSheets(t, fake)

	require.NoError(t, s.Push(context.Background(), sampleRecords()))

	// add worksheet, then format headers
	assert.Len(t, fake.find(http.MethodPost, ":batchUpdate"), 2)

	puts := fake.find(http.MethodPut, "/values/Invoices!A1:L1")
	require.Len(t, puts, 1)
	var header sheets.ValueRange
	require.NoError(t, json.Unmarshal(puts[0].body, &header))
	require.Len(t, header.Values, 1)
	assert.Equal(t, "Document", header.Values[0][0])
	assert.Len(t, header.Values[0], 12)

	appends := fake.find(http.MethodPost, "/values/Invoices!A:L:append")
	require.Len(t, appends, 1)
	var rows sheets.ValueRange
	require.NoError(t, json.Unmarshal(appends[0].body, &rows))
	require.Len(t, rows.Values, 2)
	assert.Equal(t, "scan-1.pdf", rows.Values[0][0])
	assert.Equal(t, "INV-1", rows.Values[0][1])
	assert.InDelta(t, 5.93, rows.Values[0][8], 1e-9)
	assert.Equal(t, "EUR", rows.Values[0][9])
	assert.Equal(t, "corrected", rows.Values[0][10])
	assert.Equal(t, "d2", rows.Values[1][0])
	assert.Equal(t, "error: recognition failed", rows.Values[1][11])
}

func TestSheets_PushExistingWorksheet(t *testing.T) {
	fake := &fakeSheets{worksheets: []string{"Invoices"}, headers: true}
	s := newTestSheets(t, fake)

	require.NoError(t, s.Push(context.Background(), sampleRecords()))

	assert.Empty(t, fake.find(http.MethodPost, ":batchUpdate"))
	assert.Empty(t, fake.find(http.MethodPut, "L1"))
	assert.Len(t, fake.find(http.MethodPost, ":append"), 1)
}

func TestSheets_PushNothing(t *testing.T) {
	fake := &fakeSheets{}
	s := newTestSheets(t, fake)

	require.NoError(t, s.Push(context.Background(), nil))
	assert.Empty(t, fake.calls)
}

func TestExtractSpreadsheetID(t *testing.T) {
	id, err := extractSpreadsheetID(testSheetURL)
	require.NoError(t, err)
	assert.Equal(t, "abc123_-X", id)

	_, err = extractSpreadsheetID("https://example.com/sheet")
	assert.ErrorIs(t, err, ErrInvalidSheetURL)
}

func TestNewSheets_MissingCredentials(t *testing.T) {
	_, err := NewSheets(context.Background(), config.SheetsSection{URL: testSheetURL}, config.GoogleSection{})
	assert.ErrorIs(t, err, ErrMissingCredentials)

	var pushErr *PushError
	require.ErrorAs(t, err, &pushErr)
	assert.Equal(t, "sheets", pushErr.Connector)
}

func TestRecordToRow(t *testing.T) {
	row := recordToRow(Record{DocID: "only-id", Status: models.StatusValid})
	require.Len(t, row, len(sheetHeaders))
	assert.Equal(t, "only-id", row[0])
	assert.Equal(t, "valid", row[10])
	assert.Equal(t, "", row[11])
}

func TestNormalizeCurrency(t *testing.T) {
	tests := map[string]string{
		"€": "EUR", " euro ": "EUR", "$": "USD", "us$": "USD", "£": "GBP",
		"¥": "JPY", "Franken": "CHF", "sek": "SEK", "": "",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeCurrency(in), in)
	}
}

func TestJSONL_Writer(t *testing.T) {
	var buf bytes.Buffer
	j := NewJSONLWriter(&buf)
	assert.Equal(t, "jsonl", j.Name())

	require.NoError(t, j.Push(context.Background(), sampleRecords()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "d1", rec.DocID)
	assert.Equal(t, "INV-1", rec.Invoice.InvoiceNumber)
	assert.Equal(t, []string{"subtotal_mismatch: declared 3.98, computed 4.98"}, rec.Report.Notes)
}

func TestJSONL_FileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "records.jsonl")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	j := NewJSONL(path)

	require.NoError(t, j.Push(context.Background(), sampleRecords()[:1]))
	require.NoError(t, j.Push(context.Background(), sampleRecords()[1:]))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		ids = append(ids, rec.DocID)
	}
	assert.Equal(t, []string{"d1", "d2"}, ids)
}

func TestJSONL_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewJSONLWriter(io.Discard).Push(ctx, sampleRecords())
	assert.ErrorIs(t, err, context.Canceled)
}
