package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finscribe/internal/cache"
	"finscribe/internal/enrichment"
	"finscribe/internal/errkind"
	"finscribe/pkg/models"
)

type fakeRecognizer struct {
	calls   atomic.Int32
	result  *models.RecognitionResult
	err     error
	release chan struct{}
}

func (f *fakeRecognizer) Name() string         { return "fake" }
func (f *fakeRecognizer) ModelVersion() string { return "fake-v1" }

func (f *fakeRecognizer) Parse(ctx context.Context, _ []byte) (*models.RecognitionResult, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeEnricher struct {
	calls  atomic.Int32
	status string
	inv    models.Invoice
	err    error
	texts  chan string
}

func (f *fakeEnricher) Name() string         { return "fake" }
func (f *fakeEnricher) ModelVersion() string { return "fake-llm-1" }

func (f *fakeEnricher) Enrich(_ context.Context, text string, _ []byte) (*models.EnrichmentResult, error) {
	f.calls.Add(1)
	if f.texts != nil {
		f.texts <- text
	}
	if f.err != nil {
		return nil, f.err
	}
	status := f.status
	if status == "" {
		status = enrichment.StatusSuccess
	}
	return &models.EnrichmentResult{StructuredData: f.inv.Clone(), ModelVersion: "fake-llm-1", Status: status}, nil
}

func receipt() *models.RecognitionResult {
	return &models.RecognitionResult{
		Text: "Invoice 4711",
		Regions: []models.RecognitionRegion{
			{Text: "Invoice No: 4711", Confidence: 0.95, Type: models.RegionKeyValue},
			{Text: "Widget 2 x 1.99", Confidence: 0.93, Type: models.RegionText},
		},
		Tables: []models.Table{{Rows: [][]string{{"Item", "Total"}, {"Widget", "3.98"}}, Confidence: 0.9}},
	}
}

func mismatchedInvoice() models.Invoice {
	return models.Invoice{
		LineItems: []models.LineItem{
			{Description: "Apple", Quantity: 2, UnitPrice: 1.99, LineTotal: 3.98},
			{Description: "Pear", Quantity: 1, UnitPrice: 1.00, LineTotal: 1.00},
		},
		FinancialSummary: models.FinancialSummary{Subtotal: 3.98, TaxAmount: 0.40, GrandTotal: 5.38, Currency: "USD"},
	}
}

func memoryCache(t *testing.T) *cache.Cache {
	t.Helper()
	return cache.New(context.Background(), cache.NewMemoryBackend(), cache.Options{})
}

func TestProcess(t *testing.T) {
	rec := &fakeRecognizer{result: receipt()}
	enr := &fakeEnricher{inv: mismatchedInvoice(), texts: make(chan string, 1)}
	p := New(Deps{Recognizer: rec, Enricher: enr, Cache: memoryCache(t)})

	out, err := p.Process(context.Background(), []byte("%PDF-1.4 scan"))
	require.NoError(t, err)

	text := <-enr.texts
	assert.Contains(t, text, "[TABLE]\nItem | Total\nWidget | 3.98")
	assert.Contains(t, text, "[KEY-VALUE]\nInvoice No: 4711")
	assert.Equal(t, text, out.StructuredText)

	assert.Equal(t, models.StatusCorrected, out.Status)
	require.NotNil(t, out.Report)
	assert.False(t, out.Report.ArithmeticValid)
	assert.Equal(t, "subtotal_mismatch: declared 3.98, computed 4.98", out.Report.Notes[0])
	assert.InDelta(t, 4.98, out.Invoice.FinancialSummary.Subtotal.Float(), 1e-9)
	assert.InDelta(t, 3.98, out.Enrichment.StructuredData.FinancialSummary.Subtotal.Float(), 1e-9)
	assert.False(t, out.RecognitionCacheHit)
	assert.False(t, out.EnrichmentCacheHit)

	again, err := p.Process(context.Background(), []byte("%PDF-1.4 scan"))
	require.NoError(t, err)
	assert.True(t, again.RecognitionCacheHit)
	assert.True(t, again.EnrichmentCacheHit)
	assert.Equal(t, out.Report.Notes, again.Report.Notes)
	assert.Equal(t, int32(1), rec.calls.Load())
	assert.Equal(t, int32(1), enr.calls.Load())
}

func TestProcess_ConsistentInvoiceIsValid(t *testing.T) {
	inv := mismatchedInvoice()
	inv.FinancialSummary = models.FinancialSummary{Subtotal: 4.98, TaxAmount: 0.40, GrandTotal: 5.38}
	p := New(Deps{Recognizer: &fakeRecognizer{result: receipt()}, Enricher: &fakeEnricher{inv: inv}})

	out, err := p.Process(context.Background(), []byte("doc"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusValid, out.Status)
	assert.True(t, out.Report.ArithmeticValid)
	assert.Empty(t, out.Report.Notes)
}

func TestProcess_UnrepresentableStopsBeforeEnrichment(t *testing.T) {
	empty := &models.RecognitionResult{
		Regions: []models.RecognitionRegion{{Text: "blurry", Confidence: 0.2, Type: models.RegionKeyValue}},
	}
	enr := &fakeEnricher{inv: mismatchedInvoice()}
	p := New(Deps{Recognizer: &fakeRecognizer{result: empty}, Enricher: enr})

	out, err := p.Process(context.Background(), []byte("doc"))
	require.Error(t, err)
	assert.Equal(t, errkind.UnrepresentableInput, errkind.KindOf(err))
	assert.Equal(t, models.StatusUnrepresentable, out.Status)
	assert.Empty(t, out.StructuredText)
	assert.Nil(t, out.Invoice)
	assert.Zero(t, enr.calls.Load())
}

func TestProcess_RecognitionFailure(t *testing.T) {
	boom := errors.New("quota exceeded")
	p := New(Deps{Recognizer: &fakeRecognizer{err: boom}, Enricher: &fakeEnricher{}})

	out, err := p.Process(context.Background(), []byte("doc"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, models.StatusFailed, out.Status)
	assert.Nil(t, out.Recognition)
}

func TestProcess_EnrichmentFailure(t *testing.T) {
	boom := errors.New("model unavailable")
	c := memoryCache(t)
	p := New(Deps{Recognizer: &fakeRecognizer{result: receipt()}, Enricher: &fakeEnricher{err: boom}, Cache: c})

	out, err := p.Process(context.Background(), []byte("doc"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, models.StatusFailed, out.Status)
	assert.NotEmpty(t, out.StructuredText)

	// the recognition result was still cached
	_, hit, err := p.Recognize(context.Background(), []byte("doc"))
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestEnrich_PartialNotCached(t *testing.T) {
	enr := &fakeEnricher{inv: mismatchedInvoice(), status: enrichment.StatusPartial}
	p := New(Deps{Enricher: enr, Cache: memoryCache(t)})

	for i := 0; i < 2; i++ {
		result, hit, err := p.Enrich(context.Background(), "[TEXT]\nInvoice", nil)
		require.NoError(t, err)
		assert.False(t, hit)
		assert.Equal(t, enrichment.StatusPartial, result.Status)
	}
	assert.Equal(t, int32(2), enr.calls.Load())
}

func TestEnrich_KeyNormalizesText(t *testing.T) {
	enr := &fakeEnricher{inv: mismatchedInvoice()}
	p := New(Deps{Enricher: enr, Cache: memoryCache(t)})

	_, _, err := p.Enrich(context.Background(), "[TEXT]\nInvoice  4711\r\n", nil)
	require.NoError(t, err)
	_, hit, err := p.Enrich(context.Background(), "[TEXT]\nInvoice 4711", nil)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, int32(1), enr.calls.Load())
}

func TestRecognize_ConcurrentRequestsShareOneCall(t *testing.T) {
	rec := &fakeRecognizer{result: receipt(), release: make(chan struct{})}
	p := New(Deps{Recognizer: rec})

	const n = 10
	var wg sync.WaitGroup
	results := make([]*models.RecognitionResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, _, err := p.Recognize(context.Background(), []byte("same document"))
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}

	require.Eventually(t, func() bool { return rec.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(rec.release)
	wg.Wait()

	assert.Equal(t, int32(1), rec.calls.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestMissingProviders(t *testing.T) {
	p := New(Deps{})

	_, _, err := p.Recognize(context.Background(), []byte("doc"))
	assert.ErrorIs(t, err, ErrNoRecognizer)

	_, _, err = p.Enrich(context.Background(), "text", nil)
	assert.ErrorIs(t, err, ErrNoEnricher)

	out, err := p.ProcessRecognition(context.Background(), receipt())
	assert.ErrorIs(t, err, ErrNoEnricher)
	assert.Equal(t, models.StatusFailed, out.Status)
	assert.False(t, p.Cache().Enabled())
}

func TestProcessRecognition_FallbackText(t *testing.T) {
	enr := &fakeEnricher{inv: mismatchedInvoice(), texts: make(chan string, 1)}
	p := New(Deps{Enricher: enr})

	out, err := p.ProcessRecognition(context.Background(), &models.RecognitionResult{Text: "Apple 3.98\nPear 1.00\nok"})
	require.NoError(t, err)
	assert.Equal(t, "[TEXT]\nApple 3.98\nPear 1.00", <-enr.texts)
	assert.Equal(t, models.StatusCorrected, out.Status)
}
