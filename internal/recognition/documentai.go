package recognition

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"finscribe/internal/config"
	"finscribe/internal/logger"
	"finscribe/pkg/models"
)

const documentAIName = "documentai"

// documentAITimeout bounds one ProcessDocument call.
const documentAITimeout = 60 * time.Second

// DocumentAI recognizes documents with a Google Document AI processor. Form
// and invoice processors yield tables, form fields and entities in addition
// to paragraphs.
type DocumentAI struct {
	client *documentai.DocumentProcessorClient
	cfg    config.GoogleSection
	log    zerolog.Logger
}

// NewDocumentAI creates the provider. Project and processor IDs are required;
// the location defaults to "us".
func NewDocumentAI(ctx context.Context, cfg config.GoogleSection) (*DocumentAI, error) {
	const op = "NewDocumentAI"

	if cfg.ProjectID == "" {
		return nil, wrapError(documentAIName, op, ErrInvalidConfiguration, "GOOGLE_CLOUD_PROJECT is required")
	}
	if cfg.ProcessorID == "" {
		return nil, wrapError(documentAIName, op, ErrInvalidConfiguration, "DOCUMENT_AI_PROCESSOR_ID is required")
	}
	if cfg.Location == "" {
		cfg.Location = "us"
	}

	opts := googleClientOptions(cfg)
	// Processors outside the US multi-region are only reachable through their
	// regional endpoint.
	if cfg.Location != "us" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.Location)))
	}

	client, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, wrapError(documentAIName, op, err, fmt.Sprintf("failed to create Document AI client for location: %s", cfg.Location))
	}
	return NewDocumentAIWithClient(cfg, client), nil
}

// NewDocumentAIWithClient creates the provider with an explicit client.
func NewDocumentAIWithClient(cfg config.GoogleSection, client *documentai.DocumentProcessorClient) *DocumentAI {
	return &DocumentAI{
		client: client,
		cfg:    cfg,
		log:    logger.WithComponent("document-ai"),
	}
}

func (d *DocumentAI) Name() string { return documentAIName }

func (d *DocumentAI) ModelVersion() string {
	if d.cfg.ProcessorVer != "" {
		return "documentai/" + d.cfg.ProcessorID + "@" + d.cfg.ProcessorVer
	}
	return "documentai/" + d.cfg.ProcessorID
}

// Parse sends the document to the configured processor.
func (d *DocumentAI) Parse(ctx context.Context, document []byte) (*models.RecognitionResult, error) {
	const op = "Parse"
	start := time.Now()

	if err := checkSize(documentAIName, op, document); err != nil {
		return nil, err
	}
	mime := DetectMIME(document)
	if mime != MIMEPDF && !IsImage(mime) {
		return nil, wrapError(documentAIName, op, ErrUnsupportedFormat, mime)
	}

	processCtx, cancel := context.WithTimeout(ctx, documentAITimeout)
	defer cancel()

	req := &documentaipb.ProcessRequest{
		Name: d.processorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  document,
				MimeType: mime,
			},
		},
	}

	resp, err := d.client.ProcessDocument(processCtx, req)
	if err != nil {
		return nil, d.handleProcessingError(op, err)
	}
	if resp.GetDocument() == nil {
		return nil, wrapError(documentAIName, op, ErrRecognitionFailed, "no document in response")
	}

	result := convertDocument(resp.GetDocument())
	if result.IsEmpty() {
		return nil, wrapError(documentAIName, op, ErrEmptyDocument, "")
	}
	finish(result, d, start)

	d.log.Info().
		Int("pages", result.PageCount).
		Int("regions", len(result.Regions)).
		Int("tables", len(result.Tables)).
		Int64("duration_ms", result.ProcessingTimeMS).
		Msg("Document recognized")

	return result, nil
}

func (d *DocumentAI) processorName() string {
	name := fmt.Sprintf("projects/%s/locations/%s/processors/%s", d.cfg.ProjectID, d.cfg.Location, d.cfg.ProcessorID)
	if d.cfg.ProcessorVer != "" {
		name += "/processorVersions/" + d.cfg.ProcessorVer
	}
	return name
}

// handleProcessingError maps Document AI failures onto recognition errors.
func (d *DocumentAI) handleProcessingError(op string, err error) error {
	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "PermissionDenied"), strings.Contains(errStr, "PERMISSION_DENIED"):
		return wrapError(documentAIName, op, ErrMissingCredentials, "insufficient permissions for Document AI")
	case strings.Contains(errStr, "ResourceExhausted"), strings.Contains(errStr, "QUOTA_EXCEEDED"):
		return wrapError(documentAIName, op, ErrQuotaExceeded, "Document AI API quota exceeded")
	case strings.Contains(errStr, "NotFound"), strings.Contains(errStr, "NOT_FOUND"):
		return wrapError(documentAIName, op, ErrInvalidConfiguration, fmt.Sprintf("processor not found: %s", d.cfg.ProcessorID))
	case strings.Contains(errStr, "InvalidArgument"), strings.Contains(errStr, "INVALID_ARGUMENT"):
		return wrapError(documentAIName, op, ErrUnsupportedFormat, "document format not supported or corrupted")
	case strings.Contains(errStr, "DeadlineExceeded"), strings.Contains(errStr, "context deadline exceeded"):
		return wrapError(documentAIName, op, context.DeadlineExceeded, "processing timeout")
	case strings.Contains(errStr, "Canceled"), strings.Contains(errStr, "context canceled"):
		return wrapError(documentAIName, op, context.Canceled, "processing was canceled")
	default:
		return wrapError(documentAIName, op, ErrRecognitionFailed, fmt.Sprintf("Document AI error: %v", err))
	}
}

// Close closes the underlying Document AI client.
func (d *DocumentAI) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

// convertDocument maps a processed document onto a RecognitionResult:
// page tables become tables, form fields and entities become key-value
// regions, and paragraphs are classified by position and shape.
func convertDocument(doc *documentaipb.Document) *models.RecognitionResult {
	result := &models.RecognitionResult{
		Text:      doc.GetText(),
		PageCount: len(doc.GetPages()),
	}
	languages := make(map[string]bool)

	for idx, page := range doc.GetPages() {
		pageNum := int(page.GetPageNumber())
		if pageNum == 0 {
			pageNum = idx + 1
		}
		width := float64(page.GetDimension().GetWidth())
		height := float64(page.GetDimension().GetHeight())

		for _, lang := range page.GetDetectedLanguages() {
			if lang.GetLanguageCode() != "" {
				languages[lang.GetLanguageCode()] = true
			}
		}

		for _, table := range page.GetTables() {
			t := models.Table{
				Confidence: models.ClampConfidence(float64(table.GetLayout().GetConfidence())),
				Page:       pageNum,
			}
			for _, rows := range [][]*documentaipb.Document_Page_Table_TableRow{table.GetHeaderRows(), table.GetBodyRows()} {
				for _, row := range rows {
					cells := make([]string, 0, len(row.GetCells()))
					for _, cell := range row.GetCells() {
						cells = append(cells, strings.TrimSpace(layoutText(doc.GetText(), cell.GetLayout())))
					}
					t.Rows = append(t.Rows, cells)
				}
			}
			if len(t.Rows) > 0 {
				result.Tables = append(result.Tables, t)
			}
		}

		for _, field := range page.GetFormFields() {
			name := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(layoutText(doc.GetText(), field.GetFieldName())), ":"))
			value := strings.TrimSpace(layoutText(doc.GetText(), field.GetFieldValue()))
			if name == "" && value == "" {
				continue
			}
			confidence := field.GetFieldValue().GetConfidence()
			if nc := field.GetFieldName().GetConfidence(); nc > 0 && (confidence == 0 || nc < confidence) {
				confidence = nc
			}
			result.Regions = append(result.Regions, models.RecognitionRegion{
				Text:        name + ": " + value,
				BoundingBox: documentBox(field.GetFieldName().GetBoundingPoly(), width, height),
				Confidence:  models.ClampConfidence(float64(confidence)),
				Type:        models.RegionKeyValue,
				Page:        pageNum,
			})
		}

		for _, para := range page.GetParagraphs() {
			text := strings.TrimSpace(layoutText(doc.GetText(), para.GetLayout()))
			if text == "" {
				continue
			}
			box := documentBox(para.GetLayout().GetBoundingPoly(), width, height)
			result.Regions = append(result.Regions, models.RecognitionRegion{
				Text:        text,
				BoundingBox: box,
				Confidence:  models.ClampConfidence(float64(para.GetLayout().GetConfidence())),
				Type:        Classify(text, box, height),
				Page:        pageNum,
			})
		}
	}

	for _, entity := range doc.GetEntities() {
		value := strings.TrimSpace(entity.GetMentionText())
		if entity.GetType() == "" || value == "" {
			continue
		}
		result.Regions = append(result.Regions, models.RecognitionRegion{
			Text:       entity.GetType() + ": " + value,
			Confidence: models.ClampConfidence(float64(entity.GetConfidence())),
			Type:       models.RegionKeyValue,
		})
	}

	for lang := range languages {
		result.LanguageCodes = append(result.LanguageCodes, lang)
	}
	sort.Strings(result.LanguageCodes)
	return result
}

// layoutText resolves a layout's text anchor against the document text.
// Indices are byte offsets into the UTF-8 text.
func layoutText(text string, layout *documentaipb.Document_Page_Layout) string {
	var b strings.Builder
	for _, seg := range layout.GetTextAnchor().GetTextSegments() {
		start, end := int(seg.GetStartIndex()), int(seg.GetEndIndex())
		if start < 0 || end > len(text) || start >= end {
			continue
		}
		b.WriteString(text[start:end])
	}
	return b.String()
}

func documentBox(poly *documentaipb.BoundingPoly, width, height float64) models.BoundingBox {
	var xs, ys []float64
	if vs := poly.GetVertices(); len(vs) > 0 {
		for _, v := range vs {
			xs = append(xs, float64(v.GetX()))
			ys = append(ys, float64(v.GetY()))
		}
	} else {
		for _, v := range poly.GetNormalizedVertices() {
			xs = append(xs, float64(v.GetX())*width)
			ys = append(ys, float64(v.GetY())*height)
		}
	}
	return boxFromPoints(xs, ys)
}
