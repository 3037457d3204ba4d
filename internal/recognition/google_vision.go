package recognition

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/rs/zerolog"

	"finscribe/internal/config"
	"finscribe/internal/logger"
	"finscribe/pkg/models"
)

const googleVisionName = "google-vision"

// GoogleVision recognizes documents with Google Cloud Vision document text
// detection. PDFs and TIFFs go through the files API, other images through
// the images API.
type GoogleVision struct {
	client *vision.ImageAnnotatorClient
	log    zerolog.Logger
}

// NewGoogleVision creates the provider with credentials from cfg or the
// environment (GOOGLE_CREDENTIALS, GOOGLE_APPLICATION_CREDENTIALS, default
// credentials).
func NewGoogleVision(ctx context.Context, cfg config.GoogleSection) (*GoogleVision, error) {
	const op = "NewGoogleVision"

	opts := googleClientOptions(cfg)
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		if len(opts) == 0 {
			return nil, wrapError(googleVisionName, op, ErrMissingCredentials, "no credentials found in environment")
		}
		return nil, wrapError(googleVisionName, op, err, "failed to create Vision client")
	}
	return NewGoogleVisionWithClient(client), nil
}

// NewGoogleVisionWithClient creates the provider with an explicit client.
func NewGoogleVisionWithClient(client *vision.ImageAnnotatorClient) *GoogleVision {
	return &GoogleVision{
		client: client,
		log:    logger.WithComponent("google-vision"),
	}
}

func (g *GoogleVision) Name() string { return googleVisionName }

func (g *GoogleVision) ModelVersion() string { return "vision-v1/document-text-detection" }

// Parse recognizes a PDF or image document.
func (g *GoogleVision) Parse(ctx context.Context, document []byte) (*models.RecognitionResult, error) {
	const op = "Parse"
	start := time.Now()

	if err := checkSize(googleVisionName, op, document); err != nil {
		return nil, err
	}

	mime := DetectMIME(document)
	var pages []*visionpb.AnnotateImageResponse
	var err error
	switch {
	case mime == MIMEPDF || mime == MIMETIFF:
		pages, err = g.annotateFile(ctx, document, mime)
	case IsImage(mime):
		pages, err = g.annotateImage(ctx, document)
	default:
		return nil, wrapError(googleVisionName, op, ErrUnsupportedFormat, mime)
	}
	if err != nil {
		return nil, wrapError(googleVisionName, op, err, "")
	}

	result, err := convertVisionPages(pages)
	if err != nil {
		return nil, wrapError(googleVisionName, op, err, "failed to process Vision API response")
	}
	finish(result, g, start)

	g.log.Info().
		Str("mime", mime).
		Int("pages", result.PageCount).
		Int("regions", len(result.Regions)).
		Int64("duration_ms", result.ProcessingTimeMS).
		Msg("Document recognized")

	return result, nil
}

func (g *GoogleVision) annotateFile(ctx context.Context, document []byte, mime string) ([]*visionpb.AnnotateImageResponse, error) {
	req := &visionpb.BatchAnnotateFilesRequest{
		Requests: []*visionpb.AnnotateFileRequest{
			{
				InputConfig: &visionpb.InputConfig{
					Content:  document,
					MimeType: mime,
				},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
			},
		},
	}

	resp, err := g.client.BatchAnnotateFiles(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: Vision API call failed: %v", ErrRecognitionFailed, err)
	}
	if len(resp.GetResponses()) == 0 {
		return nil, fmt.Errorf("%w: no response from Vision API", ErrRecognitionFailed)
	}
	fileResp := resp.Responses[0]
	if fileResp.GetError() != nil {
		return nil, fmt.Errorf("%w: Vision API error: %s", ErrRecognitionFailed, fileResp.Error.GetMessage())
	}
	if n := len(fileResp.GetResponses()); n > MaxPagesSync {
		return nil, fmt.Errorf("%w: document has %d pages", ErrTooManyPages, n)
	}
	return fileResp.GetResponses(), nil
}

func (g *GoogleVision) annotateImage(ctx context.Context, document []byte) ([]*visionpb.AnnotateImageResponse, error) {
	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: document},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
			},
		},
	}

	resp, err := g.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: Vision API call failed: %v", ErrRecognitionFailed, err)
	}
	if len(resp.GetResponses()) == 0 {
		return nil, fmt.Errorf("%w: no response from Vision API", ErrRecognitionFailed)
	}
	return resp.GetResponses(), nil
}

// Close closes the underlying Vision client.
func (g *GoogleVision) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// convertVisionPages maps per-page annotations onto a RecognitionResult. Each
// text block becomes one region; TABLE blocks are typed as tables, other
// blocks are classified by position and shape.
func convertVisionPages(pages []*visionpb.AnnotateImageResponse) (*models.RecognitionResult, error) {
	if len(pages) == 0 {
		return nil, ErrEmptyDocument
	}

	result := &models.RecognitionResult{PageCount: len(pages)}
	var text strings.Builder
	languages := make(map[string]bool)

	for idx, page := range pages {
		if page.GetError() != nil {
			return nil, fmt.Errorf("error processing page %d: %s", idx+1, page.Error.GetMessage())
		}
		annotation := page.GetFullTextAnnotation()
		if annotation == nil {
			continue
		}
		if idx > 0 && text.Len() > 0 {
			fmt.Fprintf(&text, "\n\n--- Page %d ---\n\n", idx+1)
		}
		text.WriteString(annotation.GetText())

		for _, vp := range annotation.GetPages() {
			for _, lang := range vp.GetProperty().GetDetectedLanguages() {
				if lang.GetLanguageCode() != "" {
					languages[lang.GetLanguageCode()] = true
				}
			}
			width, height := float64(vp.GetWidth()), float64(vp.GetHeight())
			for _, block := range vp.GetBlocks() {
				region, ok := visionRegion(block, width, height, idx+1)
				if ok {
					result.Regions = append(result.Regions, region)
				}
			}
		}
	}

	result.Text = text.String()
	for lang := range languages {
		result.LanguageCodes = append(result.LanguageCodes, lang)
	}
	sort.Strings(result.LanguageCodes)

	if strings.TrimSpace(result.Text) == "" && len(result.Regions) == 0 {
		return nil, ErrEmptyDocument
	}
	return result, nil
}

func visionRegion(block *visionpb.Block, width, height float64, page int) (models.RecognitionRegion, bool) {
	switch block.GetBlockType() {
	case visionpb.Block_PICTURE, visionpb.Block_RULER, visionpb.Block_BARCODE:
		return models.RecognitionRegion{}, false
	}

	text := strings.TrimSpace(visionBlockText(block))
	if text == "" {
		return models.RecognitionRegion{}, false
	}

	box := visionBox(block.GetBoundingBox(), width, height)
	typ := models.RegionTable
	if block.GetBlockType() != visionpb.Block_TABLE {
		typ = Classify(text, box, height)
	}

	return models.RecognitionRegion{
		Text:        text,
		BoundingBox: box,
		Confidence:  models.ClampConfidence(float64(block.GetConfidence())),
		Type:        typ,
		Page:        page,
	}, true
}

// visionBlockText reassembles a block from its symbols, honoring the detected
// breaks between them.
func visionBlockText(block *visionpb.Block) string {
	var b strings.Builder
	for pi, para := range block.GetParagraphs() {
		if pi > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
		for _, word := range para.GetWords() {
			for _, symbol := range word.GetSymbols() {
				b.WriteString(symbol.GetText())
				switch symbol.GetProperty().GetDetectedBreak().GetType() {
				case visionpb.TextAnnotation_DetectedBreak_SPACE, visionpb.TextAnnotation_DetectedBreak_SURE_SPACE:
					b.WriteByte(' ')
				case visionpb.TextAnnotation_DetectedBreak_EOL_SURE_SPACE, visionpb.TextAnnotation_DetectedBreak_LINE_BREAK:
					b.WriteByte('\n')
				case visionpb.TextAnnotation_DetectedBreak_HYPHEN:
					b.WriteString("-\n")
				}
			}
		}
	}
	return b.String()
}

// visionBox converts a polygon into an axis-aligned box in page units.
// Normalized vertices (used for PDF pages) are scaled by the page size.
func visionBox(poly *visionpb.BoundingPoly, width, height float64) models.BoundingBox {
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

func boxFromPoints(xs, ys []float64) models.BoundingBox {
	if len(xs) == 0 || len(ys) == 0 {
		return models.BoundingBox{}
	}
	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, x := range xs {
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
	}
	for _, y := range ys {
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	return models.BoundingBox{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}
