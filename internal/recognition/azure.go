package recognition

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/services/cognitiveservices/v3.0/computervision"
	"github.com/Azure/go-autorest/autorest"
	"github.com/rs/zerolog"

	"finscribe/internal/config"
	"finscribe/internal/logger"
	"finscribe/pkg/models"
)

const azureName = "azure"

// azureConfidence is reported for every Azure region: the printed text OCR
// endpoint returns no scores.
const azureConfidence = 1.0

// Azure recognizes images with the Azure Computer Vision printed text OCR
// endpoint. Images are preprocessed before upload.
type Azure struct {
	client     computervision.BaseClient
	preprocess bool
	log        zerolog.Logger
}

// NewAzure creates the provider from the endpoint and key in cfg.
func NewAzure(cfg config.AzureSection) (*Azure, error) {
	const op = "NewAzure"

	if cfg.Endpoint == "" {
		return nil, wrapError(azureName, op, ErrInvalidConfiguration, "AZURE_VISION_ENDPOINT is required")
	}
	if cfg.APIKey == "" {
		return nil, wrapError(azureName, op, ErrMissingCredentials, "AZURE_VISION_KEY is required")
	}

	client := computervision.New(cfg.Endpoint)
	client.Authorizer = autorest.NewCognitiveServicesAuthorizer(cfg.APIKey)

	return &Azure{
		client:     client,
		preprocess: true,
		log:        logger.WithComponent("azure-vision"),
	}, nil
}

func (a *Azure) Name() string { return azureName }

func (a *Azure) ModelVersion() string { return "computervision-v3.0/ocr" }

// Parse recognizes a single image.
func (a *Azure) Parse(ctx context.Context, document []byte) (*models.RecognitionResult, error) {
	const op = "Parse"
	start := time.Now()

	if err := checkSize(azureName, op, document); err != nil {
		return nil, err
	}
	mime := DetectMIME(document)
	if !IsImage(mime) || mime == MIMETIFF {
		return nil, wrapError(azureName, op, ErrUnsupportedFormat, mime)
	}

	payload := document
	if a.preprocess {
		enhanced, err := Preprocess(document)
		if err != nil {
			a.log.Warn().Err(err).Msg("Image preprocessing failed, sending original")
		} else {
			payload = enhanced
		}
	}

	ocr, err := a.client.RecognizePrintedTextInStream(
		ctx,
		true,
		io.NopCloser(bytes.NewReader(payload)),
		computervision.OcrLanguages(computervision.En),
	)
	if err != nil {
		return nil, wrapError(azureName, op, ErrRecognitionFailed, fmt.Sprintf("Computer Vision API call failed: %v", err))
	}

	pageHeight := 0.0
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(payload)); err == nil {
		pageHeight = float64(cfg.Height)
	}

	result := convertAzureResult(ocr, pageHeight)
	if result.IsEmpty() {
		return nil, wrapError(azureName, op, ErrEmptyDocument, "")
	}
	finish(result, a, start)

	a.log.Info().
		Int("regions", len(result.Regions)).
		Int64("duration_ms", result.ProcessingTimeMS).
		Msg("Image recognized")

	return result, nil
}

// convertAzureResult maps the OCR regions onto recognition regions, one
// region per Azure region with its lines joined by newlines.
func convertAzureResult(ocr computervision.OcrResult, pageHeight float64) *models.RecognitionResult {
	result := &models.RecognitionResult{PageCount: 1}
	if ocr.Language != nil && *ocr.Language != "" && *ocr.Language != "unk" {
		result.LanguageCodes = []string{*ocr.Language}
	}
	if ocr.Regions == nil {
		return result
	}

	var all []string
	for _, region := range *ocr.Regions {
		if region.Lines == nil {
			continue
		}
		var lines []string
		for _, line := range *region.Lines {
			if line.Words == nil {
				continue
			}
			var words []string
			for _, word := range *line.Words {
				if word.Text != nil && *word.Text != "" {
					words = append(words, *word.Text)
				}
			}
			if len(words) > 0 {
				lines = append(lines, strings.Join(words, " "))
			}
		}
		if len(lines) == 0 {
			continue
		}
		text := strings.Join(lines, "\n")
		all = append(all, text)

		box := parseAzureBox(region.BoundingBox)
		result.Regions = append(result.Regions, models.RecognitionRegion{
			Text:        text,
			BoundingBox: box,
			Confidence:  azureConfidence,
			Type:        Classify(text, box, pageHeight),
			Page:        1,
		})
	}
	result.Text = strings.Join(all, "\n")
	return result
}

// parseAzureBox parses the "x,y,width,height" box notation.
func parseAzureBox(s *string) models.BoundingBox {
	if s == nil {
		return models.BoundingBox{}
	}
	parts := strings.Split(*s, ",")
	if len(parts) < 4 {
		return models.BoundingBox{}
	}
	var vals [4]float64
	for i := 0; i < 4; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return models.BoundingBox{}
		}
		vals[i] = v
	}
	return models.BoundingBox{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}
}
