//go:build tesseract

package recognition

import (
	"context"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"
	"github.com/rs/zerolog"

	"finscribe/internal/config"
	"finscribe/internal/logger"
	"finscribe/pkg/models"
)

// Tesseract recognizes images locally with libtesseract.
type Tesseract struct {
	languages     []string
	clientFactory func() *gosseract.Client
	log           zerolog.Logger
}

// NewTesseract creates the provider. Languages default to English.
func NewTesseract(cfg config.TesseractSection) (Provider, error) {
	langs := cfg.Languages
	if len(langs) == 0 {
		langs = []string{"eng"}
	}
	return &Tesseract{
		languages:     langs,
		clientFactory: gosseract.NewClient,
		log:           logger.WithComponent("tesseract"),
	}, nil
}

func (t *Tesseract) Name() string { return tesseractName }

func (t *Tesseract) ModelVersion() string {
	return "tesseract-" + gosseract.Version() + "/" + strings.Join(t.languages, "+")
}

// Parse recognizes a single image. Paragraph boxes become regions.
func (t *Tesseract) Parse(ctx context.Context, document []byte) (*models.RecognitionResult, error) {
	const op = "Parse"
	start := time.Now()

	if err := checkSize(tesseractName, op, document); err != nil {
		return nil, err
	}
	if !IsImage(DetectMIME(document)) {
		return nil, wrapError(tesseractName, op, ErrUnsupportedFormat, "only images are supported")
	}
	if err := ctx.Err(); err != nil {
		return nil, wrapError(tesseractName, op, err, "")
	}

	payload, err := Preprocess(document)
	if err != nil {
		t.log.Warn().Err(err).Msg("Image preprocessing failed, using original")
		payload = document
	}

	c := t.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(payload); err != nil {
		return nil, wrapError(tesseractName, op, ErrRecognitionFailed, "set image: "+err.Error())
	}
	if err := c.SetLanguage(t.languages...); err != nil {
		return nil, wrapError(tesseractName, op, ErrInvalidConfiguration, "set languages: "+err.Error())
	}
	text, err := c.Text()
	if err != nil {
		return nil, wrapError(tesseractName, op, ErrRecognitionFailed, "recognize text: "+err.Error())
	}

	result := &models.RecognitionResult{Text: strings.TrimSpace(text), PageCount: 1}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_PARA)
	if err != nil {
		t.log.Debug().Err(err).Msg("No paragraph boxes, using plain text only")
	}
	pageHeight := 0.0
	for _, b := range boxes {
		if h := float64(b.Box.Max.Y); h > pageHeight {
			pageHeight = h
		}
	}
	for _, b := range boxes {
		para := strings.TrimSpace(b.Word)
		if para == "" {
			continue
		}
		box := models.BoundingBox{
			X:      float64(b.Box.Min.X),
			Y:      float64(b.Box.Min.Y),
			Width:  float64(b.Box.Dx()),
			Height: float64(b.Box.Dy()),
		}
		result.Regions = append(result.Regions, models.RecognitionRegion{
			Text:        para,
			BoundingBox: box,
			Confidence:  models.ClampConfidence(b.Confidence / 100.0),
			Type:        Classify(para, box, pageHeight),
			Page:        1,
		})
	}

	if result.IsEmpty() {
		return nil, wrapError(tesseractName, op, ErrEmptyDocument, "")
	}
	finish(result, t, start)

	t.log.Info().
		Int("regions", len(result.Regions)).
		Int64("duration_ms", result.ProcessingTimeMS).
		Msg("Image recognized")

	return result, nil
}
