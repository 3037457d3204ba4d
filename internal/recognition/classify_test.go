package recognition

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finscribe/pkg/models"
)

func TestClassify(t *testing.T) {
	const pageHeight = 1000.0
	mid := models.BoundingBox{X: 10, Y: 400, Width: 300, Height: 50}

	tests := []struct {
		name string
		text string
		box  models.BoundingBox
		want models.RegionType
	}{
		{"top band", "ACME Corp", models.BoundingBox{Y: 10, Width: 200, Height: 40}, models.RegionHeader},
		{"bottom band", "Page 1 of 2", models.BoundingBox{Y: 950, Width: 200, Height: 20}, models.RegionFooter},
		{"key value", "Invoice No: 4711\nDate: 2024-01-31", mid, models.RegionKeyValue},
		{"bullets", "- Widget\n- Gadget\n- Gizmo", mid, models.RegionList},
		{"numbered", "1. Widget\n2) Gadget", mid, models.RegionList},
		{"prose", "Thank you for shopping with us. We hope to see you again.", mid, models.RegionText},
		{"mixed minority", "Thanks for your order\nWe ship fast\nTotal: 5.38", mid, models.RegionText},
		{"empty", "  \n ", mid, models.RegionUnknown},
		{"no page height", "ACME Corp", models.BoundingBox{Y: 10, Width: 200, Height: 40}, models.RegionText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			height := pageHeight
			if tt.name == "no page height" {
				height = 0
			}
			assert.Equal(t, tt.want, Classify(tt.text, tt.box, height))
		})
	}
}

func TestDetectMIME(t *testing.T) {
	tests := []struct {
		data []byte
		want string
	}{
		{[]byte("%PDF-1.7\n"), MIMEPDF},
		{[]byte("\x89PNG\r\n\x1a\nrest"), MIMEPNG},
		{[]byte{0xFF, 0xD8, 0xFF, 0xE0}, MIMEJPEG},
		{[]byte("II*\x00...."), MIMETIFF},
		{[]byte("MM\x00*...."), MIMETIFF},
		{[]byte("GIF89a..."), MIMEGIF},
		{[]byte("Invoice 4711\nTotal 5.38"), MIMEText},
		{[]byte{0x00, 0x01, 0x02}, MIMEOther},
		{nil, MIMEOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectMIME(tt.data), "%q", tt.data)
	}
	assert.True(t, IsImage(MIMEPNG))
	assert.False(t, IsImage(MIMEPDF))
}

func TestPreprocess(t *testing.T) {
	src := imaging.New(40, 20, color.NRGBA{R: 200, G: 30, B: 30, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, src, imaging.JPEG))

	out, err := Preprocess(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, MIMEPNG, DetectMIME(out))

	img, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 20), img.Bounds())
	r, g, b, _ := img.At(5, 5).RGBA()
	assert.Equal(t, r, g)
	assert.Equal(t, g, b)
}

func TestPreprocess_NotAnImage(t *testing.T) {
	in := []byte("%PDF-1.4")
	out, err := Preprocess(in)
	assert.Error(t, err)
	assert.Equal(t, in, out)
}

func TestPlainText(t *testing.T) {
	p := NewPlainText()

	result, err := p.Parse(context.Background(), []byte("  Invoice 4711\nTotal 5.38\n"))
	require.NoError(t, err)
	assert.Equal(t, "Invoice 4711\nTotal 5.38", result.Text)
	assert.Empty(t, result.Regions)
	assert.Equal(t, "plaintext", result.Provider)
	assert.Equal(t, "plaintext-v1", result.ModelVersion)

	_, err = p.Parse(context.Background(), []byte("%PDF-1.4\x00\x01"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = p.Parse(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestWrapError(t *testing.T) {
	err := wrapError("azure", "Parse", ErrRecognitionFailed, "boom")
	assert.ErrorIs(t, err, ErrRecognitionFailed)
	assert.Equal(t, "recognition[azure]: Parse failed: boom: recognition failed", err.Error())

	again := wrapError("other", "Outer", err, "")
	assert.Same(t, err, again)

	var recErr *RecognitionError
	require.True(t, errors.As(again, &recErr))
	assert.Equal(t, "azure", recErr.Provider)

	assert.NoError(t, wrapError("x", "y", nil, ""))
}
