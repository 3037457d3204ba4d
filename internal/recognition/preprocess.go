package recognition

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// maxPreprocessWidth bounds the width of preprocessed images. Wider scans are
// downscaled, which speeds up OCR without losing legibility.
const maxPreprocessWidth = 3000

// Preprocess prepares a scanned image for OCR: grayscale, raised contrast,
// light sharpening, re-encoded as PNG. Input that is not a decodable image is
// returned unchanged together with the decode error.
func Preprocess(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return data, fmt.Errorf("decode image: %w", err)
	}
	out := enhance(img)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG); err != nil {
		return data, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}

func enhance(img image.Image) *image.NRGBA {
	if img.Bounds().Dx() > maxPreprocessWidth {
		img = imaging.Resize(img, maxPreprocessWidth, 0, imaging.Lanczos)
	}
	gray := imaging.Grayscale(img)
	contrasted := imaging.AdjustContrast(gray, 30)
	return imaging.Sharpen(contrasted, 1.5)
}
