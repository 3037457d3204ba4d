package recognition

import (
	"bytes"
	"unicode/utf8"
)

// Document MIME types recognized by DetectMIME.
const (
	MIMEPDF   = "application/pdf"
	MIMEPNG   = "image/png"
	MIMEJPEG  = "image/jpeg"
	MIMETIFF  = "image/tiff"
	MIMEGIF   = "image/gif"
	MIMEText  = "text/plain"
	MIMEOther = "application/octet-stream"
)

var magic = []struct {
	prefix []byte
	mime   string
}{
	{[]byte("%PDF"), MIMEPDF},
	{[]byte("\x89PNG\r\n\x1a\n"), MIMEPNG},
	{[]byte{0xFF, 0xD8, 0xFF}, MIMEJPEG},
	{[]byte("II*\x00"), MIMETIFF},
	{[]byte("MM\x00*"), MIMETIFF},
	{[]byte("GIF87a"), MIMEGIF},
	{[]byte("GIF89a"), MIMEGIF},
}

// DetectMIME identifies a document by its leading bytes.
func DetectMIME(data []byte) string {
	for _, m := range magic {
		if bytes.HasPrefix(data, m.prefix) {
			return m.mime
		}
	}
	if len(data) > 0 && utf8.Valid(data) && bytes.IndexByte(data, 0) < 0 {
		return MIMEText
	}
	return MIMEOther
}

// IsImage reports whether mime is one of the supported raster formats.
func IsImage(mime string) bool {
	switch mime {
	case MIMEPNG, MIMEJPEG, MIMETIFF, MIMEGIF:
		return true
	}
	return false
}
