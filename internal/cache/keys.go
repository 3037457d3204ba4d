package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Key namespaces.
const (
	RecognitionPrefix = "recognition:"
	EnrichmentPrefix  = "enrichment:"
)

var (
	reHorizontalSpace = regexp.MustCompile(`[ \t\f\v]+`)
	reBlankLines      = regexp.MustCompile(`\n{3,}`)
	reTrailingSpace   = regexp.MustCompile(`(?m)[ \t]+$`)
)

// RecognitionKey returns the cache key for a document's recognition result.
func RecognitionKey(document []byte) string {
	sum := sha256.Sum256(document)
	return RecognitionPrefix + hex.EncodeToString(sum[:])
}

// EnrichmentKey returns the cache key for enriching structured text with a
// given model. The schema version is kept readable at the end so that every
// entry of an outdated schema can be cleared with one pattern.
func EnrichmentKey(structuredText, modelVersion, schemaVersion string) string {
	sum := sha256.Sum256([]byte(NormalizeText(structuredText) + modelVersion))
	return EnrichmentPrefix + hex.EncodeToString(sum[:]) + ":" + schemaVersion
}

// NormalizeText canonicalizes whitespace so that cosmetic differences in
// structured text map to the same enrichment key.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = reHorizontalSpace.ReplaceAllString(text, " ")
	text = reTrailingSpace.ReplaceAllString(text, "")
	text = reBlankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
