package models

import (
	"encoding/json"
	"math"
	"strings"
)

// RegionType classifies a recognized region on a page.
type RegionType string

const (
	RegionTable    RegionType = "table"
	RegionKeyValue RegionType = "key-value"
	RegionList     RegionType = "list"
	RegionHeader   RegionType = "header"
	RegionFooter   RegionType = "footer"
	RegionText     RegionType = "text"
	RegionUnknown  RegionType = "unknown"
)

// ParseRegionType maps provider-specific spellings onto the known region types.
// Anything unrecognized becomes RegionUnknown.
func ParseRegionType(s string) RegionType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "table":
		return RegionTable
	case "key-value", "key_value", "keyvalue", "kv", "form", "form_field":
		return RegionKeyValue
	case "list", "list_item":
		return RegionList
	case "header", "page_header":
		return RegionHeader
	case "footer", "page_footer":
		return RegionFooter
	case "text", "paragraph", "line":
		return RegionText
	default:
		return RegionUnknown
	}
}

// UnmarshalJSON decodes a region type leniently.
func (t *RegionType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*t = RegionUnknown
		return nil
	}
	*t = ParseRegionType(s)
	return nil
}

// BoundingBox locates a region on a page image in pixel coordinates,
// origin at the upper-left corner.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Bottom returns the lower edge of the box.
func (b BoundingBox) Bottom() float64 { return b.Y + b.Height }

// IsEmpty reports whether the box has non-positive dimensions.
func (b BoundingBox) IsEmpty() bool { return b.Width <= 0 || b.Height <= 0 }

// RecognitionRegion is a located, confidence-scored piece of recognized text.
type RecognitionRegion struct {
	Text        string      `json:"text"`
	BoundingBox BoundingBox `json:"bounding_box"`
	// Confidence is in [0,1].
	Confidence float64    `json:"confidence"`
	Type       RegionType `json:"type"`
	Page       int        `json:"page,omitempty"`
}

// Table is a detected table flattened into rows of cell text.
type Table struct {
	Rows       [][]string `json:"rows"`
	Confidence float64    `json:"confidence,omitempty"`
	Page       int        `json:"page,omitempty"`
}

// RecognitionResult is the output of a recognition provider for one document.
type RecognitionResult struct {
	// Text is the full raw text, used as a fallback when no region survives.
	Text             string              `json:"text"`
	Regions          []RecognitionRegion `json:"regions,omitempty"`
	Tables           []Table             `json:"tables,omitempty"`
	ModelVersion     string              `json:"model_version"`
	Provider         string              `json:"provider,omitempty"`
	PageCount        int                 `json:"page_count,omitempty"`
	LanguageCodes    []string            `json:"language_codes,omitempty"`
	ProcessingTimeMS int64               `json:"processing_time_ms"`
}

// IsEmpty reports whether the result carries nothing a structurer could use.
func (r *RecognitionResult) IsEmpty() bool {
	return r == nil || (len(r.Regions) == 0 && len(r.Tables) == 0 && strings.TrimSpace(r.Text) == "")
}

// ClampConfidence limits c to [0,1].
func ClampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
