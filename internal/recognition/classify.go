package recognition

import (
	"regexp"
	"strings"

	"finscribe/pkg/models"
)

// edgeBand is the share of the page height at the top and bottom that counts
// as header and footer area.
const edgeBand = 0.08

var (
	reKeyValue = regexp.MustCompile(`^[\p{L}][\p{L}\p{N} .#/()\-]{0,40}:\s*\S`)
	reListItem = regexp.MustCompile(`^\s*(?:[-*•·–]|\d{1,3}[.)]|[a-zA-Z][.)])\s+\S`)
)

// Classify assigns a region type to text that a provider returned without
// one. Position wins over shape: text in the top or bottom band of the page
// is a header or footer. Otherwise text whose lines mostly look like
// "label: value" is key-value, text whose lines mostly carry bullets or
// numbering is a list, and everything else is text. A zero pageHeight or an
// empty box skips the positional check.
func Classify(text string, box models.BoundingBox, pageHeight float64) models.RegionType {
	if pageHeight > 0 && !box.IsEmpty() {
		if box.Bottom() <= pageHeight*edgeBand {
			return models.RegionHeader
		}
		if box.Y >= pageHeight*(1-edgeBand) {
			return models.RegionFooter
		}
	}

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return models.RegionUnknown
	}

	kv, list := 0, 0
	for _, line := range lines {
		switch {
		case reListItem.MatchString(line):
			list++
		case reKeyValue.MatchString(line):
			kv++
		}
	}
	switch {
	case majority(list, len(lines)):
		return models.RegionList
	case majority(kv, len(lines)):
		return models.RegionKeyValue
	default:
		return models.RegionText
	}
}

func majority(n, total int) bool {
	return n*2 > total
}
