// Package structurer distills noisy recognition output into a compact,
// labeled text representation for the enrichment capability.
//
// Output is a sequence of blocks separated by a blank line. Each block is a
// label line such as [TABLE] or [TEXT] followed by its content:
//
//	[TABLE]
//	Description | Qty | Amount
//	Widget | 1 | 2.99
//
//	[KEY-VALUE]
//	Invoice No: 4711
//
// Detected tables always come first. Structure is a pure function of its
// input and safe for concurrent use.
package structurer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"finscribe/internal/errkind"
	"finscribe/internal/logger"
	"finscribe/pkg/models"
)

// Block labels.
const (
	LabelTable    = "[TABLE]"
	LabelKeyValue = "[KEY-VALUE]"
	LabelList     = "[LIST]"
	LabelHeader   = "[HEADER]"
	LabelFooter   = "[FOOTER]"
	LabelText     = "[TEXT]"
)

// CellDelimiter separates table cells within a flattened row.
const CellDelimiter = " | "

// Options holds the structurer heuristics.
type Options struct {
	// MinConfidence drops any region scored below it.
	MinConfidence float64
	// TextConfidence is the confidence at which a plain text region is kept
	// without further checks.
	TextConfidence float64
	// BoilerplateMinLength is the length (in characters) above which a text
	// region goes through the boilerplate heuristic.
	BoilerplateMinLength int
	// MaxSentenceLength is the average sentence length above which a long text
	// region counts as boilerplate.
	MaxSentenceLength float64
	// FallbackMaxLines caps the raw-text fallback block.
	FallbackMaxLines int
	// FallbackMinLineLength drops fallback lines of this length or shorter.
	FallbackMinLineLength int
}

// DefaultOptions returns the stock heuristics.
func DefaultOptions() Options {
	return Options{
		MinConfidence:         0.85,
		TextConfidence:        0.90,
		BoilerplateMinLength:  500,
		MaxSentenceLength:     150,
		FallbackMaxLines:      50,
		FallbackMinLineLength: 3,
	}
}

// Structurer converts recognition results into labeled text.
type Structurer struct {
	opts Options
	log  zerolog.Logger
}

// New creates a Structurer with the given options.
func New(opts Options) *Structurer {
	return &Structurer{
		opts: opts,
		log:  logger.WithComponent("structurer"),
	}
}

// Structure converts result into labeled text using default options except
// for minConfidence.
func Structure(result *models.RecognitionResult, minConfidence float64) string {
	opts := DefaultOptions()
	opts.MinConfidence = minConfidence
	out, _ := New(opts).Structure(result)
	return out
}

type block struct {
	label   string
	content string
}

// Structure returns the labeled text for result. The returned string is
// always usable. A non-nil error only reports how the output degraded:
// errkind.UnrepresentableInput when nothing was extractable (the string is
// empty), errkind.Internal when a fault was recovered and the unfiltered raw
// text was returned instead.
func (s *Structurer) Structure(result *models.RecognitionResult) (out string, err error) {
	const op = "Structure"

	if result.IsEmpty() {
		return "", errkind.New(errkind.UnrepresentableInput, op, nil, "no regions, tables or fallback text")
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Warn().
				Interface("panic", r).
				Msg("Structurer fault, returning raw text")
			out = result.Text
			err = errkind.New(errkind.Internal, op, fmt.Errorf("%v", r), "returned raw text")
		}
	}()

	var blocks []block
	blocks = append(blocks, s.tableBlocks(result.Tables)...)

	dropped := 0
	for _, region := range result.Regions {
		if b, ok := s.regionBlock(region); ok {
			blocks = append(blocks, b)
		} else {
			dropped++
		}
	}

	if len(blocks) == 0 {
		if b, ok := s.fallbackBlock(result.Text); ok {
			blocks = append(blocks, b)
		}
	}

	s.log.Debug().
		Int("tables", len(result.Tables)).
		Int("regions", len(result.Regions)).
		Int("dropped", dropped).
		Int("blocks", len(blocks)).
		Msg("Structured recognition output")

	if len(blocks) == 0 {
		return "", errkind.New(errkind.UnrepresentableInput, op, nil, "every region was filtered out")
	}
	return join(blocks), nil
}

func (s *Structurer) tableBlocks(tables []models.Table) []block {
	var blocks []block
	for _, table := range tables {
		var rows []string
		for _, row := range table.Rows {
			cells := make([]string, 0, len(row))
			empty := true
			for _, cell := range row {
				cell = collapseSpace(cell)
				if cell != "" {
					empty = false
				}
				cells = append(cells, cell)
			}
			if empty {
				continue
			}
			rows = append(rows, strings.Join(cells, CellDelimiter))
		}
		if len(rows) > 0 {
			blocks = append(blocks, block{label: LabelTable, content: strings.Join(rows, "\n")})
		}
	}
	return blocks
}

func (s *Structurer) regionBlock(region models.RecognitionRegion) (block, bool) {
	text := strings.TrimSpace(region.Text)
	if text == "" || region.Confidence < s.opts.MinConfidence {
		return block{}, false
	}

	switch region.Type {
	case models.RegionTable:
		return block{label: LabelTable, content: text}, true
	case models.RegionKeyValue:
		return block{label: LabelKeyValue, content: text}, true
	case models.RegionList:
		return block{label: LabelList, content: text}, true
	case models.RegionHeader:
		if !hasFinancialKeyword(text) {
			return block{}, false
		}
		return block{label: LabelHeader, content: text}, true
	case models.RegionFooter:
		if !hasFinancialKeyword(text) {
			return block{}, false
		}
		return block{label: LabelFooter, content: text}, true
	}

	long := utf8.RuneCountInString(text) > s.opts.BoilerplateMinLength
	if long && isBoilerplate(text, s.opts.MaxSentenceLength) {
		return block{}, false
	}
	if region.Confidence >= s.opts.TextConfidence || long {
		return block{label: LabelText, content: text}, true
	}
	return block{}, false
}

func (s *Structurer) fallbackBlock(raw string) (block, bool) {
	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if utf8.RuneCountInString(line) <= s.opts.FallbackMinLineLength {
			continue
		}
		kept = append(kept, line)
		if s.opts.FallbackMaxLines > 0 && len(kept) == s.opts.FallbackMaxLines {
			break
		}
	}
	if len(kept) == 0 {
		return block{}, false
	}
	return block{label: LabelText, content: strings.Join(kept, "\n")}, true
}

func join(blocks []block) string {
	parts := make([]string, len(blocks))
	for i, b := range blocks {
		parts[i] = b.label + "\n" + b.content
	}
	return strings.Join(parts, "\n\n")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
