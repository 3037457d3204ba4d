package structurer

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var financialKeywords = []string{
	"invoice", "total", "amount", "due", "payment", "vendor",
	"customer", "balance", "account", "date", "receipt", "bill",
}

var boilerplateTerms = []string{
	"terms and conditions",
	"privacy policy",
	"all rights reserved",
	"confidential",
	"unsubscribe",
	"copyright",
}

// boilerplateThreshold is the number of distinct boilerplate terms that mark a
// block as legal or marketing filler.
const boilerplateThreshold = 2

var reSentenceBreak = regexp.MustCompile(`[.!?\n]+`)

func hasFinancialKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range financialKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func isBoilerplate(text string, maxSentenceLength float64) bool {
	lower := strings.ToLower(text)
	hits := 0
	for _, term := range boilerplateTerms {
		if strings.Contains(lower, term) {
			hits++
		}
	}
	if hits >= boilerplateThreshold {
		return true
	}
	return averageSentenceLength(text) > maxSentenceLength
}

func averageSentenceLength(text string) float64 {
	total, count := 0, 0
	for _, sentence := range reSentenceBreak.Split(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		total += utf8.RuneCountInString(sentence)
		count++
	}
	if count == 0 {
		return 0
	}
	return float64(total) / float64(count)
}
