package extract

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxKeywords = 10

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {}, "on": {}, "at": {},
	"to": {}, "for": {}, "of": {}, "with": {}, "by": {}, "from": {}, "that": {}, "this": {},
	"these": {}, "those": {}, "were": {}, "have": {}, "which": {}, "their": {}, "into": {},
	"also": {}, "been": {}, "about": {}, "than": {}, "there": {}, "such": {},
}

// topKeywords returns up to ten words from text ranked by frequency. Words of
// three characters or fewer and stop words are ignored; ties keep first-seen order.
func topKeywords(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	counts := make(map[string]int)
	var order []string
	for _, w := range words {
		if utf8.RuneCountInString(w) <= 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > maxKeywords {
		order = order[:maxKeywords]
	}
	return order
}
