package worker

import (
	"strings"

	"github.com/JakeFAU/doc-freshness/internal/ingest"
)

const introHintChars = 120

// BuildHints derives the short cues stored with a page at save time.
func BuildHints(f ingest.ExtractedFields) ingest.Hints {
	var hints ingest.Hints
	if f.Keywords != "" {
		hints.Lines = append(hints.Lines, "Keywords: "+f.Keywords)
		for _, kw := range strings.Split(f.Keywords, ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				hints.Keywords = append(hints.Keywords, kw)
			}
		}
	}
	if f.Headings != "" {
		hints.Lines = append(hints.Lines, "Main topics: "+f.Headings)
	}
	if f.IntroParagraphs != "" {
		intro := []rune(f.IntroParagraphs)
		if len(intro) > introHintChars {
			intro = intro[:introHintChars]
		}
		hints.Lines = append(hints.Lines, "Intro context: "+string(intro)+"...")
	}
	if f.MetaDescription != "" {
		hints.Lines = append(hints.Lines, "Meta description: "+f.MetaDescription)
	}
	return hints
}
