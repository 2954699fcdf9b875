package reconstruct

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
)

// TemplateModel names summaries produced by TemplateSummarizer.
const TemplateModel = "template"

const (
	minWords    = 100
	maxWords    = 200
	topFeatures = 5
)

// TemplateSummarizer writes a deterministic summary from page metadata. It
// needs no network access and always produces the same text for the same
// input.
type TemplateSummarizer struct{}

// NewTemplate creates a TemplateSummarizer.
func NewTemplate() *TemplateSummarizer {
	return &TemplateSummarizer{}
}

// Model returns TemplateModel.
func (TemplateSummarizer) Model() string {
	return TemplateModel
}

// Summarize composes sentences from metadata and clamps them to 100-200 words.
func (TemplateSummarizer) Summarize(_ context.Context, vector []float32, metadata map[string]string) (string, error) {
	var sentences []string
	add := func(format string, args ...any) {
		sentences = append(sentences, fmt.Sprintf(format, args...))
	}

	title := metadata[KeyTitle]
	if title == "" {
		title = "an untitled page"
	}
	add("This page, %s, is summarized from its stored embedding and the metadata captured when it was ingested.", quote(title))
	if d := metadata[KeyMetaDescription]; d != "" {
		add("Its publisher describes it as follows: %s", sentence(d))
	}
	if h := metadata[KeyHeadings]; h != "" {
		add("The document is organized around these sections: %s", sentence(strings.ReplaceAll(h, " | ", ", ")))
	}
	if k := metadata[KeyKeywords]; k != "" {
		add("Recurring terms include %s", sentence(k))
	}
	if intro := metadata[KeyIntroParagraphs]; intro != "" {
		add("The opening reads: %s", sentence(intro))
	}
	add("Embedding profile: %s.", describeVector(vector))

	words := strings.Fields(strings.Join(sentences, " "))
	for _, filler := range fillers {
		if len(words) >= minWords {
			break
		}
		words = append(words, strings.Fields(filler)...)
	}
	if len(words) > maxWords {
		words = words[:maxWords]
		words[maxWords-1] = strings.TrimRight(words[maxWords-1], ".,;:") + "..."
	}
	return strings.Join(words, " "), nil
}

var fillers = []string{
	"The summary reflects only what the stored representation and its metadata can support, so finer details of the original text may be missing.",
	"Readers who need exact figures, quotations, or citations should consult the archived snapshot or the live source if it is still reachable.",
	"The page was selected by the discovery pipeline because its address or content suggested academic, research, or educational material.",
	"Its freshness is tracked over time, and the record is flagged when the original address stops responding or returns an error.",
	"No additional context was available beyond the fields listed above, which limits how specific this reconstruction can be.",
}

// describeVector reports the dimension count, the L2 norm, and the
// strongest components of vector.
func describeVector(vector []float32) string {
	if len(vector) == 0 {
		return "no embedding values"
	}
	var sum float64
	idx := make([]int, len(vector))
	for i, v := range vector {
		sum += float64(v) * float64(v)
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return math.Abs(float64(vector[idx[a]])) > math.Abs(float64(vector[idx[b]]))
	})
	n := min(topFeatures, len(idx))
	parts := make([]string, 0, n)
	for _, i := range idx[:n] {
		parts = append(parts, fmt.Sprintf("d%d=%.3f", i, vector[i]))
	}
	return fmt.Sprintf("%d dimensions, norm %.3f, strongest components %s", len(vector), math.Sqrt(sum), strings.Join(parts, ", "))
}

func quote(s string) string {
	return "“" + strings.TrimSpace(s) + "”"
}

func sentence(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return s
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return s
	}
	return s + "."
}
