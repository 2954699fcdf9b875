package discovery

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/doc-freshness/internal/connector"
	"github.com/JakeFAU/doc-freshness/internal/ingest"
)

// Priority weights for cheap URL heuristics.
const (
	WeightDOI   = 0.8
	WeightPDF   = 0.5
	WeightArxiv = 0.4
)

var (
	absPath          = regexp.MustCompile(`/abs/\d+`)
	relevantMarkers  = []string{"arxiv.org", "doi.org", ".edu", "/paper"}
	relevantKeywords = []string{"research", "journal", "study", "education"}
)

// Relevant reports whether rawURL looks like a document worth acquiring.
// It is a coarse noise filter, not a classifier.
func Relevant(rawURL string) bool {
	u := strings.ToLower(rawURL)
	for _, marker := range relevantMarkers {
		if strings.Contains(u, marker) {
			return true
		}
	}
	if strings.HasSuffix(u, ".pdf") || absPath.MatchString(u) {
		return true
	}
	for _, keyword := range relevantKeywords {
		if strings.Contains(u, keyword) {
			return true
		}
	}
	return false
}

// Priority scores a candidate from its URL and provenance. Scores add up,
// so a DOI link to a PDF from arXiv outranks each signal alone.
func Priority(c ingest.Candidate) float64 {
	target := c.CanonicalURL
	if target == "" {
		target = ingest.Canonicalize(c.URL)
	}
	var score float64
	if strings.Contains(ingest.Hostname(target), "doi.org") {
		score += WeightDOI
	}
	if isPDFPath(target) {
		score += WeightPDF
	}
	if c.Source == connector.SourceArxiv {
		score += WeightArxiv
	}
	return score
}

func isPDFPath(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.HasSuffix(strings.ToLower(rawURL), ".pdf")
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
}
