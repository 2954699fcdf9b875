package worker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/doc-freshness/internal/ingest"
)

func TestBuildHints(t *testing.T) {
	t.Parallel()

	intro := strings.Repeat("é", 150)
	hints := BuildHints(ingest.ExtractedFields{
		Keywords:        "glacier, retreat, , ice",
		Headings:        "Intro | Data",
		IntroParagraphs: intro,
		MetaDescription: "Glacier retreat data.",
	})

	assert.Equal(t, []string{
		"Keywords: glacier, retreat, , ice",
		"Main topics: Intro | Data",
		"Intro context: " + strings.Repeat("é", 120) + "...",
		"Meta description: Glacier retreat data.",
	}, hints.Lines)
	assert.Equal(t, []string{"glacier", "retreat", "ice"}, hints.Keywords)
}

func TestBuildHintsEmpty(t *testing.T) {
	t.Parallel()

	hints := BuildHints(ingest.ExtractedFields{Title: "only a title"})
	assert.Empty(t, hints.Lines)
	assert.Empty(t, hints.Keywords)
}

func TestSnapshotPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "snapshots/x.edu/abc.pdf", snapshotPath("/snapshots/", "x.edu", "abc", ".pdf"))
	assert.Equal(t, "x.edu/abc.html", snapshotPath("", "x.edu", "abc", "html"))
	assert.Equal(t, "p/unknown/abc.bin", snapshotPath("p", "", "abc", ""))
}
