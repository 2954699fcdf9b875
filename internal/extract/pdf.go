package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// readPDF returns the document title from the info dictionary, if any, and
// the plain text of every page separated by newlines.
func readPDF(content []byte) (title, text string, err error) {
	// The reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read PDF: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", "", fmt.Errorf("open PDF: %w", err)
	}
	title = strings.TrimSpace(r.Trailer().Key("Info").Key("Title").Text())

	var buf bytes.Buffer
	numPages := r.NumPage()
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", "", fmt.Errorf("extract page %d: %w", i, err)
		}
		buf.WriteString(pageText)
		if i < numPages {
			buf.WriteByte('\n')
		}
	}
	return title, buf.String(), nil
}

// textFields derives fields from unstructured text such as a PDF body: the
// first non-empty line doubles as a title and the first two paragraphs form
// the intro.
func textFields(title, text string) fields {
	lines := strings.Split(text, "\n")
	if title == "" {
		for _, line := range lines {
			if trimmed := collapse(line); trimmed != "" {
				title = trimmed
				break
			}
		}
	}

	var paragraphs []string
	var current []string
	flush := func() {
		if p := collapse(strings.Join(current, " ")); p != "" {
			paragraphs = append(paragraphs, p)
		}
		current = current[:0]
	}
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			flush()
			if len(paragraphs) >= 2 {
				break
			}
			continue
		}
		current = append(current, line)
	}
	flush()
	if len(paragraphs) > 2 {
		paragraphs = paragraphs[:2]
	}

	if title == "" {
		title = untitled
	}
	intro := strings.Join(paragraphs, " ")
	return fields{
		title:    title,
		intro:    intro,
		keywords: strings.Join(topKeywords(title+" "+intro), ", "),
		body:     collapse(text),
	}
}
