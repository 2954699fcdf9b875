package extract

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/doc-freshness/internal/ingest"
)

const paperHTML = `<!doctype html>
<html>
<head>
  <title>  Soil Carbon   Dynamics </title>
  <meta name="description" content="A field study of soil carbon.">
  <meta name="citation_publication_date" content="2024-03-01">
  <meta name="author" content="R. Okafor">
  <meta name="keywords" content="soil, carbon, field study">
  <script>var tracking = "should not appear";</script>
</head>
<body>
  <header><a href="/">Home</a></header>
  <nav>Menu entries</nav>
  <article>
    <h1>Soil Carbon Dynamics</h1>
    <p>We measured soil carbon across forty plots over three growing seasons.</p>
    <p>Carbon stocks rose under cover crops and fell under tillage.</p>
    <h2>Methods</h2>
    <p>Samples were taken at fixed depths and analysed by dry combustion in the laboratory.</p>
  </article>
  <footer>Copyright notice</footer>
</body>
</html>`

func TestExtractHTML(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{responses: map[string]ingest.FetchResponse{
		"https://x.edu/paper": htmlResp("https://x.edu/paper", paperHTML),
	}}
	doc, err := New(Config{}, fetcher, nil).Extract(context.Background(), "https://x.edu/paper")
	require.NoError(t, err)

	assert.Equal(t, "Soil Carbon Dynamics", doc.Fields.Title)
	assert.Equal(t, "A field study of soil carbon.", doc.Fields.MetaDescription)
	assert.Equal(t, "Soil Carbon Dynamics | Methods", doc.Fields.Headings)
	assert.Equal(t, "We measured soil carbon across forty plots over three growing seasons. Carbon stocks rose under cover crops and fell under tillage.", doc.Fields.IntroParagraphs)
	assert.Equal(t, "soil, carbon, field study", doc.Fields.Keywords)
	assert.Contains(t, doc.Fields.BodyText, "dry combustion")
	assert.NotContains(t, doc.Fields.BodyText, "should not appear")
	assert.NotContains(t, doc.Fields.BodyText, "Copyright notice")
	assert.Equal(t, "2024-03-01", doc.Date)
	assert.Equal(t, "R. Okafor", doc.Author)
	assert.False(t, doc.Truncated)
	assert.False(t, doc.UsedHeadless)
	assert.Equal(t, "https://x.edu/paper", doc.FinalURL)
	assert.Equal(t, []byte(paperHTML), doc.Raw)

	require.Len(t, fetcher.requests, 1)
	assert.Contains(t, fetcher.requests[0].Headers.Get("Accept"), "application/pdf")
}

func TestExtractTitleFallbacksAndKeywordFrequency(t *testing.T) {
	t.Parallel()

	page := `<html><body><h1>Glacier Retreat</h1>
<p>Glacier retreat accelerated. Glacier mass balance measurements show retreat everywhere.</p></body></html>`
	fetcher := &fakeFetcher{responses: map[string]ingest.FetchResponse{"https://x.edu/g": htmlResp("", page)}}

	doc, err := New(Config{}, fetcher, nil).Extract(context.Background(), "https://x.edu/g")
	require.NoError(t, err)
	assert.Equal(t, "Glacier Retreat", doc.Fields.Title)
	assert.True(t, strings.HasPrefix(doc.Fields.Keywords, "glacier, retreat"), doc.Fields.Keywords)
	assert.Equal(t, "https://x.edu/g", doc.FinalURL)
}

func TestExtractUntitled(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{responses: map[string]ingest.FetchResponse{
		"https://x.edu/u": htmlResp("", "<html><body><p>Only a paragraph of text here.</p></body></html>"),
	}}
	doc, err := New(Config{}, fetcher, nil).Extract(context.Background(), "https://x.edu/u")
	require.NoError(t, err)
	assert.Equal(t, untitled, doc.Fields.Title)
}

func TestExtractTruncatesBody(t *testing.T) {
	t.Parallel()

	long := "<html><body><main><p>" + strings.Repeat("été ", 100) + "</p></main></body></html>"
	fetcher := &fakeFetcher{responses: map[string]ingest.FetchResponse{"https://x.edu/long": htmlResp("", long)}}

	doc, err := New(Config{MaxBodyChars: 50}, fetcher, nil).Extract(context.Background(), "https://x.edu/long")
	require.NoError(t, err)
	assert.True(t, doc.Truncated)
	assert.Equal(t, 50, len([]rune(doc.Fields.BodyText)))
}

func TestExtractDecodesCharset(t *testing.T) {
	t.Parallel()

	resp := ingest.FetchResponse{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/html; charset=iso-8859-1"}},
		Body:       []byte("<html><head><title>Caf\xe9 Culture</title></head><body><p>Na\xefve text.</p></body></html>"),
	}
	fetcher := &fakeFetcher{responses: map[string]ingest.FetchResponse{"https://x.edu/c": resp}}

	doc, err := New(Config{}, fetcher, nil).Extract(context.Background(), "https://x.edu/c")
	require.NoError(t, err)
	assert.Equal(t, "Café Culture", doc.Fields.Title)
	assert.Equal(t, "Naïve text.", doc.Fields.IntroParagraphs)
}

func TestExtractPlainText(t *testing.T) {
	t.Parallel()

	resp := ingest.FetchResponse{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:       []byte("Working Paper 12\n\nFirst paragraph line one\nline two.\n\nSecond paragraph.\n\nThird paragraph."),
	}
	fetcher := &fakeFetcher{responses: map[string]ingest.FetchResponse{"https://x.edu/wp.txt": resp}}

	doc, err := New(Config{}, fetcher, nil).Extract(context.Background(), "https://x.edu/wp.txt")
	require.NoError(t, err)
	assert.Equal(t, "Working Paper 12", doc.Fields.Title)
	assert.Equal(t, "Working Paper 12 First paragraph line one line two.", doc.Fields.IntroParagraphs)
	assert.Contains(t, doc.Fields.BodyText, "Third paragraph.")
}

func TestExtractErrors(t *testing.T) {
	t.Parallel()

	fetchErr := errors.New("connection reset")
	fetcher := &fakeFetcher{
		responses: map[string]ingest.FetchResponse{
			"https://x.edu/404":   {StatusCode: http.StatusNotFound, Body: []byte("gone")},
			"https://x.edu/img":   {StatusCode: http.StatusOK, Headers: http.Header{"Content-Type": {"image/png"}}, Body: []byte{0x89, 'P', 'N', 'G'}},
			"https://x.edu/bad":   {StatusCode: http.StatusOK, Headers: http.Header{"Content-Type": {"application/pdf"}}, Body: []byte("%PDF-1.4 garbage")},
			"https://x.edu/empty": htmlResp("", "<html><body><script>render()</script></body></html>"),
		},
		errs: map[string]error{"https://x.edu/down": fetchErr},
	}
	e := New(Config{}, fetcher, nil)

	tests := []struct {
		url    string
		target error
	}{
		{url: "https://x.edu/404"},
		{url: "https://x.edu/img", target: ErrUnsupportedContent},
		{url: "https://x.edu/bad"},
		{url: "https://x.edu/empty"},
		{url: "https://x.edu/down", target: fetchErr},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			t.Parallel()
			_, err := e.Extract(context.Background(), tt.url)
			require.Error(t, err)
			assert.ErrorIs(t, err, ingest.ErrExtraction)
			var extractErr *ingest.ExtractionError
			require.ErrorAs(t, err, &extractErr)
			assert.Equal(t, tt.url, extractErr.URL)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestExtractHeadlessPromotion(t *testing.T) {
	t.Parallel()

	shell := htmlResp("", `<html><body><div id="__next"></div></body></html>`)
	rendered := htmlResp("https://spa.example/doc", "<html><head><title>Rendered</title></head><body><p>Client rendered study text.</p></body></html>")
	rendered.UsedHeadless = true

	t.Run("Promoted", func(t *testing.T) {
		t.Parallel()
		plain := &fakeFetcher{responses: map[string]ingest.FetchResponse{"https://spa.example/doc": shell}}
		headless := &fakeFetcher{responses: map[string]ingest.FetchResponse{"https://spa.example/doc": rendered}}

		doc, err := New(Config{}, plain, nil).
			WithHeadless(headless, promoteAll{}).
			Extract(context.Background(), "https://spa.example/doc")
		require.NoError(t, err)
		assert.True(t, doc.UsedHeadless)
		assert.Equal(t, "Rendered", doc.Fields.Title)
		require.Len(t, headless.requests, 1)
		assert.True(t, headless.requests[0].UseHeadless)
	})

	t.Run("RenderFailureKeepsPlain", func(t *testing.T) {
		t.Parallel()
		page := htmlResp("", "<html><head><title>Plain</title></head><body><p>Server text.</p></body></html>")
		plain := &fakeFetcher{responses: map[string]ingest.FetchResponse{"https://spa.example/doc": page}}
		headless := &fakeFetcher{errs: map[string]error{"https://spa.example/doc": errors.New("chrome crashed")}}

		doc, err := New(Config{}, plain, nil).
			WithHeadless(headless, promoteAll{}).
			Extract(context.Background(), "https://spa.example/doc")
		require.NoError(t, err)
		assert.False(t, doc.UsedHeadless)
		assert.Equal(t, "Plain", doc.Fields.Title)
	})
}

func TestClassify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, kindPDF, classify("", "https://x.edu/a.PDF?x=1", []byte("binary")))
	assert.Equal(t, kindPDF, classify("application/octet-stream", "https://x.edu/a", []byte("%PDF-1.7")))
	assert.Equal(t, kindHTML, classify("", "https://x.edu/a", []byte("<html>")))
	assert.Equal(t, kindHTML, classify("application/xhtml+xml", "https://x.edu/a", nil))
	assert.Equal(t, kindText, classify("text/plain", "https://x.edu/a.txt", nil))
	assert.Equal(t, kindUnsupported, classify("application/zip", "https://x.edu/a.zip", nil))
}

func TestTopKeywords(t *testing.T) {
	t.Parallel()

	got := topKeywords("The river river RIVER basin basin with flow, and the delta.")
	assert.Equal(t, []string{"river", "basin", "flow", "delta"}, got)

	many := "alpha1 alpha2 alpha3 alpha4 alpha5 alpha6 alpha7 alpha8 alpha9 alpha10 alpha11"
	assert.Len(t, topKeywords(many), maxKeywords)
	assert.Empty(t, topKeywords("a an the of"))
}

func htmlResp(url, body string) ingest.FetchResponse {
	return ingest.FetchResponse{
		URL:        url,
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte(body),
	}
}

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]ingest.FetchResponse
	errs      map[string]error
	requests  []ingest.FetchRequest
}

func (f *fakeFetcher) Fetch(_ context.Context, req ingest.FetchRequest) (ingest.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if err, ok := f.errs[req.URL]; ok {
		return ingest.FetchResponse{}, err
	}
	resp, ok := f.responses[req.URL]
	if !ok {
		return ingest.FetchResponse{StatusCode: http.StatusNotFound}, nil
	}
	return resp, nil
}

type promoteAll struct{}

func (promoteAll) ShouldPromote(ingest.FetchResponse) bool { return true }
