package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

const untitled = "Untitled"

// fields is the intermediate result of parsing one document body.
type fields struct {
	title       string
	description string
	headings    string
	intro       string
	keywords    string
	body        string
	date        string
	author      string
}

var (
	noiseSelector  = "script, style, noscript, iframe, footer, nav, header"
	dateSelectors  = []string{`meta[name="date"]`, `meta[property="article:published_time"]`, `meta[name="publication_date"]`, `meta[name="citation_publication_date"]`}
	authorSelector = []string{`meta[name="author"]`, `meta[property="article:author"]`, `meta[name="byline"]`, `meta[name="citation_author"]`}
)

// parseHTML pulls structured fields out of a UTF-8 HTML document.
func parseHTML(body []byte, pageURL string) (fields, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fields{}, fmt.Errorf("parse html: %w", err)
	}
	article, hasArticle := readable(body, pageURL)

	var f fields
	f.date = firstMeta(doc, dateSelectors)
	f.author = firstMeta(doc, authorSelector)
	f.description = metaContent(doc, `meta[name="description"]`)
	if f.description == "" {
		f.description = metaContent(doc, `meta[property="og:description"]`)
	}
	if f.description == "" && hasArticle {
		f.description = collapse(article.Excerpt)
	}

	doc.Find(noiseSelector).Remove()

	f.title = collapse(doc.Find("title").First().Text())
	if f.title == "" {
		f.title = textOf(doc.Find("h1").First())
	}
	if f.title == "" && hasArticle {
		f.title = collapse(article.Title)
	}
	if f.title == "" {
		f.title = untitled
	}

	var headings []string
	doc.Find("h1, h2, h3").Each(func(_ int, s *goquery.Selection) {
		if text := textOf(s); text != "" {
			headings = append(headings, text)
		}
	})
	f.headings = strings.Join(headings, " | ")

	var paragraphs []string
	doc.Find("p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if text := textOf(s); text != "" {
			paragraphs = append(paragraphs, text)
		}
		return len(paragraphs) < 2
	})
	f.intro = strings.Join(paragraphs, " ")

	f.keywords = metaContent(doc, `meta[name="keywords"]`)
	if f.keywords == "" {
		f.keywords = strings.Join(topKeywords(strings.Join([]string{f.title, f.description, f.headings, f.intro}, " ")), ", ")
	}

	if hasArticle {
		f.body = htmlText(article.Content)
	}
	if f.body == "" {
		main := doc.Find("article, main")
		if main.Length() == 0 {
			main = doc.Find("body")
		}
		f.body = textOf(main)
	}
	return f, nil
}

func readable(body []byte, pageURL string) (readability.Article, bool) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return readability.Article{}, false
	}
	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err != nil {
		return readability.Article{}, false
	}
	return article, true
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return collapse(content)
}

func firstMeta(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if v := metaContent(doc, sel); v != "" {
			return v
		}
	}
	return ""
}

// textOf joins every text node under the selection with single spaces, so
// adjacent block elements do not run their words together.
func textOf(s *goquery.Selection) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return collapse(b.String())
}

func htmlText(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	return textOf(doc.Selection)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
