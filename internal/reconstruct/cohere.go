package reconstruct

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/doc-freshness/internal/cohere"
)

// DefaultCohereModel is the chat model used when none is configured.
const DefaultCohereModel = "command-r-08-2024"

const (
	chatMaxTokens   = 200
	chatTemperature = 0.7
	noSummary       = "No summary generated"
)

// ChatClient is the slice of the Cohere client the summarizer uses.
type ChatClient interface {
	Chat(ctx context.Context, req cohere.ChatRequest) (string, error)
}

// CohereSummarizer asks a Cohere chat model for the summary.
type CohereSummarizer struct {
	client ChatClient
	model  string
}

// NewCohere creates a CohereSummarizer. An empty model selects DefaultCohereModel.
func NewCohere(client ChatClient, model string) (*CohereSummarizer, error) {
	if client == nil {
		return nil, errors.New("cohere summarizer: client is required")
	}
	if model == "" {
		model = DefaultCohereModel
	}
	return &CohereSummarizer{client: client, model: model}, nil
}

// Model returns the configured chat model.
func (c *CohereSummarizer) Model() string {
	return c.model
}

// Summarize sends the prompt for vector and metadata to the chat endpoint.
func (c *CohereSummarizer) Summarize(ctx context.Context, vector []float32, metadata map[string]string) (string, error) {
	text, err := c.client.Chat(ctx, cohere.ChatRequest{
		Message:     Prompt(vector, metadata),
		Model:       c.model,
		MaxTokens:   chatMaxTokens,
		Temperature: chatTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("summarize with %s: %w", c.model, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return noSummary, nil
	}
	return text, nil
}

// Prompt builds the chat message for a page.
func Prompt(vector []float32, metadata map[string]string) string {
	var b strings.Builder
	b.WriteString("Generate a concise, human-readable summary (100-200 words) of the content represented by this embedding vector. ")
	b.WriteString("The embedding represents a webpage's main content. Focus on capturing the semantic essence in clear, natural language. ")
	b.WriteString("Do not include specific details that cannot be inferred from the embedding or provided metadata.\n")
	fmt.Fprintf(&b, "\nEmbedding profile: %s\n", describeVector(vector))
	if len(metadata) == 0 {
		return b.String()
	}
	b.WriteString("\nAdditional context from page metadata:\n")
	for _, field := range []struct{ key, label string }{
		{KeyTitle, "Title"},
		{KeyMetaDescription, "Meta Description"},
		{KeyHeadings, "Headings"},
		{KeyIntroParagraphs, "Intro Paragraphs"},
		{KeyKeywords, "Keywords"},
		{KeyHints, "Hints"},
	} {
		value := metadata[field.key]
		if value == "" {
			value = "N/A"
		}
		fmt.Fprintf(&b, "- %s: %s\n", field.label, value)
	}
	return b.String()
}
