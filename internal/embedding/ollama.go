package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultOllamaTimeout = 60 * time.Second

// OllamaOption configures an Ollama service.
type OllamaOption func(*Ollama)

// WithHTTPClient replaces the HTTP client used to reach Ollama.
func WithHTTPClient(httpClient *http.Client) OllamaOption {
	return func(o *Ollama) {
		o.http = httpClient
	}
}

// Ollama embeds texts with a local Ollama server's /api/embed endpoint.
type Ollama struct {
	base  url.URL
	model string
	dims  int
	http  *http.Client
}

// NewOllama builds an Ollama-backed EmbeddingService.
func NewOllama(baseURL, model string, dims int, opts ...OllamaOption) (*Ollama, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama base url: %w", err)
	}
	if model == "" {
		return nil, errors.New("ollama model is required")
	}
	o := &Ollama{
		base:  *base,
		model: model,
		dims:  dims,
		http:  &http.Client{Timeout: defaultOllamaTimeout},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Dimensions implements ingest.EmbeddingService.
func (o *Ollama) Dimensions() int { return o.dims }

// Embed implements ingest.EmbeddingService.
func (o *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("missing texts to embed")
	}
	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.base.JoinPath("/api/embed").String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := o.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embed: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	var out ollamaEmbedResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return out.Embeddings, nil
}
