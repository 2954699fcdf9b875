// Package cohere is a small client for the Cohere embed and chat endpoints.
package cohere

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

// DefaultBaseURL is the public Cohere API root.
const DefaultBaseURL = "https://api.cohere.com"

const defaultTimeout = 30 * time.Second

// Input types accepted by the embed endpoint.
const (
	InputSearchDocument = "search_document"
	InputSearchQuery    = "search_query"
)

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cohere: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed if retried.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API root.
func WithBaseURL(raw string) Option {
	return func(c *Client) {
		if u, err := url.Parse(raw); err == nil && raw != "" {
			c.base = *u
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.http = httpClient
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// Client talks to the Cohere v1 API.
type Client struct {
	apiKey string
	base   url.URL
	http   *http.Client
}

// New creates a Client authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("cohere api key is required")
	}
	base, err := url.Parse(DefaultBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	c := &Client{
		apiKey: apiKey,
		base:   *base,
		http:   &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// EmbedRequest is the body of POST /v1/embed.
type EmbedRequest struct {
	Texts     []string `json:"texts"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type"`
	Truncate  string   `json:"truncate,omitempty"`
}

type embedResponse struct {
	ID         string      `json:"id"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns one vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, req EmbedRequest) ([][]float32, error) {
	if len(req.Texts) == 0 {
		return nil, errors.New("cohere embed: no texts")
	}
	if req.Model == "" {
		return nil, errors.New("cohere embed: model is required")
	}
	if req.InputType == "" {
		req.InputType = InputSearchDocument
	}
	var resp embedResponse
	if err := c.do(ctx, "/v1/embed", req, &resp); err != nil {
		return nil, fmt.Errorf("cohere embed: %w", err)
	}
	return resp.Embeddings, nil
}

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	Message     string  `json:"message"`
	Model       string  `json:"model,omitempty"`
	Preamble    string  `json:"preamble,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature"`
}

type chatResponse struct {
	Text string `json:"text"`
}

// Chat sends a single-turn message and returns the reply text.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if req.Message == "" {
		return "", errors.New("cohere chat: empty message")
	}
	var resp chatResponse
	if err := c.do(ctx, "/v1/chat", req, &resp); err != nil {
		return "", fmt.Errorf("cohere chat: %w", err)
	}
	return resp.Text, nil
}

func (c *Client) do(ctx context.Context, path string, reqData, respData any) error {
	body, err := json.Marshal(reqData)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.JoinPath(path).String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+c.apiKey)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(request)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}
	if err := json.Unmarshal(respBody, respData); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
