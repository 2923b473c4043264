// Package rag talks to the external retrieval service that holds the
// semantic index of the audited project. The engine never builds or
// updates the index; it only queries it.
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/argus-audit/argus/pkg/faults"
)

// DefaultTopK is used when a query does not say how many chunks it wants.
const DefaultTopK = 5

// maxTopK caps one retrieval; more chunks than this just bloat the
// observation past what the model can use.
const maxTopK = 20

// Result is one retrieved chunk of project code.
type Result struct {
	FilePath           string   `json:"file_path"`
	LineStart          int      `json:"line_start"`
	LineEnd            int      `json:"line_end"`
	Content            string   `json:"content"`
	Language           string   `json:"language,omitempty"`
	Score              float64  `json:"score"`
	SecurityIndicators []string `json:"security_indicators,omitempty"`
}

// Query is one retrieval request.
type Query struct {
	Text           string `json:"query"`
	TopK           int    `json:"top_k"`
	FilterFile     string `json:"filter_file,omitempty"`
	FilterLanguage string `json:"filter_language,omitempty"`
}

// Client is the retrieval surface the semantic tools run on.
type Client interface {
	// Retrieve runs a free-text similarity query.
	Retrieve(ctx context.Context, q Query) ([]Result, error)
	// SecuritySearch retrieves chunks indexed with security indicators
	// for the given vulnerability class.
	SecuritySearch(ctx context.Context, vulnType string, topK int) ([]Result, error)
	// FunctionContext retrieves the definition and call sites of a
	// named function.
	FunctionContext(ctx context.Context, name string) ([]Result, error)
}

// HTTPClient implements Client against the retrieval service's JSON API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	topK       int
	log        *slog.Logger
}

// NewHTTPClient builds a client for the service at baseURL. A nil logger
// falls back to slog.Default().
func NewHTTPClient(baseURL string, log *slog.Logger) *HTTPClient {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		topK:       DefaultTopK,
		log:        log.With("component", "rag"),
	}
}

// WithDefaultTopK changes how many chunks a query gets when it does not ask
// for a specific count. Returns the client for chaining.
func (c *HTTPClient) WithDefaultTopK(k int) *HTTPClient {
	if k > 0 {
		c.topK = clampTopK(k)
	}
	return c
}

func (c *HTTPClient) Retrieve(ctx context.Context, q Query) ([]Result, error) {
	q.TopK = c.clamp(q.TopK)
	return c.post(ctx, "/retrieve", q)
}

func (c *HTTPClient) SecuritySearch(ctx context.Context, vulnType string, topK int) ([]Result, error) {
	payload := struct {
		VulnType string `json:"vuln_type"`
		TopK     int    `json:"top_k"`
	}{VulnType: vulnType, TopK: c.clamp(topK)}
	return c.post(ctx, "/security-search", payload)
}

func (c *HTTPClient) FunctionContext(ctx context.Context, name string) ([]Result, error) {
	payload := struct {
		Name string `json:"name"`
	}{Name: name}
	return c.post(ctx, "/function-context", payload)
}

// retrievalResponse is the service's uniform envelope.
type retrievalResponse struct {
	Results []Result `json:"results"`
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any) ([]Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, faults.Wrap(faults.ToolExecution, "encoding retrieval request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, faults.Wrap(faults.ToolExecution, "building retrieval request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, faults.Wrap(faults.ToolExternal, "retrieval service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, faults.Newf(faults.ToolExternal, "retrieval service returned HTTP %d: %s",
			resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var envelope retrievalResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, faults.Wrap(faults.ToolExternal, "decoding retrieval response", err)
	}

	c.log.Debug("retrieval done", "path", path, "results", len(envelope.Results),
		"duration", fmt.Sprintf("%dms", time.Since(start).Milliseconds()))
	return envelope.Results, nil
}

// clamp applies the client's configured default and the global ceiling.
func (c *HTTPClient) clamp(topK int) int {
	if topK <= 0 {
		return c.topK
	}
	return clampTopK(topK)
}

func clampTopK(topK int) int {
	if topK <= 0 {
		return DefaultTopK
	}
	if topK > maxTopK {
		return maxTopK
	}
	return topK
}
