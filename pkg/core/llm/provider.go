// Package llm turns committed transcripts into validated structured output:
// cleaned English meaning, prompt-ready text, risk and entity annotations.
// The provider speaks the Gemini generateContent API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	// DefaultBaseURL is the default Gemini API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultModel is used when no model is configured.
	DefaultModel = "gemini-2.0-flash"

	defaultMaxOutputTokens = 2048
)

// Generator issues model requests. GenerateJSON requests schema-constrained
// JSON output; GenerateText requests plain text.
type Generator interface {
	GenerateJSON(ctx context.Context, system, user string, schema json.RawMessage) (string, error)
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Provider implements Generator against the Gemini API.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API endpoint. Used in tests.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// NewProvider creates a Gemini provider.
func NewProvider(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// geminiRequest is the generateContent request body. The Gemini API uses
// camelCase field names.
type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenConfig struct {
	Temperature        *float64        `json:"temperature,omitempty"`
	TopP               *float64        `json:"topP,omitempty"`
	TopK               *int            `json:"topK,omitempty"`
	MaxOutputTokens    *int            `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType   string          `json:"responseMimeType,omitempty"`
	ResponseJSONSchema json.RawMessage `json:"responseJsonSchema,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

type geminiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// GenerateJSON sends a schema-constrained request and returns the raw JSON
// text of the first candidate.
func (p *Provider) GenerateJSON(ctx context.Context, system, user string, schema json.RawMessage) (string, error) {
	temp, topP, topK, maxTok := 0.2, 0.8, 40, defaultMaxOutputTokens
	req := &geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: user}}},
		},
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: system}}},
		GenerationConfig: &geminiGenConfig{
			Temperature:        &temp,
			TopP:               &topP,
			TopK:               &topK,
			MaxOutputTokens:    &maxTok,
			ResponseMIMEType:   "application/json",
			ResponseJSONSchema: schema,
		},
	}
	return p.generate(ctx, req)
}

// GenerateText sends a plain-text request, used for summary refreshes.
func (p *Provider) GenerateText(ctx context.Context, prompt string) (string, error) {
	maxTok := defaultMaxOutputTokens
	req := &geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: prompt}}},
		},
		GenerationConfig: &geminiGenConfig{MaxOutputTokens: &maxTok},
	}
	return p.generate(ctx, req)
}

func (p *Provider) generate(ctx context.Context, req *geminiRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, p.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", &Error{Kind: KindProvider, Message: "http request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", p.parseError(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Kind: KindProvider, Message: "read response", Err: err}
	}

	var geminiResp geminiResponse
	if err := json.Unmarshal(respBody, &geminiResp); err != nil {
		return "", &Error{Kind: KindProvider, Message: "unmarshal response", Err: err}
	}
	if len(geminiResp.Candidates) == 0 {
		return "", &Error{Kind: KindProvider, Message: "no candidates in response"}
	}
	parts := geminiResp.Candidates[0].Content.Parts
	if len(parts) == 0 || parts[0].Text == "" {
		return "", &Error{Kind: KindProvider, Message: "empty candidate content"}
	}
	return parts[0].Text, nil
}

func (p *Provider) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var ge geminiError
	if err := json.Unmarshal(body, &ge); err != nil || ge.Error.Message == "" {
		return &Error{
			Kind:    KindProvider,
			Message: fmt.Sprintf("http %d: %s", resp.StatusCode, string(body)),
		}
	}
	return &Error{
		Kind:    KindProvider,
		Message: fmt.Sprintf("%s (%s)", ge.Error.Message, ge.Error.Status),
	}
}
