package generation

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// Gemini is a Completer backed by the Gemini API.
type Gemini struct {
	model  string
	client *genai.Client
}

// NewGemini constructs a Gemini backend. httpClient may be nil.
func NewGemini(ctx context.Context, cfg BackendConfig, httpClient *http.Client) (*Gemini, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("gemini model is required")
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required (set api_key or api_key_env)")
	}
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{model: model, client: client}, nil
}

// Complete executes a single generateContent request.
func (g *Gemini) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	var gc *genai.GenerateContentConfig
	if req.Instructions != "" {
		gc = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(req.Instructions, genai.RoleUser),
		}
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(req.Input), gc)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	output := strings.TrimSpace(resp.Text())
	if output == "" {
		return "", fmt.Errorf("gemini response did not contain output text")
	}
	return output, nil
}
