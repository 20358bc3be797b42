package generation

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultTimeout       = 120 * time.Second
)

// BackendConfig is the resolved configuration of a model backend.
type BackendConfig struct {
	Model   string
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// OpenAI is a Completer backed by the OpenAI Responses API.
type OpenAI struct {
	model  string
	client openai.Client
}

// NewOpenAI constructs an OpenAI backend. httpClient may be nil.
func NewOpenAI(cfg BackendConfig, httpClient *http.Client) (*OpenAI, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("openai model is required")
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required (set api_key or api_key_env)")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithRequestTimeout(timeout),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &OpenAI{model: model, client: openai.NewClient(opts...)}, nil
}

// Complete executes a single Responses API request.
func (o *OpenAI) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	resp, err := o.client.Responses.New(ctx, responses.ResponseNewParams{
		Model:        o.model,
		Instructions: openai.String(req.Instructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(req.Input),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai responses.create: %w", err)
	}
	if msg := strings.TrimSpace(resp.Error.Message); msg != "" {
		return "", fmt.Errorf("openai response failed: %s", msg)
	}
	output := strings.TrimSpace(resp.OutputText())
	if output == "" {
		return "", fmt.Errorf("openai response did not contain output text")
	}
	return output, nil
}
