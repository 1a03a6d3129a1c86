package llm

import (
	"context"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicAPI     = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"
)

// Anthropic calls the Anthropic Messages API directly.
type Anthropic struct {
	apiKey      string
	model       string
	endpoint    string
	maxTokens   int
	temperature float64
	client      *http.Client
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// NewAnthropic creates an Anthropic client with the default reply length
// and temperature.
func NewAnthropic(apiKey, model string, timeout time.Duration) *Anthropic {
	return &Anthropic{
		apiKey:      apiKey,
		model:       model,
		endpoint:    anthropicAPI,
		maxTokens:   defaultMaxTokens,
		temperature: defaultTemperature,
		client:      &http.Client{Timeout: timeout},
	}
}

// Complete runs one turn under the companion persona. Only text blocks of
// the reply are kept.
func (a *Anthropic) Complete(ctx context.Context, prompt string) (*Response, error) {
	in := anthropicRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
		System:      SystemPrompt,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
	}
	header := http.Header{}
	header.Set("x-api-key", a.apiKey)
	header.Set("anthropic-version", anthropicVersion)

	var out anthropicResponse
	if err := postJSON(ctx, a.client, "anthropic", a.endpoint, header, in, &out); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, c := range out.Content {
		if c.Type == "" || c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	return &Response{
		Content:    text.String(),
		Provider:   "anthropic",
		TokensUsed: out.Usage.InputTokens + out.Usage.OutputTokens,
	}, nil
}
