package llm

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Ollama calls a local Ollama instance.
type Ollama struct {
	url         string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	System  string        `json:"system"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// NewOllama creates an Ollama client for the server at url.
func NewOllama(url, model string, timeout time.Duration) *Ollama {
	return &Ollama{
		url:         strings.TrimRight(url, "/"),
		model:       model,
		maxTokens:   defaultMaxTokens,
		temperature: defaultTemperature,
		client:      &http.Client{Timeout: timeout},
	}
}

// Complete asks /api/generate for a single non-streamed reply.
func (o *Ollama) Complete(ctx context.Context, prompt string) (*Response, error) {
	in := ollamaRequest{
		Model:   o.model,
		System:  SystemPrompt,
		Prompt:  prompt,
		Options: ollamaOptions{Temperature: o.temperature, NumPredict: o.maxTokens},
	}
	var out ollamaResponse
	if err := postJSON(ctx, o.client, "ollama", o.url+"/api/generate", nil, in, &out); err != nil {
		return nil, err
	}
	return &Response{
		Content:    out.Response,
		Provider:   "ollama",
		TokensUsed: out.PromptEvalCount + out.EvalCount,
	}, nil
}
