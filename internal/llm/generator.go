package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/lazypower/solace/internal/config"
	"github.com/lazypower/solace/internal/emotion"
)

// ErrEmptyReply is returned when a provider answers with no text.
var ErrEmptyReply = errors.New("llm: empty reply")

// Generator turns an analysed message into reply text.
type Generator interface {
	Generate(ctx context.Context, r Request) (string, error)
}

// TemplateGenerator answers from the built-in stage templates. It never
// fails.
type TemplateGenerator struct{}

func (TemplateGenerator) Generate(_ context.Context, r Request) (string, error) {
	return Template(r), nil
}

// ClientGenerator asks an LLM provider for the reply.
type ClientGenerator struct {
	Client Client
}

func (g ClientGenerator) Generate(ctx context.Context, r Request) (string, error) {
	resp, err := g.Client.Complete(ctx, ReplyPrompt(r))
	if err != nil {
		return "", err
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", ErrEmptyReply
	}
	text := strings.TrimSpace(resp.Content)
	// The model is asked to mention crisis resources but that is not
	// guaranteed.
	if r.Alert == emotion.AlertCrisis && !strings.Contains(text, CrisisLine) {
		text += "\n\n" + CrisisLine
	}
	return text, nil
}

// NewGenerator builds the generator for the configured provider.
func NewGenerator(cfg config.LLMConfig) (Generator, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return TemplateGenerator{}, nil
	}
	return ClientGenerator{Client: client}, nil
}
