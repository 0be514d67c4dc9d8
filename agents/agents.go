// ABOUTME: Shared plumbing for the model-backed agents: client config and the completion helper.
// ABOUTME: Every agent asks for JSON-mode output and decodes it at a strict boundary before anything touches the run.
package agents

import (
	"context"
	"fmt"

	"github.com/sifthq/sift/llm"
)

// defaultMaxTokens bounds agent responses. Plans and interpretations are
// small; this is headroom, not a target.
const defaultMaxTokens = 4096

// Config wires one model client into the agent set.
type Config struct {
	Client    llm.Client
	Model     string
	MaxTokens int
}

func (c Config) maxTokens() int {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return defaultMaxTokens
}

// complete sends one system+user exchange and returns the raw response text.
func complete(ctx context.Context, cfg Config, system, user string) (string, error) {
	resp, err := cfg.Client.Complete(ctx, llm.Request{
		Model:     cfg.Model,
		System:    system,
		Messages:  []llm.Message{llm.UserMessage(user)},
		MaxTokens: cfg.maxTokens(),
		JSONMode:  true,
	})
	if err != nil {
		return "", err
	}
	if resp.Text == "" {
		return "", fmt.Errorf("model returned an empty response")
	}
	return resp.Text, nil
}
