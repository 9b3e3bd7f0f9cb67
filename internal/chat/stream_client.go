package chat

import (
	"context"

	"github.com/suPer8Hu/chat-relay/internal/ai"
)

// Streamer opens one provider stream for a prompt and its conversation
// context. The returned channels follow the ai.Provider contract.
type Streamer interface {
	Stream(ctx context.Context, convContext, prompt string, maxTokens int) (<-chan string, <-chan error)
}

// StreamClient adapts an ai.Provider to a single-prompt streaming call.
type StreamClient struct {
	provider ai.Provider
	model    string
}

var _ Streamer = (*StreamClient)(nil)

func NewStreamClient(provider ai.Provider, model string) *StreamClient {
	return &StreamClient{provider: provider, model: model}
}

func (c *StreamClient) Stream(ctx context.Context, convContext, prompt string, maxTokens int) (<-chan string, <-chan error) {
	return c.provider.StreamChat(ctx, ai.StreamRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages:  BuildMessages(convContext, prompt),
	})
}

// BuildMessages puts the rendered history in a system message ahead of the
// prompt. An empty history sends the prompt alone.
func BuildMessages(convContext, prompt string) []ai.Message {
	msgs := make([]ai.Message, 0, 2)
	if convContext != "" {
		msgs = append(msgs, ai.Message{
			Role:    ai.RoleSystem,
			Content: "Conversation so far:\n" + convContext,
		})
	}
	return append(msgs, ai.Message{Role: ai.RoleUser, Content: prompt})
}
