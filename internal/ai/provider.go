package ai

import "context"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// StreamRequest is one streaming completion call. MaxTokens bounds the
// generated length and is always forwarded to the backend.
type StreamRequest struct {
	Model     string
	MaxTokens int
	Messages  []Message
}

// Provider streams assistant content chunks.
// StreamChat returns immediately with two channels. chunks is closed when the
// stream ends; errs then holds at most one terminal error and is closed too.
// Implementations stop sending as soon as ctx is done.
type Provider interface {
	StreamChat(ctx context.Context, req StreamRequest) (<-chan string, <-chan error)
}
