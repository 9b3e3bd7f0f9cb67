package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

type OllamaProvider struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

type ollamaLine struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error,omitempty"`
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict,omitempty"`
}

type ollamaRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &OllamaProvider{
		BaseURL: baseURL,
		Model:   model,
		Client:  &http.Client{},
	}
}

func decodeOllamaLine(line []byte) (string, bool, error) {
	var l ollamaLine
	if err := json.Unmarshal(line, &l); err != nil {
		return "", false, err
	}
	if l.Error != "" {
		return "", false, errors.New(l.Error)
	}
	return l.Message.Content, l.Done, nil
}

// StreamChat streams assistant content chunks from /api/chat (NDJSON).
// MaxTokens maps to num_predict.
func (p *OllamaProvider) StreamChat(ctx context.Context, sr StreamRequest) (<-chan string, <-chan error) {
	model := strings.TrimSpace(sr.Model)
	if model == "" {
		model = p.Model
	}
	return streamCall{
		provider: "ollama",
		client:   p.Client,
		url:      endpoint(p.BaseURL, "/api/chat"),
		payload: ollamaRequest{
			Model:    model,
			Messages: sr.Messages,
			Stream:   true,
			Options:  ollamaOptions{NumPredict: sr.MaxTokens},
		},
		decode: decodeOllamaLine,
	}.start(ctx)
}
