package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// OpenAIProvider talks to any OpenAI-compatible /chat/completions endpoint
// (OpenAI itself, OpenRouter, local gateways).
type OpenAIProvider struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string
	// OpenRouter attribution headers; empty values are not sent.
	SiteURL string
	AppName string
	Client  *http.Client
}

type completionRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
	Stream    bool      `json:"stream"`
}

type completionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

var sseDone = []byte("[DONE]")

func NewOpenAIProvider(baseURL, apiKey, model string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		Name:    "openai",
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		// no client timeout; the request context bounds the stream
		Client: &http.Client{},
	}
}

func NewOpenRouterProvider(baseURL, apiKey, model, siteURL, appName string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	p := NewOpenAIProvider(baseURL, apiKey, model)
	p.Name = "openrouter"
	p.SiteURL = siteURL
	p.AppName = appName
	return p
}

func (p *OpenAIProvider) header() http.Header {
	h := http.Header{}
	h.Set("Accept", "text/event-stream")
	h.Set("Authorization", "Bearer "+p.APIKey)
	if p.SiteURL != "" {
		h.Set("HTTP-Referer", p.SiteURL)
	}
	if p.AppName != "" {
		h.Set("X-Title", p.AppName)
	}
	return h
}

// decodeEvent reads one SSE line. Comments and non-data fields are skipped.
func decodeEvent(line []byte) (string, bool, error) {
	data, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		return "", false, nil
	}
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, sseDone) {
		return "", true, nil
	}
	var chunk completionChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return "", false, err
	}
	if chunk.Error != nil && chunk.Error.Message != "" {
		return "", false, errors.New(chunk.Error.Message)
	}
	var b strings.Builder
	for _, c := range chunk.Choices {
		b.WriteString(c.Delta.Content)
	}
	return b.String(), false, nil
}

// StreamChat streams assistant content chunks via SSE.
func (p *OpenAIProvider) StreamChat(ctx context.Context, sr StreamRequest) (<-chan string, <-chan error) {
	model := strings.TrimSpace(sr.Model)
	if model == "" {
		model = strings.TrimSpace(p.Model)
	}
	switch {
	case strings.TrimSpace(p.APIKey) == "":
		return failed(fmt.Errorf("%s: api key is required", p.Name))
	case model == "":
		return failed(fmt.Errorf("%s: model is required", p.Name))
	}

	return streamCall{
		provider: p.Name,
		client:   p.Client,
		url:      endpoint(p.BaseURL, "/chat/completions"),
		payload: completionRequest{
			Model:     model,
			Messages:  sr.Messages,
			MaxTokens: sr.MaxTokens,
			Stream:    true,
		},
		header: p.header(),
		decode: decodeEvent,
	}.start(ctx)
}

// failed returns an already finished stream carrying err.
func failed(err error) (<-chan string, <-chan error) {
	chunks := make(chan string)
	errs := make(chan error, 1)
	close(chunks)
	errs <- err
	close(errs)
	return chunks, errs
}
