package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/yoockh/casescribe/internal/providers"
)

// Chat is a client for OpenAI-compatible /chat/completions endpoints
// (Groq, OpenRouter, OpenAI).
type Chat struct {
	client       *providers.HTTPClient
	defaultModel string
}

func NewChat(client *providers.HTTPClient, defaultModel string) *Chat {
	return &Chat{client: client, defaultModel: defaultModel}
}

func (c *Chat) ID() providers.ID { return c.client.ID }

func (c *Chat) Close() error {
	c.client.HTTP.CloseIdleConnections()
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float32        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Chat) Generate(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	body := chatRequest{
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.User})
	if req.JSON {
		body.ResponseFormat = map[string]any{"type": "json_object"}
	}

	b, err := json.Marshal(body)
	if err != nil {
		return "", providers.Fatal(c.ID(), 0, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.client.URL("chat/completions"), bytes.NewReader(b))
	if err != nil {
		return "", providers.Fatal(c.ID(), 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	raw, err := c.client.Do(ctx, httpReq)
	if err != nil {
		return "", err
	}
	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", providers.Transient(c.ID(), http.StatusOK, fmt.Errorf("decode completion: %w", err))
	}
	if len(out.Choices) == 0 {
		return "", providers.Transient(c.ID(), http.StatusOK, errors.New("no choices in completion"))
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
