// Package llm applies persona rewrites through an OpenAI-compatible chat
// completions API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sjkd23/PagePersona-sub002/internal/persona"
)

// Config carries the chat API settings.
type Config struct {
	Endpoint    string
	Model       string
	APIKey      string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// OpenAIClient implements transform.Transformer against any OpenAI-compatible
// chat completions endpoint.
type OpenAIClient struct {
	cfg        Config
	personas   *persona.Registry
	httpClient *http.Client
}

// NewOpenAIClient builds a client from configuration.
func NewOpenAIClient(cfg Config, personas *persona.Registry) *OpenAIClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	return &OpenAIClient{
		cfg:      cfg,
		personas: personas,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Apply rewrites text in the named persona's voice and returns the rewritten
// content along with the model that produced it.
func (c *OpenAIClient) Apply(ctx context.Context, text, personaName string) (string, string, error) {
	if c.cfg.Endpoint == "" || c.cfg.Model == "" {
		return "", "", fmt.Errorf("llm client misconfigured")
	}
	p, ok := c.personas.Get(personaName)
	if !ok {
		return "", "", fmt.Errorf("unknown persona %q", personaName)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: p.SystemPrompt},
			{Role: "user", Content: text},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", "", fmt.Errorf("marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("new chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", "", fmt.Errorf("chat api %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", "", fmt.Errorf("decode chat response: %w", err)
	}
	if parsed.Error != nil {
		return "", "", fmt.Errorf("chat api error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", "", fmt.Errorf("chat response has no choices")
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", "", fmt.Errorf("chat response is empty")
	}

	model := parsed.Model
	if model == "" {
		model = c.cfg.Model
	}
	return content, model, nil
}
