// Package llm talks to an OpenAI-compatible chat completion API for judging
// generated queries and proposing configuration changes.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"diaharness/internal/fault"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// DefaultKeyEnv is read when no key variable is configured.
const DefaultKeyEnv = "OPENAI_API_KEY"

// Settings configure a Client.
type Settings struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	// Temperature applies to every request; zero keeps the API default.
	Temperature float32
}

// Client sends single-turn chat completions.
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
}

// SettingsFromEnv reads the API key from keyEnv (DefaultKeyEnv when empty).
func SettingsFromEnv(keyEnv, model, baseURL string) (Settings, error) {
	if strings.TrimSpace(keyEnv) == "" {
		keyEnv = DefaultKeyEnv
	}
	key := strings.TrimSpace(os.Getenv(keyEnv))
	if key == "" {
		return Settings{}, fmt.Errorf("%s is required", keyEnv)
	}
	return Settings{APIKey: key, Model: model, BaseURL: baseURL}, nil
}

// NewClient builds a Client from explicit settings.
func NewClient(settings Settings) (*Client, error) {
	if strings.TrimSpace(settings.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	cfg := openai.DefaultConfig(settings.APIKey)
	if base := strings.TrimSpace(settings.BaseURL); base != "" {
		cfg.BaseURL = strings.TrimRight(base, "/")
	}
	if settings.HTTPClient != nil {
		cfg.HTTPClient = settings.HTTPClient
	}
	model := strings.TrimSpace(settings.Model)
	if model == "" {
		model = DefaultModel
	}
	return &Client{api: openai.NewClientWithConfig(cfg), model: model, temperature: settings.Temperature}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Complete sends a system and user message and returns the first choice.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	var messages []openai.ChatCompletionMessage
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: user})
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", &fault.NonRetryableError{Op: "chat completion", Err: errors.New("no choices returned")}
	}
	return resp.Choices[0].Message.Content, nil
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fault.Classify("chat completion", apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fault.Classify("chat completion", reqErr.HTTPStatusCode, err)
	}
	return fault.Classify("chat completion", 0, err)
}
