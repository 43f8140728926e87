// Package openai implements the caption backend against an
// OpenAI-compatible chat completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

type Options struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

type Captioner struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func New(opts Options) (*Captioner, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("caption api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Captioner{
		apiKey:  strings.TrimSpace(opts.APIKey),
		model:   model,
		baseURL: baseURL,
		client:  client,
	}, nil
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Caption asks the model for one caption. Retry, backoff, and the fallback
// placeholder live in the wrapper, not here.
func (c *Captioner) Caption(ctx context.Context, persona, theme string, charLimit int, allowEmojis bool) (string, error) {
	emojiInstruction := "without emojis"
	if allowEmojis {
		emojiInstruction = "with 1-2 emojis not always placed at the end of the sentence"
	}
	prompt := fmt.Sprintf(
		"You are a witty meme generator. As %s, write a complete, funny comment (%d chars max) %s about: %s. Keep it concise and punchy.",
		persona, charLimit, emojiInstruction, theme,
	)

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []message{{Role: "user", Content: prompt}},
		Temperature: 0.9,
	})
	if err != nil {
		return "", errors.Wrap(err, "marshal caption request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "build caption request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "caption request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", errors.Errorf("caption api status %d: %s", resp.StatusCode, snippet)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrap(err, "decode caption response")
	}
	if len(out.Choices) == 0 {
		return "", errors.New("caption api returned no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
