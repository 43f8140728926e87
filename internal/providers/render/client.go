// Package render is the client for the external image renderer that owns
// layer composition and caption overlay. The service itself never touches
// pixels or fonts.
package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/you/memeq/internal/generate"
)

type Client struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), client: httpClient}
}

type composeRequest struct {
	PersonaPrompt string `json:"personaPrompt"`
	ThemePrompt   string `json:"themePrompt"`
}

type overlayRequest struct {
	PNG     string `json:"png"`
	Caption string `json:"caption"`
}

type imageResponse struct {
	PNG    string            `json:"png"`
	Traits map[string]string `json:"traits,omitempty"`
}

// Compose asks the renderer for a layered base character image plus the
// trait metadata it picked.
func (c *Client) Compose(ctx context.Context, persona, theme string) (generate.Image, error) {
	out, err := c.post(ctx, "/compose", composeRequest{PersonaPrompt: persona, ThemePrompt: theme})
	if err != nil {
		return generate.Image{}, errors.Wrap(err, "compose")
	}
	return out, nil
}

// Overlay burns the caption into the image.
func (c *Client) Overlay(ctx context.Context, img generate.Image, caption string) (generate.Image, error) {
	out, err := c.post(ctx, "/overlay", overlayRequest{
		PNG:     base64.StdEncoding.EncodeToString(img.PNG),
		Caption: caption,
	})
	if err != nil {
		return generate.Image{}, errors.Wrap(err, "overlay")
	}
	if out.Traits == nil {
		out.Traits = img.Traits
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (generate.Image, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return generate.Image{}, errors.Wrap(err, "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return generate.Image{}, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return generate.Image{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return generate.Image{}, errors.Errorf("renderer status %d: %s", resp.StatusCode, snippet)
	}

	var out imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return generate.Image{}, errors.Wrap(err, "decode response")
	}
	png, err := base64.StdEncoding.DecodeString(out.PNG)
	if err != nil {
		return generate.Image{}, errors.Wrap(err, "decode image payload")
	}
	return generate.Image{PNG: png, Traits: out.Traits}, nil
}
