// Package cloudinary uploads finished memes to a Cloudinary-compatible
// image host over its unsigned-preset-free upload API.
package cloudinary

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Options struct {
	BaseURL    string // e.g. https://api.cloudinary.com/v1_1
	CloudName  string
	APIKey     string
	APISecret  string
	Folder     string
	HTTPClient *http.Client
}

type Uploader struct {
	uploadURL string
	apiKey    string
	apiSecret string
	folder    string
	client    *http.Client
}

func New(opts Options) (*Uploader, error) {
	if opts.CloudName == "" || opts.APIKey == "" || opts.APISecret == "" {
		return nil, errors.New("cloudinary cloud name, api key, and secret are required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.cloudinary.com/v1_1"
	}
	folder := opts.Folder
	if folder == "" {
		folder = "memes"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Uploader{
		uploadURL: fmt.Sprintf("%s/%s/image/upload", baseURL, opts.CloudName),
		apiKey:    opts.APIKey,
		apiSecret: opts.APISecret,
		folder:    folder,
		client:    client,
	}, nil
}

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	Error     struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Upload posts the PNG as a signed multipart upload and returns the public
// secure URL.
func (u *Uploader) Upload(ctx context.Context, png []byte) (string, error) {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	signature := u.sign(map[string]string{
		"folder":    u.folder,
		"timestamp": timestamp,
	})

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := map[string]string{
		"api_key":   u.apiKey,
		"timestamp": timestamp,
		"folder":    u.folder,
		"signature": signature,
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return "", errors.Wrap(err, "build upload form")
		}
	}
	part, err := w.CreateFormFile("file", "meme.png")
	if err != nil {
		return "", errors.Wrap(err, "build upload form")
	}
	if _, err := part.Write(png); err != nil {
		return "", errors.Wrap(err, "build upload form")
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrap(err, "build upload form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.uploadURL, &body)
	if err != nil {
		return "", errors.Wrap(err, "build upload request")
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "upload request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", errors.Errorf("upload status %d: %s", resp.StatusCode, snippet)
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrap(err, "decode upload response")
	}
	if out.SecureURL == "" {
		return "", errors.Errorf("upload failed: %s", out.Error.Message)
	}
	return out.SecureURL, nil
}

// sign implements Cloudinary's request signature: sorted params joined with
// '&', secret appended, SHA-1 hex.
func (u *Uploader) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	sum := sha1.Sum([]byte(strings.Join(parts, "&") + u.apiSecret))
	return hex.EncodeToString(sum[:])
}
