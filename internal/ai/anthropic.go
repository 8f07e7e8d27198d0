package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// AnthropicClient talks to the Anthropic messages API.
type AnthropicClient struct {
	http    *http.Client
	apiKey  string
	baseURL string
}

func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{
		http:    &http.Client{},
		apiKey:  apiKey,
		baseURL: "https://api.anthropic.com",
	}
}

func (c *AnthropicClient) Name() string { return "anthropic" }

type anthropicMsgReq struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content []any  `json:"content"`
}

type anthropicMsgResp struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

func (c *AnthropicClient) Generate(ctx context.Context, req Request, p CallParams) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("missing Anthropic API key")
	}

	content, err := c.buildContent(req)
	if err != nil {
		return "", err
	}

	t := p.Temperature
	payload := anthropicMsgReq{
		Model:       req.Engine,
		MaxTokens:   p.MaxTokens,
		System:      req.SystemPrompt,
		Temperature: &t,
		Messages:    []anthropicMessage{{Role: "user", Content: content}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", &PayloadError{Provider: c.Name(), Reason: "marshal request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &RateLimitError{Provider: c.Name(), Model: req.Engine, Reason: "429"}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &HTTPError{StatusCode: resp.StatusCode, Provider: c.Name(), Body: string(snippet)}
	}

	var r anthropicMsgResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", err
	}
	if len(r.Content) == 0 {
		return "", errors.New("anthropic: no content in response")
	}
	return r.Content[0].Text, nil
}

// buildContent assembles the user content blocks: alternating label text and
// base64 image blocks, a lone unlabeled image under a "Document Image:"
// marker, and the resolved prompt as the final text block.
func (c *AnthropicClient) buildContent(req Request) ([]any, error) {
	var content []any

	if len(req.Images) == 1 && req.Images[0].Label == "" {
		content = append(content, textBlock("Document Image:"))
	}
	for _, att := range req.Images {
		if att.Encoded == "" {
			return nil, &PayloadError{Provider: c.Name(), Reason: "attachment not base64 encoded"}
		}
		if att.Label != "" {
			content = append(content, textBlock(att.Label))
		}
		mime := att.MIME
		if mime == "" {
			mime = "image/jpeg"
		}
		content = append(content, map[string]any{
			"type": "image",
			"source": map[string]string{
				"type":       "base64",
				"media_type": mime,
				"data":       att.Encoded,
			},
		})
	}

	if prompt := strings.TrimSpace(req.Prompt()); prompt != "" {
		content = append(content, textBlock(prompt))
	}
	if len(content) == 0 {
		return nil, &PayloadError{Provider: c.Name(), Reason: "request has no prompt or images"}
	}
	return content, nil
}

func textBlock(text string) map[string]string {
	return map[string]string{"type": "text", "text": text}
}
