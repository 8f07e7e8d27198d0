package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OpenAIClient talks to the OpenAI chat-completions API.
type OpenAIClient struct {
	http    *http.Client
	apiKey  string
	baseURL string
}

func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		http:    &http.Client{},
		apiKey:  apiKey,
		baseURL: "https://api.openai.com/v1",
	}
}

func (c *OpenAIClient) Name() string { return "openai" }

type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIRespFormat struct {
	Type string `json:"type"`
}

type openAIChatReq struct {
	Model           string            `json:"model"`
	Messages        []openAIMessage   `json:"messages"`
	Temperature     *float64          `json:"temperature,omitempty"`
	MaxTokens       int               `json:"max_tokens,omitempty"`
	ResponseFormat  *openAIRespFormat `json:"response_format,omitempty"`
	ReasoningEffort string            `json:"reasoning_effort,omitempty"`
}

type openAIChatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// isReasoningEngine reports whether the engine is an o-series model, which
// takes system instructions under the "developer" role and a coarse
// reasoning-effort knob instead of temperature/max_tokens.
func isReasoningEngine(engine string) bool {
	e := strings.ToLower(engine)
	return strings.Contains(e, "o1") || strings.Contains(e, "o3")
}

func (c *OpenAIClient) Generate(ctx context.Context, req Request, p CallParams) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("missing OpenAI API key")
	}

	messages, err := c.buildMessages(req)
	if err != nil {
		return "", err
	}

	payload := openAIChatReq{
		Model:    req.Engine,
		Messages: messages,
	}
	if isReasoningEngine(req.Engine) {
		payload.ResponseFormat = &openAIRespFormat{Type: "text"}
		payload.ReasoningEffort = "low"
	} else {
		t := p.Temperature
		payload.Temperature = &t
		payload.MaxTokens = p.MaxTokens
		payload.ResponseFormat = &openAIRespFormat{Type: "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", &PayloadError{Provider: c.Name(), Reason: "marshal request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
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

	var r openAIChatResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", err
	}
	if len(r.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return r.Choices[0].Message.Content, nil
}

// buildMessages assembles the chat payload: system instructions under the
// role the engine expects, then the user turn with the resolved prompt and
// any images as base64 data URIs at high detail.
func (c *OpenAIClient) buildMessages(req Request) ([]openAIMessage, error) {
	roleKey := "system"
	if isReasoningEngine(req.Engine) {
		roleKey = "developer"
	}

	var messages []openAIMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openAIMessage{Role: roleKey, Content: req.SystemPrompt})
	}

	content := []map[string]any{
		{"type": "text", "text": req.Prompt()},
	}
	for _, att := range req.Images {
		if att.Encoded == "" {
			return nil, &PayloadError{Provider: c.Name(), Reason: "attachment not base64 encoded"}
		}
		if att.Label != "" {
			content = append(content, map[string]any{"type": "text", "text": att.Label})
		}
		mime := att.MIME
		if mime == "" {
			mime = "image/jpeg"
		}
		content = append(content, map[string]any{
			"type": "image_url",
			"image_url": map[string]string{
				"url":    fmt.Sprintf("data:%s;base64,%s", mime, att.Encoded),
				"detail": "high",
			},
		})
	}

	messages = append(messages, openAIMessage{Role: "user", Content: content})
	return messages, nil
}
