package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// GeminiClient talks to the Google Gemini generate-content API. Images are
// uploaded through the media upload endpoint and referenced by URI; the
// generation call runs in streaming mode and the adapter drains every chunk
// into one string before anything crosses back to the router.
type GeminiClient struct {
	http    *http.Client
	apiKey  string
	baseURL string
}

func NewGeminiClient(apiKey string) *GeminiClient {
	return &GeminiClient{
		http:    &http.Client{},
		apiKey:  apiKey,
		baseURL: "https://generativelanguage.googleapis.com",
	}
}

func (c *GeminiClient) Name() string { return "gemini" }

type geminiPart struct {
	Text     string          `json:"text,omitempty"`
	FileData *geminiFileData `json:"file_data,omitempty"`
}

type geminiFileData struct {
	MIMEType string `json:"mime_type"`
	FileURI  string `json:"file_uri"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiThinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

type geminiGenConfig struct {
	Temperature      float64               `json:"temperature"`
	TopP             float64               `json:"topP"`
	TopK             int                   `json:"topK"`
	MaxOutputTokens  int                   `json:"maxOutputTokens"`
	ResponseMIMEType string                `json:"responseMimeType"`
	ThinkingConfig   *geminiThinkingConfig `json:"thinkingConfig,omitempty"`
}

type geminiGenerateReq struct {
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  geminiGenConfig `json:"generationConfig"`
}

type geminiChunk struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type geminiUploadResp struct {
	File struct {
		Name string `json:"name"`
		URI  string `json:"uri"`
	} `json:"file"`
}

func (c *GeminiClient) Generate(ctx context.Context, req Request, p CallParams) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("missing Google API key")
	}

	parts, err := c.buildParts(ctx, req)
	if err != nil {
		return "", err
	}

	genCfg := geminiGenConfig{
		Temperature:      p.Temperature,
		TopP:             0.95,
		TopK:             40,
		MaxOutputTokens:  p.MaxTokens,
		ResponseMIMEType: "text/plain",
	}
	engine := strings.ToLower(req.Engine)
	if strings.Contains(engine, "flash") {
		genCfg.ThinkingConfig = &geminiThinkingConfig{ThinkingBudget: 0}
	} else if strings.Contains(engine, "pro") {
		genCfg.ThinkingConfig = &geminiThinkingConfig{ThinkingBudget: 128}
	}

	payload := geminiGenerateReq{
		Contents:         []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: genCfg,
	}
	if req.SystemPrompt != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", &PayloadError{Provider: c.Name(), Reason: "marshal request", Err: err}
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse&key=%s",
		c.baseURL, url.PathEscape(req.Engine), url.QueryEscape(c.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
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

	return drainStream(resp.Body)
}

// drainStream accumulates every streamed SSE text chunk into one string.
// Streaming is an implementation detail; partial chunks never leave the
// adapter.
func drainStream(body io.Reader) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)

	var sb strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if line == "" || line == "[DONE]" {
			continue
		}

		var chunk geminiChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			return "", &HTTPError{StatusCode: chunk.Error.Code, Provider: "gemini", Body: chunk.Error.Message}
		}
		for _, cand := range chunk.Candidates {
			for _, part := range cand.Content.Parts {
				sb.WriteString(part.Text)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// buildParts uploads each image and interleaves optional label text parts
// with file references, ending with the resolved user prompt.
func (c *GeminiClient) buildParts(ctx context.Context, req Request) ([]geminiPart, error) {
	var parts []geminiPart

	for _, att := range req.Images {
		if att.Label != "" {
			parts = append(parts, geminiPart{Text: att.Label})
		}
		uri, err := c.uploadImage(ctx, att)
		if err != nil {
			return nil, err
		}
		parts = append(parts, geminiPart{FileData: &geminiFileData{
			MIMEType: "image/jpeg",
			FileURI:  uri,
		}})
	}

	parts = append(parts, geminiPart{Text: req.Prompt()})
	return parts, nil
}

// uploadImage pushes image bytes through the raw media upload endpoint and
// returns the file URI to reference in the generation request.
func (c *GeminiClient) uploadImage(ctx context.Context, att Attachment) (string, error) {
	var data []byte
	switch {
	case att.Data != nil:
		data = att.Data
	case att.Path != "":
		b, err := os.ReadFile(att.Path)
		if err != nil {
			return "", &PayloadError{Provider: c.Name(), Reason: "read image " + att.Path, Err: err}
		}
		data = b
	case att.Encoded != "":
		b, err := base64.StdEncoding.DecodeString(att.Encoded)
		if err != nil {
			return "", &PayloadError{Provider: c.Name(), Reason: "decode base64 attachment", Err: err}
		}
		data = b
	default:
		return "", &PayloadError{Provider: c.Name(), Reason: "attachment has no path, data or encoded payload"}
	}

	endpoint := fmt.Sprintf("%s/upload/v1beta/files?key=%s", c.baseURL, url.QueryEscape(c.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("X-Goog-Upload-Protocol", "raw")
	httpReq.Header.Set("Content-Type", "image/jpeg")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &HTTPError{StatusCode: resp.StatusCode, Provider: c.Name(), Body: string(snippet)}
	}

	var r geminiUploadResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", err
	}
	if r.File.URI == "" {
		return "", errors.New("gemini: upload returned no file uri")
	}
	return r.File.URI, nil
}
