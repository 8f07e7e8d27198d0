package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseChunk(texts ...string) string {
	parts := make([]string, 0, len(texts))
	for _, t := range texts {
		parts = append(parts, fmt.Sprintf(`{"text":%q}`, t))
	}
	return fmt.Sprintf(`data: {"candidates":[{"content":{"parts":[%s]}}]}`, strings.Join(parts, ","))
}

func TestDrainStream_AccumulatesChunks(t *testing.T) {
	stream := strings.Join([]string{
		sseChunk("Hello"),
		"",
		sseChunk(", ", "wor"),
		sseChunk("ld"),
		"data: [DONE]",
	}, "\n")

	got, err := drainStream(strings.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", got)
}

func TestDrainStream_ErrorChunk(t *testing.T) {
	stream := sseChunk("partial") + "\n" +
		`data: {"error":{"code":429,"message":"quota exceeded"}}`

	_, err := drainStream(strings.NewReader(stream))
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, 429, httpErr.StatusCode)
	assert.Equal(t, "quota exceeded", httpErr.Body)
}

func TestDrainStream_SkipsGarbageLines(t *testing.T) {
	stream := "not json\n" + sseChunk("kept") + "\n: comment\n"

	got, err := drainStream(strings.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, "kept", got)
}

func newGeminiServer(t *testing.T, capture *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/upload/v1beta/files"):
			assert.Equal(t, "raw", r.Header.Get("X-Goog-Upload-Protocol"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"file": map[string]any{"name": "files/abc", "uri": "https://files.example/abc"},
			})
		case strings.Contains(r.URL.Path, ":streamGenerateContent"):
			assert.Equal(t, "sse", r.URL.Query().Get("alt"))
			assert.Equal(t, "test-key", r.URL.Query().Get("key"))

			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			if capture != nil {
				*capture = payload
			}

			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = w.Write([]byte(sseChunk("streamed ") + "\n" + sseChunk("answer") + "\n"))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestGeminiGenerate_StreamingAccumulation(t *testing.T) {
	var payload map[string]any
	srv := newGeminiServer(t, &payload)
	defer srv.Close()

	c := NewGeminiClient("test-key")
	c.baseURL = srv.URL

	text, err := c.Generate(context.Background(), Request{
		Engine:       "gemini-2.0-flash",
		SystemPrompt: "be brief",
		UserPrompt:   "hello",
	}, CallParams{Temperature: 0.2, MaxTokens: 8192})
	require.NoError(t, err)
	assert.Equal(t, "streamed answer", text)

	genCfg := payload["generationConfig"].(map[string]any)
	assert.Equal(t, 0.2, genCfg["temperature"])
	assert.Equal(t, 0.95, genCfg["topP"])
	assert.Equal(t, float64(40), genCfg["topK"])
	assert.Equal(t, float64(8192), genCfg["maxOutputTokens"])
	assert.Equal(t, "text/plain", genCfg["responseMimeType"])

	// flash engines disable thinking entirely
	thinking := genCfg["thinkingConfig"].(map[string]any)
	assert.Equal(t, float64(0), thinking["thinkingBudget"])

	system := payload["system_instruction"].(map[string]any)
	sysParts := system["parts"].([]any)
	assert.Equal(t, "be brief", sysParts[0].(map[string]any)["text"])
}

func TestGeminiGenerate_ProThinkingBudget(t *testing.T) {
	var payload map[string]any
	srv := newGeminiServer(t, &payload)
	defer srv.Close()

	c := NewGeminiClient("test-key")
	c.baseURL = srv.URL

	_, err := c.Generate(context.Background(), Request{
		Engine:     "gemini-1.5-pro",
		UserPrompt: "hello",
	}, CallParams{MaxTokens: 8192})
	require.NoError(t, err)

	thinking := payload["generationConfig"].(map[string]any)["thinkingConfig"].(map[string]any)
	assert.Equal(t, float64(128), thinking["thinkingBudget"])
}

func TestGeminiGenerate_ImageUpload(t *testing.T) {
	var payload map[string]any
	srv := newGeminiServer(t, &payload)
	defer srv.Close()

	c := NewGeminiClient("test-key")
	c.baseURL = srv.URL

	_, err := c.Generate(context.Background(), Request{
		Engine:     "gemini-2.0-flash",
		UserPrompt: "describe",
		Images:     []Attachment{{Label: "Page 1", Data: []byte{1, 2, 3}}},
	}, CallParams{MaxTokens: 100})
	require.NoError(t, err)

	contents := payload["contents"].([]any)
	parts := contents[0].(map[string]any)["parts"].([]any)
	// label, file reference, prompt
	require.Len(t, parts, 3)
	assert.Equal(t, "Page 1", parts[0].(map[string]any)["text"])

	fileData := parts[1].(map[string]any)["file_data"].(map[string]any)
	assert.Equal(t, "https://files.example/abc", fileData["file_uri"])
	assert.Equal(t, "image/jpeg", fileData["mime_type"])

	assert.Equal(t, "describe", parts[2].(map[string]any)["text"])
}

func TestGeminiGenerate_AttachmentWithoutPayload(t *testing.T) {
	c := NewGeminiClient("test-key")

	_, err := c.Generate(context.Background(), Request{
		Engine:     "gemini-2.0-flash",
		UserPrompt: "describe",
		Images:     []Attachment{{Label: "empty"}},
	}, CallParams{})
	require.Error(t, err)
	assert.True(t, IsPayload(err))
}

func TestGeminiGenerate_MissingKey(t *testing.T) {
	c := NewGeminiClient("")
	_, err := c.Generate(context.Background(), Request{Engine: "gemini-2.0-flash", UserPrompt: "hi"}, CallParams{})
	require.Error(t, err)
}
