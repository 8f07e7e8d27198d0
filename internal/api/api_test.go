package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/airouter/internal/ai"
)

type stubClient struct {
	reply string
	err   error
}

func (s *stubClient) Name() string { return "stub" }

func (s *stubClient) Generate(context.Context, ai.Request, ai.CallParams) (string, error) {
	return s.reply, s.err
}

func newTestMux(stub *stubClient) *http.ServeMux {
	router := ai.NewRouter(ai.RouterOptions{
		OpenAI:    stub,
		Gemini:    stub,
		Anthropic: stub,
		Logger:    zerolog.Nop(),
	})
	mux := http.NewServeMux()
	New(Dependencies{Router: router, DefaultEngine: "gpt-4o"}).RegisterRoutes(mux)
	return mux
}

func TestHandleRoute_Success(t *testing.T) {
	mux := newTestMux(&stubClient{reply: "routed text"})

	body := `{"engine":"claude-sonnet-4","user_prompt":"hello","index":2}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/route", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp routeResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "routed text", resp.Text)
	assert.Equal(t, 2, resp.Index)
}

func TestHandleRoute_DefaultEngine(t *testing.T) {
	mux := newTestMux(&stubClient{reply: "ok"})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/route", strings.NewReader(`{"user_prompt":"hello"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleRoute_UnsupportedEngine(t *testing.T) {
	mux := newTestMux(&stubClient{reply: "ok"})

	body := `{"engine":"llama-3","user_prompt":"hello"}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/route", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRoute_MissingPrompt(t *testing.T) {
	mux := newTestMux(&stubClient{reply: "ok"})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/route", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRoute_ErrorMarker(t *testing.T) {
	mux := newTestMux(&stubClient{err: &ai.HTTPError{StatusCode: 400, Provider: "stub", Body: "boom"}})

	body := `{"engine":"gpt-4o","user_prompt":"hello","index":5}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/route", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp routeResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ai.ErrorMarker, resp.Text)
	assert.Equal(t, 5, resp.Index)
}

func TestHandleRoute_MethodNotAllowed(t *testing.T) {
	mux := newTestMux(&stubClient{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/route", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type stubResults struct{}

func (stubResults) GetResult(context.Context, string, int) (string, error) {
	return "doc text", nil
}

func (stubResults) GetResultDetail(context.Context, string, int) (string, string, string, error) {
	return "doc text", "gemini", "gemini-2.0-flash", nil
}

func (stubResults) AggregateText(context.Context, string, int) (string, error) {
	return "", nil
}

func TestHandleResult_IndexWithDetail(t *testing.T) {
	router := ai.NewRouter(ai.RouterOptions{Logger: zerolog.Nop()})
	mux := http.NewServeMux()
	New(Dependencies{Router: router, Results: stubResults{}}).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/result/job-1?index=2", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp resultResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp.JobID)
	assert.Equal(t, "doc text", resp.Text)
	assert.Equal(t, "gemini", resp.Provider)
	assert.Equal(t, "gemini-2.0-flash", resp.Engine)
}

func TestHandleStatus_NotConfigured(t *testing.T) {
	mux := newTestMux(&stubClient{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	mux := newTestMux(&stubClient{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
