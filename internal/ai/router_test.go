package ai

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubClient scripts provider responses per attempt and records the params
// it was called with.
type stubClient struct {
	name string

	mu       sync.Mutex
	calls    int
	params   []CallParams
	generate func(call int, req Request, p CallParams) (string, error)
}

func (s *stubClient) Name() string { return s.name }

func (s *stubClient) Generate(_ context.Context, req Request, p CallParams) (string, error) {
	s.mu.Lock()
	call := s.calls
	s.calls++
	s.params = append(s.params, p)
	s.mu.Unlock()
	return s.generate(call, req, p)
}

func (s *stubClient) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func fastPolicy() Policy {
	p := DefaultPolicy()
	p.BaseDelay = time.Microsecond
	return p
}

func newTestRouter(stub *stubClient) *Router {
	return NewRouter(RouterOptions{
		OpenAI:    stub,
		Gemini:    stub,
		Anthropic: stub,
		Policy:    fastPolicy(),
		Logger:    zerolog.Nop(),
	})
}

func TestRoute_Success(t *testing.T) {
	stub := &stubClient{name: "openai", generate: func(int, Request, CallParams) (string, error) {
		return "the answer", nil
	}}
	r := newTestRouter(stub)

	res, err := r.Route(context.Background(), Request{Engine: "gpt-4o", UserPrompt: "hi", Index: 3})
	require.NoError(t, err)
	assert.Equal(t, "the answer", res.Text)
	assert.Equal(t, 3, res.Index)
	assert.Equal(t, 1, stub.callCount())
}

func TestRoute_UnsupportedEngineNoNetworkCall(t *testing.T) {
	stub := &stubClient{name: "openai", generate: func(int, Request, CallParams) (string, error) {
		t.Fatal("provider must not be called for unsupported engines")
		return "", nil
	}}
	r := newTestRouter(stub)

	_, err := r.Route(context.Background(), Request{Engine: "llama-3", UserPrompt: "hi"})
	var engErr *UnsupportedEngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, 0, stub.callCount())
}

func TestRoute_TransientErrorRetriesThenSucceeds(t *testing.T) {
	stub := &stubClient{name: "openai", generate: func(call int, _ Request, _ CallParams) (string, error) {
		if call == 0 {
			return "", &HTTPError{StatusCode: 503, Provider: "openai"}
		}
		return "recovered", nil
	}}
	r := newTestRouter(stub)

	res, err := r.Route(context.Background(), Request{Engine: "gpt-4o", UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Text)
	assert.Equal(t, 2, stub.callCount())
}

func TestRoute_FatalErrorNoRetry(t *testing.T) {
	stub := &stubClient{name: "openai", generate: func(int, Request, CallParams) (string, error) {
		return "", &HTTPError{StatusCode: 400, Provider: "openai", Body: "bad request"}
	}}
	r := newTestRouter(stub)

	res, err := r.Route(context.Background(), Request{Engine: "gpt-4o", UserPrompt: "hi", Index: 7})
	require.NoError(t, err)
	assert.Equal(t, ErrorMarker, res.Text)
	assert.Equal(t, 7, res.Index)
	assert.Equal(t, 1, stub.callCount())
}

func TestRoute_RetriesExhausted(t *testing.T) {
	stub := &stubClient{name: "openai", generate: func(int, Request, CallParams) (string, error) {
		return "", &RateLimitError{Provider: "openai", Model: "gpt-4o", Reason: "429"}
	}}
	r := newTestRouter(stub)

	res, err := r.Route(context.Background(), Request{Engine: "gpt-4o", UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, ErrorMarker, res.Text)
	assert.Equal(t, 3, stub.callCount())
}

func TestRoute_MetadataRetryBudgetAndEscalation(t *testing.T) {
	stub := &stubClient{name: "openai", generate: func(int, Request, CallParams) (string, error) {
		// always fails validation: required header missing
		return "Title:", nil
	}}
	r := newTestRouter(stub)

	res, err := r.Route(context.Background(), Request{
		Engine:          "gpt-4o",
		UserPrompt:      "hi",
		Temperature:     0.4,
		JobType:         JobTypeMetadata,
		RequiredHeaders: []string{"Title", "Date"},
	})
	require.NoError(t, err)
	assert.Equal(t, ErrorMarker, res.Text)
	require.Equal(t, 5, stub.callCount())

	// temperature escalates strictly between attempts, capped at 1.0
	for i := 1; i < len(stub.params); i++ {
		prev, cur := stub.params[i-1].Temperature, stub.params[i].Temperature
		if prev < 1.0 {
			assert.Greater(t, cur, prev, "attempt %d", i)
		}
		assert.LessOrEqual(t, cur, 1.0)
	}

	// token ceiling bumped from the third retry on
	assert.Equal(t, stub.params[0].MaxTokens, stub.params[1].MaxTokens)
	assert.Greater(t, stub.params[3].MaxTokens, stub.params[0].MaxTokens)
}

func TestRoute_MetadataEscalationKeepsHighCeiling(t *testing.T) {
	stub := &stubClient{name: "gemini", generate: func(int, Request, CallParams) (string, error) {
		return "Title:", nil
	}}
	r := newTestRouter(stub)

	res, err := r.Route(context.Background(), Request{
		Engine:          "gemini-2.0-flash",
		UserPrompt:      "hi",
		Temperature:     0.4,
		JobType:         JobTypeMetadata,
		RequiredHeaders: []string{"Title", "Date"},
	})
	require.NoError(t, err)
	assert.Equal(t, ErrorMarker, res.Text)
	require.Equal(t, 5, stub.callCount())

	// a ceiling above the escalation cap never shrinks across attempts
	for i, p := range stub.params {
		assert.Equal(t, 8192, p.MaxTokens, "attempt %d", i)
	}
}

func TestRoute_ValidationMissNonMetadataKeepsParams(t *testing.T) {
	stub := &stubClient{name: "openai", generate: func(int, Request, CallParams) (string, error) {
		return "missing the marker", nil
	}}
	r := newTestRouter(stub)

	res, err := r.Route(context.Background(), Request{
		Engine:         "gpt-4o",
		UserPrompt:     "hi",
		Temperature:    0.2,
		ValidationText: "DONE",
	})
	require.NoError(t, err)
	assert.Equal(t, ErrorMarker, res.Text)
	require.Equal(t, 3, stub.callCount())
	for _, p := range stub.params {
		assert.Equal(t, 0.2, p.Temperature)
	}
}

func TestRoute_PayloadErrorImmediateMarker(t *testing.T) {
	stub := &stubClient{name: "openai", generate: func(int, Request, CallParams) (string, error) {
		t.Fatal("provider must not be called when image preparation fails")
		return "", nil
	}}
	r := newTestRouter(stub)

	res, err := r.Route(context.Background(), Request{
		Engine:     "gpt-4o",
		UserPrompt: "hi",
		Base64:     true,
		Images:     []Attachment{{Label: "no payload"}},
		Index:      2,
	})
	require.NoError(t, err)
	assert.Equal(t, ErrorMarker, res.Text)
	assert.Equal(t, 2, res.Index)
}

func TestRoute_ObserveHooks(t *testing.T) {
	stub := &stubClient{name: "openai", generate: func(int, Request, CallParams) (string, error) {
		return "no marker here", nil
	}}

	var mu sync.Mutex
	var results []string
	var validationMisses []string
	r := NewRouter(RouterOptions{
		OpenAI: stub, Gemini: stub, Anthropic: stub,
		Policy: fastPolicy(),
		Logger: zerolog.Nop(),
		Observe: func(_, _, result string, _ time.Duration) {
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		},
		ObserveValidation: func(jobType string) {
			mu.Lock()
			validationMisses = append(validationMisses, jobType)
			mu.Unlock()
		},
	})

	_, err := r.Route(context.Background(), Request{
		Engine:         "gpt-4o",
		UserPrompt:     "hi",
		ValidationText: "DONE",
		JobType:        JobTypePagination,
	})
	require.NoError(t, err)

	assert.Contains(t, results, "success")
	assert.Contains(t, results, "validation_failed")
	assert.Equal(t, []string{JobTypePagination, JobTypePagination, JobTypePagination}, validationMisses)
}

func TestRouteAsync(t *testing.T) {
	stub := &stubClient{name: "openai", generate: func(int, Request, CallParams) (string, error) {
		return "async answer", nil
	}}
	r := newTestRouter(stub)

	routed := <-r.RouteAsync(context.Background(), Request{Engine: "gpt-4o", UserPrompt: "hi", Index: 1})
	require.NoError(t, routed.Err)
	assert.Equal(t, "async answer", routed.Result.Text)
	assert.Equal(t, 1, routed.Result.Index)
}
