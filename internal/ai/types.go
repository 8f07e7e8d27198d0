package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ErrorMarker is the literal failure value returned to callers when a
// request exhausts its retries or fails permanently.
const ErrorMarker = "Error"

// Provider identifies one of the supported backend families. Engines are
// resolved to a Provider once, at request construction; all later dispatch
// is an exhaustive switch on this value.
type Provider int

const (
	ProviderUnknown Provider = iota
	ProviderOpenAI
	ProviderGemini
	ProviderAnthropic
)

func (p Provider) String() string {
	switch p {
	case ProviderOpenAI:
		return "openai"
	case ProviderGemini:
		return "gemini"
	case ProviderAnthropic:
		return "anthropic"
	default:
		return "unknown"
	}
}

// ParseEngine maps a caller-supplied engine identifier to a provider family.
// Matching is case-insensitive substring, in priority order. An unmapped
// engine is a hard failure and must never be retried.
func ParseEngine(engine string) (Provider, error) {
	e := strings.ToLower(engine)
	switch {
	case strings.Contains(e, "gpt"), strings.Contains(e, "o1"), strings.Contains(e, "o3"):
		return ProviderOpenAI, nil
	case strings.Contains(e, "gemini"):
		return ProviderGemini, nil
	case strings.Contains(e, "claude"):
		return ProviderAnthropic, nil
	default:
		return ProviderUnknown, &UnsupportedEngineError{Engine: engine}
	}
}

// JobTypeMetadata changes validation rules (required headers) and retry
// escalation (temperature/token bumps). JobTypePagination only affects the
// token ceiling.
const (
	JobTypeMetadata   = "Metadata"
	JobTypePagination = "Pagination"
)

// Attachment is a read-only image reference owned by the caller. Exactly one
// of Path, Data or Encoded is set; the preparer never mutates an Attachment,
// it derives encoded copies.
type Attachment struct {
	Label   string
	Path    string
	Data    []byte
	Encoded string // pre-encoded base64 text
	MIME    string // detected media type; defaults to image/jpeg
}

// Request describes one document-processing call. Constructed fresh per
// document page and immutable afterwards.
type Request struct {
	Engine          string
	Provider        Provider
	SystemPrompt    string
	UserPrompt      string // template unless RawPrompt is set
	Temperature     float64
	TextToProcess   string
	Images          []Attachment
	ValidationText  string
	Index           int
	JobType         string
	RequiredHeaders []string
	RawPrompt       bool // use UserPrompt verbatim, skip substitution
	Base64          bool
	Timeout         time.Duration
}

// Prompt resolves the effective user prompt for this request.
func (r Request) Prompt() string {
	if r.RawPrompt {
		return r.UserPrompt
	}
	return strings.ReplaceAll(r.UserPrompt, "{text_to_process}", r.TextToProcess)
}

// Result is the only artifact crossing back to the caller: processed text
// and the original correlation index, or the ErrorMarker and the index.
type Result struct {
	Text  string
	Index int
}

// CallParams carries the sampling parameters for a single attempt. The retry
// controller mutates these between attempts; adapters only read them.
type CallParams struct {
	Temperature float64
	MaxTokens   int
}

// Client is a provider adapter: it builds the provider-native payload for a
// request, issues the network call and extracts plain text. Implementations
// are stateless per request and safe for concurrent use.
type Client interface {
	Name() string
	Generate(ctx context.Context, req Request, p CallParams) (string, error)
}

// UnsupportedEngineError reports an engine identifier that maps to no
// provider family. It is the only error the router propagates.
type UnsupportedEngineError struct {
	Engine string
}

func (e *UnsupportedEngineError) Error() string {
	return fmt.Sprintf("unsupported engine: %s", e.Engine)
}

// RateLimitError represents a rate limit or timeout signal from a provider.
type RateLimitError struct {
	Provider string
	Model    string
	Reason   string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit: %s/%s - %s", e.Provider, e.Model, e.Reason)
}

// HTTPError represents an HTTP status error from a provider.
type HTTPError struct {
	StatusCode int
	Body       string
	Provider   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d from %s: %s", e.StatusCode, e.Provider, e.Body)
}

// PayloadError marks a local payload-construction failure (malformed image
// data, unreadable attachment). It is fatal for the request and must not
// consume the retry budget.
type PayloadError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *PayloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payload error (%s): %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("payload error (%s): %s", e.Provider, e.Reason)
}

func (e *PayloadError) Unwrap() error { return e.Err }
