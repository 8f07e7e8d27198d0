package ai

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TokenLimits holds per-job-type output token ceilings for a provider.
// These are tunable defaults, not constants.
type TokenLimits struct {
	Metadata   int
	Pagination int
	Default    int
}

// For returns the ceiling for a job type.
func (t TokenLimits) For(jobType string) int {
	switch jobType {
	case JobTypeMetadata:
		return t.Metadata
	case JobTypePagination:
		return t.Pagination
	default:
		return t.Default
	}
}

// ObserveFunc records the outcome of a single provider attempt. Wired to
// metrics by the service layer; the core only calls it.
type ObserveFunc func(provider, model, result string, dur time.Duration)

// RouterOptions configures a Router. All collaborators are injected; the
// router holds no process-wide state.
type RouterOptions struct {
	OpenAI    Client
	Gemini    Client
	Anthropic Client

	Policy          Policy
	OpenAITokens    TokenLimits
	AnthropicTokens TokenLimits
	GeminiMaxTokens int

	DefaultTimeout time.Duration
	Logger         zerolog.Logger
	Observe        ObserveFunc
	// ObserveValidation records a validation miss per job type.
	ObserveValidation func(jobType string)
}

// Router is the single entry point of the orchestration core. It selects
// the adapter for a request's provider family and drives the request through
// the retry controller and response validator. Safe for concurrent use;
// retry state is per call, never shared.
type Router struct {
	opts      RouterOptions
	validator *Validator
}

func NewRouter(opts RouterOptions) *Router {
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}
	if opts.OpenAITokens == (TokenLimits{}) {
		opts.OpenAITokens = TokenLimits{Metadata: 2000, Pagination: 200, Default: 1500}
	}
	if opts.AnthropicTokens == (TokenLimits{}) {
		opts.AnthropicTokens = TokenLimits{Metadata: 2000, Pagination: 200, Default: 1200}
	}
	if opts.GeminiMaxTokens <= 0 {
		opts.GeminiMaxTokens = 8192
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 80 * time.Second
	}
	if opts.Observe == nil {
		opts.Observe = func(string, string, string, time.Duration) {}
	}
	if opts.ObserveValidation == nil {
		opts.ObserveValidation = func(string) {}
	}
	return &Router{opts: opts, validator: NewValidator(opts.Logger)}
}

// clientFor is a total function over the provider enum.
func (r *Router) clientFor(p Provider) Client {
	switch p {
	case ProviderOpenAI:
		return r.opts.OpenAI
	case ProviderAnthropic:
		return r.opts.Anthropic
	case ProviderGemini:
		return r.opts.Gemini
	default:
		return nil
	}
}

func (r *Router) tokensFor(p Provider, jobType string) int {
	switch p {
	case ProviderOpenAI:
		return r.opts.OpenAITokens.For(jobType)
	case ProviderAnthropic:
		return r.opts.AnthropicTokens.For(jobType)
	case ProviderGemini:
		return r.opts.GeminiMaxTokens
	default:
		return 0
	}
}

// Routed pairs a Result with the unsupported-engine error, the only failure
// class that propagates past the core boundary.
type Routed struct {
	Result Result
	Err    error
}

// RouteAsync runs Route in its own goroutine and delivers the outcome on the
// returned channel. Fan-out bounding is the caller's responsibility.
func (r *Router) RouteAsync(ctx context.Context, req Request) <-chan Routed {
	ch := make(chan Routed, 1)
	go func() {
		res, err := r.Route(ctx, req)
		ch <- Routed{Result: res, Err: err}
	}()
	return ch
}

// Route drives one request to completion. Every recoverable failure class
// surfaces as (ErrorMarker, index); only an unsupported engine returns a
// non-nil error, before any network call is made.
func (r *Router) Route(ctx context.Context, req Request) (Result, error) {
	provider := req.Provider
	if provider == ProviderUnknown {
		p, err := ParseEngine(req.Engine)
		if err != nil {
			r.opts.Logger.Error().
				Str("engine", req.Engine).
				Int("index", req.Index).
				Msg("unsupported engine")
			return Result{}, err
		}
		provider = p
	}
	client := r.clientFor(provider)

	r.logAttachments(req)

	images, err := PrepareImages(req.Images, provider, req.Base64)
	if err != nil {
		r.opts.Logger.Error().
			Err(err).
			Str("provider", provider.String()).
			Int("index", req.Index).
			Msg("image preparation failed")
		return Result{Text: ErrorMarker, Index: req.Index}, nil
	}
	req.Images = images

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.opts.DefaultTimeout
	}

	params := CallParams{
		Temperature: req.Temperature,
		MaxTokens:   r.tokensFor(provider, req.JobType),
	}
	maxAttempts := r.opts.Policy.AttemptsFor(req.JobType)

	for retries := 0; retries < maxAttempts; retries++ {
		text, err := r.attempt(ctx, client, req, params, timeout)

		if err != nil {
			if IsPayload(err) || IsFatal(err) {
				r.opts.Logger.Error().
					Err(err).
					Str("provider", provider.String()).
					Str("engine", req.Engine).
					Int("index", req.Index).
					Msg("permanent provider failure")
				return Result{Text: ErrorMarker, Index: req.Index}, nil
			}

			// transient transport failure: wait and repeat unchanged
			r.opts.Logger.Warn().
				Err(err).
				Str("provider", provider.String()).
				Str("engine", req.Engine).
				Int("index", req.Index).
				Int("retries", retries).
				Msg("provider call failed")
			if retries == maxAttempts-1 {
				return Result{Text: ErrorMarker, Index: req.Index}, nil
			}
			if !sleepCtx(ctx, r.opts.Policy.Backoff(retries)) {
				return Result{Text: ErrorMarker, Index: req.Index}, nil
			}
			continue
		}

		processed, ok := r.validator.Validate(text, req)
		if ok {
			return Result{Text: processed, Index: req.Index}, nil
		}

		// validation miss: nudge sampling parameters before repeating
		r.opts.Observe(provider.String(), req.Engine, "validation_failed", 0)
		r.opts.ObserveValidation(req.JobType)
		if retries == maxAttempts-1 {
			break
		}
		params = r.opts.Policy.Escalate(req.JobType, retries, params)
		if !sleepCtx(ctx, r.opts.Policy.Backoff(retries)) {
			break
		}
	}

	r.opts.Logger.Error().
		Str("provider", provider.String()).
		Str("engine", req.Engine).
		Int("index", req.Index).
		Msg("retries exhausted")
	return Result{Text: ErrorMarker, Index: req.Index}, nil
}

// attempt issues one provider call under its own timeout. A deadline hit is
// reported as a transient rate-limit class failure so the retry controller
// waits instead of hanging.
func (r *Router) attempt(ctx context.Context, client Client, req Request, params CallParams, timeout time.Duration) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	text, err := client.Generate(cctx, req, params)
	dur := time.Since(start)

	if err != nil && cctx.Err() == context.DeadlineExceeded {
		r.opts.Observe(client.Name(), req.Engine, "timeout", dur)
		return "", &RateLimitError{Provider: client.Name(), Model: req.Engine, Reason: "timeout"}
	}

	result := "success"
	if err != nil {
		switch {
		case IsPayload(err):
			result = "payload_error"
		case IsTransient(err):
			result = "transient"
		case IsFatal(err):
			result = "fatal"
		default:
			result = "unknown"
		}
	}
	r.opts.Observe(client.Name(), req.Engine, result, dur)
	return text, err
}

// logAttachments emits a diagnostic line about received images before
// dispatch. Observability only; behavior never depends on it.
func (r *Router) logAttachments(req Request) {
	if len(req.Images) == 0 {
		r.opts.Logger.Debug().Int("index", req.Index).Msg("route: no image attachments")
		return
	}
	labels := make([]string, 0, len(req.Images))
	for _, att := range req.Images {
		labels = append(labels, att.Label)
	}
	r.opts.Logger.Debug().
		Int("index", req.Index).
		Int("images", len(req.Images)).
		Strs("labels", labels).
		Msg("route: received image attachments")
}
