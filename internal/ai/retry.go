package ai

import (
	"context"
	"math"
	"time"
)

// Policy is the retry/escalation policy shared by all adapters. Constants
// are tunable per deployment; the shape of the loop is not.
type Policy struct {
	MaxAttempts         int
	MetadataMaxAttempts int
	BaseDelay           time.Duration
	BackoffFactor       float64

	// Escalation for metadata-class jobs. Truncated or malformed metadata
	// usually means too-low token budgets or too-deterministic sampling, so
	// validation-triggered retries target both.
	TempGrowth     float64 // multiplicative temperature bump
	TempCap        float64
	TokenBumpAfter int // retries before the token ceiling also grows
	TokenBump      int
	TokenCap       int
}

// DefaultPolicy mirrors the tuned production values.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:         3,
		MetadataMaxAttempts: 5,
		BaseDelay:           time.Second,
		BackoffFactor:       1.5,
		TempGrowth:          1.25,
		TempCap:             1.0,
		TokenBumpAfter:      2,
		TokenBump:           500,
		TokenCap:            4000,
	}
}

// AttemptsFor returns the retry budget for a job type. Metadata jobs get a
// larger budget because their validation is stricter.
func (p Policy) AttemptsFor(jobType string) int {
	if jobType == JobTypeMetadata && p.MetadataMaxAttempts > 0 {
		return p.MetadataMaxAttempts
	}
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 3
}

// Backoff returns the delay before retrying after the given 0-based attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	factor := p.BackoffFactor
	if factor <= 1 {
		factor = 1.5
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	return time.Duration(float64(base) * math.Pow(factor, float64(attempt+1)))
}

// Escalate mutates sampling parameters after a validation-triggered retry.
// Only metadata jobs escalate; other jobs retry unchanged. Temperature grows
// strictly up to the cap, and from TokenBumpAfter retries on the token
// ceiling grows additively.
func (p Policy) Escalate(jobType string, retries int, cur CallParams) CallParams {
	if jobType != JobTypeMetadata {
		return cur
	}

	next := cur
	t := cur.Temperature * p.TempGrowth
	if cur.Temperature <= 0 {
		// a zero temperature never grows multiplicatively
		t = 0.1
	}
	if t > p.TempCap {
		t = p.TempCap
	}
	if t > next.Temperature {
		next.Temperature = t
	}

	// The bump only applies below the cap. Ceilings that already start above
	// it (Gemini's) stay where they are rather than shrinking to the cap.
	if retries >= p.TokenBumpAfter && next.MaxTokens > 0 && next.MaxTokens < p.TokenCap {
		next.MaxTokens += p.TokenBump
		if next.MaxTokens > p.TokenCap {
			next.MaxTokens = p.TokenCap
		}
	}
	return next
}

// sleepCtx waits for d or until ctx is done. Returns false if the context
// expired first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
