package ai

import (
	"strings"

	"github.com/rs/zerolog"
)

// Validator checks extracted response text against job-specific structural
// rules. It is stateless; the logger is injected at construction.
type Validator struct {
	log zerolog.Logger
}

func NewValidator(log zerolog.Logger) *Validator {
	return &Validator{log: log}
}

// Validate decides acceptance of a response. On success it returns the
// processed text (split on the validation marker if one is supplied, then
// trimmed). On failure it returns ok=false; the retry controller decides
// what happens next.
func (v *Validator) Validate(text string, req Request) (string, bool) {
	if strings.TrimSpace(text) == "" {
		v.log.Warn().
			Int("index", req.Index).
			Str("job_type", req.JobType).
			Msg("empty response")
		return "", false
	}

	processed := text
	if req.ValidationText != "" && req.ValidationText != "None" {
		idx := strings.Index(text, req.ValidationText)
		if idx < 0 {
			v.log.Warn().
				Int("index", req.Index).
				Str("val_text", req.ValidationText).
				Msg("validation text not found in response")
			return "", false
		}
		processed = text[idx+len(req.ValidationText):]
	}
	processed = strings.TrimSpace(processed)

	if req.JobType == JobTypeMetadata && len(req.RequiredHeaders) > 0 {
		if !v.checkHeaders(processed, req) {
			return "", false
		}
	}

	return processed, true
}

// checkHeaders enforces the required-header rule for metadata jobs: every
// header must appear as "<header>:" at a line start, with non-empty content
// between it and the nearest following occurrence of any other required
// header (not declaration order).
func (v *Validator) checkHeaders(text string, req Request) bool {
	var missing, empty []string

	for _, header := range req.RequiredHeaders {
		pos := findHeaderLine(text, header)
		if pos < 0 {
			missing = append(missing, header)
			continue
		}

		content := text[pos+len(header)+1:]
		end := len(content)
		for _, other := range req.RequiredHeaders {
			if other == header {
				continue
			}
			if p := strings.Index(content, "\n"+other+":"); p >= 0 && p < end {
				end = p
			}
		}
		if strings.TrimSpace(content[:end]) == "" {
			empty = append(empty, header)
		}
	}

	if len(missing) > 0 {
		v.log.Warn().
			Int("index", req.Index).
			Strs("missing_headers", missing).
			Msg("missing required headers in metadata response")
		return false
	}
	if len(empty) > 0 {
		v.log.Warn().
			Int("index", req.Index).
			Strs("empty_headers", empty).
			Msg("required metadata headers have no content")
		return false
	}
	return true
}

// findHeaderLine returns the offset of "<header>:" at a line start, or -1.
func findHeaderLine(text, header string) int {
	pattern := header + ":"
	if strings.HasPrefix(text, pattern) {
		return 0
	}
	if p := strings.Index(text, "\n"+pattern); p >= 0 {
		return p + 1
	}
	return -1
}
