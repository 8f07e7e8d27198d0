package ai

import (
	"encoding/base64"
	"os"

	"github.com/local/airouter/internal/filetype"
)

// PrepareImages converts attachments into the encoding the target provider
// requires. Gemini consumes raw paths/bytes (they are uploaded per request),
// so attachments pass through unchanged. OpenAI and Anthropic embed images
// inline, so when the base64 flag is set each attachment is read and a
// base64 copy is derived. The input slice is never mutated.
func PrepareImages(atts []Attachment, provider Provider, useBase64 bool) ([]Attachment, error) {
	if len(atts) == 0 {
		return nil, nil
	}

	if provider == ProviderGemini || !useBase64 {
		return atts, nil
	}

	out := make([]Attachment, 0, len(atts))
	for _, att := range atts {
		enc, err := encodeAttachment(att, provider)
		if err != nil {
			return nil, err
		}
		out = append(out, enc)
	}
	return out, nil
}

func encodeAttachment(att Attachment, provider Provider) (Attachment, error) {
	enc := Attachment{Label: att.Label, MIME: att.MIME}

	switch {
	case att.Encoded != "":
		enc.Encoded = att.Encoded
	case att.Data != nil:
		enc.Encoded = base64.StdEncoding.EncodeToString(att.Data)
		if enc.MIME == "" {
			enc.MIME = filetype.ImageMIME(att.Data)
		}
	case att.Path != "":
		data, err := os.ReadFile(att.Path)
		if err != nil {
			return Attachment{}, &PayloadError{
				Provider: provider.String(),
				Reason:   "read image " + att.Path,
				Err:      err,
			}
		}
		enc.Encoded = base64.StdEncoding.EncodeToString(data)
		if enc.MIME == "" {
			enc.MIME = filetype.ImageMIME(data)
		}
	default:
		return Attachment{}, &PayloadError{
			Provider: provider.String(),
			Reason:   "attachment has no path, data or encoded payload",
		}
	}

	if enc.MIME == "" {
		enc.MIME = "image/jpeg"
	}
	return enc, nil
}
