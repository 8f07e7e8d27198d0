package filetype

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ImageMIME detects the media type of image bytes using magic bytes, not
// filenames. Unrecognized or non-image content falls back to image/jpeg,
// the type every provider accepts for document scans.
func ImageMIME(data []byte) string {
	mtype := mimetype.Detect(data)
	if mtype == nil {
		return "image/jpeg"
	}
	m := mtype.String()
	if !strings.HasPrefix(m, "image/") {
		return "image/jpeg"
	}
	return m
}
