package ai

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}

func TestPrepareImages_GeminiPassThrough(t *testing.T) {
	atts := []Attachment{{Path: "/tmp/does-not-exist.png"}}

	out, err := PrepareImages(atts, ProviderGemini, true)
	require.NoError(t, err)
	// no reads, no encoding; the adapter uploads raw bytes itself
	assert.Equal(t, atts, out)
}

func TestPrepareImages_NoBase64PassThrough(t *testing.T) {
	atts := []Attachment{{Data: pngHeader}}

	out, err := PrepareImages(atts, ProviderOpenAI, false)
	require.NoError(t, err)
	assert.Equal(t, atts, out)
	assert.Empty(t, out[0].Encoded)
}

func TestPrepareImages_EncodesData(t *testing.T) {
	atts := []Attachment{{Label: "Page 1", Data: pngHeader}}

	out, err := PrepareImages(atts, ProviderOpenAI, true)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Page 1", out[0].Label)
	assert.Equal(t, base64.StdEncoding.EncodeToString(pngHeader), out[0].Encoded)
	assert.Equal(t, "image/png", out[0].MIME)
	// input slice untouched
	assert.Empty(t, atts[0].Encoded)
}

func TestPrepareImages_EncodesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.png")
	require.NoError(t, os.WriteFile(path, pngHeader, 0o644))

	out, err := PrepareImages([]Attachment{{Path: path}}, ProviderAnthropic, true)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString(pngHeader), out[0].Encoded)
}

func TestPrepareImages_KeepsPreEncoded(t *testing.T) {
	enc := base64.StdEncoding.EncodeToString([]byte("raw"))
	out, err := PrepareImages([]Attachment{{Encoded: enc, MIME: "image/webp"}}, ProviderOpenAI, true)
	require.NoError(t, err)
	assert.Equal(t, enc, out[0].Encoded)
	assert.Equal(t, "image/webp", out[0].MIME)
}

func TestPrepareImages_MissingSource(t *testing.T) {
	_, err := PrepareImages([]Attachment{{Label: "empty"}}, ProviderOpenAI, true)
	require.Error(t, err)
	assert.True(t, IsPayload(err))
}

func TestPrepareImages_UnreadableFile(t *testing.T) {
	_, err := PrepareImages([]Attachment{{Path: "/definitely/not/here.png"}}, ProviderOpenAI, true)
	require.Error(t, err)
	assert.True(t, IsPayload(err))
}

func TestPrepareImages_Empty(t *testing.T) {
	out, err := PrepareImages(nil, ProviderOpenAI, true)
	require.NoError(t, err)
	assert.Nil(t, out)
}
