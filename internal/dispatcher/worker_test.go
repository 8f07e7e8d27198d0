package dispatcher

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/airouter/internal/ai"
)

func TestJob_Request(t *testing.T) {
	job := Job{
		JobID:           "j1",
		Index:           4,
		Total:           10,
		Engine:          "claude-sonnet-4",
		SystemPrompt:    "sys",
		UserPrompt:      "do {text_to_process}",
		Temperature:     0.3,
		TextToProcess:   "page text",
		ValidationText:  "DONE",
		JobType:         "Metadata",
		RequiredHeaders: []string{"Title"},
		IsBase64:        true,
		Images: []JobImage{
			{Label: "Page 4", Encoded: "QUJD"},
			{Path: "/tmp/p5.png"},
		},
		TimeoutSec: 30,
	}

	req := job.Request()
	assert.Equal(t, "claude-sonnet-4", req.Engine)
	assert.Equal(t, 4, req.Index)
	assert.Equal(t, "sys", req.SystemPrompt)
	assert.Equal(t, 0.3, req.Temperature)
	assert.Equal(t, "DONE", req.ValidationText)
	assert.Equal(t, ai.JobTypeMetadata, req.JobType)
	assert.Equal(t, []string{"Title"}, req.RequiredHeaders)
	assert.True(t, req.Base64)
	assert.Equal(t, 30*time.Second, req.Timeout)

	require.Len(t, req.Images, 2)
	assert.Equal(t, ai.Attachment{Label: "Page 4", Encoded: "QUJD"}, req.Images[0])
	assert.Equal(t, ai.Attachment{Path: "/tmp/p5.png"}, req.Images[1])

	assert.Equal(t, "do page text", req.Prompt())
}

func TestJob_RequestNoTimeout(t *testing.T) {
	req := Job{Engine: "gpt-4o"}.Request()
	assert.Equal(t, time.Duration(0), req.Timeout)
}

func TestJob_JSONRoundTrip(t *testing.T) {
	in := Job{JobID: "j1", Index: 1, Total: 2, Engine: "gpt-4o", UserPrompt: "p"}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Job
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}
