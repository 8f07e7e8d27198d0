package statuscheck

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestCheckRedis(t *testing.T) {
	c := New(Options{Redis: stubPinger{}})
	st := c.checkRedis(context.Background())
	assert.True(t, st.OK)

	c = New(Options{Redis: stubPinger{err: errors.New("connection refused")}})
	st = c.checkRedis(context.Background())
	assert.False(t, st.OK)
	assert.Equal(t, "connection refused", st.Message)

	c = New(Options{})
	assert.False(t, c.checkRedis(context.Background()).OK)
}

func TestCheckS3_NotConfigured(t *testing.T) {
	c := New(Options{})
	st := c.checkS3(context.Background())
	assert.False(t, st.OK)
	assert.Equal(t, "Bucket not configured", st.Message)
}

func TestProviderChecks_MissingKeys(t *testing.T) {
	c := New(Options{})
	ctx := context.Background()

	for name, st := range map[string]Status{
		"openai":    c.checkOpenAI(ctx),
		"anthropic": c.checkAnthropic(ctx),
		"gemini":    c.checkGemini(ctx),
	} {
		assert.False(t, st.OK, name)
		assert.Equal(t, "API key missing", st.Message, name)
	}
}

func TestTrimError(t *testing.T) {
	assert.Equal(t, "", trimError(nil))
	assert.Equal(t, "boom", trimError(errors.New("boom")))

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, trimError(errors.New(string(long))), 120)
}
