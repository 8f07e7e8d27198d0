package store

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
)

// ResultStore keeps routed document results in Redis, one hash per
// job/index pair.
type ResultStore struct {
	client *redis.Client
}

func NewResultStore(redisURL string) (*ResultStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &ResultStore{client: c}, nil
}

func (s *ResultStore) Close() error { return s.client.Close() }

func (s *ResultStore) resultKey(jobID string, index int) string {
	return fmt.Sprintf("job:%s:doc:%d", jobID, index)
}

// SaveResult records the routed text for one document index, with the
// provider and engine that produced it.
func (s *ResultStore) SaveResult(ctx context.Context, jobID string, index int, text, provider, engine string) error {
	m := map[string]interface{}{"text": text}
	if provider != "" {
		m["provider"] = provider
	}
	if engine != "" {
		m["engine"] = engine
	}
	return s.client.HSet(ctx, s.resultKey(jobID, index), m).Err()
}

// GetResult returns the stored text for a document index, empty if absent.
func (s *ResultStore) GetResult(ctx context.Context, jobID string, index int) (string, error) {
	res, err := s.client.HGet(ctx, s.resultKey(jobID, index), "text").Result()
	if err == redis.Nil {
		return "", nil
	}
	return res, err
}

// GetResultDetail returns text, provider and engine for a document index.
func (s *ResultStore) GetResultDetail(ctx context.Context, jobID string, index int) (string, string, string, error) {
	res, err := s.client.HGetAll(ctx, s.resultKey(jobID, index)).Result()
	if err != nil {
		return "", "", "", err
	}
	return res["text"], res["provider"], res["engine"], nil
}

// AggregateText concatenates stored results for indexes 1..total, skipping
// gaps.
func (s *ResultStore) AggregateText(ctx context.Context, jobID string, total int) (string, error) {
	var sb strings.Builder
	for i := 1; i <= total; i++ {
		t, err := s.GetResult(ctx, jobID, i)
		if err != nil {
			return sb.String(), err
		}
		if t != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(t)
		}
	}
	return sb.String(), nil
}
