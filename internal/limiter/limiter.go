package limiter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Adaptive bounds inflight requests per provider:engine locally and keeps a
// shared cooldown window in Redis so several workers back off together.
type Adaptive struct {
	rdb         *redis.Client
	maxInflight int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	mu          sync.Mutex
	sem         map[string]chan struct{}
}

type Options struct {
	RedisURL    string
	MaxInflight int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func New(opts Options) (*Adaptive, error) {
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 2
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 30 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 5 * time.Minute
	}
	ro, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(ro)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &Adaptive{rdb: c, maxInflight: opts.MaxInflight, baseBackoff: opts.BaseBackoff, maxBackoff: opts.MaxBackoff, sem: map[string]chan struct{}{}}, nil
}

func (a *Adaptive) key(provider, engine string) string {
	return fmt.Sprintf("cooldown:%s:%s", strings.ToLower(provider), strings.ToLower(engine))
}

// InCooldown returns true if the provider:engine pair is cooling down.
func (a *Adaptive) InCooldown(ctx context.Context, provider, engine string) bool {
	ts, err := a.rdb.Get(ctx, a.key(provider, engine)).Int64()
	if err != nil {
		return false
	}
	return time.Now().Unix() < ts
}

// StartCooldown sets/extends the cooldown with exponential backoff per
// consecutive failure.
func (a *Adaptive) StartCooldown(ctx context.Context, provider, engine string) {
	k := a.key(provider, engine)
	cntKey := k + ":attempts"
	attempts, _ := a.rdb.Incr(ctx, cntKey).Result()
	if attempts < 1 {
		attempts = 1
	}
	d := a.baseBackoff * (1 << (attempts - 1))
	if d > a.maxBackoff {
		d = a.maxBackoff
	}
	until := time.Now().Add(d).Unix()
	_ = a.rdb.Set(ctx, k, until, d).Err()
}

// ClearCooldown resets the cooldown for provider:engine.
func (a *Adaptive) ClearCooldown(ctx context.Context, provider, engine string) {
	k := a.key(provider, engine)
	_ = a.rdb.Del(ctx, k, k+":attempts").Err()
}

// Allow tries to reserve a local in-process slot for provider:engine.
// Returns a release function and true if allowed; otherwise nil,false.
func (a *Adaptive) Allow(provider, engine string) (func(), bool) {
	key := strings.ToLower(provider) + ":" + strings.ToLower(engine)
	a.mu.Lock()
	ch, ok := a.sem[key]
	if !ok {
		ch = make(chan struct{}, a.maxInflight)
		a.sem[key] = ch
	}
	a.mu.Unlock()
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	default:
		return func() {}, false
	}
}

func (a *Adaptive) CloseClient() error { return a.rdb.Close() }
