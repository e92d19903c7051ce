// Package quota tracks how many characters of assistant output each device
// has consumed today.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter implementations never limit an empty device id, and a limit of
// zero or less disables the check.
type Counter interface {
	Add(ctx context.Context, device string, n int) error
	Exceeded(ctx context.Context, device string, limit int) (bool, error)
}

func day(t time.Time) string { return t.Format("20060102") }

// MemCounter is process-local and forgets yesterday on the first call of a
// new day.
type MemCounter struct {
	mu    sync.Mutex
	date  string
	used  map[string]int
	clock func() time.Time
}

func NewMemCounter() *MemCounter {
	return &MemCounter{used: make(map[string]int), clock: time.Now}
}

// WithClock replaces the time source; for tests.
func (c *MemCounter) WithClock(now func() time.Time) *MemCounter {
	c.clock = now
	return c
}

func (c *MemCounter) roll() {
	if d := day(c.clock()); d != c.date {
		c.date = d
		c.used = make(map[string]int)
	}
}

func (c *MemCounter) Add(_ context.Context, device string, n int) error {
	if device == "" || n <= 0 {
		return nil
	}
	c.mu.Lock()
	c.roll()
	c.used[device] += n
	c.mu.Unlock()
	return nil
}

func (c *MemCounter) Exceeded(_ context.Context, device string, limit int) (bool, error) {
	if device == "" || limit <= 0 {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roll()
	return c.used[device] >= limit, nil
}

// RedisCounter shares the budget across gateway instances.
type RedisCounter struct {
	rdb   redis.UniversalClient
	clock func() time.Time
}

const keyTTL = 48 * time.Hour

func NewRedisCounter(rdb redis.UniversalClient) *RedisCounter {
	return &RedisCounter{rdb: rdb, clock: time.Now}
}

func (c *RedisCounter) WithClock(now func() time.Time) *RedisCounter {
	c.clock = now
	return c
}

func (c *RedisCounter) key(device string) string {
	return "voicegw:output:" + device + ":" + day(c.clock())
}

func (c *RedisCounter) Add(ctx context.Context, device string, n int) error {
	if device == "" || n <= 0 {
		return nil
	}
	k := c.key(device)
	pipe := c.rdb.TxPipeline()
	pipe.IncrBy(ctx, k, int64(n))
	pipe.Expire(ctx, k, keyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("quota add: %w", err)
	}
	return nil
}

func (c *RedisCounter) Exceeded(ctx context.Context, device string, limit int) (bool, error) {
	if device == "" || limit <= 0 {
		return false, nil
	}
	n, err := c.rdb.Get(ctx, c.key(device)).Int()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("quota read: %w", err)
	}
	return n >= limit, nil
}
