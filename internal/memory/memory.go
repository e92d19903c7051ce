// Package memory keeps a short free-form summary per device that is
// substituted into the system prompt at session start.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"yuzu/voicegw/internal/dialogue"
	"yuzu/voicegw/internal/llm"
)

var ErrNotFound = errors.New("memory: no summary")

type Store interface {
	Load(ctx context.Context, key string) (string, error)
	Save(ctx context.Context, key, summary string) error
}

// RedisStore keeps one string per device under Prefix+key.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) Load(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("memory load %s: %w", key, err)
	}
	return v, nil
}

func (s *RedisStore) Save(ctx context.Context, key, summary string) error {
	if err := s.rdb.Set(ctx, s.prefix+key, summary, 0).Err(); err != nil {
		return fmt.Errorf("memory save %s: %w", key, err)
	}
	return nil
}

type MemStore struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewMemStore() *MemStore { return &MemStore{m: make(map[string]string)} }

func (s *MemStore) Load(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemStore) Save(_ context.Context, key, summary string) error {
	s.mu.Lock()
	s.m[key] = summary
	s.mu.Unlock()
	return nil
}

const summarizePrompt = `You maintain a short memory about the user of a voice assistant.
Merge the previous memory with the new conversation. Keep durable facts
(name, preferences, ongoing plans) and drop small talk. Answer with the
updated memory only, at most 200 words.`

// Summarizer merges the stored summary with a conversation transcript.
type Summarizer struct {
	store    Store
	provider llm.Provider
	model    string
	timeout  time.Duration
	log      *zap.Logger
}

func NewSummarizer(store Store, p llm.Provider, model string, log *zap.Logger) *Summarizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Summarizer{store: store, provider: p, model: model, timeout: 30 * time.Second, log: log}
}

// Load returns the current summary, or "" when there is none or the store
// is unavailable.
func (s *Summarizer) Load(ctx context.Context, key string) string {
	v, err := s.store.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warn("memory load failed", zap.String("key", key), zap.Error(err))
		}
		return ""
	}
	return v
}

// Update summarizes msgs together with the previous summary and saves the
// result. An empty transcript is a no-op.
func (s *Summarizer) Update(ctx context.Context, key string, msgs []dialogue.Message) (string, error) {
	transcript := dialogue.Transcript(msgs)
	if strings.TrimSpace(transcript) == "" {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prev := s.Load(ctx, key)
	user := "Previous memory:\n" + prev + "\n\nConversation:\n" + transcript
	out, err := s.provider.Complete(ctx, llm.Request{
		Model: s.model,
		Messages: []dialogue.Message{
			{Role: dialogue.RoleSystem, Content: summarizePrompt},
			{Role: dialogue.RoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return prev, nil
	}
	if err := s.store.Save(ctx, key, out); err != nil {
		return "", err
	}
	return out, nil
}
