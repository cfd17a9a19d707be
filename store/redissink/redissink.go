// Package redissink implements the classifier response cache
// (classify.Cache), the dedup/rate-limit primitives backing limiter, and
// an advisory capability.Sink, all on redis/go-redis/v9 — the client the
// pack's worker service uses for its OAuth-state and stream adapters.
package redissink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chittyos/chittyrouter-sub005/capability"
)

// New wraps an already-configured *redis.Client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Store is the shared Redis-backed primitive set: classifier cache,
// sliding-window counters, content-hash dedup, and an advisory Sink.
type Store struct {
	client *redis.Client
}

// --- classify.Cache ---

type cachedClassification struct {
	capability.Classification
}

func classifyKey(key string) string { return "chittyrouter:" + key }

// Get implements classify.Cache.
func (s *Store) Get(ctx context.Context, key string) (capability.Classification, bool, error) {
	raw, err := s.client.Get(ctx, classifyKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return capability.Classification{}, false, nil
	}
	if err != nil {
		return capability.Classification{}, false, err
	}
	var cached cachedClassification
	if err := json.Unmarshal(raw, &cached); err != nil {
		return capability.Classification{}, false, err
	}
	return cached.Classification, true, nil
}

// Put implements classify.Cache.
func (s *Store) Put(ctx context.Context, key string, v capability.Classification, ttl time.Duration) error {
	raw, err := json.Marshal(cachedClassification{v})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, classifyKey(key), raw, ttl).Err()
}

// --- rate limiting (C8) ---

// Incr atomically increments the sliding-window counter for key and sets
// its expiry on first increment only, using a pipeline so the two Redis
// calls are a single round trip — the same INCR-then-conditional-EXPIRE
// pattern the pack's stream producers use for their publish pipelines.
func (s *Store) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Count reads the current window counter without incrementing it.
func (s *Store) Count(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// --- content-hash dedup (C8) ---

// SeenOrMark atomically checks-and-sets a content-hash dedup key: it
// reports true (already seen) if the key existed, and otherwise marks it
// with ttl. SetNX's atomicity is what makes this race-free under
// concurrent intake without an external lock.
func (s *Store) SeenOrMark(ctx context.Context, contentHash string, ttl time.Duration) (bool, error) {
	key := "dedup:" + contentHash
	ok, err := s.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil // SetNX returns true when it set the key (i.e. not seen before)
}

// --- advisory capability.Sink ---

// Sink is the advisory capability.Sink backed by the same Redis client as
// Store's cache/limiter roles; it is a distinct type (rather than methods
// on Store itself) because Cache and capability.Sink both declare a Get
// method with incompatible signatures.
type Sink struct {
	store *Store
}

// AsSink returns an advisory capability.Sink view over s.
func (s *Store) AsSink() *Sink { return &Sink{store: s} }

const sinkName = "redis_cache"

func (s *Sink) Name() string             { return sinkName }
func (s *Sink) AcceptsFullContent() bool { return false } // previews only; not a durable content store
func (s *Sink) SupportsTTL() bool        { return true }

type sinkRecord struct {
	Meta  capability.SinkMetadata
	Value []byte
}

// Put stores a preview-sized advisory copy, keyed and TTL'd natively by
// Redis.
func (s *Sink) Put(ctx context.Context, key string, value []byte, meta capability.SinkMetadata) error {
	raw, err := json.Marshal(sinkRecord{Meta: meta, Value: value})
	if err != nil {
		return err
	}
	ttl := meta.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return s.store.client.Set(ctx, sinkKey(key), raw, ttl).Err()
}

func (s *Sink) Get(ctx context.Context, key string) ([]byte, error) {
	rec, err := s.getRecord(ctx, key)
	if err != nil {
		return nil, err
	}
	return rec.Value, nil
}

func (s *Sink) Head(ctx context.Context, key string) (capability.SinkMetadata, error) {
	rec, err := s.getRecord(ctx, key)
	if err != nil {
		return capability.SinkMetadata{}, err
	}
	return rec.Meta, nil
}

func (s *Sink) Delete(ctx context.Context, key string) error {
	return s.store.client.Del(ctx, sinkKey(key)).Err()
}

func (s *Sink) getRecord(ctx context.Context, key string) (sinkRecord, error) {
	raw, err := s.store.client.Get(ctx, sinkKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return sinkRecord{}, capability.NewError(capability.InputInvalid, "sink_key_not_found", nil)
	}
	if err != nil {
		return sinkRecord{}, err
	}
	var rec sinkRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return sinkRecord{}, err
	}
	return rec, nil
}

func sinkKey(key string) string { return fmt.Sprintf("sink:%s:%s", sinkName, key) }
