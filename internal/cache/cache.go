// Package cache keeps recent pipeline results in Redis, keyed by recipe and
// normalized parameters. Results are stored as BSON so document field order and
// value types survive the round trip.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/campusdesk/analytics/internal/engine"
)

// Cache stores pipeline results.
type Cache interface {
	Get(ctx context.Context, key string) (*engine.Result, bool, error)
	Set(ctx context.Context, key string, res *engine.Result) error
	Invalidate(ctx context.Context) (int, error)
}

// Key derives a cache key from a recipe name and its normalized parameters.
func Key(recipe string, params any) (string, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("cache key for %s: %w", recipe, err)
	}
	sum := sha256.Sum256(append([]byte(recipe+"\x00"), b...))
	return recipe + ":" + hex.EncodeToString(sum[:16]), nil
}

// RedisCache implements Cache on Redis with a fixed TTL per entry.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a Redis result cache. Prefix may be empty.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "analytics:"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) key(k string) string { return c.prefix + k }

// wire is the stored form of a result.
type wire struct {
	Documents []bson.D            `bson:"documents"`
	Branches  map[string][]bson.D `bson:"branches,omitempty"`
	Branched  bool                `bson:"branched"`
}

func toWire(docs []engine.Document) []bson.D {
	out := make([]bson.D, len(docs))
	for i, d := range docs {
		out[i] = bson.D(d)
	}
	return out
}

func fromWire(docs []bson.D) []engine.Document {
	out := make([]engine.Document, len(docs))
	for i, d := range docs {
		out[i] = engine.FromBSON(d)
	}
	return out
}

func (c *RedisCache) Get(ctx context.Context, key string) (*engine.Result, bool, error) {
	b, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var w wire
	if err := bson.Unmarshal(b, &w); err != nil {
		// unreadable entries are dropped and treated as a miss
		_ = c.client.Del(ctx, c.key(key)).Err()
		return nil, false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	res := &engine.Result{}
	if w.Branched {
		res.Branches = make(map[string][]engine.Document, len(w.Branches))
		for name, docs := range w.Branches {
			res.Branches[name] = fromWire(docs)
		}
	} else {
		res.Documents = fromWire(w.Documents)
	}
	return res, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, res *engine.Result) error {
	if c.ttl <= 0 {
		return nil
	}
	w := wire{Documents: toWire(res.Documents), Branched: res.IsBranch()}
	if res.IsBranch() {
		w.Documents = nil
		w.Branches = make(map[string][]bson.D, len(res.Branches))
		for name, docs := range res.Branches {
			w.Branches[name] = toWire(docs)
		}
	}
	b, err := bson.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.client.Set(ctx, c.key(key), b, c.ttl).Err()
}

// Invalidate removes every entry under the cache prefix and returns how many were
// deleted. The seeder calls it after loading new data.
func (c *RedisCache) Invalidate(ctx context.Context) (int, error) {
	n := 0
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return n, err
		}
		n++
	}
	return n, iter.Err()
}
