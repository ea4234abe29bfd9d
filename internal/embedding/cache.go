package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "screener:emb_cache:"

// ErrCacheMiss is returned by a Store when the key is absent.
var ErrCacheMiss = errors.New("embedding cache miss")

// Store is the key-value backend of the cache.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// CachedProvider memoizes vectors by model, dimensions and text so identical
// profiles (and re-runs after a failure) do not pay for a second remote call.
type CachedProvider struct {
	inner      Provider
	store      Store
	dimensions int
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// NewCachedProvider creates a caching decorator. dimensions is the vector
// length the provider is configured for; cached entries of another length
// are misses. Zero disables the length check. cacheTotal is a counter vec
// with label "result" ("hit"/"miss") and may be nil.
func NewCachedProvider(inner Provider, store Store, dimensions int, cacheTotal *prometheus.CounterVec, logger *zap.Logger) *CachedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedProvider{
		inner:      inner,
		store:      store,
		dimensions: dimensions,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

func (c *CachedProvider) Model() string { return c.inner.Model() }

// Embed returns a cached vector or calls the inner provider. Store failures
// only cost a cache miss.
func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)

	if vec, ok := c.getFromCache(ctx, key); ok {
		c.incCache("hit")
		return vec, nil
	}

	c.incCache("miss")

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}

	c.putToCache(ctx, key, vec)
	return vec, nil
}

func (c *CachedProvider) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

func (c *CachedProvider) cacheKey(text string) string {
	h := sha256.New()
	h.Write([]byte(c.inner.Model()))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(c.dimensions)))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return cacheKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

func (c *CachedProvider) getFromCache(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Warn("failed to get cached embedding", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}

	vec, err := bytesToVector(data)
	if err != nil {
		c.logger.Warn("failed to parse cached embedding", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if c.dimensions > 0 && len(vec) != c.dimensions {
		c.logger.Warn("cached embedding has unexpected dimensions",
			zap.String("key", key),
			zap.Int("got", len(vec)),
			zap.Int("want", c.dimensions),
		)
		return nil, false
	}

	return vec, true
}

func (c *CachedProvider) putToCache(ctx context.Context, key string, vec []float32) {
	if err := c.store.Set(ctx, key, vectorToBytes(vec)); err != nil {
		c.logger.Warn("failed to cache embedding", zap.String("key", key), zap.Error(err))
	}
}

func vectorToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding cache data: len=%d (not multiple of 4)", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

// RedisStore keeps cache entries in Redis with a fixed TTL.
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisStore wraps a go-redis client. A zero ttl keeps entries forever.
func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
