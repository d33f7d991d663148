// Package redis puts a Redis lookup cache in front of a sourcing.ProductStore.
// Cache failures never fail a store call; they are logged and the backing
// store answers instead.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

// DefaultTTL bounds how long a cached product may be served.
const DefaultTTL = 10 * time.Minute

// Client is the subset of *redis.Client the cache needs.
type Client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
}

// ProductStore decorates a backing store with a read-through cache keyed by
// (source, externalId).
type ProductStore struct {
	next   sourcing.ProductStore
	client Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

// Option configures the cache.
type Option func(*ProductStore)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *ProductStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithPrefix namespaces cache keys.
func WithPrefix(prefix string) Option {
	return func(s *ProductStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *ProductStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New wraps next with the cache.
func New(next sourcing.ProductStore, client Client, opts ...Option) (*ProductStore, error) {
	if next == nil {
		return nil, errors.New("backing product store is required")
	}
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	s := &ProductStore{
		next:   next,
		client: client,
		ttl:    DefaultTTL,
		prefix: "sourcer",
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Connect builds a client and pings it.
func Connect(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return client, nil
}

func (s *ProductStore) productKey(source sourcing.Source, externalID string) string {
	return fmt.Sprintf("%s:product:%s:%s", s.prefix, source, externalID)
}

func (s *ProductStore) idKey(id string) string {
	return fmt.Sprintf("%s:product-id:%s", s.prefix, id)
}

// FindByExternalID serves from cache when possible and fills it on a miss.
func (s *ProductStore) FindByExternalID(ctx context.Context, source sourcing.Source, externalID string) (sourcing.Product, error) {
	key := s.productKey(source, externalID)
	data, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var product sourcing.Product
		if uerr := json.Unmarshal(data, &product); uerr == nil {
			return product, nil
		}
		s.logger.Warn("dropping corrupt cache entry", zap.String("key", key))
		_ = s.client.Del(ctx, key).Err()
	case !errors.Is(err, goredis.Nil):
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	}

	product, err := s.next.FindByExternalID(ctx, source, externalID)
	if err != nil {
		return sourcing.Product{}, err
	}
	s.fill(ctx, product)
	return product, nil
}

// Create writes through to the backing store, then caches the new row.
func (s *ProductStore) Create(ctx context.Context, product sourcing.Product) error {
	if err := s.next.Create(ctx, product); err != nil {
		return err
	}
	s.fill(ctx, product)
	return nil
}

// UpdateVolatile writes through and evicts the cached row.
func (s *ProductStore) UpdateVolatile(ctx context.Context, id string, fields sourcing.VolatileFields) error {
	if err := s.next.UpdateVolatile(ctx, id, fields); err != nil {
		return err
	}
	s.evict(ctx, id)
	return nil
}

// CountBySource is never cached.
func (s *ProductStore) CountBySource(ctx context.Context) (map[sourcing.Source]int, error) {
	return s.next.CountBySource(ctx)
}

func (s *ProductStore) fill(ctx context.Context, product sourcing.Product) {
	data, err := json.Marshal(product)
	if err != nil {
		s.logger.Warn("marshal product for cache", zap.String("id", product.ID), zap.Error(err))
		return
	}
	key := s.productKey(product.Source, product.ExternalID)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.client.Set(ctx, s.idKey(product.ID), key, s.ttl).Err(); err != nil {
		s.logger.Warn("cache index set failed", zap.String("id", product.ID), zap.Error(err))
	}
}

func (s *ProductStore) evict(ctx context.Context, id string) {
	idKey := s.idKey(id)
	key, err := s.client.Get(ctx, idKey).Result()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			s.logger.Warn("cache index get failed", zap.String("id", id), zap.Error(err))
		}
		return
	}
	if err := s.client.Del(ctx, key, idKey).Err(); err != nil {
		s.logger.Warn("cache evict failed", zap.String("id", id), zap.Error(err))
	}
}
