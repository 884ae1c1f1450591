package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"

	tenancy "factory-telemetry/internal/tenancy/domain"
)

// CacheLayer is the fast tier in front of durable storage.
type CacheLayer interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// DurableLayer is the source of truth for tenants and devices.
type DurableLayer interface {
	tenancy.TenantRepository
	tenancy.DeviceRepository
}

type durable struct {
	tenancy.TenantRepository
	tenancy.DeviceRepository
}

// NewDurableLayer combines tenant and device repositories.
func NewDurableLayer(tenants tenancy.TenantRepository, devices tenancy.DeviceRepository) (DurableLayer, error) {
	if tenants == nil || devices == nil {
		return nil, errors.New("identity cache: nil repository")
	}
	return durable{TenantRepository: tenants, DeviceRepository: devices}, nil
}

// MemoryLayer is a process-local cache backed by go-cache.
type MemoryLayer struct {
	items *gocache.Cache
}

// NewMemoryLayer constructs a MemoryLayer that purges expired items every cleanup interval.
func NewMemoryLayer(cleanup time.Duration) *MemoryLayer {
	if cleanup <= 0 {
		cleanup = 10 * time.Minute
	}
	return &MemoryLayer{items: gocache.New(gocache.NoExpiration, cleanup)}
}

// Get returns a cached value.
func (m *MemoryLayer) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, ok := m.items.Get(key)
	if !ok {
		return nil, false, nil
	}
	data, ok := value.([]byte)
	if !ok {
		return nil, false, nil
	}
	return data, true, nil
}

// Set stores a value with a TTL.
func (m *MemoryLayer) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.items.Set(key, value, ttl)
	return nil
}

// RedisLayer shares cached identities between engine instances.
type RedisLayer struct {
	client *redis.Client
}

// NewRedisLayer constructs a RedisLayer.
func NewRedisLayer(client *redis.Client) (*RedisLayer, error) {
	if client == nil {
		return nil, errors.New("identity cache: nil redis client")
	}
	return &RedisLayer{client: client}, nil
}

// Get returns a cached value.
func (r *RedisLayer) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Set stores a value with a TTL.
func (r *RedisLayer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// NoopLayer disables caching.
type NoopLayer struct{}

// Get always misses.
func (NoopLayer) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

// Set discards the value.
func (NoopLayer) Set(context.Context, string, []byte, time.Duration) error { return nil }
