package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"factory-telemetry/internal/audit"
	"factory-telemetry/internal/observability/metrics"
	tenancy "factory-telemetry/internal/tenancy/domain"
)

const (
	defaultTenantTTL = time.Hour
	defaultDeviceTTL = 30 * time.Minute
	defaultKeyPrefix = "telemetry:identity:"

	kindTenant = "tenant"
	kindDevice = "device"
)

// Resolver maps tenant slugs and device keys to stored identities, cache first.
type Resolver struct {
	cache     CacheLayer
	durable   DurableLayer
	audit     audit.Logger
	logger    *zap.Logger
	tenantTTL time.Duration
	deviceTTL time.Duration
	prefix    string
	now       func() time.Time
}

// Option configures the resolver.
type Option func(*Resolver)

// WithTenantTTL overrides the tenant entry TTL.
func WithTenantTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.tenantTTL = ttl
		}
	}
}

// WithDeviceTTL overrides the device entry TTL.
func WithDeviceTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.deviceTTL = ttl
		}
	}
}

// WithKeyPrefix overrides the cache key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(r *Resolver) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithAuditLogger records device auto-creation.
func WithAuditLogger(logger audit.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.audit = logger
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the time source used for device creation.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver constructs a Resolver. A nil cache disables caching.
func NewResolver(cache CacheLayer, durable DurableLayer, opts ...Option) (*Resolver, error) {
	if durable == nil {
		return nil, errors.New("identity cache: nil durable layer")
	}
	if cache == nil {
		cache = NoopLayer{}
	}
	r := &Resolver{
		cache:     cache,
		durable:   durable,
		logger:    zap.NewNop(),
		tenantTTL: defaultTenantTTL,
		deviceTTL: defaultDeviceTTL,
		prefix:    defaultKeyPrefix,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ResolveTenant returns the tenant for slug or tenancy.ErrTenantNotFound.
func (r *Resolver) ResolveTenant(ctx context.Context, slug string) (*tenancy.Tenant, error) {
	if slug == "" {
		return nil, tenancy.ErrTenantNotFound
	}
	key := r.prefix + "tenant:" + slug
	var cached tenancy.Tenant
	if r.lookup(ctx, kindTenant, key, &cached) {
		return &cached, nil
	}

	tenant, err := r.durable.GetBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("identity cache: load tenant %q: %w", slug, err)
	}
	if tenant == nil {
		return nil, tenancy.ErrTenantNotFound
	}
	r.store(ctx, kindTenant, key, tenant, r.tenantTTL)
	return tenant, nil
}

// ResolveOrCreateDevice returns the device for key, creating it with defaults on first sight.
func (r *Resolver) ResolveOrCreateDevice(ctx context.Context, tenant *tenancy.Tenant, deviceKey string) (*tenancy.Device, error) {
	if tenant == nil || tenant.ID == 0 {
		return nil, errors.New("identity cache: nil tenant")
	}
	if deviceKey == "" {
		return nil, errors.New("identity cache: empty device key")
	}
	key := r.prefix + "device:" + strconv.FormatInt(tenant.ID, 10) + ":" + deviceKey
	var cached tenancy.Device
	if r.lookup(ctx, kindDevice, key, &cached) {
		return &cached, nil
	}

	device, err := r.durable.GetByKey(ctx, tenant.ID, deviceKey)
	if err != nil {
		return nil, fmt.Errorf("identity cache: load device %q: %w", deviceKey, err)
	}
	if device == nil {
		var created bool
		device, created, err = r.durable.CreateOrGet(ctx, tenant.ID, deviceKey, r.now())
		if err != nil {
			return nil, fmt.Errorf("identity cache: create device %q: %w", deviceKey, err)
		}
		if created {
			r.logger.Info("device auto-created",
				zap.String("tenant", tenant.Slug),
				zap.String("device", deviceKey),
				zap.Int64("device_id", device.ID),
			)
			r.recordCreation(ctx, tenant, device)
		}
	}
	r.store(ctx, kindDevice, key, device, r.deviceTTL)
	return device, nil
}

// TouchLastSeen writes last_seen_at directly to durable storage.
func (r *Resolver) TouchLastSeen(ctx context.Context, deviceID int64, at time.Time) error {
	return r.durable.TouchLastSeen(ctx, deviceID, at)
}

// Device reads a device from durable storage, bypassing the cache.
func (r *Resolver) Device(ctx context.Context, tenantID int64, deviceKey string) (*tenancy.Device, error) {
	return r.durable.GetByKey(ctx, tenantID, deviceKey)
}

func (r *Resolver) lookup(ctx context.Context, kind, key string, dst any) bool {
	data, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		metrics.IncCacheError(kind)
		r.logger.Warn("identity cache read failed", zap.String("kind", kind), zap.String("key", key), zap.Error(err))
		return false
	}
	if !ok {
		metrics.IncCacheLookup(kind, metrics.CacheMiss)
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		metrics.IncCacheError(kind)
		r.logger.Warn("identity cache entry corrupt", zap.String("kind", kind), zap.String("key", key), zap.Error(err))
		return false
	}
	metrics.IncCacheLookup(kind, metrics.CacheHit)
	return true
}

func (r *Resolver) store(ctx context.Context, kind, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, data, ttl); err != nil {
		metrics.IncCacheError(kind)
		r.logger.Warn("identity cache write failed", zap.String("kind", kind), zap.String("key", key), zap.Error(err))
	}
}

func (r *Resolver) recordCreation(ctx context.Context, tenant *tenancy.Tenant, device *tenancy.Device) {
	if r.audit == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"tenant_id":  tenant.ID,
		"device_key": device.DeviceKey,
	})
	err := r.audit.Log(ctx, audit.Entry{
		TenantID:     tenant.Slug,
		Actor:        "ingest",
		Action:       audit.ActionDeviceAutoCreate,
		ResourceType: "device",
		ResourceID:   strconv.FormatInt(device.ID, 10),
		Metadata:     meta,
		CreatedAt:    r.now(),
	})
	if err != nil {
		r.logger.Warn("audit log failed", zap.String("action", audit.ActionDeviceAutoCreate), zap.Error(err))
	}
}
