package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"factory-telemetry/internal/audit"
	tenancy "factory-telemetry/internal/tenancy/domain"
	"factory-telemetry/internal/tenancy/infrastructure/memory"
)

type countingDurable struct {
	*memory.Repository
	tenantReads atomic.Int32
	deviceReads atomic.Int32
}

func (c *countingDurable) GetBySlug(ctx context.Context, slug string) (*tenancy.Tenant, error) {
	c.tenantReads.Add(1)
	return c.Repository.GetBySlug(ctx, slug)
}

func (c *countingDurable) GetByKey(ctx context.Context, tenantID int64, key string) (*tenancy.Device, error) {
	c.deviceReads.Add(1)
	return c.Repository.GetByKey(ctx, tenantID, key)
}

func newDurable() (*countingDurable, tenancy.Tenant) {
	repo := memory.NewRepository()
	tenant := repo.AddTenant(tenancy.Tenant{Slug: "vpc", Name: "VPC", Timezone: "Europe/Berlin"})
	return &countingDurable{Repository: repo}, tenant
}

func TestResolveTenantCachesInMemory(t *testing.T) {
	durable, _ := newDurable()
	resolver, err := NewResolver(NewMemoryLayer(time.Minute), durable)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		tenant, err := resolver.ResolveTenant(context.Background(), "vpc")
		require.NoError(t, err)
		assert.Equal(t, "Europe/Berlin", tenant.Timezone)
	}
	assert.Equal(t, int32(1), durable.tenantReads.Load())
}

func TestResolveTenantUnknown(t *testing.T) {
	durable, _ := newDurable()
	resolver, err := NewResolver(nil, durable)
	require.NoError(t, err)

	_, err = resolver.ResolveTenant(context.Background(), "ghost")
	assert.True(t, errors.Is(err, tenancy.ErrTenantNotFound))
}

func TestResolveOrCreateDeviceAuditsCreation(t *testing.T) {
	durable, tenant := newDurable()
	auditLog := audit.NewMemoryLogger()
	resolver, err := NewResolver(NewMemoryLayer(time.Minute), durable, WithAuditLogger(auditLog))
	require.NoError(t, err)

	first, err := resolver.ResolveOrCreateDevice(context.Background(), &tenant, "M01")
	require.NoError(t, err)
	second, err := resolver.ResolveOrCreateDevice(context.Background(), &tenant, "M01")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.IsActive)
	assert.Equal(t, 1, durable.DeviceCount())
	assert.Equal(t, int32(1), durable.deviceReads.Load())

	entries := auditLog.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionDeviceAutoCreate, entries[0].Action)
	assert.Equal(t, "vpc", entries[0].TenantID)
}

func TestRedisLayerTTLExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	layer, err := NewRedisLayer(client)
	require.NoError(t, err)

	durable, tenant := newDurable()
	resolver, err := NewResolver(layer, durable, WithDeviceTTL(30*time.Minute))
	require.NoError(t, err)

	_, err = resolver.ResolveOrCreateDevice(context.Background(), &tenant, "M01")
	require.NoError(t, err)
	_, err = resolver.ResolveOrCreateDevice(context.Background(), &tenant, "M01")
	require.NoError(t, err)
	assert.Equal(t, int32(1), durable.deviceReads.Load())

	mr.FastForward(31 * time.Minute)
	_, err = resolver.ResolveOrCreateDevice(context.Background(), &tenant, "M01")
	require.NoError(t, err)
	assert.Equal(t, int32(2), durable.deviceReads.Load())
}

func TestRedisOutageDegradesToDurable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer client.Close()
	layer, err := NewRedisLayer(client)
	require.NoError(t, err)

	core, logs := observer.New(zapcore.WarnLevel)
	durable, _ := newDurable()
	resolver, err := NewResolver(layer, durable, WithLogger(zap.New(core)))
	require.NoError(t, err)

	mr.Close()

	tenant, err := resolver.ResolveTenant(context.Background(), "vpc")
	require.NoError(t, err)
	assert.Equal(t, "vpc", tenant.Slug)
	assert.Equal(t, int32(1), durable.tenantReads.Load())
	assert.NotZero(t, logs.FilterMessage("identity cache read failed").Len())
}

func TestTouchLastSeenBypassesCache(t *testing.T) {
	durable, tenant := newDurable()
	resolver, err := NewResolver(NewMemoryLayer(time.Minute), durable)
	require.NoError(t, err)

	device, err := resolver.ResolveOrCreateDevice(context.Background(), &tenant, "M01")
	require.NoError(t, err)
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, resolver.TouchLastSeen(context.Background(), device.ID, at))

	stored, err := resolver.Device(context.Background(), tenant.ID, "M01")
	require.NoError(t, err)
	require.NotNil(t, stored.LastSeenAt)
	assert.True(t, stored.LastSeenAt.Equal(at))
}
