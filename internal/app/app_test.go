package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/opd-token-allocation/internal/config"
	"github.com/hackgods/opd-token-allocation/internal/logging"
)

func baseConfig() config.Config {
	return config.Config{
		StorageBackend:     "memory",
		LockBackend:        "local",
		LockTTL:            5 * time.Second,
		LockWait:           time.Second,
		DefaultMaxCapacity: 5,
		Location:           time.UTC,
	}
}

func TestBuild_MemoryAndLocalLocks(t *testing.T) {
	rt, err := Build(context.Background(), baseConfig(), logging.Discard(), prometheus.NewRegistry())
	require.NoError(t, err)
	defer rt.Close()

	require.NotNil(t, rt.Service)
	assert.Empty(t, rt.Checks)

	doc, err := rt.Service.CreateDoctor(context.Background(), "Dr. Menon", "ENT", nil)
	require.NoError(t, err)
	slots, err := rt.Service.CreateSlots(context.Background(), doc.ID,
		time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC), "09:00", "09:30", 0)
	require.NoError(t, err)
	assert.Len(t, slots, 3)
	assert.Equal(t, 5, slots[0].MaxCapacity)
}

func TestBuild_RedisLocksAddReadinessCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig()
	cfg.LockBackend = "redis"
	cfg.RedisAddr = mr.Addr()

	rt, err := Build(context.Background(), cfg, logging.Discard(), prometheus.NewRegistry())
	require.NoError(t, err)
	defer rt.Close()

	require.Len(t, rt.Checks, 1)
	assert.Equal(t, "redis", rt.Checks[0].Name)
	assert.False(t, rt.Checks[0].Critical)
	require.NoError(t, rt.Checks[0].Ping(context.Background()))

	mr.Close()
	assert.Error(t, rt.Checks[0].Ping(context.Background()))
}

func TestBuild_UnreachableRedisFails(t *testing.T) {
	cfg := baseConfig()
	cfg.LockBackend = "redis"
	cfg.RedisAddr = "127.0.0.1:1"

	_, err := Build(context.Background(), cfg, logging.Discard(), prometheus.NewRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis connection")
}
