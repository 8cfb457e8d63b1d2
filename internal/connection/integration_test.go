package connection

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"bookkeepingcpa/internal/providers"
	"bookkeepingcpa/pkg/secrets"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store, err := NewPostgresStore(pool, secrets.NewSealer("test-key"), SandboxTable)
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.EnsureSchema(ctx))

	key := Key{TenantID: "it-" + time.Now().Format("150405.000000"), Provider: "quickbooks", Environment: providers.Sandbox}
	t.Cleanup(func() { _, _ = store.DeleteTenant(context.Background(), key.TenantID) })

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.Put(ctx, &Connection{
		ID: "6f1c1f8e-8a4a-4a55-9d55-0c0b1b2c3d4e", TenantID: key.TenantID, Provider: key.Provider, Environment: key.Environment,
		AccessToken: "at", RefreshToken: "rt", TokenExpiresAt: now.Add(time.Hour),
		Identity: providers.Identity{"realm_id": "123"}, State: StateConnected, ConnectedSince: now, UpdatedAt: now,
	}))

	var raw []byte
	require.NoError(t, pool.QueryRow(ctx, `SELECT refresh_token FROM `+SandboxTable+` WHERE tenant_id=$1`, key.TenantID).Scan(&raw))
	require.NotContains(t, string(raw), "rt", "tokens are sealed at rest")

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "rt", got.RefreshToken)
	require.Equal(t, "123", got.Identity["realm_id"])

	updated, err := store.Update(ctx, key, func(c *Connection) error {
		c.State = StatePaused
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, StatePaused, updated.State)

	list, err := store.List(ctx, key.TenantID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, store.Delete(ctx, key))
	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Get(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNewPostgresStoreRejectsBadTable(t *testing.T) {
	_, err := NewPostgresStore(nil, nil, "connections; drop table x")
	require.Error(t, err)
}

func TestRedisLockerExcludes(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })

	l := NewRedisLocker(rdb)
	key := "it|" + time.Now().Format("150405.000000")
	release, err := l.Acquire(context.Background(), key, 5*time.Second)
	require.NoError(t, err)

	var second atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		r, err := l.Acquire(context.Background(), key, 5*time.Second)
		if err == nil {
			second.Store(true)
			r()
		}
	}()
	time.Sleep(150 * time.Millisecond)
	require.False(t, second.Load())
	release()
	<-done
	require.True(t, second.Load())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	hold, err := l.Acquire(context.Background(), key, 5*time.Second)
	require.NoError(t, err)
	defer hold()
	_, err = l.Acquire(ctx, key, time.Second)
	require.ErrorIs(t, err, ErrLockTimeout)
}
