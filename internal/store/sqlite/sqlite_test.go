package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusd/internal/store"
)

func setupTestKV(t *testing.T) (store.KV, func()) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test_focusd.db")
	kv := NewSQLiteKV(dbPath)
	ctx := context.Background()
	err := kv.Init(ctx)
	require.NoError(t, err, "Failed to initialize test database")

	cleanup := func() {
		err := kv.Close()
		assert.NoError(t, err, "Failed to close test database")
	}
	return kv, cleanup
}

func TestSetGetRoundTrip(t *testing.T) {
	kv, cleanup := setupTestKV(t)
	defer cleanup()
	ctx := context.Background()

	_, ok, err := kv.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, "session", []byte(`{"active":true}`)))
	raw, ok, err := kv.Get(ctx, "session")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"active":true}`, string(raw))

	// Overwrite in place.
	require.NoError(t, kv.Set(ctx, "session", []byte(`{"active":false}`)))
	raw, ok, err = kv.Get(ctx, "session")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"active":false}`, string(raw))
}

func TestRemoveAndGetAll(t *testing.T) {
	kv, cleanup := setupTestKV(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "a", []byte("1")))
	require.NoError(t, kv.Set(ctx, "b", []byte("2")))
	require.NoError(t, kv.Set(ctx, "c", []byte("3")))

	all, err := kv.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, []byte("2"), all["b"])

	require.NoError(t, kv.Remove(ctx, "a", "c"))
	all, err = kv.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// Removing nothing is a no-op.
	require.NoError(t, kv.Remove(ctx))
}

func TestBytesInUse(t *testing.T) {
	kv, cleanup := setupTestKV(t)
	defer cleanup()
	ctx := context.Background()

	n, err := kv.BytesInUse(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, kv.Set(ctx, "key", []byte("value")))
	n, err = kv.BytesInUse(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
}

func TestCloseKV(t *testing.T) {
	kv, cleanup := setupTestKV(t)
	cleanup()

	ctx := context.Background()
	err := kv.Set(ctx, "k", []byte("v"))
	assert.Error(t, err)
}
