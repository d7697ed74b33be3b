package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/config"
)

// testStoreContract runs the behavior every backend must share.
func testStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("empty store", func(t *testing.T) {
		s := newStore(t)
		pair, ok, err := s.Get(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, Pair{}, pair)
	})

	t.Run("set then get", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, Pair{Access: "a1", Refresh: "r1"}))

		pair, ok, err := s.Get(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, Pair{Access: "a1", Refresh: "r1"}, pair)
	})

	t.Run("set replaces both tokens", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, Pair{Access: "a1", Refresh: "r1"}))
		require.NoError(t, s.Set(ctx, Pair{Access: "a2", Refresh: "r2"}))

		pair, _, err := s.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, Pair{Access: "a2", Refresh: "r2"}, pair)
	})

	t.Run("set access keeps refresh", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, Pair{Access: "a1", Refresh: "r1"}))
		require.NoError(t, s.SetAccess(ctx, "a2"))

		pair, ok, err := s.Get(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, Pair{Access: "a2", Refresh: "r1"}, pair)
	})

	t.Run("set access without session", func(t *testing.T) {
		s := newStore(t)
		err := s.SetAccess(ctx, "a1")
		require.ErrorIs(t, err, ErrNoSession)

		_, ok, err := s.Get(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("clear removes both", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, Pair{Access: "a1", Refresh: "r1"}))
		require.NoError(t, s.Clear(ctx))

		pair, ok, err := s.Get(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, Pair{}, pair)

		require.ErrorIs(t, s.SetAccess(ctx, "a2"), ErrNoSession)
	})

	t.Run("clear is idempotent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Clear(ctx))
		require.NoError(t, s.Clear(ctx))
	})

	t.Run("concurrent writers", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, Pair{Access: "a0", Refresh: "r0"}))

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, s.SetAccess(ctx, fmt.Sprintf("a%d", i)))
				_, _, err := s.Get(ctx)
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		pair, ok, err := s.Get(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "r0", pair.Refresh)
		assert.Regexp(t, `^a\d$`, pair.Access)
	})
}

func TestMemoryStore(t *testing.T) {
	testStoreContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestFileStore(t *testing.T) {
	testStoreContract(t, func(t *testing.T) Store {
		s, err := NewFileStore(filepath.Join(t.TempDir(), "nested", "session.json"))
		require.NoError(t, err)
		return s
	})
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")

	first, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, Pair{Access: "a1", Refresh: "r1"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"access":"a1","refresh":"r1"}`, string(raw))

	second, err := NewFileStore(path)
	require.NoError(t, err)
	pair, ok, err := second.Get(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Pair{Access: "a1", Refresh: "r1"}, pair)
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s, err := NewFileStore(path)
	require.NoError(t, err)
	_, _, err = s.Get(context.Background())
	require.Error(t, err)

	require.NoError(t, s.Clear(context.Background()))
	_, ok, err := s.Get(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore(t *testing.T) {
	testStoreContract(t, func(t *testing.T) Store {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "session.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.db")

	first, err := NewSQLiteStore(path)
	require.NoError(t, err)
	assert.Equal(t, uint(1), first.SchemaVersion())
	require.NoError(t, first.Set(ctx, Pair{Access: "a1", Refresh: "r1"}))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, uint(1), second.SchemaVersion())

	pair, ok, err := second.Get(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Pair{Access: "a1", Refresh: "r1"}, pair)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	n := 0
	testStoreContract(t, func(t *testing.T) Store {
		n++
		prefix := fmt.Sprintf("fintrack-test:%s:%d:", t.Name(), n)
		t.Cleanup(func() {
			client.Del(context.Background(), prefix+KeyAccess, prefix+KeyRefresh)
		})
		return NewRedisStore(client, prefix)
	})
}

func TestFromAppConfig(t *testing.T) {
	_, err := FromAppConfig(nil)
	require.Error(t, err)

	_, err = FromAppConfig(&config.Config{SessionBackend: "etcd"})
	require.Error(t, err)

	cfg, err := FromAppConfig(&config.Config{
		SessionBackend: "redis",
		RedisAddr:      "localhost:6379",
		RedisDB:        2,
		RedisKeyPrefix: "p:",
	})
	require.NoError(t, err)
	assert.Equal(t, RedisBackend, cfg.Backend)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, "p:", cfg.RedisKeyPrefix)
}

func TestNewStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name string
		cfg  Config
		want any
	}{
		{"memory", Config{Backend: MemoryBackend}, &MemoryStore{}},
		{"file", Config{Backend: FileBackend, FilePath: filepath.Join(dir, "s.json")}, &FileStore{}},
		{"sqlite", Config{Backend: SQLiteBackend, SQLiteDBPath: filepath.Join(dir, "s.db")}, &SQLiteStore{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, cleanup, err := NewStore(ctx, tt.cfg, nil)
			require.NoError(t, err)
			require.NotNil(t, cleanup)
			defer cleanup()
			assert.IsType(t, tt.want, store)
		})
	}

	_, _, err := NewStore(ctx, Config{Backend: "etcd"}, nil)
	require.Error(t, err)
}
