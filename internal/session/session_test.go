package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shre-db/linked-squad/go/assistant/internal/state"
)

// getGauge returns a single-sample gauge value by metric name; 0 if missing
func getGauge(name string) float64 {
	mfs, _ := prometheus.DefaultGatherer.Gather()
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.Metric {
				if g := m.GetGauge(); g != nil {
					return g.GetValue()
				}
			}
		}
	}
	return 0
}

func sampleState(id string) *state.ConversationState {
	st := state.New(id)
	_, _ = state.Apply(st, state.Update{
		Append:     []state.Message{{Role: state.RoleUser, Content: "analyze my profile"}},
		ProfileURL: state.Ptr("https://www.linkedin.com/in/johnsmith"),
		Profile:    map[string]any{"name": "John Smith"},
		Result: &state.ResultWrite{
			Capability: state.CapabilityAnalyze,
			Result:     map[string]any{"overall_score": 72.0},
		},
		CompleteTurn: true,
	})
	return st
}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, store Store) {
	ctx := context.Background()

	_, err := store.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	original := sampleState("s-1")
	require.NoError(t, store.Save(ctx, original))

	loaded, err := store.Load(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "s-1", loaded.SessionID)
	assert.Equal(t, 1, loaded.TurnCount)
	assert.Equal(t, "John Smith", loaded.Profile["name"])
	assert.True(t, loaded.Analysis.Completed)
	require.Len(t, loaded.Transcript, 1)
	assert.Equal(t, "analyze my profile", loaded.Transcript[0].Content)

	// the loaded copy must not alias the stored one
	loaded.Profile["name"] = "changed"
	again, err := store.Load(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "John Smith", again.Profile["name"])

	// overwrite
	_, _ = state.Apply(again, state.Update{TargetRole: state.Ptr("Staff Engineer"), CompleteTurn: true})
	require.NoError(t, store.Save(ctx, again))
	latest, err := store.Load(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.TurnCount)
	assert.Equal(t, "Staff Engineer", latest.TargetRole)

	require.NoError(t, store.Delete(ctx, "s-1"))
	_, err = store.Load(ctx, "s-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSaveRejectsInvalidState(t *testing.T) {
	store := NewMemoryStore(0, 0)
	ctx := context.Background()

	assert.ErrorIs(t, store.Save(ctx, nil), ErrInvalidSession)
	assert.ErrorIs(t, store.Save(ctx, state.New("")), ErrInvalidSession)

	broken := state.New("s")
	broken.NeedsPostProcessing = true
	assert.ErrorIs(t, store.Save(ctx, broken), ErrInvalidSession)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(time.Hour, 10))
}

func TestMemoryStore_ExpiresIdleSessions(t *testing.T) {
	store := NewMemoryStore(time.Minute, 10)
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleState("a")))
	now = now.Add(30 * time.Second)
	_, err := store.Load(ctx, "a")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = store.Load(ctx, "a")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_EvictsLeastRecentlyUsed(t *testing.T) {
	store := NewMemoryStore(time.Hour, 2)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleState("a")))
	require.NoError(t, store.Save(ctx, sampleState("b")))
	_, err := store.Load(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, sampleState("c")))

	assert.Equal(t, 2, store.Len())
	_, err = store.Load(ctx, "b")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Load(ctx, "a")
	assert.NoError(t, err)
}

func TestMemoryStore_HonoursCanceledContext(t *testing.T) {
	store := NewMemoryStore(0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.Load(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.Save(ctx, sampleState("a")), context.Canceled)
}

func newMiniRedisStore(t *testing.T, cfg Config) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreWithClient(client, cfg, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStore(t *testing.T) {
	store, _ := newMiniRedisStore(t, Config{TTL: time.Hour})
	exerciseStore(t, store)
}

func TestRedisStore_WritesKeyWithTTL(t *testing.T) {
	store, mr := newMiniRedisStore(t, Config{TTL: time.Minute})
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleState("abc")))
	assert.True(t, mr.Exists("session:abc"))
	assert.Equal(t, time.Minute, mr.TTL("session:abc"))

	mr.SetTTL("session:abc", time.Second)
	require.NoError(t, store.Extend(ctx, "abc"))
	assert.Equal(t, time.Minute, mr.TTL("session:abc"))

	assert.ErrorIs(t, store.Extend(ctx, "nope"), ErrSessionNotFound)
}

func TestRedisStore_ExpiredKeyIsNotFound(t *testing.T) {
	store, mr := newMiniRedisStore(t, Config{TTL: time.Minute})
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, sampleState("abc")))

	mr.FastForward(2 * time.Minute)

	// a second store has no local cache and must go to Redis
	other := NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), Config{}, nil)
	defer other.Close()
	_, err := other.Load(ctx, "abc")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisStore_LoadsFromRedisOnCacheMiss(t *testing.T) {
	store, mr := newMiniRedisStore(t, Config{})
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, sampleState("abc")))

	other := NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), Config{}, nil)
	defer other.Close()
	st, err := other.Load(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "John Smith", st.Profile["name"])
}

func TestRedisStore_RejectsMismatchedPayload(t *testing.T) {
	store, mr := newMiniRedisStore(t, Config{})
	require.NoError(t, mr.Set("session:abc", `{"session_id":"other","transcript":[]}`))

	_, err := store.Load(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestRedisStore_LocalCacheIsBounded(t *testing.T) {
	store, _ := newMiniRedisStore(t, Config{CacheSize: 4})
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, store.Save(ctx, sampleState(id)))
	}
	store.mu.RLock()
	size := len(store.localCache)
	store.mu.RUnlock()
	assert.LessOrEqual(t, size, 4)
	assert.Equal(t, float64(size), getGauge("assistant_session_cache_size"))

	// evicted entries are still served from Redis
	st, err := store.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", st.SessionID)
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"), time.Hour, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer store.Close()
	exerciseStore(t, store)
}

func TestSQLiteStore_ExpiredRowsAreNotFound(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"), time.Hour, nil)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleState("old")))
	store.ttl = time.Millisecond
	time.Sleep(10 * time.Millisecond)

	_, err = store.Load(ctx, "old")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	var count int
	require.NoError(t, store.Wrapper().GetContext(ctx, &count, `SELECT COUNT(*) FROM session_checkpoints`))
	assert.Equal(t, 0, count)
}

func TestSQLiteStore_RequiresPath(t *testing.T) {
	_, err := NewSQLiteStore("", 0, nil)
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	b, err := New(Config{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, b)
	require.NoError(t, b.Close())

	b, err = New(Config{Backend: "SQLite", SQLitePath: filepath.Join(t.TempDir(), "s.db")}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, b)
	require.NoError(t, b.Close())

	_, err = New(Config{Backend: "etcd"}, nil)
	assert.Error(t, err)
}
