package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/route-watch/internal/logging"
)

func newCached(t *testing.T) (*CachedLedger, *MemoryLedger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	primary := NewMemoryLedger()
	return NewCachedLedger(primary, NewRedisMirror(rdb, time.Hour), logging.NewTest(t)), primary, mr
}

func TestCachedLedger_RecordPopulatesCache(t *testing.T) {
	ctx := context.Background()
	l, primary, mr := newCached(t)

	require.NoError(t, l.Record(ctx, ride("r1", time.Now())))
	assert.Equal(t, 1, primary.Len())
	assert.True(t, mr.Exists(NotifiedKey("r1")))
	assert.Greater(t, mr.TTL(NotifiedKey("r1")), time.Duration(0))

	has, err := l.Has(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, has)

	err = l.Record(ctx, ride("r1", time.Now()))
	assert.True(t, errors.Is(err, ErrAlreadyExists))
}

func TestCachedLedger_CacheHitSkipsPrimary(t *testing.T) {
	ctx := context.Background()
	l, primary, mr := newCached(t)

	// written by another replica through the event consumer
	require.NoError(t, mr.Set(NotifiedKey("remote"), `{"ride_id":"remote"}`))

	has, err := l.Has(ctx, "remote")
	require.NoError(t, err)
	assert.True(t, has)
	assert.Equal(t, 0, primary.Len())
}

func TestCachedLedger_WarmsFromPrimary(t *testing.T) {
	ctx := context.Background()
	l, primary, mr := newCached(t)
	require.NoError(t, primary.Record(ctx, ride("old", time.Now())))

	has, err := l.Has(ctx, "old")
	require.NoError(t, err)
	assert.True(t, has)
	assert.True(t, mr.Exists(NotifiedKey("old")))
}

func TestCachedLedger_RedisDownFallsBack(t *testing.T) {
	ctx := context.Background()
	l, primary, mr := newCached(t)
	mr.Close()

	has, err := l.Has(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, l.Record(ctx, ride("r1", time.Now())))
	assert.Equal(t, 1, primary.Len())
}

func TestCachedLedger_LookupErrorUsesPrimary(t *testing.T) {
	ctx := context.Background()
	rdb, mock := redismock.NewClientMock()
	mock.ExpectExists(NotifiedKey("r9")).SetErr(errors.New("LOADING"))

	primary := NewMemoryLedger()
	l := NewCachedLedger(primary, NewRedisMirror(rdb, time.Hour), logging.NewNop())

	has, err := l.Has(ctx, "r9")
	require.NoError(t, err)
	assert.False(t, has)
	assert.NoError(t, mock.ExpectationsWereMet())
}
