package statuscache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type status struct {
	Level int   `json:"level"`
	XP    int64 `json:"xp"`
}

func TestCache_ReadThrough(t *testing.T) {
	cache := New(NewMemoryStore(), Config{DefaultTTL: time.Minute})
	ctx := context.Background()

	fetches := 0
	fetch := func(context.Context) (interface{}, error) {
		fetches++
		return status{Level: 5, XP: 1200}, nil
	}

	var got status
	assert.NoError(t, cache.Get(ctx, "status:g1:m1", &got, fetch))
	assert.Equal(t, status{Level: 5, XP: 1200}, got)
	assert.Equal(t, 1, fetches)

	// Second read is served from the cache.
	var again status
	assert.NoError(t, cache.Get(ctx, "status:g1:m1", &again, fetch))
	assert.Equal(t, got, again)
	assert.Equal(t, 1, fetches)
}

func TestCache_TTLExpiry(t *testing.T) {
	store := NewMemoryStore()
	cache := New(store, Config{})
	ctx := context.Background()

	fetches := 0
	fetch := func(context.Context) (interface{}, error) {
		fetches++
		return status{Level: fetches}, nil
	}

	var got status
	assert.NoError(t, cache.GetWithTTL(ctx, "k", &got, 20*time.Millisecond, fetch))
	assert.Equal(t, 1, got.Level)

	time.Sleep(30 * time.Millisecond)

	assert.NoError(t, cache.GetWithTTL(ctx, "k", &got, 20*time.Millisecond, fetch))
	assert.Equal(t, 2, got.Level, "expired entry must re-fetch")
}

func TestCache_MissWithFailedFetchIsUnknown(t *testing.T) {
	cache := New(NewMemoryStore(), Config{})

	var got status
	err := cache.Get(context.Background(), "k", &got, func(context.Context) (interface{}, error) {
		return nil, errors.New("db down")
	})
	assert.ErrorIs(t, err, ErrUnknown)
}

func TestCache_EmptyKey(t *testing.T) {
	cache := New(NewMemoryStore(), Config{})

	var got status
	err := cache.Get(context.Background(), "", &got, func(context.Context) (interface{}, error) {
		return status{}, nil
	})
	assert.ErrorIs(t, err, ErrKeyEmpty)
}

func TestCache_Invalidate(t *testing.T) {
	cache := New(NewMemoryStore(), Config{DefaultTTL: time.Minute})
	ctx := context.Background()

	fetches := 0
	fetch := func(context.Context) (interface{}, error) {
		fetches++
		return status{Level: fetches}, nil
	}

	var got status
	assert.NoError(t, cache.Get(ctx, "status:g1:m1", &got, fetch))
	assert.NoError(t, cache.Invalidate(ctx, "status:g1:m1"))

	assert.NoError(t, cache.Get(ctx, "status:g1:m1", &got, fetch))
	assert.Equal(t, 2, fetches, "invalidated key must re-fetch")

	// Invalidating nothing is a no-op.
	assert.NoError(t, cache.Invalidate(ctx))
}

func TestCache_InvalidateScope(t *testing.T) {
	cache := New(NewMemoryStore(), Config{DefaultTTL: time.Minute})
	ctx := context.Background()

	fetches := map[string]int{}
	fetchFor := func(val int, name string) FetchFunc {
		return func(context.Context) (interface{}, error) {
			fetches[name]++
			return status{Level: val}, nil
		}
	}

	var got status
	assert.NoError(t, cache.Get(ctx, Key("1001", "member", "m1"), &got, fetchFor(1, "m1")))
	assert.NoError(t, cache.Get(ctx, Key("1001", "leaderboard"), &got, fetchFor(2, "lb")))
	assert.NoError(t, cache.Get(ctx, Key("2002", "member", "m1"), &got, fetchFor(3, "other")))

	assert.NoError(t, cache.InvalidateScope(ctx, "1001"))

	// Both keys of guild 1001 re-fetch; guild 2002 is untouched.
	assert.NoError(t, cache.Get(ctx, Key("1001", "member", "m1"), &got, fetchFor(1, "m1")))
	assert.NoError(t, cache.Get(ctx, Key("1001", "leaderboard"), &got, fetchFor(2, "lb")))
	assert.NoError(t, cache.Get(ctx, Key("2002", "member", "m1"), &got, fetchFor(3, "other")))
	assert.Equal(t, 2, fetches["m1"])
	assert.Equal(t, 2, fetches["lb"])
	assert.Equal(t, 1, fetches["other"])
}

func TestKey(t *testing.T) {
	assert.Equal(t, "status:1001:leaderboard:xp", Key("1001", "leaderboard", "xp"))
	assert.Equal(t, "status:1001", Key("1001"))
}

func TestCache_BrokenStoreDegradesToFetch(t *testing.T) {
	cache := New(brokenStore{}, Config{})

	var got status
	err := cache.Get(context.Background(), "k", &got, func(context.Context) (interface{}, error) {
		return status{Level: 9}, nil
	})
	assert.NoError(t, err, "a broken store must not fail the read")
	assert.Equal(t, 9, got.Level)
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("store down")
}
func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("store down")
}
func (brokenStore) Delete(context.Context, ...string) error    { return errors.New("store down") }
func (brokenStore) DeletePrefix(context.Context, string) error { return errors.New("store down") }
