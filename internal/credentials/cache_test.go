package credentials

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rebuybot/internal/core"
	apperrors "rebuybot/pkg/errors"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestCache(ttl time.Duration) (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewCache(ttl, WithClock(clock.Now)), clock
}

func creds(id int64) core.Credentials {
	return core.Credentials{AccountID: id, APIKey: "key", APISecret: "secret"}
}

func TestCache_SetGetExpire(t *testing.T) {
	c, clock := newTestCache(time.Minute)

	c.Set(1, creds(1), 0)
	got, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, "key", got.APIKey)

	clock.Advance(59 * time.Second)
	_, ok = c.Get(1)
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get(1)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry is removed on read")
}

func TestCache_PerEntryTTL(t *testing.T) {
	c, clock := newTestCache(time.Minute)

	c.Set(1, creds(1), 5*time.Second)
	clock.Advance(6 * time.Second)
	_, ok := c.Get(1)
	assert.False(t, ok)
}

func TestCache_Invalidate(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Set(1, creds(1), 0)
	c.Invalidate(1)
	_, ok := c.Get(1)
	assert.False(t, ok)
}

func TestCache_GetOrFetch(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	ctx := context.Background()

	calls := 0
	fetch := func(context.Context) (*core.Credentials, error) {
		calls++
		cr := creds(7)
		return &cr, nil
	}

	_, err := c.GetOrFetch(ctx, 7, fetch)
	require.NoError(t, err)
	_, err = c.GetOrFetch(ctx, 7, fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	clock.Advance(time.Minute)
	_, err = c.GetOrFetch(ctx, 7, fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCache_GetOrFetchIncomplete(t *testing.T) {
	c, _ := newTestCache(time.Minute)

	_, err := c.GetOrFetch(context.Background(), 3, func(context.Context) (*core.Credentials, error) {
		return &core.Credentials{AccountID: 3, APIKey: "key"}, nil
	})
	assert.ErrorIs(t, err, apperrors.ErrCredentialsMissing)
	assert.Equal(t, 0, c.Len())
}

func TestCache_GetOrFetchError(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	boom := errors.New("db down")

	_, err := c.GetOrFetch(context.Background(), 3, func(context.Context) (*core.Credentials, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestCache_ReturnedValueIsACopy(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Set(1, creds(1), 0)

	got, err := c.GetOrFetch(context.Background(), 1, nil)
	require.NoError(t, err)
	got.APIKey = "mutated"

	again, _ := c.Get(1)
	assert.Equal(t, "key", again.APIKey)
}
