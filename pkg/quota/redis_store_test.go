package quota

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisTestStore(t *testing.T) Store {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStore(client)
}

func TestNewRedisStorePanicsOnNilClient(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { NewRedisStore(nil) })
}

func TestRedisStoreCreate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newRedisTestStore(t)
	subID := uuid.New()

	entry := &Entry{ID: uuid.New(), SubscriptionID: subID, Code: "contacts", Available: 5}
	require.NoError(t, store.Create(ctx, entry))

	got, err := store.Get(ctx, subID, "contacts")
	require.NoError(t, err)
	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, int64(5), got.Available)
	assert.Equal(t, int64(0), got.Used)

	// Same subscription and code again is a conflict.
	err = store.Create(ctx, &Entry{ID: uuid.New(), SubscriptionID: subID, Code: "contacts", Available: 9})
	require.ErrorIs(t, err, ErrEntryExists)
}

func TestRedisStoreGetMissing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newRedisTestStore(t)

	_, err := store.Get(ctx, uuid.New(), "contacts")
	require.ErrorIs(t, err, ErrEntryNotFound)
}

func TestRedisStoreList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newRedisTestStore(t)
	subID := uuid.New()

	require.NoError(t, store.Create(ctx, &Entry{ID: uuid.New(), SubscriptionID: subID, Code: "contacts", Available: 5}))
	require.NoError(t, store.Create(ctx, &Entry{ID: uuid.New(), SubscriptionID: subID, Code: "emails", Available: 200}))
	require.NoError(t, store.Create(ctx, &Entry{ID: uuid.New(), SubscriptionID: uuid.New(), Code: "contacts", Available: 7}))

	entries, err := store.List(ctx, subID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	codes := []string{entries[0].Code, entries[1].Code}
	assert.ElementsMatch(t, []string{"contacts", "emails"}, codes)
}

func TestRedisStoreConsume(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("withdraws against the live balance", func(t *testing.T) {
		t.Parallel()
		store := newRedisTestStore(t)
		subID := uuid.New()
		require.NoError(t, store.Create(ctx, &Entry{ID: uuid.New(), SubscriptionID: subID, Code: "contacts", Available: 5}))

		ok, err := store.Consume(ctx, subID, "contacts", 3)
		require.NoError(t, err)
		assert.True(t, ok)

		entry, err := store.Get(ctx, subID, "contacts")
		require.NoError(t, err)
		assert.Equal(t, int64(2), entry.Available)
		assert.Equal(t, int64(3), entry.Used)
	})

	t.Run("insufficient balance fails softly", func(t *testing.T) {
		t.Parallel()
		store := newRedisTestStore(t)
		subID := uuid.New()
		require.NoError(t, store.Create(ctx, &Entry{ID: uuid.New(), SubscriptionID: subID, Code: "contacts", Available: 2}))

		ok, err := store.Consume(ctx, subID, "contacts", 3)
		require.NoError(t, err)
		assert.False(t, ok)

		entry, err := store.Get(ctx, subID, "contacts")
		require.NoError(t, err)
		assert.Equal(t, int64(2), entry.Available)
	})

	t.Run("missing entry fails softly", func(t *testing.T) {
		t.Parallel()
		store := newRedisTestStore(t)

		ok, err := store.Consume(ctx, uuid.New(), "contacts", 1)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("sequential withdrawals drain to zero", func(t *testing.T) {
		t.Parallel()
		store := newRedisTestStore(t)
		subID := uuid.New()
		require.NoError(t, store.Create(ctx, &Entry{ID: uuid.New(), SubscriptionID: subID, Code: "contacts", Available: 3}))

		for i := 0; i < 3; i++ {
			ok, err := store.Consume(ctx, subID, "contacts", 1)
			require.NoError(t, err)
			require.True(t, ok)
		}

		ok, err := store.Consume(ctx, subID, "contacts", 1)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
