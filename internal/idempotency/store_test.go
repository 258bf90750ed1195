package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/ramp-ledger/internal/testutil/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreReserveFinalizeLookup(t *testing.T) {
	store := NewStore(nil, memstore.New(), time.Hour)
	ctx := context.Background()

	_, err := store.Lookup(ctx, "k1", "hash-a")
	require.ErrorIs(t, err, ErrNotFound)

	ok, err := store.Reserve(ctx, "k1", "hash-a", "POST", "/v1/deposits")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Reserve(ctx, "k1", "hash-a", "POST", "/v1/deposits")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Lookup(ctx, "k1", "hash-a")
	require.ErrorIs(t, err, ErrInProgress)

	_, err = store.Finalize(ctx, "k1", "hash-a", 201, []byte(`{"ok":true}`), "application/json")
	require.NoError(t, err)

	rec, err := store.Lookup(ctx, "k1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, 201, rec.Status)
	assert.JSONEq(t, `{"ok":true}`, string(rec.Body))
	assert.Equal(t, "postgres", rec.ServedBy)

	_, err = store.Lookup(ctx, "k1", "hash-b")
	assert.ErrorIs(t, err, ErrHashMismatch)
}

func TestStoreWaitForCompletion(t *testing.T) {
	store := NewStore(nil, memstore.New(), time.Hour)
	ctx := context.Background()

	ok, err := store.Reserve(ctx, "k2", "h", "POST", "/v1/withdrawals")
	require.NoError(t, err)
	require.True(t, ok)

	go func() {
		time.Sleep(80 * time.Millisecond)
		_, _ = store.Finalize(context.Background(), "k2", "h", 202, []byte(`{}`), "application/json")
	}()

	rec, err := store.WaitForCompletion(ctx, "k2", "h")
	require.NoError(t, err)
	assert.Equal(t, 202, rec.Status)

	ok, err = store.Reserve(ctx, "k3", "h", "POST", "/v1/withdrawals")
	require.NoError(t, err)
	require.True(t, ok)
	short, cancel := context.WithTimeout(ctx, 60*time.Millisecond)
	defer cancel()
	_, err = store.WaitForCompletion(short, "k3", "h")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFinalizeUnknownKey(t *testing.T) {
	store := NewStore(nil, memstore.New(), time.Hour)
	_, err := store.Finalize(context.Background(), "missing", "h", 200, nil, "application/json")
	assert.ErrorIs(t, err, ErrNotFound)
}
