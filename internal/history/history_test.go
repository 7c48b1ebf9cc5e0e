// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := OpenSQLStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestIngestMessageIsIdempotentByID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	entry := Entry{ID: "m-1", SessionID: "claude-1", Sequence: 1, Role: "assistant", ContentType: "text", Content: "hello", CreatedAt: time.Now()}
	require.NoError(t, store.IngestMessage(ctx, entry))

	entry.Content = "hello world"
	entry.Sequence = 2
	require.NoError(t, store.IngestMessage(ctx, entry))

	page, hasMore, err := store.Page(ctx, "claude-1", nil, 20)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.False(t, hasMore)
	assert.Equal(t, "hello world", page[0].Content)
	assert.Equal(t, int64(2), page[0].Sequence)
}

func TestIngestMessageNeverUnfreezes(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	complete := Entry{ID: "m-2", SessionID: "claude-1", Sequence: 1, Role: "assistant", ContentType: "text", Content: "final", IsComplete: true, CreatedAt: time.Now()}
	require.NoError(t, store.IngestMessage(ctx, complete))

	attempt := complete
	attempt.Content = "tampered"
	attempt.IsComplete = false
	require.NoError(t, store.IngestMessage(ctx, attempt))

	page, _, err := store.Page(ctx, "claude-1", nil, 20)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.True(t, page[0].IsComplete)
	assert.Equal(t, "final", page[0].Content)
}

func TestPagePaginatesByBeforeSequence(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 25; i++ {
		require.NoError(t, store.IngestMessage(ctx, Entry{
			ID: "m-" + string(rune('a'+i)), SessionID: "claude-1", Sequence: i,
			Role: "assistant", ContentType: "text", Content: "x", CreatedAt: time.Now(),
		}))
	}

	page, hasMore, err := store.Page(ctx, "claude-1", nil, 20)
	require.NoError(t, err)
	assert.Len(t, page, 20)
	assert.True(t, hasMore)

	oldestInPage := page[0].Sequence
	next, hasMore2, err := store.Page(ctx, "claude-1", &oldestInPage, 20)
	require.NoError(t, err)
	assert.False(t, hasMore2)
	assert.Len(t, next, 5)
}

func TestPageLimitCappedAt50(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	for i := int64(1); i <= 60; i++ {
		require.NoError(t, store.IngestMessage(ctx, Entry{ID: fmt.Sprintf("m-%d", i), SessionID: "s", Sequence: i, Role: "user", ContentType: "text", Content: "hi", CreatedAt: time.Now()}))
	}

	page, hasMore, err := store.Page(ctx, "s", nil, 500)
	require.NoError(t, err)
	assert.Len(t, page, 50)
	assert.True(t, hasMore)
}

func TestRingBufferSortsBySequenceNotInsertionSlot(t *testing.T) {
	rb := NewRingBuffer(3)
	now := time.Now()
	rb.Append(RingEntry{Sequence: 3, Timestamp: now})
	rb.Append(RingEntry{Sequence: 1, Timestamp: now})
	rb.Append(RingEntry{Sequence: 2, Timestamp: now})

	snap := rb.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{snap[0].Sequence, snap[1].Sequence, snap[2].Sequence})
}

func TestRingBufferWrapsAtCapacity(t *testing.T) {
	rb := NewRingBuffer(2)
	rb.Append(RingEntry{Sequence: 1})
	rb.Append(RingEntry{Sequence: 2})
	rb.Append(RingEntry{Sequence: 3})

	snap := rb.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, int64(2), snap[0].Sequence)
	assert.Equal(t, int64(3), snap[1].Sequence)
}

func TestRingBufferDoubleReadIsStable(t *testing.T) {
	rb := NewRingBuffer(5)
	rb.Append(RingEntry{Sequence: 1})
	rb.Append(RingEntry{Sequence: 2})

	first := rb.Snapshot()
	second := rb.Snapshot()
	assert.Equal(t, first, second)
}

func TestSubscriptionPersistenceRoundTrips(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddSubscription(ctx, "device-1", "claude-1"))
	require.NoError(t, store.AddSubscription(ctx, "device-1", "claude-1")) // idempotent

	ids, err := store.SubscriptionsForDevice(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"claude-1"}, ids)

	require.NoError(t, store.RemoveSubscription(ctx, "device-1", "claude-1"))
	ids, err = store.SubscriptionsForDevice(ctx, "device-1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
