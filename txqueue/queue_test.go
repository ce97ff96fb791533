package txqueue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stagedTx(t *testing.T, store *Store) string {
	t.Helper()
	return store.Add(QueuedTransaction{
		Network:     "base",
		From:        "0x1234567890123456789012345678901234567890",
		To:          "0x9876543210987654321098765432109876543210",
		Value:       "1000000000000000",
		SignedTxHex: "0x02f8b0...",
	})
}

func TestAddStartsPending(t *testing.T) {
	store := NewStore()
	id := stagedTx(t, store)

	tx, ok := store.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusPending, tx.Status)
	assert.NotEmpty(t, tx.UUID)
	assert.False(t, tx.CreatedAt.IsZero())
	assert.Empty(t, tx.TxHash)

	_, ok = store.Get("no-such-id")
	assert.False(t, ok)
}

func TestGetReturnsACopy(t *testing.T) {
	store := NewStore()
	id := stagedTx(t, store)

	tx, _ := store.Get(id)
	tx.Status = StatusConfirmed
	tx.TxHash = "0xforged"

	stored, _ := store.Get(id)
	assert.Equal(t, StatusPending, stored.Status, "mutating a copy must not touch the record")
	assert.Empty(t, stored.TxHash)
}

func TestLifecycleHappyPath(t *testing.T) {
	store := NewStore()
	id := stagedTx(t, store)

	require.NoError(t, store.MarkBroadcasting(id))
	require.NoError(t, store.MarkBroadcast(id, "0xhash", "https://basescan.org/tx/0xhash", "rogue"))

	tx, _ := store.Get(id)
	assert.Equal(t, StatusBroadcast, tx.Status)
	assert.Equal(t, "0xhash", tx.TxHash)
	assert.Equal(t, "rogue", tx.Initiator)
	assert.False(t, tx.BroadcastAt.IsZero())

	require.NoError(t, store.MarkConfirmed(id))
	tx, _ = store.Get(id)
	assert.Equal(t, StatusConfirmed, tx.Status)
}

func TestIllegalTransitions(t *testing.T) {
	t.Run("from pending only broadcasting is legal", func(t *testing.T) {
		store := NewStore()
		id := stagedTx(t, store)

		assert.Error(t, store.MarkBroadcast(id, "0xhash", "", "rogue"))
		assert.Error(t, store.MarkConfirmed(id))

		tx, _ := store.Get(id)
		assert.Equal(t, StatusPending, tx.Status, "rejected transitions must not mutate the record")
	})

	t.Run("double broadcasting is rejected", func(t *testing.T) {
		store := NewStore()
		id := stagedTx(t, store)

		require.NoError(t, store.MarkBroadcasting(id))
		assert.Error(t, store.MarkBroadcasting(id))
	})

	t.Run("terminal states are immutable", func(t *testing.T) {
		store := NewStore()
		id := stagedTx(t, store)
		require.NoError(t, store.MarkBroadcasting(id))
		require.NoError(t, store.MarkBroadcast(id, "0xhash", "", "rogue"))
		require.NoError(t, store.MarkConfirmed(id))

		assert.Error(t, store.MarkBroadcasting(id))
		assert.Error(t, store.MarkFailed(id, "too late"))

		tx, _ := store.Get(id)
		assert.Equal(t, StatusConfirmed, tx.Status)
		assert.Empty(t, tx.Error)
	})

	t.Run("unknown ids are rejected everywhere", func(t *testing.T) {
		store := NewStore()
		assert.Error(t, store.MarkBroadcasting("ghost"))
		assert.Error(t, store.MarkBroadcast("ghost", "0x", "", ""))
		assert.Error(t, store.MarkConfirmed("ghost"))
		assert.Error(t, store.MarkFailed("ghost", "reason"))
	})
}

func TestMarkFailedFromAnyNonTerminalState(t *testing.T) {
	store := NewStore()

	pending := stagedTx(t, store)
	require.NoError(t, store.MarkFailed(pending, "build error"))

	broadcasting := stagedTx(t, store)
	require.NoError(t, store.MarkBroadcasting(broadcasting))
	require.NoError(t, store.MarkFailed(broadcasting, "submission error"))

	broadcast := stagedTx(t, store)
	require.NoError(t, store.MarkBroadcasting(broadcast))
	require.NoError(t, store.MarkBroadcast(broadcast, "0xhash", "", "rogue"))
	require.NoError(t, store.MarkFailed(broadcast, "reverted on-chain"))

	tx, _ := store.Get(broadcast)
	assert.Equal(t, StatusFailed, tx.Status)
	assert.Equal(t, "reverted on-chain", tx.Error)
}

func TestBroadcastingRaceHasOneWinner(t *testing.T) {
	store := NewStore()
	id := stagedTx(t, store)

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if store.MarkBroadcasting(id) == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	assert.Equal(t, 1, won, "exactly one racer may win the pending->broadcasting transition")
}

func TestSweepExpired(t *testing.T) {
	store := NewStore()
	current := time.Unix(1000, 0)
	store.now = func() time.Time { return current }

	stale := stagedTx(t, store)
	inFlight := stagedTx(t, store)
	require.NoError(t, store.MarkBroadcasting(inFlight))

	current = current.Add(time.Hour)
	fresh := stagedTx(t, store)

	expired := store.SweepExpired(30 * time.Minute)
	assert.Equal(t, []string{stale}, expired)

	tx, _ := store.Get(stale)
	assert.Equal(t, StatusExpired, tx.Status)
	tx, _ = store.Get(fresh)
	assert.Equal(t, StatusPending, tx.Status)
	tx, _ = store.Get(inFlight)
	assert.Equal(t, StatusBroadcasting, tx.Status, "only pending records expire")
}
