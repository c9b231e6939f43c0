package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bxt-team/sevencycles/internal/db"
	"github.com/bxt-team/sevencycles/pkg/models"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.NewTestDatabase()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return New(database.DB)
}

func TestGrantAndBalance(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	tx, err := l.Grant(ctx, Entry{OrganizationID: 1, Amount: 100, Description: "signup bonus"})
	require.NoError(t, err)
	assert.Equal(t, models.TxTypeGrant, tx.Type)
	assert.Equal(t, int64(100), tx.BalanceAfter)

	balance, err := l.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance.Available)
	assert.Equal(t, int64(0), balance.Reserved)
	assert.Equal(t, int64(1), balance.Version)
}

func TestReserveConsumeRelease(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Grant(ctx, Entry{OrganizationID: 1, Amount: 100})
	require.NoError(t, err)

	_, err = l.Reserve(ctx, Entry{OrganizationID: 1, Amount: 60, Reference: "run-1"})
	require.NoError(t, err)

	balance, err := l.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance.Available)
	assert.Equal(t, int64(60), balance.Reserved)

	// Consume less than reserved, release the rest.
	_, err = l.Consume(ctx, Entry{OrganizationID: 1, Amount: 45, Reference: "run-1"})
	require.NoError(t, err)
	_, err = l.Release(ctx, Entry{OrganizationID: 1, Amount: 15, Reference: "run-1"})
	require.NoError(t, err)

	balance, err = l.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(55), balance.Available)
	assert.Equal(t, int64(0), balance.Reserved)
	assert.Equal(t, int64(45), balance.Consumed)
}

func TestReserveInsufficient(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Grant(ctx, Entry{OrganizationID: 1, Amount: 10})
	require.NoError(t, err)

	_, err = l.Reserve(ctx, Entry{OrganizationID: 1, Amount: 11})
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	// Balance untouched after the failed reserve.
	balance, err := l.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance.Available)
	assert.Equal(t, int64(0), balance.Reserved)
}

func TestInvalidAmount(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Grant(ctx, Entry{OrganizationID: 1, Amount: 0})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = l.Reserve(ctx, Entry{OrganizationID: 1, Amount: -5})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestIdempotentGrant(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	first, err := l.Grant(ctx, Entry{OrganizationID: 1, Amount: 50, IdempotencyKey: "evt_123"})
	require.NoError(t, err)

	// Replaying the same key returns the stored transaction and does
	// not change the balance.
	second, err := l.Grant(ctx, Entry{OrganizationID: 1, Amount: 50, IdempotencyKey: "evt_123"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	balance, err := l.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance.Available)
}

func TestKeylessEntriesCoexist(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	// Entries without an idempotency key store NULL, so any number of
	// them can share the journal.
	first, err := l.Grant(ctx, Entry{OrganizationID: 1, Amount: 25})
	require.NoError(t, err)
	assert.Nil(t, first.IdempotencyKey)

	second, err := l.Grant(ctx, Entry{OrganizationID: 1, Amount: 25})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	balance, err := l.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance.Available)
}

func TestRefund(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Grant(ctx, Entry{OrganizationID: 1, Amount: 100})
	require.NoError(t, err)
	_, err = l.Reserve(ctx, Entry{OrganizationID: 1, Amount: 30})
	require.NoError(t, err)
	_, err = l.Consume(ctx, Entry{OrganizationID: 1, Amount: 30})
	require.NoError(t, err)

	_, err = l.Refund(ctx, Entry{OrganizationID: 1, Amount: 10, Description: "failed delivery"})
	require.NoError(t, err)

	balance, err := l.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(80), balance.Available)
	assert.Equal(t, int64(20), balance.Consumed)
}

func TestConcurrentGrants(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = l.Grant(ctx, Entry{OrganizationID: 1, Amount: 10})
		}(i)
	}
	wg.Wait()

	granted := int64(0)
	for _, err := range errs {
		if err == nil {
			granted += 10
		} else {
			// Conflicts after retry exhaustion are acceptable under
			// contention, anything else is a bug.
			assert.ErrorIs(t, err, ErrConflict)
		}
	}

	balance, err := l.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, granted, balance.Available)
}

func TestHistoryOrder(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Grant(ctx, Entry{OrganizationID: 1, Amount: int64(10 * (i + 1))})
		require.NoError(t, err)
	}

	history, err := l.History(ctx, 1, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, int64(30), history[0].Amount)
	assert.Equal(t, int64(10), history[2].Amount)
}
