package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/grainledger/internal/domain"
	"github.com/punchamoorthee/grainledger/internal/models"
	"github.com/punchamoorthee/grainledger/internal/store"
)

func TestBalanceOfUnknownAccountIsZero(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, int64(0), f.balance("nobody"))
}

func TestAddAndDeductScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.member("alice", "Alice", "Smith")
	b := f.member("bob", "Bob", "Jones")

	f.fund(a, 100)

	_, err := f.ledger.Deduct(ctx, models.AdjustRequest{AccountID: a, Amount: 30}, "admin")
	require.NoError(t, err)
	assert.Equal(t, int64(70), f.balance(a))

	_, err = f.transfers.Transfer(ctx, a, models.TransferRequest{ToAccountID: b, Amount: 20}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(50), f.balance(a))
	assert.Equal(t, int64(20), f.balance(b))

	_, err = f.ledger.Deduct(ctx, models.AdjustRequest{AccountID: a, Amount: 60}, "admin")
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, int64(50), f.balance(a), "rejected deduction leaves no entry")
}

func TestAdjustValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.member("alice", "Alice", "")

	_, err := f.ledger.Add(ctx, models.AdjustRequest{AccountID: a, Amount: 0}, "admin")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.ledger.Deduct(ctx, models.AdjustRequest{AccountID: a, Amount: -5}, "admin")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.ledger.Add(ctx, models.AdjustRequest{AccountID: "ghost", Amount: 5}, "admin")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestAddUsesDefaultReason(t *testing.T) {
	f := newFixture(t)
	a := f.member("alice", "Alice", "")

	entry, err := f.ledger.Add(context.Background(), models.AdjustRequest{AccountID: a, Amount: 5}, "admin")
	require.NoError(t, err)
	assert.Equal(t, reasonAdminGrant, entry.Reason)
	assert.Equal(t, domain.CategoryBonus, entry.Category)
}

func TestHistoryWithPeriod(t *testing.T) {
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	now := day
	f := newFixture(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	a := f.member("alice", "Alice", "")

	for i := 0; i < 3; i++ {
		now = day.Add(time.Duration(i) * 24 * time.Hour)
		f.fund(a, 10)
	}

	all, err := f.ledger.History(ctx, a, domain.Period{})
	require.NoError(t, err)
	assert.Len(t, all.Entries, 3)
	assert.Equal(t, int64(30), all.Total)
	assert.True(t, all.Entries[0].CreatedAt.After(all.Entries[2].CreatedAt))

	second, err := f.ledger.History(ctx, a, domain.Period{From: day.Add(24 * time.Hour), To: day.Add(48 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, second.Entries, 1)
	assert.Equal(t, int64(30), second.Total, "total is the current balance regardless of period")
}

func TestConcurrentSpendsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.member("alice", "Alice", "")
	const price = 7
	f.fund(a, 10*price)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		rejected  atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.ledger.inTx(ctx, "test_spend", func(tx store.Tx) error {
				_, err := Debit(ctx, tx, a, price, "spend", time.Now())
				return err
			})
			switch {
			case err == nil:
				succeeded.Add(1)
			case domain.KindOf(err) == domain.KindConflict:
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), succeeded.Load())
	assert.Equal(t, int32(40), rejected.Load())
	assert.Equal(t, int64(0), f.balance(a))
	assert.True(t, f.audit().Healthy())
}

func TestAuthorizeSpendRejectsNonPositive(t *testing.T) {
	f := newFixture(t)
	err := f.store.InTx(context.Background(), func(tx store.Tx) error {
		return AuthorizeSpend(context.Background(), tx, "alice", 0)
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}
