package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/grainledger/internal/domain"
	"github.com/punchamoorthee/grainledger/internal/models"
)

func TestTransferWritesBalancedLegs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.member("alice", "Alice", "Smith")
	b := f.member("bob", "Bob", "Jones")
	f.fund(a, 100)

	res, err := f.transfers.Transfer(ctx, a, models.TransferRequest{ToAccountID: b, Amount: 40, Message: "thanks"}, "")
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	require.Len(t, res.Entries, 2)

	debit, credit := res.Entries[0], res.Entries[1]
	assert.Equal(t, int64(-40), debit.Amount)
	assert.Equal(t, domain.CategorySpent, debit.Category)
	assert.Equal(t, "transfer to Bob Jones: thanks", debit.Reason)
	assert.Equal(t, int64(40), credit.Amount)
	assert.Equal(t, domain.CategoryBonus, credit.Category)
	assert.Equal(t, "transfer from Alice Smith: thanks", credit.Reason)
	require.NotNil(t, debit.TransferID)
	assert.Equal(t, res.Transfer.ID, *debit.TransferID)
	assert.Equal(t, res.Transfer.ID, *credit.TransferID)

	assert.Equal(t, int64(60), f.balance(a))
	assert.Equal(t, int64(40), f.balance(b))

	history, err := f.ledger.TransferHistory(ctx, a)
	require.NoError(t, err)
	assert.Len(t, history.Sent, 1)
	assert.Empty(t, history.Received)

	report := f.audit()
	assert.True(t, report.Healthy())
	assert.Equal(t, int64(100), report.EntrySum)
}

func TestTransferByEmail(t *testing.T) {
	f := newFixture(t)
	a := f.member("alice", "Alice", "")
	b := f.member("bob", "Bob", "")
	f.fund(a, 10)

	res, err := f.transfers.Transfer(context.Background(), a, models.TransferRequest{ToEmail: "BOB@example.com", Amount: 10}, "")
	require.NoError(t, err)
	assert.Equal(t, b, res.Transfer.ToAccountID)
}

func TestTransferValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.member("alice", "Alice", "")
	b := f.member("bob", "Bob", "")
	f.fund(a, 10)

	tests := []struct {
		name string
		req  models.TransferRequest
		want error
	}{
		{"zero amount", models.TransferRequest{ToAccountID: b, Amount: 0}, domain.ErrInvalidAmount},
		{"negative amount", models.TransferRequest{ToAccountID: b, Amount: -1}, domain.ErrInvalidAmount},
		{"no recipient", models.TransferRequest{Amount: 1}, domain.ErrMissingRecipient},
		{"both recipients", models.TransferRequest{ToAccountID: b, ToEmail: "bob@example.com", Amount: 1}, domain.ErrAmbiguousRecipient},
		{"unknown recipient", models.TransferRequest{ToAccountID: "ghost", Amount: 1}, domain.ErrAccountNotFound},
		{"unknown email", models.TransferRequest{ToEmail: "ghost@example.com", Amount: 1}, domain.ErrAccountNotFound},
		{"self by id", models.TransferRequest{ToAccountID: a, Amount: 1}, domain.ErrSelfTransfer},
		{"self by email", models.TransferRequest{ToEmail: "alice@example.com", Amount: 1}, domain.ErrSelfTransfer},
		{"insufficient", models.TransferRequest{ToAccountID: b, Amount: 11}, domain.ErrInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.transfers.Transfer(ctx, a, tt.req, "")
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, int64(10), f.balance(a))
	assert.Equal(t, int64(0), f.balance(b))
}

func TestTransferIdempotency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.member("alice", "Alice", "")
	b := f.member("bob", "Bob", "")
	f.fund(a, 100)

	req := models.TransferRequest{ToAccountID: b, Amount: 25}
	first, err := f.transfers.Transfer(ctx, a, req, "key-1")
	require.NoError(t, err)

	replay, err := f.transfers.Transfer(ctx, a, req, "key-1")
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.Transfer.ID, replay.Transfer.ID)
	assert.Equal(t, int64(75), f.balance(a), "replay does not move grains again")

	_, err = f.transfers.Transfer(ctx, a, models.TransferRequest{ToAccountID: b, Amount: 26}, "key-1")
	assert.ErrorIs(t, err, domain.ErrIdempotencyMismatch)
}

func TestFailedTransferReleasesIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.member("alice", "Alice", "")
	b := f.member("bob", "Bob", "")

	req := models.TransferRequest{ToAccountID: b, Amount: 5}
	_, err := f.transfers.Transfer(ctx, a, req, "key-2")
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	f.fund(a, 5)
	res, err := f.transfers.Transfer(ctx, a, req, "key-2")
	require.NoError(t, err)
	assert.False(t, res.Replayed)
}

func TestConcurrentOpposingTransfersConserveGrains(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.member("alice", "Alice", "")
	b := f.member("bob", "Bob", "")
	f.fund(a, 50)
	f.fund(b, 50)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := a, b
			if i%2 == 1 {
				from, to = b, a
			}
			_, err := f.transfers.Transfer(ctx, from, models.TransferRequest{ToAccountID: to, Amount: 3}, "")
			if err != nil && domain.KindOf(err) != domain.KindConflict {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(100), f.balance(a)+f.balance(b))
	assert.GreaterOrEqual(t, f.balance(a), int64(0))
	assert.GreaterOrEqual(t, f.balance(b), int64(0))
	assert.True(t, f.audit().Healthy())
}

func TestTransferVisibleToParties(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.member("alice", "Alice", "")
	b := f.member("bob", "Bob", "")
	c := f.member("carol", "Carol", "")
	f.fund(a, 50)

	res, err := f.transfers.Transfer(ctx, a, models.TransferRequest{ToAccountID: b, Amount: 10}, "")
	require.NoError(t, err)
	id := res.Transfer.ID

	for _, v := range []Viewer{
		{AccountID: a, Role: domain.RoleMember},
		{AccountID: b, Role: domain.RoleMember},
		{AccountID: "staff", Role: domain.RoleStaff},
	} {
		got, err := f.ledger.Transfer(ctx, id, v)
		require.NoError(t, err, v.AccountID)
		assert.Equal(t, a, got.FromAccountID)
		assert.Equal(t, b, got.ToAccountID)
		assert.Equal(t, int64(10), got.Amount)
	}

	_, err = f.ledger.Transfer(ctx, id, Viewer{AccountID: c, Role: domain.RoleMember})
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	_, err = f.ledger.Transfer(ctx, "missing", Viewer{AccountID: a, Role: domain.RoleMember})
	assert.ErrorIs(t, err, domain.ErrTransferNotFound)
}
