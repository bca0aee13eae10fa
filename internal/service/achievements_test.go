package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/grainledger/internal/domain"
)

func seedAchievement(t *testing.T, f *fixture, a domain.Achievement) {
	t.Helper()
	require.NoError(t, f.store.UpsertAchievement(context.Background(), a))
}

func TestRedeemAchievementByCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.member("alice", "Alice", "")
	code, qr := "HELLO", "qr-hello"
	seedAchievement(t, f, domain.Achievement{ID: "ach-1", Name: "First steps", RewardAmount: 15, IsActive: true, Code: &code, QRCode: &qr})

	res, err := f.achievements.Redeem(ctx, a, code, domain.TokenCode)
	require.NoError(t, err)
	assert.Equal(t, domain.SystemActor, res.Grant.GrantedBy)
	require.NotNil(t, res.Entry)
	assert.Equal(t, domain.CategoryAchievement, res.Entry.Category)
	assert.Equal(t, "achievement: First steps", res.Entry.Reason)
	assert.Equal(t, int64(15), f.balance(a))

	_, err = f.achievements.Redeem(ctx, a, qr, domain.TokenQR)
	assert.ErrorIs(t, err, domain.ErrAlreadyGranted)
	assert.Equal(t, int64(15), f.balance(a))
}

func TestRedeemAchievementErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.member("alice", "Alice", "")
	code := "OLD"
	seedAchievement(t, f, domain.Achievement{ID: "ach-old", Name: "Retired", RewardAmount: 5, IsActive: false, Code: &code})

	_, err := f.achievements.Redeem(ctx, a, "  ", domain.TokenCode)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	_, err = f.achievements.Redeem(ctx, a, "X", domain.TokenKind("NFC"))
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.achievements.Redeem(ctx, a, "UNKNOWN", domain.TokenCode)
	assert.ErrorIs(t, err, domain.ErrAchievementNotFound)

	_, err = f.achievements.Redeem(ctx, a, code, domain.TokenCode)
	assert.ErrorIs(t, err, domain.ErrAchievementInactive)
}

func TestZeroRewardGrantWritesNoEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.member("alice", "Alice", "")
	seedAchievement(t, f, domain.Achievement{ID: "badge", Name: "Badge", RewardAmount: 0, IsActive: true})

	res, err := f.achievements.Grant(ctx, "badge", a, "admin-1")
	require.NoError(t, err)
	assert.Nil(t, res.Entry)
	assert.Equal(t, "admin-1", res.Grant.GrantedBy)

	history, err := f.ledger.History(ctx, a, domain.Period{})
	require.NoError(t, err)
	assert.Empty(t, history.Entries)

	_, err = f.achievements.Grant(ctx, "missing", a, "admin-1")
	assert.ErrorIs(t, err, domain.ErrAchievementNotFound)

	_, err = f.achievements.Grant(ctx, "badge", "ghost", "admin-1")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestConcurrentRedemptionGrantsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.member("alice", "Alice", "")
	code := "RACE"
	seedAchievement(t, f, domain.Achievement{ID: "ach-race", Name: "Race", RewardAmount: 10, IsActive: true, Code: &code})

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.achievements.Redeem(ctx, a, code, domain.TokenCode)
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrAlreadyGranted)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, int64(10), f.balance(a))
}
