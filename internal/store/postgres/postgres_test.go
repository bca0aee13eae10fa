package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/grainledger/internal/domain"
	"github.com/punchamoorthee/grainledger/internal/store"
)

func TestMigrateURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"postgres://u:p@localhost:5432/grains?sslmode=disable", "pgx5://u:p@localhost:5432/grains?sslmode=disable"},
		{"postgresql://localhost/grains", "pgx5://localhost/grains"},
		{"pgx5://localhost/grains", "pgx5://localhost/grains"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, migrateURL(tt.in))
	}
}

func TestTranslate(t *testing.T) {
	assert.Nil(t, translate(nil))
	assert.ErrorIs(t, translate(pgx.ErrNoRows), store.ErrNotFound)
	assert.ErrorIs(t, translate(&pgconn.PgError{Code: pgUniqueViolation}), store.ErrDuplicate)

	for _, code := range []string{pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable} {
		err := translate(&pgconn.PgError{Code: code})
		assert.True(t, domain.IsRetryable(err), code)
	}

	plain := errors.New("boom")
	assert.Equal(t, plain, translate(plain))
	assert.False(t, domain.IsRetryable(translate(context.Canceled)))
}

// openIntegrationStore connects to TEST_POSTGRES_DSN, skipping when unset.
func openIntegrationStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	require.NoError(t, Migrate(dsn))

	s, err := NewStore(context.Background(), dsn, WithLockTimeout(time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIntegrationAccountLockSerializesSpends(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()
	account := "it-" + uuid.NewString()

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertEntry(ctx, &domain.LedgerEntry{
			ID: uuid.NewString(), AccountID: account, Amount: 100, Reason: "opening", Category: domain.CategoryBonus, CreatedAt: time.Now(),
		})
	}))

	const workers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InTx(ctx, func(tx store.Tx) error {
				if err := tx.LockAccount(ctx, account); err != nil {
					return err
				}
				balance, err := tx.SumEntries(ctx, account)
				if err != nil {
					return err
				}
				if balance < 10 {
					return domain.ErrInsufficientBalance
				}
				return tx.InsertEntry(ctx, &domain.LedgerEntry{
					ID: uuid.NewString(), AccountID: account, Amount: -10, Reason: "spend", Category: domain.CategorySpent, CreatedAt: time.Now(),
				})
			})
			if err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, granted)
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		balance, err := tx.SumEntries(ctx, account)
		require.NoError(t, err)
		assert.Equal(t, int64(0), balance)
		return nil
	}))
}

func TestIntegrationLiveEnrollmentIndex(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()
	resourceID := "it-" + uuid.NewString()
	require.NoError(t, s.UpsertResource(ctx, domain.Resource{ID: resourceID, Kind: domain.ResourceEvent, Title: "Open day"}))

	insert := func() error {
		now := time.Now()
		return s.InTx(ctx, func(tx store.Tx) error {
			return tx.InsertEnrollment(ctx, &domain.Enrollment{
				ID: uuid.NewString(), AccountID: "acc", ResourceID: resourceID, Status: domain.EnrollmentApproved, CreatedAt: now, UpdatedAt: now,
			})
		})
	}
	require.NoError(t, insert())
	assert.ErrorIs(t, insert(), store.ErrDuplicate)
}

func TestIntegrationAudit(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.Audit(ctx)
		return err
	}))
}
