package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/punchamoorthee/grainledger/internal/domain"
	"github.com/punchamoorthee/grainledger/internal/store"
	"github.com/punchamoorthee/grainledger/internal/store/sqlite"
)

func newAuditor(t *testing.T) (*Auditor, *sqlite.Store) {
	t.Helper()
	st, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "grains.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, zaptest.NewLogger(t)), st
}

func TestRunRecordsReport(t *testing.T) {
	a, st := newAuditor(t)
	ctx := context.Background()
	a.now = func() time.Time { return time.Unix(1700000000, 0) }

	require.NoError(t, st.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertEntry(ctx, &domain.LedgerEntry{
			ID: "e1", AccountID: "acc", Amount: 42, Reason: "opening", Category: domain.CategoryBonus, CreatedAt: time.Now(),
		})
	}))

	report, err := a.Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.Healthy())
	assert.Equal(t, int64(42), report.EntrySum)

	assert.Equal(t, float64(42), testutil.ToFloat64(entrySum))
	assert.Equal(t, float64(1700000000), testutil.ToFloat64(lastRun))
	assert.Equal(t, float64(0), testutil.ToFloat64(violations.WithLabelValues("negative_accounts")))

	last, at := a.Last()
	require.NotNil(t, last)
	assert.Equal(t, int64(42), last.EntrySum)
	assert.Equal(t, int64(1700000000), at.Unix())
}

func TestRunFlagsNegativeAccount(t *testing.T) {
	a, st := newAuditor(t)
	ctx := context.Background()

	require.NoError(t, st.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertEntry(ctx, &domain.LedgerEntry{
			ID: "e1", AccountID: "acc", Amount: -1, Reason: "corrupt", Category: domain.CategorySpent, CreatedAt: time.Now(),
		})
	}))

	report, err := a.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.NegativeAccounts)
	assert.Equal(t, float64(1), testutil.ToFloat64(violations.WithLabelValues("negative_accounts")))
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	a, _ := newAuditor(t)

	_, err := a.Schedule("every tuesday", time.Second)
	assert.Error(t, err)

	c, err := a.Schedule("@every 1h", time.Second)
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)
}
