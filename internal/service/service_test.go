package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/punchamoorthee/grainledger/internal/domain"
	"github.com/punchamoorthee/grainledger/internal/models"
	"github.com/punchamoorthee/grainledger/internal/store"
	"github.com/punchamoorthee/grainledger/internal/store/sqlite"
)

// fixture wires every service to a fresh SQLite database.
type fixture struct {
	t            *testing.T
	store        *sqlite.Store
	dir          *StoreDirectory
	ledger       *LedgerService
	transfers    *TransferService
	orders       *OrderService
	freeVisits   *FreeVisitService
	booking      *BookingService
	achievements *AchievementService
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "grains.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	log := zaptest.NewLogger(t)
	opts = append([]Option{WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} })}, opts...)
	dir := NewStoreDirectory(st)

	return &fixture{
		t:            t,
		store:        st,
		dir:          dir,
		ledger:       NewLedgerService(st, dir, log, opts...),
		transfers:    NewTransferService(st, dir, log, opts...),
		orders:       NewOrderService(st, dir, log, opts...),
		freeVisits:   NewFreeVisitService(st, dir, log, opts...),
		booking:      NewBookingService(st, log, opts...),
		achievements: NewAchievementService(st, dir, dir, log, opts...),
	}
}

func (f *fixture) member(id, first, last string) string {
	f.t.Helper()
	require.NoError(f.t, f.store.UpsertMember(context.Background(), domain.Member{
		ID: id, Email: id + "@example.com", FirstName: first, LastName: last,
	}))
	return id
}

func (f *fixture) fund(accountID string, amount int64) {
	f.t.Helper()
	_, err := f.ledger.Add(context.Background(), models.AdjustRequest{AccountID: accountID, Amount: amount}, "admin")
	require.NoError(f.t, err)
}

func (f *fixture) balance(accountID string) int64 {
	f.t.Helper()
	b, err := f.ledger.Balance(context.Background(), accountID)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) product(id string, price int64) {
	f.t.Helper()
	require.NoError(f.t, f.store.UpsertProduct(context.Background(), domain.Product{ID: id, Name: id, Price: price, Active: true}))
}

func (f *fixture) resource(id string, capacity *int, requiresApproval bool) {
	f.t.Helper()
	require.NoError(f.t, f.store.UpsertResource(context.Background(), domain.Resource{
		ID: id, Kind: domain.ResourceLesson, Title: id, Capacity: capacity, RequiresApproval: requiresApproval,
	}))
}

func (f *fixture) audit() domain.AuditReport {
	f.t.Helper()
	var report domain.AuditReport
	require.NoError(f.t, f.store.InTx(context.Background(), func(tx store.Tx) error {
		var err error
		report, err = tx.Audit(context.Background())
		return err
	}))
	return report
}

func intPtr(n int) *int { return &n }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
