package service

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/grainledger/internal/domain"
	"github.com/punchamoorthee/grainledger/internal/models"
)

func TestCreateOrderSnapshotsPricesAndIssuesReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.member("alice", "Alice", "")
	f.fund(a, 100)
	f.product("tea", 5)
	f.product("mug", 20)

	res, err := f.orders.CreateOrder(ctx, a, models.OrderRequest{Items: []models.OrderItem{
		{ProductID: "tea", Quantity: 2},
		{ProductID: "mug", Quantity: 1},
	}}, "")
	require.NoError(t, err)

	assert.Equal(t, int64(30), res.Order.TotalAmount)
	assert.Equal(t, domain.OrderConfirmed, res.Order.Status)
	assert.Equal(t, domain.ReceiptPending, res.Receipt.Status)
	assert.Equal(t, int64(-30), res.Entry.Amount)
	assert.Equal(t, int64(70), f.balance(a))

	// Later price changes do not touch the order lines.
	f.product("tea", 50)
	order, err := f.orders.GetOrder(ctx, res.Order.ID, Viewer{AccountID: a, Role: domain.RoleMember})
	require.NoError(t, err)
	for _, l := range order.Lines {
		if l.ProductID == "tea" {
			assert.Equal(t, int64(5), l.UnitPriceAtPurchase)
		}
	}
	assert.True(t, f.audit().Healthy())
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.member("alice", "Alice", "")
	f.fund(a, 10)
	f.product("tea", 5)
	require.NoError(t, f.store.UpsertProduct(ctx, domain.Product{ID: "retired", Name: "Old", Price: 1, Active: false}))
	f.product("pricey", math.MaxInt64/3)
	f.product("half", math.MaxInt64/2)

	tests := []struct {
		name  string
		items []models.OrderItem
		want  error
	}{
		{"empty", nil, domain.ErrEmptyOrder},
		{"zero quantity", []models.OrderItem{{ProductID: "tea", Quantity: 0}}, domain.ErrInvalidQuantity},
		{"duplicate", []models.OrderItem{{ProductID: "tea", Quantity: 1}, {ProductID: "tea", Quantity: 1}}, domain.ErrDuplicateProduct},
		{"unknown product", []models.OrderItem{{ProductID: "nope", Quantity: 1}}, domain.ErrProductNotFound},
		{"inactive product", []models.OrderItem{{ProductID: "retired", Quantity: 1}}, domain.ErrProductNotFound},
		{"too expensive", []models.OrderItem{{ProductID: "tea", Quantity: 3}}, domain.ErrInsufficientBalance},
		{"quantity that wraps the total", []models.OrderItem{{ProductID: "tea", Quantity: 6148914691236517206}}, domain.ErrInvalidQuantity},
		{"quantity above column range", []models.OrderItem{{ProductID: "tea", Quantity: MaxLineQuantity + 1}}, domain.ErrInvalidQuantity},
		{"wrapping line total", []models.OrderItem{{ProductID: "pricey", Quantity: 4}}, domain.ErrOrderTooLarge},
		{"wrapping order total", []models.OrderItem{{ProductID: "pricey", Quantity: 1}, {ProductID: "half", Quantity: 2}}, domain.ErrOrderTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orders.CreateOrder(ctx, a, models.OrderRequest{Items: tt.items}, "")
			assert.ErrorIs(t, err, tt.want)
		})
	}

	orders, err := f.orders.ListOrders(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, orders, "a rejected order leaves no trace")
	assert.Equal(t, int64(10), f.balance(a))
}

func TestCreateOrderIdempotency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.member("alice", "Alice", "")
	f.fund(a, 10)
	f.product("tea", 5)

	req := models.OrderRequest{Items: []models.OrderItem{{ProductID: "tea", Quantity: 1}}}
	first, err := f.orders.CreateOrder(ctx, a, req, "order-key")
	require.NoError(t, err)
	second, err := f.orders.CreateOrder(ctx, a, req, "order-key")
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, int64(5), f.balance(a))
}

func TestRedeemReceiptOnce(t *testing.T) {
	redeemedAt := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, WithClock(fixedClock(redeemedAt)))
	ctx := context.Background()
	a := f.member("alice", "Alice", "")
	f.fund(a, 10)
	f.product("tea", 5)

	res, err := f.orders.CreateOrder(ctx, a, models.OrderRequest{Items: []models.OrderItem{{ProductID: "tea", Quantity: 1}}}, "")
	require.NoError(t, err)

	r, err := f.orders.RedeemReceipt(ctx, res.Receipt.ID, "staff-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReceiptRedeemed, r.Status)
	require.NotNil(t, r.RedeemedAt)
	assert.True(t, redeemedAt.Equal(*r.RedeemedAt))

	_, err = f.orders.RedeemReceipt(ctx, res.Receipt.ID, "staff-2")
	assert.ErrorIs(t, err, domain.ErrReceiptAlreadyRedeemed)

	_, err = f.orders.RedeemByOrder(ctx, res.Order.ID, "staff-2")
	assert.ErrorIs(t, err, domain.ErrReceiptAlreadyRedeemed)

	stored, err := f.orders.ReceiptByOrder(ctx, res.Order.ID, Viewer{AccountID: "staff-9", Role: domain.RoleStaff})
	require.NoError(t, err)
	require.NotNil(t, stored.RedeemedByStaffID)
	assert.Equal(t, "staff-1", *stored.RedeemedByStaffID)

	_, err = f.orders.RedeemReceipt(ctx, "missing", "staff-1")
	assert.ErrorIs(t, err, domain.ErrReceiptNotFound)
}

func TestConcurrentReceiptRedemption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.member("alice", "Alice", "")
	f.fund(a, 10)
	f.product("tea", 5)
	res, err := f.orders.CreateOrder(ctx, a, models.OrderRequest{Items: []models.OrderItem{{ProductID: "tea", Quantity: 1}}}, "")
	require.NoError(t, err)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orders.RedeemByOrder(ctx, res.Order.ID, "staff")
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrReceiptAlreadyRedeemed)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
}

func TestOrderVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.member("alice", "Alice", "")
	f.fund(a, 10)
	f.product("tea", 5)
	res, err := f.orders.CreateOrder(ctx, a, models.OrderRequest{Items: []models.OrderItem{{ProductID: "tea", Quantity: 1}}}, "")
	require.NoError(t, err)

	_, err = f.orders.GetOrder(ctx, res.Order.ID, Viewer{AccountID: "bob", Role: domain.RoleMember})
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	_, err = f.orders.ReceiptByOrder(ctx, res.Order.ID, Viewer{AccountID: "bob", Role: domain.RoleMember})
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	_, err = f.orders.GetOrder(ctx, res.Order.ID, Viewer{AccountID: "admin", Role: domain.RoleAdmin})
	assert.NoError(t, err)

	_, err = f.orders.GetOrder(ctx, "missing", Viewer{AccountID: a})
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	pending, err := f.orders.PendingReceipts(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
