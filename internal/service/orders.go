package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/punchamoorthee/grainledger/internal/domain"
	"github.com/punchamoorthee/grainledger/internal/models"
	"github.com/punchamoorthee/grainledger/internal/store"
)

// OrderService places catalog orders and drives receipt redemption.
type OrderService struct {
	runner
	catalog Catalog
}

func NewOrderService(st store.Store, catalog Catalog, log *zap.Logger, opts ...Option) *OrderService {
	return &OrderService{runner: newRunner(st, log, opts...), catalog: catalog}
}

// MaxLineQuantity matches the INTEGER quantity column.
const MaxLineQuantity = math.MaxInt32

// lineTotal multiplies without wrapping; ok is false on overflow.
func lineTotal(price, quantity int64) (int64, bool) {
	if price != 0 && quantity > math.MaxInt64/price {
		return 0, false
	}
	return price * quantity, true
}

type OrderResult struct {
	models.OrderResponse
	Replayed bool
}

// CreateOrder pays for the items with one SPENT entry and issues a pending
// receipt. Prices are captured on the order lines at purchase time.
func (s *OrderService) CreateOrder(ctx context.Context, accountID string, req models.OrderRequest, idempotencyKey string) (*OrderResult, error) {
	if len(req.Items) == 0 {
		return nil, domain.ErrEmptyOrder
	}
	ids := make([]string, 0, len(req.Items))
	seen := make(map[string]bool, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity <= 0 || item.Quantity > MaxLineQuantity {
			return nil, domain.ErrInvalidQuantity
		}
		if seen[item.ProductID] {
			return nil, domain.ErrDuplicateProduct.With("%s", item.ProductID)
		}
		seen[item.ProductID] = true
		ids = append(ids, item.ProductID)
	}

	products, err := s.catalog.Products(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	prices := make(map[string]int64, len(products))
	for _, p := range products {
		if p.Active {
			prices[p.ID] = p.Price
		}
	}

	var total int64
	lines := make([]domain.OrderLine, 0, len(req.Items))
	for _, item := range req.Items {
		price, ok := prices[item.ProductID]
		if !ok {
			return nil, domain.ErrProductNotFound.With("%s", item.ProductID)
		}
		line, ok := lineTotal(price, int64(item.Quantity))
		if !ok || total > math.MaxInt64-line {
			return nil, domain.ErrOrderTooLarge
		}
		total += line
		lines = append(lines, domain.OrderLine{
			ProductID:           item.ProductID,
			Quantity:            item.Quantity,
			UnitPriceAtPurchase: price,
		})
	}

	hash := requestHash("order", struct {
		Account string
		Items   []models.OrderItem
	}{accountID, req.Items})

	var result *OrderResult
	err = s.inTx(ctx, "create_order", func(tx store.Tx) error {
		stored, err := claimKey(ctx, tx, idempotencyKey, hash)
		if err != nil {
			return err
		}
		if stored != nil {
			result = &OrderResult{Replayed: true}
			return json.Unmarshal(stored, &result.OrderResponse)
		}

		if err := tx.LockAccount(ctx, accountID); err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		if err := AuthorizeSpend(ctx, tx, accountID, total); err != nil {
			return err
		}

		now := s.clock()
		order := domain.Order{
			ID:          uuid.NewString(),
			AccountID:   accountID,
			TotalAmount: total,
			Status:      domain.OrderPending,
			CreatedAt:   now,
			Lines:       make([]domain.OrderLine, len(lines)),
		}
		for i, l := range lines {
			l.ID = uuid.NewString()
			l.OrderID = order.ID
			order.Lines[i] = l
		}
		if err := tx.InsertOrder(ctx, &order); err != nil {
			return fmt.Errorf("order insert failed: %w", err)
		}

		entry, err := appendEntry(ctx, tx, accountID, -total, "purchase, order #"+order.ID, domain.CategorySpent, nil, now)
		if err != nil {
			return err
		}

		if err := tx.SetOrderStatus(ctx, order.ID, domain.OrderConfirmed); err != nil {
			return fmt.Errorf("order confirm failed: %w", err)
		}
		order.Status = domain.OrderConfirmed

		receipt := domain.Receipt{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			Status:    domain.ReceiptPending,
			CreatedAt: now,
		}
		if err := tx.InsertReceipt(ctx, &receipt); err != nil {
			return fmt.Errorf("receipt insert failed: %w", err)
		}

		result = &OrderResult{OrderResponse: models.OrderResponse{Order: order, Receipt: receipt, Entry: *entry}}
		return completeKey(ctx, tx, idempotencyKey, result.OrderResponse)
	})
	if err != nil {
		return nil, err
	}

	if !result.Replayed {
		s.log.Info("order placed",
			zap.String("order_id", result.Order.ID),
			zap.String("account_id", accountID),
			zap.Int64("total", total))
	}
	return result, nil
}

func (s *OrderService) ListOrders(ctx context.Context, accountID string) ([]domain.Order, error) {
	var orders []domain.Order
	err := s.read(ctx, func(tx store.Tx) error {
		var err error
		orders, err = tx.ListOrders(ctx, accountID)
		return err
	})
	return orders, err
}

// GetOrder returns the order to its owner or to staff.
func (s *OrderService) GetOrder(ctx context.Context, orderID string, viewer Viewer) (*domain.Order, error) {
	var order *domain.Order
	err := s.read(ctx, func(tx store.Tx) error {
		var err error
		order, err = tx.GetOrder(ctx, orderID)
		return notFound(err, domain.ErrOrderNotFound)
	})
	if err != nil {
		return nil, err
	}
	if !viewer.CanSee(order.AccountID) {
		return nil, domain.ErrNotOwner
	}
	return order, nil
}

// ReceiptByOrder returns the receipt of an order to its owner or to staff.
func (s *OrderService) ReceiptByOrder(ctx context.Context, orderID string, viewer Viewer) (*domain.Receipt, error) {
	var receipt *domain.Receipt
	err := s.read(ctx, func(tx store.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return notFound(err, domain.ErrOrderNotFound)
		}
		if !viewer.CanSee(order.AccountID) {
			return domain.ErrNotOwner
		}
		receipt, err = tx.GetReceiptByOrder(ctx, orderID)
		return notFound(err, domain.ErrReceiptNotFound)
	})
	return receipt, err
}

func (s *OrderService) PendingReceipts(ctx context.Context) ([]domain.Receipt, error) {
	var receipts []domain.Receipt
	err := s.read(ctx, func(tx store.Tx) error {
		var err error
		receipts, err = tx.ListReceipts(ctx, domain.ReceiptPending)
		return err
	})
	return receipts, err
}

// RedeemReceipt marks a pending receipt as picked up. A receipt is
// redeemed at most once; later calls fail without touching it.
func (s *OrderService) RedeemReceipt(ctx context.Context, receiptID, staffID string) (*domain.Receipt, error) {
	var receipt *domain.Receipt
	err := s.inTx(ctx, "redeem_receipt", func(tx store.Tx) error {
		var err error
		receipt, err = s.redeem(ctx, tx, receiptID, staffID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("receipt redeemed", zap.String("receipt_id", receipt.ID), zap.String("staff_id", staffID))
	return receipt, nil
}

// RedeemByOrder redeems the receipt issued for orderID.
func (s *OrderService) RedeemByOrder(ctx context.Context, orderID, staffID string) (*domain.Receipt, error) {
	var receipt *domain.Receipt
	err := s.inTx(ctx, "redeem_receipt", func(tx store.Tx) error {
		r, err := tx.GetReceiptByOrder(ctx, orderID)
		if err != nil {
			return notFound(err, domain.ErrReceiptNotFound)
		}
		receipt, err = s.redeem(ctx, tx, r.ID, staffID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("receipt redeemed", zap.String("receipt_id", receipt.ID), zap.String("staff_id", staffID))
	return receipt, nil
}

func (s *OrderService) redeem(ctx context.Context, tx store.Tx, receiptID, staffID string) (*domain.Receipt, error) {
	r, err := tx.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, notFound(err, domain.ErrReceiptNotFound)
	}
	if r.Status != domain.ReceiptPending {
		return nil, domain.ErrReceiptAlreadyRedeemed
	}

	now := s.clock()
	staff := staffID
	r.Status = domain.ReceiptRedeemed
	r.RedeemedAt = &now
	r.RedeemedByStaffID = &staff
	if err := tx.MarkReceiptRedeemed(ctx, r); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.ErrReceiptAlreadyRedeemed
		}
		return nil, fmt.Errorf("receipt update failed: %w", err)
	}
	return r, nil
}
