package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/punchamoorthee/grainledger/internal/domain"
	"github.com/punchamoorthee/grainledger/internal/models"
	"github.com/punchamoorthee/grainledger/internal/store"
)

const (
	reasonAdminGrant  = "granted by administrator"
	reasonAdminDeduct = "deducted by administrator"
)

// BalanceOf derives the balance of an account from its entries. Unknown
// accounts have a balance of 0.
func BalanceOf(ctx context.Context, tx store.Tx, accountID string) (int64, error) {
	balance, err := tx.SumEntries(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("balance of %s: %w", accountID, err)
	}
	return balance, nil
}

// AuthorizeSpend checks that the account can pay amount. The caller must
// hold the account lock in tx so the check stays valid until commit.
func AuthorizeSpend(ctx context.Context, tx store.Tx, accountID string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	balance, err := BalanceOf(ctx, tx, accountID)
	if err != nil {
		return err
	}
	if balance < amount {
		return domain.ErrInsufficientBalance.With("available %d, required %d", balance, amount)
	}
	return nil
}

// Debit locks the account, authorizes the spend and appends a SPENT entry.
func Debit(ctx context.Context, tx store.Tx, accountID string, amount int64, reason string, at time.Time) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if err := tx.LockAccount(ctx, accountID); err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}
	if err := AuthorizeSpend(ctx, tx, accountID, amount); err != nil {
		return nil, err
	}
	return appendEntry(ctx, tx, accountID, -amount, reason, domain.CategorySpent, nil, at)
}

// Credit appends a positive entry. Credits never need authorization.
func Credit(ctx context.Context, tx store.Tx, accountID string, amount int64, reason string, category domain.Category, at time.Time) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	return appendEntry(ctx, tx, accountID, amount, reason, category, nil, at)
}

func appendEntry(ctx context.Context, tx store.Tx, accountID string, amount int64, reason string, category domain.Category, transferID *string, at time.Time) (*domain.LedgerEntry, error) {
	e := &domain.LedgerEntry{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		Amount:     amount,
		Reason:     reason,
		Category:   category,
		TransferID: transferID,
		CreatedAt:  at,
	}
	if err := tx.InsertEntry(ctx, e); err != nil {
		return nil, fmt.Errorf("ledger entry failed: %w", err)
	}
	return e, nil
}

// LedgerService answers balance and history queries and performs
// administrative adjustments.
type LedgerService struct {
	runner
	dir Directory
}

func NewLedgerService(st store.Store, dir Directory, log *zap.Logger, opts ...Option) *LedgerService {
	return &LedgerService{runner: newRunner(st, log, opts...), dir: dir}
}

func (s *LedgerService) Balance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := s.read(ctx, func(tx store.Tx) error {
		var err error
		balance, err = BalanceOf(ctx, tx, accountID)
		return err
	})
	return balance, err
}

// History returns the entries of the account inside period, newest first,
// together with the current balance.
func (s *LedgerService) History(ctx context.Context, accountID string, period domain.Period) (*models.HistoryResponse, error) {
	resp := &models.HistoryResponse{}
	err := s.read(ctx, func(tx store.Tx) error {
		entries, err := tx.ListEntries(ctx, accountID, period)
		if err != nil {
			return fmt.Errorf("list entries: %w", err)
		}
		total, err := BalanceOf(ctx, tx, accountID)
		if err != nil {
			return err
		}
		resp.Entries, resp.Total = entries, total
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Transfer returns one transfer to its sender, its recipient or staff.
func (s *LedgerService) Transfer(ctx context.Context, transferID string, viewer Viewer) (*domain.Transfer, error) {
	var tr *domain.Transfer
	err := s.read(ctx, func(tx store.Tx) error {
		var err error
		tr, err = tx.GetTransfer(ctx, transferID)
		return notFound(err, domain.ErrTransferNotFound)
	})
	if err != nil {
		return nil, err
	}
	if !viewer.CanSee(tr.FromAccountID) && !viewer.CanSee(tr.ToAccountID) {
		return nil, domain.ErrNotOwner
	}
	return tr, nil
}

// TransferHistory splits the transfers of the account into sent and received.
func (s *LedgerService) TransferHistory(ctx context.Context, accountID string) (*models.TransferHistoryResponse, error) {
	resp := &models.TransferHistoryResponse{}
	err := s.read(ctx, func(tx store.Tx) error {
		sent, err := tx.ListTransfersFrom(ctx, accountID)
		if err != nil {
			return fmt.Errorf("list sent transfers: %w", err)
		}
		received, err := tx.ListTransfersTo(ctx, accountID)
		if err != nil {
			return fmt.Errorf("list received transfers: %w", err)
		}
		resp.Sent, resp.Received = sent, received
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Add credits an account on behalf of an administrator.
func (s *LedgerService) Add(ctx context.Context, req models.AdjustRequest, adminID string) (*domain.LedgerEntry, error) {
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if _, err := s.dir.Member(ctx, req.AccountID); err != nil {
		return nil, err
	}
	reason := req.Reason
	if reason == "" {
		reason = reasonAdminGrant
	}

	var entry *domain.LedgerEntry
	err := s.inTx(ctx, "admin_add", func(tx store.Tx) error {
		var err error
		entry, err = Credit(ctx, tx, req.AccountID, req.Amount, reason, domain.CategoryBonus, s.clock())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("grains added",
		zap.String("account_id", req.AccountID),
		zap.Int64("amount", req.Amount),
		zap.String("admin_id", adminID))
	return entry, nil
}

// Deduct debits an account on behalf of an administrator. It goes through
// the spend authorizer, so the balance never becomes negative.
func (s *LedgerService) Deduct(ctx context.Context, req models.AdjustRequest, adminID string) (*domain.LedgerEntry, error) {
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if _, err := s.dir.Member(ctx, req.AccountID); err != nil {
		return nil, err
	}
	reason := req.Reason
	if reason == "" {
		reason = reasonAdminDeduct
	}

	var entry *domain.LedgerEntry
	err := s.inTx(ctx, "admin_deduct", func(tx store.Tx) error {
		var err error
		entry, err = Debit(ctx, tx, req.AccountID, req.Amount, reason, s.clock())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("grains deducted",
		zap.String("account_id", req.AccountID),
		zap.Int64("amount", req.Amount),
		zap.String("admin_id", adminID))
	return entry, nil
}
