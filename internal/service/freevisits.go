package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/punchamoorthee/grainledger/internal/domain"
	"github.com/punchamoorthee/grainledger/internal/models"
	"github.com/punchamoorthee/grainledger/internal/store"
)

// GrainsPerVisit is the price of one free visit.
const GrainsPerVisit = 11

var visitBundles = map[int]bool{1: true, 5: true, 10: true}

type FreeVisitService struct {
	runner
	dir Directory
}

func NewFreeVisitService(st store.Store, dir Directory, log *zap.Logger, opts ...Option) *FreeVisitService {
	return &FreeVisitService{runner: newRunner(st, log, opts...), dir: dir}
}

// Purchase buys a bundle of visits. The debit and the grant commit together.
func (s *FreeVisitService) Purchase(ctx context.Context, accountID string, amount int) (*models.FreeVisitPurchaseResponse, error) {
	if !visitBundles[amount] {
		return nil, domain.ErrInvalidBundle
	}
	cost := int64(amount) * GrainsPerVisit

	resp := &models.FreeVisitPurchaseResponse{}
	err := s.inTx(ctx, "free_visit_purchase", func(tx store.Tx) error {
		now := s.clock()
		entry, err := Debit(ctx, tx, accountID, cost, fmt.Sprintf("purchase of %d free visits", amount), now)
		if err != nil {
			return err
		}
		grant, err := insertGrant(ctx, tx, accountID, amount, now)
		if err != nil {
			return err
		}
		resp.Entry, resp.Grant = *entry, *grant
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("free visits purchased",
		zap.String("account_id", accountID),
		zap.Int("visits", amount),
		zap.Int64("cost", cost))
	return resp, nil
}

// Grant adds visits without charging the account.
func (s *FreeVisitService) Grant(ctx context.Context, req models.FreeVisitGrantRequest, adminID string) (*domain.FreeVisitGrant, error) {
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if _, err := s.dir.Member(ctx, req.AccountID); err != nil {
		return nil, err
	}

	var grant *domain.FreeVisitGrant
	err := s.inTx(ctx, "free_visit_grant", func(tx store.Tx) error {
		var err error
		grant, err = insertGrant(ctx, tx, req.AccountID, req.Amount, s.clock())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("free visits granted",
		zap.String("account_id", req.AccountID),
		zap.Int("visits", req.Amount),
		zap.String("admin_id", adminID))
	return grant, nil
}

// Use consumes one visit from the oldest grant that still has one left.
func (s *FreeVisitService) Use(ctx context.Context, accountID string) (*domain.FreeVisitGrant, error) {
	var used *domain.FreeVisitGrant
	err := s.inTx(ctx, "free_visit_use", func(tx store.Tx) error {
		if err := tx.LockAccount(ctx, accountID); err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		grants, err := tx.ListFreeVisitGrants(ctx, accountID)
		if err != nil {
			return fmt.Errorf("list grants: %w", err)
		}
		for i := range grants {
			g := grants[i]
			if g.Remaining() <= 0 {
				continue
			}
			if err := tx.IncrementFreeVisitUsed(ctx, g.ID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return domain.ErrNoFreeVisits
				}
				return fmt.Errorf("consume visit: %w", err)
			}
			g.Used++
			used = &g
			return nil
		}
		return domain.ErrNoFreeVisits
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("free visit used", zap.String("account_id", accountID), zap.String("grant_id", used.ID))
	return used, nil
}

// Summary aggregates the grants of an account, newest grant first.
func (s *FreeVisitService) Summary(ctx context.Context, accountID string) (*models.FreeVisitSummary, error) {
	summary := &models.FreeVisitSummary{}
	err := s.read(ctx, func(tx store.Tx) error {
		grants, err := tx.ListFreeVisitGrants(ctx, accountID)
		if err != nil {
			return err
		}
		summary.Grants = make([]domain.FreeVisitGrant, 0, len(grants))
		for i := len(grants) - 1; i >= 0; i-- {
			g := grants[i]
			summary.Total += g.Amount
			summary.Used += g.Used
			summary.Grants = append(summary.Grants, g)
		}
		summary.Available = summary.Total - summary.Used
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

func insertGrant(ctx context.Context, tx store.Tx, accountID string, amount int, at time.Time) (*domain.FreeVisitGrant, error) {
	g := &domain.FreeVisitGrant{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Amount:    amount,
		CreatedAt: at,
	}
	if err := tx.InsertFreeVisitGrant(ctx, g); err != nil {
		return nil, fmt.Errorf("grant insert failed: %w", err)
	}
	return g, nil
}
