package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/punchamoorthee/grainledger/internal/domain"
	"github.com/punchamoorthee/grainledger/internal/models"
	"github.com/punchamoorthee/grainledger/internal/store"
)

type AchievementService struct {
	runner
	book AchievementBook
	dir  Directory
}

func NewAchievementService(st store.Store, book AchievementBook, dir Directory, log *zap.Logger, opts ...Option) *AchievementService {
	return &AchievementService{runner: newRunner(st, log, opts...), book: book, dir: dir}
}

// Redeem grants the achievement identified by a code or QR token to the
// account. Each achievement is granted at most once per account.
func (s *AchievementService) Redeem(ctx context.Context, accountID, token string, kind domain.TokenKind) (*models.AchievementResponse, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.ErrInvalidToken
	}
	if kind != domain.TokenCode && kind != domain.TokenQR {
		return nil, domain.Invalid("kind", "must be CODE or QR")
	}

	a, err := s.book.AchievementByToken(ctx, token, kind)
	if err != nil {
		return nil, err
	}
	return s.grant(ctx, "redeem_achievement", a, accountID, domain.SystemActor)
}

// Grant awards an achievement on behalf of an administrator.
func (s *AchievementService) Grant(ctx context.Context, achievementID, accountID, adminID string) (*models.AchievementResponse, error) {
	a, err := s.book.Achievement(ctx, achievementID)
	if err != nil {
		return nil, err
	}
	if _, err := s.dir.Member(ctx, accountID); err != nil {
		return nil, err
	}
	return s.grant(ctx, "grant_achievement", a, accountID, adminID)
}

func (s *AchievementService) grant(ctx context.Context, op string, a *domain.Achievement, accountID, grantedBy string) (*models.AchievementResponse, error) {
	if !a.IsActive {
		return nil, domain.ErrAchievementInactive
	}

	resp := &models.AchievementResponse{}
	err := s.inTx(ctx, op, func(tx store.Tx) error {
		if err := tx.LockAccount(ctx, accountID); err != nil {
			return fmt.Errorf("lock account: %w", err)
		}

		_, err := tx.FindAchievementGrant(ctx, accountID, a.ID)
		switch {
		case err == nil:
			return domain.ErrAlreadyGranted
		case !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("find grant: %w", err)
		}

		now := s.clock()
		g := domain.AchievementGrant{
			ID:            uuid.NewString(),
			AccountID:     accountID,
			AchievementID: a.ID,
			GrantedBy:     grantedBy,
			CreatedAt:     now,
		}
		if err := tx.InsertAchievementGrant(ctx, &g); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return domain.ErrAlreadyGranted
			}
			return fmt.Errorf("grant insert failed: %w", err)
		}
		resp.Grant, resp.Entry = g, nil

		if a.RewardAmount > 0 {
			entry, err := Credit(ctx, tx, accountID, a.RewardAmount, "achievement: "+a.Name, domain.CategoryAchievement, now)
			if err != nil {
				return err
			}
			resp.Entry = entry
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("achievement granted",
		zap.String("achievement_id", a.ID),
		zap.String("account_id", accountID),
		zap.String("granted_by", grantedBy),
		zap.Int64("reward", a.RewardAmount))
	return resp, nil
}
