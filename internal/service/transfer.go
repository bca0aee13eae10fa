package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/punchamoorthee/grainledger/internal/domain"
	"github.com/punchamoorthee/grainledger/internal/models"
	"github.com/punchamoorthee/grainledger/internal/store"
)

// TransferService moves grains between members.
type TransferService struct {
	runner
	dir Directory
}

func NewTransferService(st store.Store, dir Directory, log *zap.Logger, opts ...Option) *TransferService {
	return &TransferService{runner: newRunner(st, log, opts...), dir: dir}
}

// TransferResult is the outcome of a transfer. Replayed is set when the
// response was served from a completed idempotency key.
type TransferResult struct {
	models.TransferResponse
	Replayed bool
}

// Transfer executes the double-entry transfer within a transaction with
// deterministic locking. A non-empty idempotencyKey makes the call safe to
// repeat.
func (s *TransferService) Transfer(ctx context.Context, fromID string, req models.TransferRequest, idempotencyKey string) (*TransferResult, error) {
	// 1. Validation
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	toID, toEmail := strings.TrimSpace(req.ToAccountID), strings.TrimSpace(req.ToEmail)
	switch {
	case toID == "" && toEmail == "":
		return nil, domain.ErrMissingRecipient
	case toID != "" && toEmail != "":
		return nil, domain.ErrAmbiguousRecipient
	}

	// 2. Resolve both parties
	sender, err := s.dir.Member(ctx, fromID)
	if err != nil {
		return nil, err
	}
	var recipient *domain.Member
	if toID != "" {
		recipient, err = s.dir.Member(ctx, toID)
	} else {
		recipient, err = s.dir.MemberByEmail(ctx, toEmail)
	}
	if err != nil {
		return nil, err
	}
	if recipient.ID == sender.ID {
		return nil, domain.ErrSelfTransfer
	}

	hash := requestHash("transfer", struct {
		From, To string
		Amount   int64
		Message  string
	}{sender.ID, recipient.ID, req.Amount, req.Message})

	var result *TransferResult
	err = s.inTx(ctx, "transfer", func(tx store.Tx) error {
		// 3. Idempotency
		stored, err := claimKey(ctx, tx, idempotencyKey, hash)
		if err != nil {
			return err
		}
		if stored != nil {
			result = &TransferResult{Replayed: true}
			return json.Unmarshal(stored, &result.TransferResponse)
		}

		// 4. Deterministic locking (deadlock prevention)
		first, second := sender.ID, recipient.ID
		if first > second {
			first, second = second, first
		}
		if err := tx.LockAccount(ctx, first); err != nil {
			return fmt.Errorf("lock acquisition failed: %w", err)
		}
		if err := tx.LockAccount(ctx, second); err != nil {
			return fmt.Errorf("lock acquisition failed: %w", err)
		}

		// 5. Business check
		if err := AuthorizeSpend(ctx, tx, sender.ID, req.Amount); err != nil {
			return err
		}

		// 6. Transfer record and both legs
		now := s.clock()
		t := domain.Transfer{
			ID:            uuid.NewString(),
			FromAccountID: sender.ID,
			ToAccountID:   recipient.ID,
			Amount:        req.Amount,
			CreatedAt:     now,
		}
		if req.Message != "" {
			msg := req.Message
			t.Message = &msg
		}
		if err := tx.InsertTransfer(ctx, &t); err != nil {
			return fmt.Errorf("transfer insert failed: %w", err)
		}

		debit, err := appendEntry(ctx, tx, sender.ID, -req.Amount,
			transferReason("transfer to", recipient, req.Message), domain.CategorySpent, &t.ID, now)
		if err != nil {
			return err
		}
		credit, err := appendEntry(ctx, tx, recipient.ID, req.Amount,
			transferReason("transfer from", sender, req.Message), domain.CategoryBonus, &t.ID, now)
		if err != nil {
			return err
		}

		// 7. Finalize idempotency
		result = &TransferResult{TransferResponse: models.TransferResponse{
			Transfer: t,
			Entries:  []domain.LedgerEntry{*debit, *credit},
		}}
		return completeKey(ctx, tx, idempotencyKey, result.TransferResponse)
	})
	if err != nil {
		return nil, err
	}

	if !result.Replayed {
		s.log.Info("transfer completed",
			zap.String("transfer_id", result.Transfer.ID),
			zap.String("from", sender.ID),
			zap.String("to", recipient.ID),
			zap.Int64("amount", req.Amount))
	}
	return result, nil
}

func transferReason(prefix string, counterpart *domain.Member, message string) string {
	reason := prefix + " " + counterpart.DisplayName()
	if message != "" {
		reason += ": " + message
	}
	return reason
}
