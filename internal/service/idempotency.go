package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/punchamoorthee/grainledger/internal/domain"
	"github.com/punchamoorthee/grainledger/internal/store"
)

// claimKey reserves an idempotency key inside tx. It returns the stored
// response body when the key was already completed with the same payload.
// An empty key disables the check.
func claimKey(ctx context.Context, tx store.Tx, key, hash string) (json.RawMessage, error) {
	if key == "" {
		return nil, nil
	}

	rec, err := tx.GetIdempotency(ctx, key)
	switch {
	case err == nil:
		if rec.RequestHash != hash {
			return nil, domain.ErrIdempotencyMismatch
		}
		if rec.Status != domain.IdempotencyCompleted {
			return nil, domain.ErrIdempotencyConflict
		}
		return rec.ResponseBody, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("idempotency query failed: %w", err)
	}

	if err := tx.ReserveIdempotency(ctx, key, hash); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, domain.ErrIdempotencyConflict
		}
		return nil, fmt.Errorf("key reservation failed: %w", err)
	}
	return nil, nil
}

// completeKey stores resp as the replayable result of key.
func completeKey(ctx context.Context, tx store.Tx, key string, resp any) error {
	if key == "" {
		return nil
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if err := tx.CompleteIdempotency(ctx, key, http.StatusCreated, body); err != nil {
		return fmt.Errorf("idempotency update failed: %w", err)
	}
	return nil
}
