package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/punchamoorthee/grainledger/internal/domain"
)

func (s *Store) UpsertMember(ctx context.Context, m domain.Member) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.Role == "" {
		m.Role = domain.RoleMember
	}
	_, err := s.Db.Exec(ctx, `
		INSERT INTO members (id, email, first_name, last_name, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			email      = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name  = EXCLUDED.last_name,
			role       = EXCLUDED.role
	`, m.ID, m.Email, m.FirstName, m.LastName, string(m.Role), m.CreatedAt)
	return translate(err)
}

func (s *Store) UpsertProduct(ctx context.Context, p domain.Product) error {
	_, err := s.Db.Exec(ctx, `
		INSERT INTO products (id, name, price, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name   = EXCLUDED.name,
			price  = EXCLUDED.price,
			active = EXCLUDED.active
	`, p.ID, p.Name, p.Price, p.Active)
	return translate(err)
}

func (s *Store) UpsertResource(ctx context.Context, r domain.Resource) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.Db.Exec(ctx, `
		INSERT INTO resources (id, kind, title, capacity, requires_approval, starts_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			kind              = EXCLUDED.kind,
			title             = EXCLUDED.title,
			capacity          = EXCLUDED.capacity,
			requires_approval = EXCLUDED.requires_approval,
			starts_at         = EXCLUDED.starts_at
	`, r.ID, string(r.Kind), r.Title, r.Capacity, r.RequiresApproval, r.StartsAt, r.CreatedAt)
	return translate(err)
}

func (s *Store) UpsertAchievement(ctx context.Context, a domain.Achievement) error {
	_, err := s.Db.Exec(ctx, `
		INSERT INTO achievements (id, name, reward_amount, is_active, code, qr_code)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name          = EXCLUDED.name,
			reward_amount = EXCLUDED.reward_amount,
			is_active     = EXCLUDED.is_active,
			code          = EXCLUDED.code,
			qr_code       = EXCLUDED.qr_code
	`, a.ID, a.Name, a.RewardAmount, a.IsActive, a.Code, a.QRCode)
	return translate(err)
}

// BulkInsertMembers loads members with COPY. Existing ids fail the whole batch.
func (s *Store) BulkInsertMembers(ctx context.Context, members []domain.Member) (int64, error) {
	rows := make([][]any, 0, len(members))
	for _, m := range members {
		role := m.Role
		if role == "" {
			role = domain.RoleMember
		}
		created := m.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		rows = append(rows, []any{m.ID, m.Email, m.FirstName, m.LastName, string(role), created})
	}

	n, err := s.Db.CopyFrom(ctx,
		pgx.Identifier{"members"},
		[]string{"id", "email", "first_name", "last_name", "role", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return n, fmt.Errorf("copy members: %w", translate(err))
	}
	return n, nil
}

// BulkInsertEntries loads opening ledger entries with COPY.
func (s *Store) BulkInsertEntries(ctx context.Context, entries []domain.LedgerEntry) (int64, error) {
	n, err := s.Db.CopyFrom(ctx,
		pgx.Identifier{"ledger_entries"},
		[]string{"id", "account_id", "amount", "reason", "category", "transfer_id", "created_at"},
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			created := e.CreatedAt
			if created.IsZero() {
				created = time.Now()
			}
			return []any{e.ID, e.AccountID, e.Amount, e.Reason, string(e.Category), e.TransferID, created}, nil
		}),
	)
	if err != nil {
		return n, fmt.Errorf("copy ledger entries: %w", translate(err))
	}
	return n, nil
}
