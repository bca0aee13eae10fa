// Package sqlite is the embedded backend of the grain ledger, used for local
// development and tests. Every transaction is opened with BEGIN IMMEDIATE,
// which takes the database write lock up front, so the check-then-write
// sequences of the service layer are serialized without row locks.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/punchamoorthee/grainledger/internal/domain"
	"github.com/punchamoorthee/grainledger/internal/store"
)

var (
	_ store.Store      = (*Store)(nil)
	_ store.Seeder     = (*Store)(nil)
	_ store.BulkLoader = (*Store)(nil)
	_ store.Tx         = (*tx)(nil)
)

// Store implements store.Store on a SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Set("_txlock", "immediate")

	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InTx runs fn in an immediate transaction.
func (s *Store) InTx(ctx context.Context, fn func(store.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", translate(err))
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(&tx{tx: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("tx commit failed: %w", translate(err))
	}
	return nil
}

// translate maps driver errors onto the store and domain vocabulary.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		switch code & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return domain.Transient(err)
		case sqlite3.SQLITE_CONSTRAINT:
			if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
				return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
			}
		}
	}
	return err
}

func unixNano(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromUnixNano(n.Int64)
	return &t
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- Seeder -----------------------------------------------------------------

func (s *Store) UpsertMember(ctx context.Context, m domain.Member) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.Role == "" {
		m.Role = domain.RoleMember
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (id, email, first_name, last_name, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email      = excluded.email,
			first_name = excluded.first_name,
			last_name  = excluded.last_name,
			role       = excluded.role
	`, m.ID, m.Email, m.FirstName, m.LastName, string(m.Role), unixNano(m.CreatedAt))
	return translate(err)
}

func (s *Store) UpsertProduct(ctx context.Context, p domain.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price, active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name   = excluded.name,
			price  = excluded.price,
			active = excluded.active
	`, p.ID, p.Name, p.Price, boolInt(p.Active))
	return translate(err)
}

func (s *Store) UpsertResource(ctx context.Context, r domain.Resource) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	var capacity sql.NullInt64
	if r.Capacity != nil {
		capacity = sql.NullInt64{Int64: int64(*r.Capacity), Valid: true}
	}
	var startsAt sql.NullInt64
	if r.StartsAt != nil {
		startsAt = sql.NullInt64{Int64: unixNano(*r.StartsAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resources (id, kind, title, capacity, requires_approval, starts_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind              = excluded.kind,
			title             = excluded.title,
			capacity          = excluded.capacity,
			requires_approval = excluded.requires_approval,
			starts_at         = excluded.starts_at
	`, r.ID, string(r.Kind), r.Title, capacity, boolInt(r.RequiresApproval), startsAt, unixNano(r.CreatedAt))
	return translate(err)
}

func (s *Store) UpsertAchievement(ctx context.Context, a domain.Achievement) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO achievements (id, name, reward_amount, is_active, code, qr_code)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name          = excluded.name,
			reward_amount = excluded.reward_amount,
			is_active     = excluded.is_active,
			code          = excluded.code,
			qr_code       = excluded.qr_code
	`, a.ID, a.Name, a.RewardAmount, boolInt(a.IsActive), a.Code, a.QRCode)
	return translate(err)
}

// BulkInsertMembers inserts members in one transaction.
func (s *Store) BulkInsertMembers(ctx context.Context, members []domain.Member) (int64, error) {
	var n int64
	err := s.bulk(ctx, func(sqlTx *sql.Tx) error {
		stmt, err := sqlTx.PrepareContext(ctx, `
			INSERT INTO members (id, email, first_name, last_name, role, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, m := range members {
			if m.Role == "" {
				m.Role = domain.RoleMember
			}
			if m.CreatedAt.IsZero() {
				m.CreatedAt = time.Now()
			}
			if _, err := stmt.ExecContext(ctx, m.ID, m.Email, m.FirstName, m.LastName, string(m.Role), unixNano(m.CreatedAt)); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bulk insert members: %w", err)
	}
	return n, nil
}

// BulkInsertEntries inserts ledger entries in one transaction.
func (s *Store) BulkInsertEntries(ctx context.Context, entries []domain.LedgerEntry) (int64, error) {
	var n int64
	err := s.bulk(ctx, func(sqlTx *sql.Tx) error {
		t := &tx{tx: sqlTx}
		for i := range entries {
			e := entries[i]
			if e.CreatedAt.IsZero() {
				e.CreatedAt = time.Now()
			}
			if err := t.InsertEntry(ctx, &e); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bulk insert entries: %w", err)
	}
	return n, nil
}

func (s *Store) bulk(ctx context.Context, fn func(*sql.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translate(err)
	}
	if err := fn(sqlTx); err != nil {
		_ = sqlTx.Rollback()
		return translate(err)
	}
	return translate(sqlTx.Commit())
}
