// Package store defines the persistence contract of the grain ledger.
//
// Every balance- or occupancy-affecting decision runs inside one Tx so the
// read that justifies a write and the write itself are atomic. Ledger
// entries, transfers and achievement grants are append-only: Tx has no
// method to update or delete them.
package store

import (
	"context"
	"errors"

	"github.com/punchamoorthee/grainledger/internal/domain"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when an insert violates a uniqueness constraint.
	ErrDuplicate = errors.New("store: duplicate")
)

// Store opens units of work against the relational backend.
type Store interface {
	// InTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise, including on context cancellation.
	// Driver failures that are safe to retry are reported as domain.Transient.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	// LockAccount serializes balance-affecting writes for the account until
	// the transaction ends.
	LockAccount(ctx context.Context, accountID string) error

	GetMember(ctx context.Context, id string) (*domain.Member, error)
	GetMemberByEmail(ctx context.Context, email string) (*domain.Member, error)

	// SumEntries returns the sum of all entries of the account (0 when none).
	SumEntries(ctx context.Context, accountID string) (int64, error)
	InsertEntry(ctx context.Context, e *domain.LedgerEntry) error
	// ListEntries returns entries newest first.
	ListEntries(ctx context.Context, accountID string, period domain.Period) ([]domain.LedgerEntry, error)

	InsertTransfer(ctx context.Context, t *domain.Transfer) error
	GetTransfer(ctx context.Context, id string) (*domain.Transfer, error)
	ListTransfersFrom(ctx context.Context, accountID string) ([]domain.Transfer, error)
	ListTransfersTo(ctx context.Context, accountID string) ([]domain.Transfer, error)

	GetIdempotency(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	// ReserveIdempotency inserts an in-progress key; ErrDuplicate when it exists.
	ReserveIdempotency(ctx context.Context, key, requestHash string) error
	CompleteIdempotency(ctx context.Context, key string, status int, body []byte) error

	// ListFreeVisitGrants returns grants oldest first.
	ListFreeVisitGrants(ctx context.Context, accountID string) ([]domain.FreeVisitGrant, error)
	InsertFreeVisitGrant(ctx context.Context, g *domain.FreeVisitGrant) error
	// IncrementFreeVisitUsed consumes one visit; ErrNotFound when the grant
	// is exhausted or missing.
	IncrementFreeVisitUsed(ctx context.Context, grantID string) error

	GetProducts(ctx context.Context, ids []string) ([]domain.Product, error)
	InsertOrder(ctx context.Context, o *domain.Order) error
	SetOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, accountID string) ([]domain.Order, error)

	InsertReceipt(ctx context.Context, r *domain.Receipt) error
	// GetReceipt loads and row-locks the receipt.
	GetReceipt(ctx context.Context, id string) (*domain.Receipt, error)
	GetReceiptByOrder(ctx context.Context, orderID string) (*domain.Receipt, error)
	// MarkReceiptRedeemed transitions PENDING to REDEEMED; ErrNotFound when
	// the receipt is not pending.
	MarkReceiptRedeemed(ctx context.Context, r *domain.Receipt) error
	ListReceipts(ctx context.Context, status domain.ReceiptStatus) ([]domain.Receipt, error)

	// LockResource loads the resource and serializes admissions to it until
	// the transaction ends.
	LockResource(ctx context.Context, id string) (*domain.Resource, error)
	GetResource(ctx context.Context, id string) (*domain.Resource, error)
	// FindLiveEnrollment returns the non-cancelled enrollment of the pair.
	FindLiveEnrollment(ctx context.Context, accountID, resourceID string) (*domain.Enrollment, error)
	CountLiveEnrollments(ctx context.Context, resourceID string) (int, error)
	InsertEnrollment(ctx context.Context, e *domain.Enrollment) error
	// GetEnrollment loads and row-locks the enrollment.
	GetEnrollment(ctx context.Context, id string) (*domain.Enrollment, error)
	SetEnrollmentStatus(ctx context.Context, e *domain.Enrollment) error
	ListEnrollments(ctx context.Context, accountID string) ([]domain.Enrollment, error)

	GetAchievement(ctx context.Context, id string) (*domain.Achievement, error)
	GetAchievementByToken(ctx context.Context, token string, kind domain.TokenKind) (*domain.Achievement, error)
	FindAchievementGrant(ctx context.Context, accountID, achievementID string) (*domain.AchievementGrant, error)
	InsertAchievementGrant(ctx context.Context, g *domain.AchievementGrant) error

	// Audit recomputes the ledger and booking invariants from raw rows.
	Audit(ctx context.Context) (domain.AuditReport, error)
}

// Seeder loads the reference data owned by external collaborators
// (identity, catalog, schedules, achievement definitions).
type Seeder interface {
	UpsertMember(ctx context.Context, m domain.Member) error
	UpsertProduct(ctx context.Context, p domain.Product) error
	UpsertResource(ctx context.Context, r domain.Resource) error
	UpsertAchievement(ctx context.Context, a domain.Achievement) error
}

// BulkLoader is implemented by backends with a fast path for large seed sets.
type BulkLoader interface {
	BulkInsertMembers(ctx context.Context, members []domain.Member) (int64, error)
	BulkInsertEntries(ctx context.Context, entries []domain.LedgerEntry) (int64, error)
}
