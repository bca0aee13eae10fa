package domain

import (
	"encoding/json"
	"time"
)

// Category classifies why a ledger entry was written.
type Category string

const (
	CategoryBonus       Category = "BONUS"
	CategorySpent       Category = "SPENT"
	CategoryAchievement Category = "ACHIEVEMENT"
)

// Role is supplied by the identity provider for every authenticated call.
type Role string

const (
	RoleMember Role = "MEMBER"
	RoleStaff  Role = "STAFF"
	RoleAdmin  Role = "ADMIN"
)

// SystemActor attributes automatic grants (code and QR redemption).
const SystemActor = "system"

// Member mirrors the identity record. The core never writes it.
type Member struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// DisplayName is used in ledger reasons.
func (m Member) DisplayName() string {
	switch {
	case m.FirstName == "" && m.LastName == "":
		return m.Email
	case m.LastName == "":
		return m.FirstName
	case m.FirstName == "":
		return m.LastName
	}
	return m.FirstName + " " + m.LastName
}

// LedgerEntry is one signed, immutable amount attributed to an account.
// The balance of an account is the sum of its entries; there is no stored balance.
type LedgerEntry struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	Amount     int64     `json:"amount"`
	Reason     string    `json:"reason"`
	Category   Category  `json:"category"`
	TransferID *string   `json:"transfer_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Transfer represents a completed peer-to-peer move.
// Its two entries (debit on sender, credit on receiver) sum to zero.
type Transfer struct {
	ID            string    `json:"id"`
	FromAccountID string    `json:"from_account_id"`
	ToAccountID   string    `json:"to_account_id"`
	Amount        int64     `json:"amount"`
	Message       *string   `json:"message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// FreeVisitGrant holds visits granted to an account. 0 <= Used <= Amount.
type FreeVisitGrant struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Amount    int       `json:"amount"`
	Used      int       `json:"used"`
	CreatedAt time.Time `json:"created_at"`
}

// Remaining is the number of visits still available on the grant.
func (g FreeVisitGrant) Remaining() int {
	return g.Amount - g.Used
}

// Product is a catalog item priced in grains.
type Product struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Price  int64  `json:"price"`
	Active bool   `json:"active"`
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderConfirmed OrderStatus = "CONFIRMED"
)

// Order is a catalog purchase paid for with a single SPENT entry.
type Order struct {
	ID          string      `json:"id"`
	AccountID   string      `json:"account_id"`
	TotalAmount int64       `json:"total_amount"`
	Status      OrderStatus `json:"status"`
	Lines       []OrderLine `json:"lines"`
	CreatedAt   time.Time   `json:"created_at"`
}

// OrderLine captures the unit price at purchase time; later catalog
// price changes never touch it.
type OrderLine struct {
	ID                  string `json:"id"`
	OrderID             string `json:"order_id"`
	ProductID           string `json:"product_id"`
	Quantity            int    `json:"quantity"`
	UnitPriceAtPurchase int64  `json:"unit_price_at_purchase"`
}

type ReceiptStatus string

const (
	ReceiptPending  ReceiptStatus = "PENDING"
	ReceiptRedeemed ReceiptStatus = "REDEEMED"
)

// Receipt tracks physical pickup of a confirmed order.
type Receipt struct {
	ID                string        `json:"id"`
	OrderID           string        `json:"order_id"`
	Status            ReceiptStatus `json:"status"`
	RedeemedAt        *time.Time    `json:"redeemed_at,omitempty"`
	RedeemedByStaffID *string       `json:"redeemed_by_staff_id,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

type ResourceKind string

const (
	ResourceLesson  ResourceKind = "LESSON"
	ResourceSession ResourceKind = "SESSION"
	ResourceEvent   ResourceKind = "EVENT"
)

// Resource is a bookable slot. A nil Capacity means unbounded.
type Resource struct {
	ID               string       `json:"id"`
	Kind             ResourceKind `json:"kind"`
	Title            string       `json:"title"`
	Capacity         *int         `json:"capacity,omitempty"`
	RequiresApproval bool         `json:"requires_approval"`
	StartsAt         *time.Time   `json:"starts_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

type EnrollmentStatus string

const (
	EnrollmentPending   EnrollmentStatus = "PENDING"
	EnrollmentApproved  EnrollmentStatus = "APPROVED"
	EnrollmentCancelled EnrollmentStatus = "CANCELLED"
)

// Enrollment is a reservation of one slot of a resource.
type Enrollment struct {
	ID         string           `json:"id"`
	AccountID  string           `json:"account_id"`
	ResourceID string           `json:"resource_id"`
	Status     EnrollmentStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Live reports whether the enrollment occupies a slot.
func (e Enrollment) Live() bool {
	return e.Status != EnrollmentCancelled
}

// Occupancy is a point-in-time view of a resource's slots.
// Available is nil for unbounded resources.
type Occupancy struct {
	ResourceID string `json:"resource_id"`
	Capacity   *int   `json:"capacity,omitempty"`
	Taken      int    `json:"taken"`
	Available  *int   `json:"available,omitempty"`
}

// Achievement is the definition supplied by the achievement collaborator.
type Achievement struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	RewardAmount int64   `json:"reward_amount"`
	IsActive     bool    `json:"is_active"`
	Code         *string `json:"code,omitempty"`
	QRCode       *string `json:"qr_code,omitempty"`
}

type TokenKind string

const (
	TokenCode TokenKind = "CODE"
	TokenQR   TokenKind = "QR"
)

// AchievementGrant records that an account holds an achievement.
type AchievementGrant struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"account_id"`
	AchievementID string    `json:"achievement_id"`
	GrantedBy     string    `json:"granted_by"`
	CreatedAt     time.Time `json:"created_at"`
}

// Period bounds history queries. A zero From or To leaves that side open.
// To is exclusive.
type Period struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	if !p.From.IsZero() && t.Before(p.From) {
		return false
	}
	if !p.To.IsZero() && !t.Before(p.To) {
		return false
	}
	return true
}

// IdempotencyRecord stores the response of a keyed request for replay.
type IdempotencyRecord struct {
	Key            string          `json:"key"`
	RequestHash    string          `json:"request_hash"`
	Status         string          `json:"status"`
	ResponseStatus int             `json:"response_status,omitempty"`
	ResponseBody   json.RawMessage `json:"response_body,omitempty"`
}

const (
	IdempotencyInProgress = "in_progress"
	IdempotencyCompleted  = "completed"
)

// AuditReport summarizes ledger invariant checks.
type AuditReport struct {
	EntrySum                int64 `json:"entry_sum"`
	UnbalancedTransfers     int   `json:"unbalanced_transfers"`
	NegativeAccounts        int   `json:"negative_accounts"`
	OrdersWithoutReceipt    int   `json:"orders_without_receipt"`
	OverbookedResources     int   `json:"overbooked_resources"`
	OverusedFreeVisitGrants int   `json:"overused_free_visit_grants"`
}

// Healthy reports whether every check passed.
func (r AuditReport) Healthy() bool {
	return r.UnbalancedTransfers == 0 &&
		r.NegativeAccounts == 0 &&
		r.OrdersWithoutReceipt == 0 &&
		r.OverbookedResources == 0 &&
		r.OverusedFreeVisitGrants == 0
}
