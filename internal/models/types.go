// Package models holds the request and response payloads exchanged over
// HTTP. Responses that are stored for idempotent replay are serialized
// from these types.
package models

import (
	"time"

	"github.com/punchamoorthee/grainledger/internal/domain"
)

// TransferRequest is the payload from the client. Exactly one of
// ToAccountID and ToEmail must be set.
type TransferRequest struct {
	ToAccountID string `json:"to_account_id,omitempty"`
	ToEmail     string `json:"to_email,omitempty"`
	Amount      int64  `json:"amount"`
	Message     string `json:"message,omitempty"`
}

// TransferResponse is the canonical response structure.
type TransferResponse struct {
	Transfer domain.Transfer      `json:"transfer"`
	Entries  []domain.LedgerEntry `json:"entries"`
}

// AdjustRequest is used by administrators to add or deduct grains.
type AdjustRequest struct {
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason,omitempty"`
}

type BalanceResponse struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
}

// HistoryResponse lists entries newest first plus the current balance.
type HistoryResponse struct {
	Entries []domain.LedgerEntry `json:"entries"`
	Total   int64                `json:"total"`
}

type TransferHistoryResponse struct {
	Sent     []domain.Transfer `json:"sent"`
	Received []domain.Transfer `json:"received"`
}

type OrderItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type OrderRequest struct {
	Items []OrderItem `json:"items"`
}

// OrderResponse is returned when an order is placed.
type OrderResponse struct {
	Order   domain.Order       `json:"order"`
	Receipt domain.Receipt     `json:"receipt"`
	Entry   domain.LedgerEntry `json:"entry"`
}

type FreeVisitPurchaseRequest struct {
	Amount int `json:"amount"`
}

type FreeVisitGrantRequest struct {
	AccountID string `json:"account_id"`
	Amount    int    `json:"amount"`
}

// FreeVisitSummary aggregates all grants of an account.
type FreeVisitSummary struct {
	Total     int                     `json:"total"`
	Used      int                     `json:"used"`
	Available int                     `json:"available"`
	Grants    []domain.FreeVisitGrant `json:"grants"`
}

type FreeVisitPurchaseResponse struct {
	Grant domain.FreeVisitGrant `json:"grant"`
	Entry domain.LedgerEntry    `json:"entry"`
}

type EnrollRequest struct {
	ResourceID string `json:"resource_id"`
}

type RedeemRequest struct {
	Token string           `json:"token"`
	Kind  domain.TokenKind `json:"kind"`
}

type GrantAchievementRequest struct {
	AccountID string `json:"account_id"`
}

// AchievementResponse carries the grant and the credit it produced, if any.
type AchievementResponse struct {
	Grant domain.AchievementGrant `json:"grant"`
	Entry *domain.LedgerEntry     `json:"entry,omitempty"`
}

type AuditResponse struct {
	domain.AuditReport
	Healthy bool      `json:"healthy"`
	RanAt   time.Time `json:"ran_at"`
}
