package service

import "github.com/punchamoorthee/grainledger/internal/domain"

// Viewer is the authenticated caller as reported by the identity provider.
type Viewer struct {
	AccountID string
	Role      domain.Role
}

// IsStaff reports whether the viewer may act on other members' records.
func (v Viewer) IsStaff() bool {
	return v.Role == domain.RoleStaff || v.Role == domain.RoleAdmin
}

// CanSee reports whether the viewer may read a record owned by accountID.
func (v Viewer) CanSee(accountID string) bool {
	return v.AccountID == accountID || v.IsStaff()
}
