package store

import (
	"context"
	"fmt"

	"github.com/punchamoorthee/grainledger/internal/domain"
)

// The audit statements are plain SQL understood by both backends. Each
// returns a single integer.
const (
	auditEntrySum = `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries`

	auditUnbalancedTransfers = `
		SELECT COUNT(*) FROM transfers t
		WHERE (SELECT COUNT(*) FROM ledger_entries e WHERE e.transfer_id = t.id) <> 2
		   OR (SELECT COALESCE(SUM(e.amount), 0) FROM ledger_entries e WHERE e.transfer_id = t.id) <> 0`

	auditNegativeAccounts = `
		SELECT COUNT(*) FROM (
			SELECT account_id FROM ledger_entries
			GROUP BY account_id
			HAVING SUM(amount) < 0
		) AS negative`

	auditOrdersWithoutReceipt = `
		SELECT COUNT(*) FROM orders o
		LEFT JOIN receipts r ON r.order_id = o.id
		WHERE o.status = 'CONFIRMED' AND r.id IS NULL`

	auditOverbookedResources = `
		SELECT COUNT(*) FROM resources r
		WHERE r.capacity IS NOT NULL
		  AND (SELECT COUNT(*) FROM enrollments e
		       WHERE e.resource_id = r.id AND e.status <> 'CANCELLED') > r.capacity`

	auditOverusedGrants = `SELECT COUNT(*) FROM free_visit_grants WHERE used < 0 OR used > amount`
)

// RunAudit evaluates every audit statement through query, which must run the
// statement in the caller's transaction and scan its single integer result.
func RunAudit(ctx context.Context, query func(ctx context.Context, sql string) (int64, error)) (domain.AuditReport, error) {
	var report domain.AuditReport

	checks := []struct {
		name string
		sql  string
		set  func(v int64)
	}{
		{"entry sum", auditEntrySum, func(v int64) { report.EntrySum = v }},
		{"unbalanced transfers", auditUnbalancedTransfers, func(v int64) { report.UnbalancedTransfers = int(v) }},
		{"negative accounts", auditNegativeAccounts, func(v int64) { report.NegativeAccounts = int(v) }},
		{"orders without receipt", auditOrdersWithoutReceipt, func(v int64) { report.OrdersWithoutReceipt = int(v) }},
		{"overbooked resources", auditOverbookedResources, func(v int64) { report.OverbookedResources = int(v) }},
		{"overused free visit grants", auditOverusedGrants, func(v int64) { report.OverusedFreeVisitGrants = int(v) }},
	}

	for _, c := range checks {
		v, err := query(ctx, c.sql)
		if err != nil {
			return domain.AuditReport{}, fmt.Errorf("audit %s: %w", c.name, err)
		}
		c.set(v)
	}
	return report, nil
}
