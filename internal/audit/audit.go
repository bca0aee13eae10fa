// Package audit periodically recomputes the ledger and booking invariants
// from raw rows and exports the result as gauges.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/punchamoorthee/grainledger/internal/domain"
	"github.com/punchamoorthee/grainledger/internal/store"
)

var (
	violations = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ledger_audit_violations",
		Help: "Rows violating an invariant at the last audit",
	}, []string{"check"})

	entrySum = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_audit_entry_sum",
		Help: "Sum of all ledger entries at the last audit",
	})

	lastRun = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_audit_last_run_timestamp_seconds",
		Help: "Unix time of the last completed audit",
	})
)

type Auditor struct {
	store store.Store
	log   *zap.Logger
	now   func() time.Time

	mu   sync.Mutex
	last *domain.AuditReport
	at   time.Time
}

func New(st store.Store, log *zap.Logger) *Auditor {
	return &Auditor{store: st, log: log, now: time.Now}
}

// Run performs one audit and records it.
func (a *Auditor) Run(ctx context.Context) (domain.AuditReport, error) {
	var report domain.AuditReport
	err := a.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		report, err = tx.Audit(ctx)
		return err
	})
	if err != nil {
		return domain.AuditReport{}, fmt.Errorf("audit: %w", err)
	}

	at := a.now()
	entrySum.Set(float64(report.EntrySum))
	violations.WithLabelValues("unbalanced_transfers").Set(float64(report.UnbalancedTransfers))
	violations.WithLabelValues("negative_accounts").Set(float64(report.NegativeAccounts))
	violations.WithLabelValues("orders_without_receipt").Set(float64(report.OrdersWithoutReceipt))
	violations.WithLabelValues("overbooked_resources").Set(float64(report.OverbookedResources))
	violations.WithLabelValues("overused_free_visit_grants").Set(float64(report.OverusedFreeVisitGrants))
	lastRun.Set(float64(at.Unix()))

	a.mu.Lock()
	a.last, a.at = &report, at
	a.mu.Unlock()

	fields := []zap.Field{
		zap.Int64("entry_sum", report.EntrySum),
		zap.Int("unbalanced_transfers", report.UnbalancedTransfers),
		zap.Int("negative_accounts", report.NegativeAccounts),
		zap.Int("orders_without_receipt", report.OrdersWithoutReceipt),
		zap.Int("overbooked_resources", report.OverbookedResources),
		zap.Int("overused_free_visit_grants", report.OverusedFreeVisitGrants),
	}
	if report.Healthy() {
		a.log.Info("ledger audit passed", fields...)
	} else {
		a.log.Error("ledger audit found violations", fields...)
	}
	return report, nil
}

// Last returns the most recent report, if any.
func (a *Auditor) Last() (*domain.AuditReport, time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last, a.at
}

// Schedule registers the audit on a new cron scheduler. The caller starts
// and stops it.
func (a *Auditor) Schedule(spec string, timeout time.Duration) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := a.Run(ctx); err != nil {
			a.log.Error("scheduled audit failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule audit %q: %w", spec, err)
	}
	return c, nil
}
