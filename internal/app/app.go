// Package app assembles the store, services and logger from configuration.
// It is shared by the server and the command line tools.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/punchamoorthee/grainledger/internal/api"
	"github.com/punchamoorthee/grainledger/internal/audit"
	"github.com/punchamoorthee/grainledger/internal/config"
	"github.com/punchamoorthee/grainledger/internal/service"
	"github.com/punchamoorthee/grainledger/internal/store"
	"github.com/punchamoorthee/grainledger/internal/store/postgres"
	"github.com/punchamoorthee/grainledger/internal/store/sqlite"
)

// Backend is what both store implementations provide.
type Backend interface {
	store.Store
	store.Seeder
	store.BulkLoader
}

func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// OpenStore connects to the configured backend. Postgres migrations run
// first when MigrateOnStart is set; SQLite always migrates on open.
func OpenStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (Backend, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		if cfg.MigrateOnStart {
			if err := postgres.Migrate(cfg.DBSource); err != nil {
				return nil, err
			}
			log.Info("postgres migrations applied")
		}
		st, err := postgres.NewStore(ctx, cfg.DBSource, postgres.WithLockTimeout(cfg.LockTimeout))
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.DriverSQLite:
		st, err := sqlite.Open(ctx, cfg.DBSource)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
}

// NewServices builds every service over st.
func NewServices(st store.Store, cfg *config.Config, log *zap.Logger) api.Services {
	opts := []service.Option{service.WithMaxAttempts(cfg.TxMaxAttempts)}
	dir := service.NewStoreDirectory(st)

	return api.Services{
		Ledger:       service.NewLedgerService(st, dir, log.Named("ledger"), opts...),
		Transfers:    service.NewTransferService(st, dir, log.Named("transfers"), opts...),
		Orders:       service.NewOrderService(st, dir, log.Named("orders"), opts...),
		FreeVisits:   service.NewFreeVisitService(st, dir, log.Named("free_visits"), opts...),
		Booking:      service.NewBookingService(st, log.Named("booking"), opts...),
		Achievements: service.NewAchievementService(st, dir, dir, log.Named("achievements"), opts...),
		Auditor:      audit.New(st, log.Named("audit")),
	}
}
