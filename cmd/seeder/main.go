package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/punchamoorthee/grainledger/internal/api"
	"github.com/punchamoorthee/grainledger/internal/app"
	"github.com/punchamoorthee/grainledger/internal/config"
	"github.com/punchamoorthee/grainledger/internal/domain"
	"github.com/punchamoorthee/grainledger/internal/models"
)

const (
	TotalAccounts  = 1000
	InitialBalance = 10000
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "seeder",
	Short: "Load demo and benchmark data into the grain ledger",
	Long: `Load demo and benchmark data into the grain ledger.
The target database is read from DB_DRIVER and DB_SOURCE, the same
settings the API server uses.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(demoCmd, bulkCmd, tokenCmd)

	bulkCmd.Flags().Int("accounts", TotalAccounts, "Number of benchmark members to create")
	bulkCmd.Flags().Int64("balance", InitialBalance, "Opening balance of each member")

	tokenCmd.Flags().String("user", "", "Account id placed in the token")
	tokenCmd.Flags().String("role", string(domain.RoleMember), "MEMBER, STAFF or ADMIN")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	tokenCmd.MarkFlagRequired("user")
}

// env loads configuration and opens the store for one command run.
type env struct {
	cfg   *config.Config
	log   *zap.Logger
	store app.Backend
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := app.NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	st, err := app.OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: log, store: st}, nil
}

func (e *env) close() {
	e.store.Close()
	e.log.Sync()
}

// ─── demo ───────────────────────────────────────────────────────────────────

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Create a small community with catalog, lessons and achievements",
	Long: `Create a small set of members, products, resources and achievements.
Running it again updates the reference data and leaves balances alone.`,
	RunE: runDemo,
}

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }

func runDemo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	members := []domain.Member{
		{ID: "admin", Email: "admin@grains.local", FirstName: "Ada", LastName: "Admin", Role: domain.RoleAdmin},
		{ID: "staff", Email: "staff@grains.local", FirstName: "Sam", LastName: "Staff", Role: domain.RoleStaff},
		{ID: "alice", Email: "alice@grains.local", FirstName: "Alice", LastName: "Ames", Role: domain.RoleMember},
		{ID: "bob", Email: "bob@grains.local", FirstName: "Bob", LastName: "Bell", Role: domain.RoleMember},
		{ID: "carol", Email: "carol@grains.local", FirstName: "Carol", LastName: "Cole", Role: domain.RoleMember},
	}
	products := []domain.Product{
		{ID: "coffee", Name: "Coffee", Price: 15, Active: true},
		{ID: "tshirt", Name: "T-shirt", Price: 120, Active: true},
		{ID: "sticker", Name: "Sticker pack", Price: 5, Active: true},
	}
	start := time.Now().Add(7 * 24 * time.Hour).Truncate(time.Hour)
	resources := []domain.Resource{
		{ID: "lesson-go", Kind: domain.ResourceLesson, Title: "Intro to Go", Capacity: intPtr(12), StartsAt: &start},
		{ID: "mentor-1", Kind: domain.ResourceSession, Title: "Mentoring session", Capacity: intPtr(1), RequiresApproval: true},
		{ID: "meetup", Kind: domain.ResourceEvent, Title: "Community meetup"},
	}
	achievements := []domain.Achievement{
		{ID: "first-visit", Name: "First visit", RewardAmount: 10, IsActive: true, Code: strPtr("WELCOME")},
		{ID: "workshop", Name: "Workshop attendee", RewardAmount: 25, IsActive: true, QRCode: strPtr("qr-workshop-2024")},
		{ID: "helper", Name: "Community helper", RewardAmount: 0, IsActive: true},
	}

	for _, m := range members {
		if err := e.store.UpsertMember(ctx, m); err != nil {
			return fmt.Errorf("member %s: %w", m.ID, err)
		}
	}
	for _, p := range products {
		if err := e.store.UpsertProduct(ctx, p); err != nil {
			return fmt.Errorf("product %s: %w", p.ID, err)
		}
	}
	for _, r := range resources {
		if err := e.store.UpsertResource(ctx, r); err != nil {
			return fmt.Errorf("resource %s: %w", r.ID, err)
		}
	}
	for _, a := range achievements {
		if err := e.store.UpsertAchievement(ctx, a); err != nil {
			return fmt.Errorf("achievement %s: %w", a.ID, err)
		}
	}

	// Opening grants go through the ledger so they carry the usual reason.
	svc := app.NewServices(e.store, e.cfg, e.log)
	for _, m := range members {
		balance, err := svc.Ledger.Balance(ctx, m.ID)
		if err != nil {
			return err
		}
		if balance > 0 {
			continue
		}
		req := models.AdjustRequest{AccountID: m.ID, Amount: 100, Reason: "welcome bonus"}
		if _, err := svc.Ledger.Add(ctx, req, domain.SystemActor); err != nil {
			return fmt.Errorf("opening grant for %s: %w", m.ID, err)
		}
	}

	e.log.Info("demo data seeded",
		zap.Int("members", len(members)),
		zap.Int("products", len(products)),
		zap.Int("resources", len(resources)),
		zap.Int("achievements", len(achievements)))
	return nil
}

// ─── bulk ───────────────────────────────────────────────────────────────────

var bulkCmd = &cobra.Command{
	Use:   "bulk",
	Short: "Bulk load benchmark members with opening balances",
	Long: `Bulk load members named bench-0001 ... bench-N, each with one opening
BONUS entry. Postgres uses COPY. The command is skipped when the first
member already exists.`,
	RunE: runBulk,
}

// BenchAccountID names the i-th benchmark member (1-based).
func BenchAccountID(i int) string {
	return fmt.Sprintf("bench-%04d", i)
}

func runBulk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	accounts, _ := cmd.Flags().GetInt("accounts")
	balance, _ := cmd.Flags().GetInt64("balance")
	if accounts <= 0 || balance < 0 {
		return fmt.Errorf("accounts must be positive and balance non-negative")
	}

	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	svc := app.NewServices(e.store, e.cfg, e.log)
	if existing, err := svc.Ledger.Balance(ctx, BenchAccountID(1)); err == nil && existing > 0 {
		e.log.Info("benchmark members already present, skipping")
		return nil
	}

	now := time.Now()
	members := make([]domain.Member, 0, accounts)
	entries := make([]domain.LedgerEntry, 0, accounts)
	for i := 1; i <= accounts; i++ {
		id := BenchAccountID(i)
		members = append(members, domain.Member{
			ID:        id,
			Email:     id + "@bench.grains.local",
			FirstName: "Bench",
			LastName:  fmt.Sprintf("%04d", i),
			Role:      domain.RoleMember,
			CreatedAt: now,
		})
		if balance > 0 {
			entries = append(entries, domain.LedgerEntry{
				ID:        uuid.NewString(),
				AccountID: id,
				Amount:    balance,
				Reason:    "opening balance",
				Category:  domain.CategoryBonus,
				CreatedAt: now,
			})
		}
	}

	start := time.Now()
	nm, err := e.store.BulkInsertMembers(ctx, members)
	if err != nil {
		return fmt.Errorf("bulk insert members: %w", err)
	}
	ne, err := e.store.BulkInsertEntries(ctx, entries)
	if err != nil {
		return fmt.Errorf("bulk insert entries: %w", err)
	}

	e.log.Info("benchmark data seeded",
		zap.Int64("members", nm),
		zap.Int64("entries", ne),
		zap.Duration("took", time.Since(start)))
	return nil
}

// ─── token ──────────────────────────────────────────────────────────────────

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a bearer token signed with JWT_SECRET",
	RunE:  runToken,
}

func runToken(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")
	role, _ := cmd.Flags().GetString("role")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return fmt.Errorf("JWT_SECRET is not set")
	}
	token, err := api.IssueToken([]byte(secret), user, domain.Role(role), ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
