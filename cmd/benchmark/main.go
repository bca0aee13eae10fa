package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/punchamoorthee/grainledger/internal/api"
	"github.com/punchamoorthee/grainledger/internal/domain"
	"github.com/punchamoorthee/grainledger/internal/models"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	accounts    int
	resourceID  string
	secret      string
)

// Metrics
var (
	totalRequests uint64
	success200    uint64 // Idempotent replays
	success201    uint64 // Created
	fail409       uint64 // Conflicts: insufficient balance, capacity, duplicates
	fail503       uint64 // Lock contention surfaced after retries
	failOther     uint64
)

var rootCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Generate concurrent load against the grain ledger API",
	Long: `Generate concurrent load against the grain ledger API.
Workloads:
  uniform  transfers between random benchmark members
  hotspot  90% of transfers between bench-0001 and bench-0002
  enroll   every request tries to enroll a random member into one resource
Members are expected to be created with "seeder bulk".`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	f.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	f.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	f.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot | enroll")
	f.IntVar(&accounts, "accounts", 1000, "Number of seeded benchmark members")
	f.StringVar(&resourceID, "resource", "lesson-go", "Resource used by the enroll workload")
	f.StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "HMAC secret used to sign bearer tokens")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	switch workload {
	case "uniform", "hotspot", "enroll":
	default:
		return fmt.Errorf("unknown workload %q", workload)
	}
	if accounts < 2 {
		return fmt.Errorf("at least two accounts are required")
	}
	if secret == "" {
		return fmt.Errorf("--secret or JWT_SECRET is required")
	}

	tokens, err := mintTokens()
	if err != nil {
		return err
	}

	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, tokens)
	}

	wg.Wait()
	return printResults(time.Since(start))
}

func accountID(i int) string {
	return fmt.Sprintf("bench-%04d", i)
}

// mintTokens signs one token per benchmark member up front so workers do
// not spend time on HMAC.
func mintTokens() ([]string, error) {
	tokens := make([]string, accounts+1)
	for i := 1; i <= accounts; i++ {
		t, err := api.IssueToken([]byte(secret), accountID(i), domain.RoleMember, duration+time.Hour)
		if err != nil {
			return nil, err
		}
		tokens[i] = t
	}
	return tokens, nil
}

func worker(wg *sync.WaitGroup, start time.Time, tokens []string) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		var req *http.Request
		if workload == "enroll" {
			req = enrollRequest(tokens)
		} else {
			req = transferRequest(tokens)
		}

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case http.StatusCreated:
			atomic.AddUint64(&success201, 1)
		case http.StatusOK:
			atomic.AddUint64(&success200, 1)
		case http.StatusConflict:
			atomic.AddUint64(&fail409, 1)
		case http.StatusServiceUnavailable:
			atomic.AddUint64(&fail503, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

func transferRequest(tokens []string) *http.Request {
	from, to := generateAccounts()
	body, _ := json.Marshal(models.TransferRequest{
		ToAccountID: accountID(to),
		Amount:      100,
	})

	req, _ := http.NewRequest(http.MethodPost, targetURL+"/api/v1/grains/transfers", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tokens[from])
	req.Header.Set("Idempotency-Key", uuid.NewString())
	return req
}

func enrollRequest(tokens []string) *http.Request {
	who := rand.Intn(accounts) + 1
	body, _ := json.Marshal(models.EnrollRequest{ResourceID: resourceID})

	req, _ := http.NewRequest(http.MethodPost, targetURL+"/api/v1/enrollments", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tokens[who])
	return req
}

func generateAccounts() (int, int) {
	if workload == "hotspot" {
		// Hotspot: 90% of traffic goes to members 1 & 2
		if rand.Float32() < 0.90 {
			if rand.Float32() < 0.5 {
				return 1, 2
			}
			return 2, 1
		}
	}

	a := rand.Intn(accounts) + 1
	b := rand.Intn(accounts) + 1
	for a == b {
		b = rand.Intn(accounts) + 1
	}
	return a, b
}

func printResults(d time.Duration) error {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	s200 := atomic.LoadUint64(&success200)
	f409 := atomic.LoadUint64(&fail409)
	f503 := atomic.LoadUint64(&fail503)
	fErr := atomic.LoadUint64(&failOther)

	var abortRate float64
	if total > 0 {
		abortRate = float64(f409) / float64(total) * 100
	}

	results := map[string]any{
		"workload":         workload,
		"duration_sec":     d.Seconds(),
		"total_requests":   total,
		"throughput_tps":   float64(total) / d.Seconds(),
		"success_created":  s201,
		"success_replay":   s200,
		"aborts_conflict":  f409,
		"abort_rate_pct":   abortRate,
		"lock_unavailable": f503,
		"errors":           fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return err
	}

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewEncoder(file).Encode(results)
}
