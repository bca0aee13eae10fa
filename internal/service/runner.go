// Package service implements the grain ledger and capacity control
// operations on top of store.Store. Every operation that derives a value
// (balance, occupancy, receipt status) and writes based on it does both
// inside one store transaction, retried as a whole on transient failures.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/punchamoorthee/grainledger/internal/domain"
	"github.com/punchamoorthee/grainledger/internal/store"
)

var (
	opsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operations_total",
		Help: "Service operations by outcome",
	}, []string{"operation", "outcome"})

	txRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_tx_retries_total",
		Help: "Transactions retried after a transient failure",
	}, []string{"operation"})
)

const defaultMaxAttempts = 5

// Option configures the services.
type Option func(*runner)

// WithMaxAttempts bounds how often a transaction is attempted.
func WithMaxAttempts(n int) Option {
	return func(r *runner) {
		if n > 0 {
			r.maxAttempts = uint(n)
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *runner) { r.now = now }
}

// WithBackOff sets the delay policy between attempts.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(r *runner) { r.newBackOff = newBackOff }
}

// runner executes units of work with bounded retries.
type runner struct {
	store       store.Store
	log         *zap.Logger
	maxAttempts uint
	now         func() time.Time
	newBackOff  func() backoff.BackOff
}

func newRunner(st store.Store, log *zap.Logger, opts ...Option) runner {
	r := runner{
		store:       st,
		log:         log,
		maxAttempts: defaultMaxAttempts,
		now:         time.Now,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 10 * time.Millisecond
			b.MaxInterval = 500 * time.Millisecond
			return b
		},
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

func (r runner) clock() time.Time {
	return r.now().UTC()
}

// inTx runs fn in a transaction, retrying transient failures. fn may run
// more than once and must not leak state between attempts.
func (r runner) inTx(ctx context.Context, op string, fn func(tx store.Tx) error) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := r.store.InTx(ctx, fn)
		if err == nil {
			return struct{}{}, nil
		}
		if domain.IsRetryable(err) && ctx.Err() == nil {
			txRetries.WithLabelValues(op).Inc()
			r.log.Warn("transaction conflict, retrying",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(r.newBackOff()), backoff.WithMaxTries(r.maxAttempts))

	// The final attempt is returned as is, wrapper included.
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}

	opsTotal.WithLabelValues(op, outcome(err)).Inc()
	if err != nil && domain.KindOf(err) == domain.KindInternal && ctx.Err() == nil {
		r.log.Error("operation failed", zap.String("operation", op), zap.Error(err))
	}
	return err
}

// read runs a read-only unit of work.
func (r runner) read(ctx context.Context, fn func(tx store.Tx) error) error {
	return r.store.InTx(ctx, fn)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return domain.KindOf(err).String()
}

// requestHash fingerprints a request payload for idempotency checks.
func requestHash(op string, v any) string {
	b, _ := json.Marshal(v)
	sum := sha256.Sum256(append([]byte(op+":"), b...))
	return hex.EncodeToString(sum[:])
}
