package service

import (
	"context"
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/punchamoorthee/grainledger/internal/domain"
	"github.com/punchamoorthee/grainledger/internal/store"
)

// flakyStore fails the first n transactions with a transient error.
type flakyStore struct {
	store.Store
	failures int
	calls    int
}

func (s *flakyStore) InTx(ctx context.Context, fn func(store.Tx) error) error {
	s.calls++
	if s.calls <= s.failures {
		return domain.Transient(errors.New("database is locked"))
	}
	return fn(nil)
}

func newTestRunner(t *testing.T, st store.Store, attempts int) runner {
	return newRunner(st, zaptest.NewLogger(t),
		WithMaxAttempts(attempts),
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }))
}

func TestRunnerRetriesTransientFailures(t *testing.T) {
	st := &flakyStore{failures: 2}
	r := newTestRunner(t, st, 5)

	err := r.inTx(context.Background(), "test", func(store.Tx) error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, 3, st.calls)
}

func TestRunnerSurfacesTransientWhenExhausted(t *testing.T) {
	st := &flakyStore{failures: 10}
	r := newTestRunner(t, st, 3)

	err := r.inTx(context.Background(), "test", func(store.Tx) error { return nil })
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, 3, st.calls)
}

func TestRunnerDoesNotRetryDomainErrors(t *testing.T) {
	st := &flakyStore{}
	r := newTestRunner(t, st, 5)

	err := r.inTx(context.Background(), "test", func(store.Tx) error { return domain.ErrInsufficientBalance })
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, 1, st.calls)
}

func TestRunnerStopsOnCancelledContext(t *testing.T) {
	st := &flakyStore{failures: 10}
	r := newTestRunner(t, st, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.inTx(ctx, "test", func(store.Tx) error { return nil })
	assert.Error(t, err)
	assert.LessOrEqual(t, st.calls, 1)
}

func TestRequestHashIsStable(t *testing.T) {
	a := requestHash("transfer", map[string]int{"amount": 5})
	b := requestHash("transfer", map[string]int{"amount": 5})
	c := requestHash("order", map[string]int{"amount": 5})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
