package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/grainledger/internal/domain"
)

func TestConcurrentAdmissionsRespectCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.resource("yoga", intPtr(5), false)

	var (
		wg       sync.WaitGroup
		admitted atomic.Int32
		full     atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.booking.Admit(ctx, fmt.Sprintf("member-%d", i), "yoga")
			switch {
			case err == nil:
				admitted.Add(1)
			case assert.ErrorIs(t, err, domain.ErrCapacityExceeded):
				full.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(5), admitted.Load())
	assert.Equal(t, int32(15), full.Load())

	occ, err := f.booking.Occupancy(ctx, "yoga")
	require.NoError(t, err)
	assert.Equal(t, 5, occ.Taken)
	require.NotNil(t, occ.Available)
	assert.Equal(t, 0, *occ.Available)
	assert.True(t, f.audit().Healthy())
}

func TestCapacityOneWithTwoSimultaneousEnrollments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.resource("pottery", intPtr(1), false)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.booking.Admit(ctx, fmt.Sprintf("m%d", i), "pottery")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
	}
	assert.Equal(t, 1, succeeded)
}

func TestAdmitRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.resource("open", nil, false)
	f.resource("closed", intPtr(0), false)
	f.resource("curated", intPtr(3), true)

	e, err := f.booking.Admit(ctx, "alice", "open")
	require.NoError(t, err)
	assert.Equal(t, domain.EnrollmentApproved, e.Status)

	_, err = f.booking.Admit(ctx, "alice", "open")
	assert.ErrorIs(t, err, domain.ErrAlreadyEnrolled)

	_, err = f.booking.Admit(ctx, "alice", "closed")
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)

	_, err = f.booking.Admit(ctx, "alice", "missing")
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)

	pending, err := f.booking.Admit(ctx, "alice", "curated")
	require.NoError(t, err)
	assert.Equal(t, domain.EnrollmentPending, pending.Status)

	approved, err := f.booking.Approve(ctx, pending.ID, "staff")
	require.NoError(t, err)
	assert.Equal(t, domain.EnrollmentApproved, approved.Status)

	again, err := f.booking.Approve(ctx, pending.ID, "staff")
	require.NoError(t, err)
	assert.Equal(t, domain.EnrollmentApproved, again.Status)

	occ, err := f.booking.Occupancy(ctx, "open")
	require.NoError(t, err)
	assert.Nil(t, occ.Capacity)
	assert.Nil(t, occ.Available)
	assert.Equal(t, 1, occ.Taken)

	list, err := f.booking.ListEnrollments(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestCancelFreesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.resource("yoga", intPtr(1), false)

	e, err := f.booking.Admit(ctx, "alice", "yoga")
	require.NoError(t, err)

	_, err = f.booking.Admit(ctx, "bob", "yoga")
	require.ErrorIs(t, err, domain.ErrCapacityExceeded)

	_, err = f.booking.Cancel(ctx, "bob", e.ID)
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	cancelled, err := f.booking.Cancel(ctx, "alice", e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EnrollmentCancelled, cancelled.Status)

	_, err = f.booking.Cancel(ctx, "alice", e.ID)
	assert.ErrorIs(t, err, domain.ErrEnrollmentClosed)

	_, err = f.booking.Approve(ctx, e.ID, "staff")
	assert.ErrorIs(t, err, domain.ErrEnrollmentClosed)

	_, err = f.booking.Admit(ctx, "bob", "yoga")
	require.NoError(t, err)

	// Re-enrolling after cancellation is allowed once the slot is free again.
	_, err = f.booking.CancelFor(ctx, "bob", "yoga")
	require.NoError(t, err)
	_, err = f.booking.Admit(ctx, "alice", "yoga")
	require.NoError(t, err)

	_, err = f.booking.CancelFor(ctx, "bob", "yoga")
	assert.ErrorIs(t, err, domain.ErrEnrollmentNotFound)

	_, err = f.booking.Cancel(ctx, "alice", "missing")
	assert.ErrorIs(t, err, domain.ErrEnrollmentNotFound)
}
