package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/punchamoorthee/grainledger/internal/domain"
	"github.com/punchamoorthee/grainledger/internal/store"
)

// BookingService admits members to capacity-limited resources.
type BookingService struct {
	runner
}

func NewBookingService(st store.Store, log *zap.Logger, opts ...Option) *BookingService {
	return &BookingService{runner: newRunner(st, log, opts...)}
}

// Admit reserves one slot of the resource for the account. The resource
// row is locked for the whole check-then-insert, so concurrent admissions
// never exceed capacity.
func (s *BookingService) Admit(ctx context.Context, accountID, resourceID string) (*domain.Enrollment, error) {
	var enrollment *domain.Enrollment
	err := s.inTx(ctx, "admit", func(tx store.Tx) error {
		resource, err := tx.LockResource(ctx, resourceID)
		if err != nil {
			return notFound(err, domain.ErrResourceNotFound)
		}

		_, err = tx.FindLiveEnrollment(ctx, accountID, resourceID)
		switch {
		case err == nil:
			return domain.ErrAlreadyEnrolled
		case !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("find enrollment: %w", err)
		}

		if resource.Capacity != nil {
			taken, err := tx.CountLiveEnrollments(ctx, resourceID)
			if err != nil {
				return fmt.Errorf("count enrollments: %w", err)
			}
			if taken >= *resource.Capacity {
				return domain.ErrCapacityExceeded
			}
		}

		now := s.clock()
		e := &domain.Enrollment{
			ID:         uuid.NewString(),
			AccountID:  accountID,
			ResourceID: resourceID,
			Status:     domain.EnrollmentApproved,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if resource.RequiresApproval {
			e.Status = domain.EnrollmentPending
		}
		if err := tx.InsertEnrollment(ctx, e); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return domain.ErrAlreadyEnrolled
			}
			return fmt.Errorf("enrollment insert failed: %w", err)
		}
		enrollment = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("enrollment admitted",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("account_id", accountID),
		zap.String("resource_id", resourceID),
		zap.String("status", string(enrollment.Status)))
	return enrollment, nil
}

// Cancel cancels the caller's own enrollment and frees its slot.
func (s *BookingService) Cancel(ctx context.Context, accountID, enrollmentID string) (*domain.Enrollment, error) {
	var enrollment *domain.Enrollment
	err := s.inTx(ctx, "cancel", func(tx store.Tx) error {
		e, err := tx.GetEnrollment(ctx, enrollmentID)
		if err != nil {
			return notFound(err, domain.ErrEnrollmentNotFound)
		}
		if e.AccountID != accountID {
			return domain.ErrNotOwner
		}
		enrollment, err = s.cancel(ctx, tx, e)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("enrollment cancelled", zap.String("enrollment_id", enrollment.ID), zap.String("account_id", accountID))
	return enrollment, nil
}

// CancelFor cancels the live enrollment of the account on the resource.
func (s *BookingService) CancelFor(ctx context.Context, accountID, resourceID string) (*domain.Enrollment, error) {
	var enrollment *domain.Enrollment
	err := s.inTx(ctx, "cancel", func(tx store.Tx) error {
		live, err := tx.FindLiveEnrollment(ctx, accountID, resourceID)
		if err != nil {
			return notFound(err, domain.ErrEnrollmentNotFound)
		}
		e, err := tx.GetEnrollment(ctx, live.ID)
		if err != nil {
			return notFound(err, domain.ErrEnrollmentNotFound)
		}
		enrollment, err = s.cancel(ctx, tx, e)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("enrollment cancelled", zap.String("enrollment_id", enrollment.ID), zap.String("account_id", accountID))
	return enrollment, nil
}

func (s *BookingService) cancel(ctx context.Context, tx store.Tx, e *domain.Enrollment) (*domain.Enrollment, error) {
	if !e.Live() {
		return nil, domain.ErrEnrollmentClosed
	}
	e.Status = domain.EnrollmentCancelled
	e.UpdatedAt = s.clock()
	if err := tx.SetEnrollmentStatus(ctx, e); err != nil {
		return nil, fmt.Errorf("enrollment update failed: %w", err)
	}
	return e, nil
}

// Approve moves a pending enrollment to approved. Approving an approved
// enrollment returns it unchanged.
func (s *BookingService) Approve(ctx context.Context, enrollmentID, staffID string) (*domain.Enrollment, error) {
	var enrollment *domain.Enrollment
	changed := false
	err := s.inTx(ctx, "approve", func(tx store.Tx) error {
		e, err := tx.GetEnrollment(ctx, enrollmentID)
		if err != nil {
			return notFound(err, domain.ErrEnrollmentNotFound)
		}
		switch e.Status {
		case domain.EnrollmentCancelled:
			return domain.ErrEnrollmentClosed
		case domain.EnrollmentApproved:
			enrollment, changed = e, false
			return nil
		}
		e.Status = domain.EnrollmentApproved
		e.UpdatedAt = s.clock()
		if err := tx.SetEnrollmentStatus(ctx, e); err != nil {
			return fmt.Errorf("enrollment update failed: %w", err)
		}
		enrollment, changed = e, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.log.Info("enrollment approved", zap.String("enrollment_id", enrollment.ID), zap.String("staff_id", staffID))
	}
	return enrollment, nil
}

func (s *BookingService) ListEnrollments(ctx context.Context, accountID string) ([]domain.Enrollment, error) {
	var enrollments []domain.Enrollment
	err := s.read(ctx, func(tx store.Tx) error {
		var err error
		enrollments, err = tx.ListEnrollments(ctx, accountID)
		return err
	})
	return enrollments, err
}

// Occupancy reports how many slots of the resource are taken.
func (s *BookingService) Occupancy(ctx context.Context, resourceID string) (*domain.Occupancy, error) {
	occ := &domain.Occupancy{ResourceID: resourceID}
	err := s.read(ctx, func(tx store.Tx) error {
		resource, err := tx.GetResource(ctx, resourceID)
		if err != nil {
			return notFound(err, domain.ErrResourceNotFound)
		}
		taken, err := tx.CountLiveEnrollments(ctx, resourceID)
		if err != nil {
			return err
		}
		occ.Capacity, occ.Taken = resource.Capacity, taken
		if resource.Capacity != nil {
			available := max(*resource.Capacity-taken, 0)
			occ.Available = &available
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return occ, nil
}
