package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"traininghub-backend/internal/domain"
	"traininghub-backend/pkg/calendar"
)

// maxRecurringDays bounds how many slots one recurring request may create.
const maxRecurringDays = 366

type reservationUsecase struct {
	store     domain.Store
	publisher domain.EventPublisher
	opts      Options
}

func NewReservationUsecase(store domain.Store, publisher domain.EventPublisher, opts Options) domain.ReservationUsecase {
	return &reservationUsecase{
		store:     store,
		publisher: publisher,
		opts:      opts.withDefaults(),
	}
}

// ========== SLOTS ==========

func validateSlotSpec(spec domain.SlotSpec) error {
	if !spec.ResourceClass.Valid() {
		return domain.NewValidationError("resource_class must be exam or room")
	}
	if strings.TrimSpace(spec.ResourceID) == "" {
		return domain.NewValidationError("resource_id is required")
	}
	if !spec.EndAt.After(spec.StartAt) {
		return domain.NewValidationError("end_at must be after start_at")
	}
	if spec.Capacity < 1 {
		return domain.NewValidationError("capacity must be at least 1")
	}
	return nil
}

func (uc *reservationUsecase) CreateSlot(ctx context.Context, actor domain.Actor, spec domain.SlotSpec) (*domain.Slot, error) {
	if !actor.CanManageSlots() {
		return nil, domain.ErrForbidden
	}
	if err := validateSlotSpec(spec); err != nil {
		return nil, err
	}
	start, end := spec.StartAt.UTC(), spec.EndAt.UTC()
	if !start.After(uc.opts.Clock()) {
		return nil, domain.ErrSlotInPast
	}

	slot := &domain.Slot{}
	err := runAtomic(ctx, uc.store, uc.opts, func(tx domain.Store) error {
		*slot = domain.Slot{
			ResourceClass: spec.ResourceClass,
			ResourceID:    strings.TrimSpace(spec.ResourceID),
			StartAt:       start,
			EndAt:         end,
			Capacity:      spec.Capacity,
			CreatedBy:     actor.UserID,
		}
		if err := tx.Slots().LockResource(ctx, slot.ResourceClass, slot.ResourceID); err != nil {
			return err
		}

		existing, err := tx.Slots().ListByResource(ctx, slot.ResourceClass, slot.ResourceID, calendar.Range{Start: start, End: end})
		if err != nil {
			return err
		}
		for _, other := range existing {
			switch slot.ResourceClass {
			case domain.ResourceRoom:
				if calendar.Overlaps(start, end, other.StartAt, other.EndAt) {
					return domain.ErrSlotOverlap
				}
			case domain.ResourceExam:
				if other.StartAt.Equal(start) && other.EndAt.Equal(end) {
					return domain.ErrDuplicateSlot
				}
			}
		}
		return tx.Slots().Create(ctx, slot)
	})
	if err != nil {
		return nil, err
	}

	uc.opts.Logger.Info("slot created",
		"slot_id", slot.ID,
		"resource_class", slot.ResourceClass,
		"resource_id", slot.ResourceID,
		"capacity", slot.Capacity,
		"created_by", actor.UserID,
	)
	return slot, nil
}

func (uc *reservationUsecase) CreateRecurringSlots(ctx context.Context, actor domain.Actor, spec domain.RecurringSlotSpec) (*domain.RecurringResult, error) {
	if !actor.CanManageSlots() {
		return nil, domain.ErrForbidden
	}

	loc := time.UTC
	if spec.Location != "" {
		l, err := time.LoadLocation(spec.Location)
		if err != nil {
			return nil, domain.NewValidationError("unknown location " + spec.Location)
		}
		loc = l
	}
	startTOD, err := calendar.ParseTimeOfDay(spec.StartTime)
	if err != nil {
		return nil, domain.NewValidationError("start_time must be HH:MM")
	}
	endTOD, err := calendar.ParseTimeOfDay(spec.EndTime)
	if err != nil {
		return nil, domain.NewValidationError("end_time must be HH:MM")
	}
	if endTOD <= startTOD {
		return nil, domain.NewValidationError("end_time must be after start_time")
	}
	if spec.To.Before(spec.From) {
		return nil, domain.NewValidationError("to must not be before from")
	}
	tooMany := domain.NewValidationError(fmt.Sprintf("at most %d slots per request", maxRecurringDays))
	if spec.To.Sub(spec.From) > maxRecurringDays*24*time.Hour {
		return nil, tooMany
	}

	days := calendar.Weekdays(spec.From.In(loc), spec.To.In(loc), spec.Weekdays...)
	if len(days) > maxRecurringDays {
		return nil, tooMany
	}

	result := &domain.RecurringResult{Created: []domain.Slot{}, Rejected: []domain.SlotRejection{}}
	for _, day := range days {
		slot, err := uc.CreateSlot(ctx, actor, domain.SlotSpec{
			ResourceClass: spec.ResourceClass,
			ResourceID:    spec.ResourceID,
			StartAt:       calendar.At(day, startTOD),
			EndAt:         calendar.At(day, endTOD),
			Capacity:      spec.Capacity,
		})
		if err == nil {
			result.Created = append(result.Created, *slot)
			continue
		}
		switch domain.KindOf(err) {
		case domain.KindPrecondition, domain.KindValidation:
			result.Rejected = append(result.Rejected, domain.SlotRejection{
				Date:  day.Format("2006-01-02"),
				Code:  domain.CodeOf(err),
				Error: err.Error(),
			})
		default:
			return result, err
		}
	}
	return result, nil
}

// ========== RESERVATIONS ==========

func (uc *reservationUsecase) Reserve(ctx context.Context, studentID, slotID uint) (*domain.Registration, error) {
	reg := &domain.Registration{}
	err := runAtomic(ctx, uc.store, uc.opts, func(tx domain.Store) error {
		slot, err := tx.Slots().GetByID(ctx, slotID)
		if err != nil {
			return err
		}
		now := uc.opts.Clock()
		if !slot.StartAt.After(now) {
			return domain.ErrSlotInPast
		}

		*reg = domain.Registration{
			StudentID:     studentID,
			SlotID:        slot.ID,
			ResourceClass: slot.ResourceClass,
			Status:        domain.RegistrationActive,
			CreatedAt:     now,
		}
		if err := tx.Registrations().Create(ctx, reg); err != nil {
			return err
		}
		ok, err := tx.Slots().IncrementActive(ctx, slot.ID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrSlotFull
		}
		if err := uc.checkActiveCount(ctx, tx, slot.ID); err != nil {
			return err
		}
		slot.ActiveCount++
		reg.Slot = slot
		return nil
	})
	if err != nil {
		return nil, err
	}

	uc.opts.Logger.Info("booking confirmed", "registration_id", reg.ID, "slot_id", slotID, "student_id", studentID)
	publish(ctx, uc.publisher, uc.opts.Logger, domain.Event{
		Type:           domain.EventBookingConfirmed,
		StudentID:      studentID,
		SlotID:         slotID,
		RegistrationID: reg.ID,
		OccurredAt:     reg.CreatedAt,
	})
	return reg, nil
}

func (uc *reservationUsecase) Cancel(ctx context.Context, actor domain.Actor, registrationID uint) error {
	var reg *domain.Registration
	var cancelledAt time.Time
	err := runAtomic(ctx, uc.store, uc.opts, func(tx domain.Store) error {
		var err error
		reg, err = tx.Registrations().GetByID(ctx, registrationID)
		if err != nil {
			return err
		}
		if reg.StudentID != actor.UserID && !actor.IsAdmin() {
			return domain.ErrForbidden
		}

		cancelledAt = uc.opts.Clock()
		ok, err := tx.Registrations().MarkCancelled(ctx, reg.ID, actor.UserID, cancelledAt)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrNotActive
		}

		ok, err = tx.Slots().DecrementActive(ctx, reg.SlotID)
		if err != nil {
			return err
		}
		if !ok {
			uc.opts.Logger.Error("active count already zero on cancel", "slot_id", reg.SlotID, "registration_id", reg.ID)
			return fmt.Errorf("%w: slot %d active count underflow", domain.ErrInvariant, reg.SlotID)
		}
		return uc.checkActiveCount(ctx, tx, reg.SlotID)
	})
	if err != nil {
		return err
	}

	uc.opts.Logger.Info("booking cancelled", "registration_id", reg.ID, "slot_id", reg.SlotID, "by", actor.UserID)
	publish(ctx, uc.publisher, uc.opts.Logger, domain.Event{
		Type:           domain.EventBookingCancelled,
		StudentID:      reg.StudentID,
		SlotID:         reg.SlotID,
		RegistrationID: reg.ID,
		OccurredAt:     cancelledAt,
	})
	return nil
}

// checkActiveCount compares the slot counter with its active registrations
// inside the booking transaction and logs any drift.
func (uc *reservationUsecase) checkActiveCount(ctx context.Context, tx domain.Store, slotID uint) error {
	slot, err := tx.Slots().GetByID(ctx, slotID)
	if err != nil {
		return err
	}
	active, err := tx.Registrations().CountActiveBySlot(ctx, slotID)
	if err != nil {
		return err
	}
	if int64(slot.ActiveCount) != active {
		uc.opts.Logger.Error("active count drift",
			"slot_id", slotID,
			"active_count", slot.ActiveCount,
			"active_registrations", active,
		)
	}
	return nil
}

// ========== QUERIES ==========

func (uc *reservationUsecase) ListAvailability(ctx context.Context, class domain.ResourceClass, window calendar.Range) ([]domain.Availability, error) {
	if !class.Valid() {
		return nil, domain.NewValidationError("class must be exam or room")
	}
	if !window.End.After(window.Start) {
		return nil, domain.NewValidationError("to must be after from")
	}

	slots, err := uc.store.Slots().ListInWindow(ctx, class, calendar.Range{Start: window.Start.UTC(), End: window.End.UTC()})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Availability, 0, len(slots))
	for _, s := range slots {
		out = append(out, domain.Availability{
			SlotID:        s.ID,
			ResourceClass: s.ResourceClass,
			ResourceID:    s.ResourceID,
			StartAt:       s.StartAt,
			EndAt:         s.EndAt,
			Capacity:      s.Capacity,
			Remaining:     s.Remaining(),
		})
	}
	return out, nil
}

func (uc *reservationUsecase) ListRegistrations(ctx context.Context, studentID uint) ([]domain.Registration, error) {
	return uc.store.Registrations().GetByStudentID(ctx, studentID)
}
