package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	EventBookingConfirmed     = "BOOKING_CONFIRMED"
	EventAvailabilityReplaced = "AVAILABILITY_REPLACED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
)

var (
	// ErrInvalidSlot wraps all slot validation failures (wrong duration,
	// misaligned start, end before start).
	ErrInvalidSlot = errors.New("invalid slot")

	// ErrConcurrentConflict is returned once the bounded retry budget for
	// storage conflicts is exhausted. Retryable by the user.
	ErrConcurrentConflict = errors.New("booking conflicted with concurrent requests, please try again")

	ErrInvalidStatusTransition = errors.New("invalid appointment status transition")

	// ErrNotParticipant means the caller is neither the doctor nor the patient
	// on the appointment.
	ErrNotParticipant = errors.New("caller is not a participant in this appointment")
)

// AvailabilityCache is an optional read cache for availability days. Cache
// failures must never fail a request; implementations swallow errors and
// report misses instead.
type AvailabilityCache interface {
	GetDay(ctx context.Context, doctorID string, day time.Time) ([]TimeSlot, bool)
	SetDay(ctx context.Context, doctorID string, day time.Time, slots []TimeSlot)
	InvalidateDay(ctx context.Context, doctorID string, day time.Time)
}

// Service is the booking orchestrator. It validates input, drives the atomic
// booking transaction with a bounded retry loop, and owns the appointment
// status lifecycle. It holds no locks itself; mutual exclusion lives in the
// store's BookSlot transaction.
type Service struct {
	store      Store
	cache      AvailabilityCache
	logger     *zap.Logger
	maxRetries int
}

// NewService wires the orchestrator. cache may be nil. maxRetries is the
// number of additional attempts after the first on a storage conflict.
func NewService(store Store, cache AvailabilityCache, logger *zap.Logger, maxRetries int) *Service {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Service{
		store:      store,
		cache:      cache,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// Availability returns the open slots for a doctor on a date. An unpublished
// day is an empty result, not an error.
func (s *Service) Availability(ctx context.Context, doctorID string, day time.Time) ([]TimeSlot, error) {
	day = DayOf(day)

	if s.cache != nil {
		if slots, ok := s.cache.GetDay(ctx, doctorID, day); ok {
			return slots, nil
		}
	}

	d, err := s.store.GetDay(ctx, doctorID, day)
	if err != nil {
		if errors.Is(err, ErrAvailabilityNotFound) {
			return []TimeSlot{}, nil
		}
		return nil, fmt.Errorf("load availability: %w", err)
	}

	slots := d.TimeSlots
	if slots == nil {
		slots = []TimeSlot{}
	}

	if s.cache != nil {
		s.cache.SetDay(ctx, doctorID, day, slots)
	}

	return slots, nil
}

// PublishAvailability replaces the doctor's whole slot set for one date.
// Slots already consumed by bookings are not resurrected unless the doctor
// lists them again; the doctor is re-declaring total availability.
func (s *Service) PublishAvailability(ctx context.Context, doctorID string, day time.Time, slots []TimeSlot) error {
	day = DayOf(day)

	seen := make(map[time.Time]struct{}, len(slots))
	for _, slot := range slots {
		if err := slot.Validate(); err != nil {
			return err
		}
		if !DayOf(slot.StartTime).Equal(day) {
			return fmt.Errorf("%w: slot %s is not on %s", ErrInvalidSlot,
				slot.StartTime.UTC().Format(time.RFC3339), day.Format("2006-01-02"))
		}
		key := slot.StartTime.UTC()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate slot at %s", ErrInvalidSlot, key.Format(time.RFC3339))
		}
		seen[key] = struct{}{}
	}

	if err := s.store.ReplaceDay(ctx, doctorID, day, slots); err != nil {
		return fmt.Errorf("replace availability: %w", err)
	}

	if s.cache != nil {
		s.cache.InvalidateDay(ctx, doctorID, day)
	}

	s.logEvent(ctx, nil, EventAvailabilityReplaced, map[string]any{
		"doctor_id":  doctorID,
		"day":        day.Format("2006-01-02"),
		"slot_count": len(slots),
	})

	s.logger.Info("availability replaced",
		zap.String("doctor_id", doctorID),
		zap.String("day", day.Format("2006-01-02")),
		zap.Int("slots", len(slots)))

	return nil
}

// Book converts one open slot into a scheduled appointment. The slot check,
// appointment insert, and slot removal are a single storage transaction;
// conflicts are retried up to maxRetries times before surfacing
// ErrConcurrentConflict.
func (s *Service) Book(ctx context.Context, doctorID, patientID string, slot TimeSlot) (*Appointment, error) {
	if err := slot.Validate(); err != nil {
		return nil, err
	}

	var appt *Appointment
	for attempt := 0; ; attempt++ {
		var err error
		appt, err = s.store.BookSlot(ctx, doctorID, patientID, slot)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrTxConflict) {
			return nil, err
		}
		if attempt >= s.maxRetries {
			s.logger.Warn("booking retries exhausted",
				zap.String("doctor_id", doctorID),
				zap.Time("slot_start", slot.StartTime),
				zap.Int("attempts", attempt+1))
			return nil, ErrConcurrentConflict
		}
		s.logger.Debug("booking tx conflict, retrying",
			zap.String("doctor_id", doctorID),
			zap.Time("slot_start", slot.StartTime),
			zap.Int("attempt", attempt+1))
	}

	if s.cache != nil {
		s.cache.InvalidateDay(ctx, doctorID, DayOf(slot.StartTime))
	}

	s.logEvent(ctx, &appt.ID, EventBookingConfirmed, map[string]any{
		"doctor_id":  doctorID,
		"patient_id": patientID,
		"start_time": slot.StartTime,
	})

	s.logger.Info("appointment booked",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("doctor_id", doctorID),
		zap.String("patient_id", patientID),
		zap.Time("start_time", slot.StartTime))

	return appt, nil
}

// Appointment loads one appointment, visible only to its participants.
func (s *Service) Appointment(ctx context.Context, id uuid.UUID, callerID string) (*Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.DoctorID != callerID && appt.PatientID != callerID {
		return nil, ErrNotParticipant
	}
	return appt, nil
}

// Cancel moves a scheduled appointment to cancelled. Either participant may
// cancel. The booked slot is not returned to availability; the doctor re-adds
// it on the next save if they want it open again.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, callerID string) (*Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.DoctorID != callerID && appt.PatientID != callerID {
		return nil, ErrNotParticipant
	}
	return s.transition(ctx, appt, StatusCancelled, EventAppointmentCancelled, callerID)
}

// Complete moves a scheduled appointment to completed. Doctor only.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, callerID string) (*Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.DoctorID != callerID {
		return nil, ErrNotParticipant
	}
	return s.transition(ctx, appt, StatusCompleted, EventAppointmentCompleted, callerID)
}

func (s *Service) transition(ctx context.Context, appt *Appointment, to AppointmentStatus, event, callerID string) (*Appointment, error) {
	if appt.Status != StatusScheduled {
		return nil, ErrInvalidStatusTransition
	}

	updated, err := s.store.UpdateAppointmentStatus(ctx, appt.ID, StatusScheduled, to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost a race with another transition.
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	s.logEvent(ctx, &updated.ID, event, map[string]any{
		"caller_id": callerID,
	})

	return updated, nil
}

// ListForDoctor returns a doctor's appointments, newest first.
func (s *Service) ListForDoctor(ctx context.Context, doctorID string, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	appts, err := s.store.ListByDoctor(ctx, doctorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return appts, nil
}

// ListForPatient returns a patient's appointments, newest first.
func (s *Service) ListForPatient(ctx context.Context, patientID string, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	appts, err := s.store.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appts, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// CompleteFinished marks scheduled appointments whose end time has passed as
// completed. Called periodically by the sweeper.
func (s *Service) CompleteFinished(ctx context.Context) error {
	now := time.Now()
	finished, err := s.store.FindFinishedScheduled(ctx, now)
	if err != nil {
		return fmt.Errorf("find finished appointments: %w", err)
	}

	for _, appt := range finished {
		_, err := s.store.UpdateAppointmentStatus(ctx, appt.ID, StatusScheduled, StatusCompleted)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				continue
			}
			s.logger.Warn("failed to complete appointment",
				zap.String("appointment_id", appt.ID.String()),
				zap.Error(err))
			continue
		}
		s.logEvent(ctx, &appt.ID, EventAppointmentCompleted, map[string]any{
			"reason": "sweeper",
		})
	}

	return nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID *uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event payload",
			zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.store.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to insert event log",
			zap.String("event_type", eventType), zap.Error(err))
	}
}
