package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrAvailabilityNotFound means the doctor has published nothing for the
	// requested date.
	ErrAvailabilityNotFound = errors.New("no availability published for that date")

	// ErrSlotUnavailable means the day exists but the requested slot is not in
	// it, either because it never was or because a concurrent booking took it.
	// The two cases are deliberately indistinguishable; the caller re-fetches
	// availability and picks again.
	ErrSlotUnavailable = errors.New("slot is no longer available")

	// ErrTxConflict is a retryable storage-level conflict. The service retries
	// the whole booking a bounded number of times before giving up.
	ErrTxConflict = errors.New("storage transaction conflict")

	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Store is the persistence contract for availability days and the appointment
// ledger. BookSlot is the one operation that must be atomic: the slot check,
// the appointment insert, and the slot removal happen in a single transaction
// or not at all.
type Store interface {
	GetDay(ctx context.Context, doctorID string, day time.Time) (*AvailabilityDay, error)
	ReplaceDay(ctx context.Context, doctorID string, day time.Time, slots []TimeSlot) error

	BookSlot(ctx context.Context, doctorID, patientID string, slot TimeSlot) (*Appointment, error)

	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByDoctor(ctx context.Context, doctorID string, limit, offset int) ([]Appointment, error)
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	// FindFinishedScheduled returns scheduled appointments whose end time has
	// passed, for the sweeper.
	FindFinishedScheduled(ctx context.Context, now time.Time) ([]Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
