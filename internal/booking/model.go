package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// SlotDuration is the fixed length of every bookable window.
const SlotDuration = 30 * time.Minute

// TimeSlot is a single bookable window. Slots are compared by StartTime only;
// two slots with the same start are the same slot.
type TimeSlot struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Validate checks the fixed-window rules: end after start, exactly 30 minutes,
// and aligned to a half-hour boundary.
func (s TimeSlot) Validate() error {
	if !s.EndTime.After(s.StartTime) {
		return fmt.Errorf("%w: end time must be after start time", ErrInvalidSlot)
	}
	if s.EndTime.Sub(s.StartTime) != SlotDuration {
		return fmt.Errorf("%w: slot must be exactly %s", ErrInvalidSlot, SlotDuration)
	}
	st := s.StartTime.UTC()
	if st.Second() != 0 || st.Nanosecond() != 0 || st.Minute()%30 != 0 {
		return fmt.Errorf("%w: slot must start on a half-hour boundary", ErrInvalidSlot)
	}
	return nil
}

// AvailabilityDay is the full set of open slots one doctor has published for
// one UTC calendar date. It is replaced wholesale when the doctor saves and
// shrinks one slot at a time as bookings land.
type AvailabilityDay struct {
	DoctorID  string
	Date      time.Time
	TimeSlots []TimeSlot
	UpdatedAt time.Time
}

type Appointment struct {
	ID        uuid.UUID
	DoctorID  string
	PatientID string
	StartTime time.Time
	EndTime   time.Time
	Status    AppointmentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// DayOf normalizes a timestamp to UTC midnight of its calendar date. All day
// keys in the system use this convention.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DayKey is the availability document identifier: "{doctorID}_{YYYY-MM-DD}".
func DayKey(doctorID string, day time.Time) string {
	return fmt.Sprintf("%s_%s", doctorID, day.UTC().Format("2006-01-02"))
}

// removeSlot returns the slot set without the slot starting at start, and
// whether such a slot was present. Matching is by start time equality only.
func removeSlot(slots []TimeSlot, start time.Time) ([]TimeSlot, bool) {
	kept := make([]TimeSlot, 0, len(slots))
	found := false
	for _, s := range slots {
		if s.StartTime.Equal(start) {
			found = true
			continue
		}
		kept = append(kept, s)
	}
	return kept, found
}
