package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store. A single mutex makes every operation atomic,
// which gives BookSlot the same mutual-exclusion guarantee the Postgres row
// lock provides. Used by tests and local experiments.
type MemStore struct {
	mu           sync.Mutex
	days         map[string][]TimeSlot
	dayUpdatedAt map[string]time.Time
	appointments map[uuid.UUID]*Appointment
	events       []EventLog
}

func NewMemStore() *MemStore {
	return &MemStore{
		days:         make(map[string][]TimeSlot),
		dayUpdatedAt: make(map[string]time.Time),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

func (s *MemStore) GetDay(_ context.Context, doctorID string, day time.Time) (*AvailabilityDay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := DayKey(doctorID, DayOf(day))
	slots, ok := s.days[key]
	if !ok {
		return nil, ErrAvailabilityNotFound
	}

	d := AvailabilityDay{
		DoctorID:  doctorID,
		Date:      DayOf(day),
		TimeSlots: append([]TimeSlot(nil), slots...),
		UpdatedAt: s.dayUpdatedAt[key],
	}
	return &d, nil
}

func (s *MemStore) ReplaceDay(_ context.Context, doctorID string, day time.Time, slots []TimeSlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := DayKey(doctorID, DayOf(day))
	s.days[key] = append([]TimeSlot(nil), slots...)
	s.dayUpdatedAt[key] = time.Now()
	return nil
}

func (s *MemStore) BookSlot(_ context.Context, doctorID, patientID string, slot TimeSlot) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := DayKey(doctorID, DayOf(slot.StartTime))
	slots, ok := s.days[key]
	if !ok {
		return nil, ErrAvailabilityNotFound
	}

	kept, found := removeSlot(slots, slot.StartTime)
	if !found {
		return nil, ErrSlotUnavailable
	}

	now := time.Now()
	appt := &Appointment{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		PatientID: patientID,
		StartTime: slot.StartTime,
		EndTime:   slot.EndTime,
		Status:    StatusScheduled,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.days[key] = kept
	s.dayUpdatedAt[key] = now
	s.appointments[appt.ID] = appt

	out := *appt
	return &out, nil
}

func (s *MemStore) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt, ok := s.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	out := *appt
	return &out, nil
}

func (s *MemStore) ListByDoctor(_ context.Context, doctorID string, limit, offset int) ([]Appointment, error) {
	return s.list(func(a *Appointment) bool { return a.DoctorID == doctorID }, limit, offset), nil
}

func (s *MemStore) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]Appointment, error) {
	return s.list(func(a *Appointment) bool { return a.PatientID == patientID }, limit, offset), nil
}

func (s *MemStore) list(match func(*Appointment) bool, limit, offset int) []Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []Appointment
	for _, a := range s.appointments {
		if match(a) {
			all = append(all, *a)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartTime.After(all[j].StartTime) })

	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}

func (s *MemStore) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt, ok := s.appointments[id]
	if !ok || appt.Status != from {
		return nil, ErrAppointmentNotFound
	}

	appt.Status = to
	appt.UpdatedAt = time.Now()
	out := *appt
	return &out, nil
}

func (s *MemStore) FindFinishedScheduled(_ context.Context, now time.Time) ([]Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []Appointment
	for _, a := range s.appointments {
		if a.Status == StatusScheduled && a.EndTime.Before(now) {
			result = append(result, *a)
		}
	}
	return result, nil
}

func (s *MemStore) InsertEvent(_ context.Context, ev EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.ID = int64(len(s.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of the recorded event log.
func (s *MemStore) Events() []EventLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]EventLog(nil), s.events...)
}
