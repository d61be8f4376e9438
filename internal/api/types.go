package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/telehealth-booking/internal/booking"
)

type SlotPayload struct {
	StartTime time.Time `json:"start_time" validate:"required"`
	EndTime   time.Time `json:"end_time" validate:"required"`
}

func (p SlotPayload) toSlot() booking.TimeSlot {
	return booking.TimeSlot{StartTime: p.StartTime, EndTime: p.EndTime}
}

func slotPayloads(slots []booking.TimeSlot) []SlotPayload {
	out := make([]SlotPayload, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotPayload{StartTime: s.StartTime, EndTime: s.EndTime})
	}
	return out
}

type ReplaceAvailabilityRequest struct {
	Date      string        `json:"date" validate:"required,datetime=2006-01-02"`
	TimeSlots []SlotPayload `json:"time_slots" validate:"dive"`
}

type AvailabilityResponse struct {
	DoctorID  string        `json:"doctor_id"`
	Date      string        `json:"date"`
	TimeSlots []SlotPayload `json:"time_slots"`
}

type CreateBookingRequest struct {
	DoctorID string      `json:"doctor_id" validate:"required"`
	Slot     SlotPayload `json:"slot" validate:"required"`
}

type AppointmentResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  string    `json:"doctor_id"`
	PatientID string    `json:"patient_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		DoctorID:  a.DoctorID,
		PatientID: a.PatientID,
		StartTime: a.StartTime,
		EndTime:   a.EndTime,
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt,
	}
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Total        int                   `json:"total"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}
