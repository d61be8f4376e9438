package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/carebridge/telehealth-booking/internal/auth"
	"github.com/carebridge/telehealth-booking/internal/booking"
)

var validate = validator.New()

func getAvailabilityHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID := chi.URLParam(r, "doctorID")

		dateStr := r.URL.Query().Get("date")
		day, err := time.ParseInLocation("2006-01-02", dateStr, time.UTC)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		slots, err := svc.Availability(r.Context(), doctorID, day)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, AvailabilityResponse{
			DoctorID:  doctorID,
			Date:      day.Format("2006-01-02"),
			TimeSlots: slotPayloads(slots),
		})
	}
}

func replaceAvailabilityHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID := chi.URLParam(r, "doctorID")

		identity, ok := IdentityFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "no verified caller identity")
			return
		}
		if identity.Role != auth.RoleDoctor || identity.UserID != doctorID {
			writeError(w, http.StatusForbidden, "not_owner", "only the doctor may edit their availability")
			return
		}

		var req ReplaceAvailabilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		day, err := time.ParseInLocation("2006-01-02", req.Date, time.UTC)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		slots := make([]booking.TimeSlot, 0, len(req.TimeSlots))
		for _, p := range req.TimeSlots {
			slots = append(slots, p.toSlot())
		}

		if err := svc.PublishAvailability(r.Context(), doctorID, day, slots); err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, AvailabilityResponse{
			DoctorID:  doctorID,
			Date:      day.Format("2006-01-02"),
			TimeSlots: req.TimeSlots,
		})
	}
}

func createBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "no verified caller identity")
			return
		}
		if identity.Role != auth.RolePatient {
			writeError(w, http.StatusForbidden, "patients_only", "only patients may book appointments")
			return
		}

		var req CreateBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		// The patient ID is always the verified caller, never taken from the
		// request body.
		appt, err := svc.Book(r.Context(), req.DoctorID, identity.UserID, req.Slot.toSlot())
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "no verified caller identity")
			return
		}

		limit := queryInt(r, "limit", 20)
		offset := queryInt(r, "offset", 0)

		var (
			appts []booking.Appointment
			err   error
		)
		switch identity.Role {
		case auth.RoleDoctor:
			appts, err = svc.ListForDoctor(r.Context(), identity.UserID, limit, offset)
		case auth.RolePatient:
			appts, err = svc.ListForPatient(r.Context(), identity.UserID, limit, offset)
		case auth.RoleAdmin:
			if doctorID := r.URL.Query().Get("doctor_id"); doctorID != "" {
				appts, err = svc.ListForDoctor(r.Context(), doctorID, limit, offset)
			} else if patientID := r.URL.Query().Get("patient_id"); patientID != "" {
				appts, err = svc.ListForPatient(r.Context(), patientID, limit, offset)
			} else {
				writeError(w, http.StatusBadRequest, "missing_filter", "admin listing requires doctor_id or patient_id")
				return
			}
		default:
			writeError(w, http.StatusForbidden, "unknown_role", "role cannot list appointments")
			return
		}
		if err != nil {
			handleServiceError(w, err)
			return
		}

		out := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			out = append(out, toAppointmentResponse(&appts[i]))
		}

		writeJSON(w, http.StatusOK, AppointmentListResponse{Appointments: out, Total: len(out)})
	}
}

func getAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, id, ok := appointmentCall(w, r)
		if !ok {
			return
		}

		appt, err := svc.Appointment(r.Context(), id, identity.UserID)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, id, ok := appointmentCall(w, r)
		if !ok {
			return
		}

		appt, err := svc.Cancel(r.Context(), id, identity.UserID)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func completeAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, id, ok := appointmentCall(w, r)
		if !ok {
			return
		}
		if identity.Role != auth.RoleDoctor {
			writeError(w, http.StatusForbidden, "doctors_only", "only the doctor may complete an appointment")
			return
		}

		appt, err := svc.Complete(r.Context(), id, identity.UserID)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

// appointmentCall pulls the caller identity and the appointment ID from an
// /appointments/{id} request, writing the error response itself on failure.
func appointmentCall(w http.ResponseWriter, r *http.Request) (*auth.Identity, uuid.UUID, bool) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_identity", "no verified caller identity")
		return nil, uuid.Nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return nil, uuid.Nil, false
	}

	return identity, id, true
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrInvalidSlot):
		writeError(w, http.StatusBadRequest, "invalid_slot", err.Error())
	case errors.Is(err, booking.ErrAvailabilityNotFound):
		writeError(w, http.StatusNotFound, "availability_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, booking.ErrConcurrentConflict):
		writeRetryableError(w, http.StatusConflict, "concurrent_conflict", err.Error())
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrNotParticipant):
		writeError(w, http.StatusForbidden, "not_participant", err.Error())
	case errors.Is(err, booking.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "something went wrong")
	}
}
