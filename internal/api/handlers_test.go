package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/carebridge/telehealth-booking/internal/auth"
	"github.com/carebridge/telehealth-booking/internal/booking"
)

const testSecret = "handler-test-secret"

var (
	testDay  = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	testSlot = booking.TimeSlot{
		StartTime: time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC),
	}
	testSlot2 = booking.TimeSlot{
		StartTime: time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC),
		EndTime:   time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC),
	}
)

type testEnv struct {
	router   http.Handler
	verifier *auth.Verifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := zap.NewNop()
	svc := booking.NewService(booking.NewMemStore(), nil, logger, 3)
	verifier := auth.NewVerifier(testSecret)

	router := NewRouter(RouterConfig{
		Service:  svc,
		Verifier: verifier,
		Logger:   logger,
		Env:      "test",
		Version:  "test",
	})

	return &testEnv{router: router, verifier: verifier}
}

func (e *testEnv) token(t *testing.T, userID string, role auth.Role) string {
	t.Helper()
	token, err := e.verifier.Sign(auth.Identity{UserID: userID, Role: role}, time.Minute)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) publish(t *testing.T, doctorID string, slots ...booking.TimeSlot) {
	t.Helper()

	payload := map[string]any{
		"date":       testDay.Format("2006-01-02"),
		"time_slots": slotPayloads(slots),
	}
	rec := e.do(t, http.MethodPut, "/doctors/"+doctorID+"/availability", e.token(t, doctorID, auth.RoleDoctor), payload)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestRequestsWithoutTokenRejected(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/appointments", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing_token", errorCode(t, rec))

	rec = env.do(t, http.MethodGet, "/appointments", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_token", errorCode(t, rec))
}

func TestReplaceAvailabilityOwnershipEnforced(t *testing.T) {
	env := newTestEnv(t)

	payload := map[string]any{
		"date":       testDay.Format("2006-01-02"),
		"time_slots": slotPayloads([]booking.TimeSlot{testSlot}),
	}

	// Another doctor cannot write this doctor's availability.
	rec := env.do(t, http.MethodPut, "/doctors/doc-1/availability", env.token(t, "doc-2", auth.RoleDoctor), payload)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not_owner", errorCode(t, rec))

	// Neither can a patient with a matching ID.
	rec = env.do(t, http.MethodPut, "/doctors/doc-1/availability", env.token(t, "doc-1", auth.RolePatient), payload)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The owning doctor can.
	rec = env.do(t, http.MethodPut, "/doctors/doc-1/availability", env.token(t, "doc-1", auth.RoleDoctor), payload)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetAvailability(t *testing.T) {
	env := newTestEnv(t)
	env.publish(t, "doc-1", testSlot, testSlot2)

	token := env.token(t, "pat-1", auth.RolePatient)

	rec := env.do(t, http.MethodGet, "/doctors/doc-1/availability?date=2024-07-01", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AvailabilityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "doc-1", resp.DoctorID)
	assert.Len(t, resp.TimeSlots, 2)

	// Unpublished day is an empty list, not an error.
	rec = env.do(t, http.MethodGet, "/doctors/doc-1/availability?date=2024-07-02", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.TimeSlots)

	// Missing or malformed date is a validation error.
	rec = env.do(t, http.MethodGet, "/doctors/doc-1/availability", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_date", errorCode(t, rec))
}

func TestCreateBookingFlow(t *testing.T) {
	env := newTestEnv(t)
	env.publish(t, "doc-1", testSlot, testSlot2)

	patientToken := env.token(t, "pat-1", auth.RolePatient)
	payload := map[string]any{
		"doctor_id": "doc-1",
		"slot":      SlotPayload{StartTime: testSlot.StartTime, EndTime: testSlot.EndTime},
	}

	rec := env.do(t, http.MethodPost, "/bookings", patientToken, payload)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var appt AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &appt))
	// The patient is the verified caller, regardless of the body.
	assert.Equal(t, "pat-1", appt.PatientID)
	assert.Equal(t, "doc-1", appt.DoctorID)
	assert.Equal(t, "scheduled", appt.Status)

	// The booked slot is gone from availability.
	rec = env.do(t, http.MethodGet, "/doctors/doc-1/availability?date=2024-07-01", patientToken, nil)
	var avail AvailabilityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &avail))
	assert.Len(t, avail.TimeSlots, 1)
	assert.True(t, avail.TimeSlots[0].StartTime.Equal(testSlot2.StartTime))

	// A second attempt on the same slot conflicts.
	rec = env.do(t, http.MethodPost, "/bookings", env.token(t, "pat-2", auth.RolePatient), payload)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_unavailable", errorCode(t, rec))
}

func TestCreateBookingErrors(t *testing.T) {
	env := newTestEnv(t)
	env.publish(t, "doc-1", testSlot)

	patientToken := env.token(t, "pat-1", auth.RolePatient)

	// Doctors cannot book.
	rec := env.do(t, http.MethodPost, "/bookings", env.token(t, "doc-1", auth.RoleDoctor), map[string]any{
		"doctor_id": "doc-1",
		"slot":      SlotPayload{StartTime: testSlot.StartTime, EndTime: testSlot.EndTime},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "patients_only", errorCode(t, rec))

	// Unknown doctor: no availability published at all.
	rec = env.do(t, http.MethodPost, "/bookings", patientToken, map[string]any{
		"doctor_id": "doc-unknown",
		"slot":      SlotPayload{StartTime: testSlot.StartTime, EndTime: testSlot.EndTime},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "availability_not_found", errorCode(t, rec))

	// Slot with the wrong duration.
	rec = env.do(t, http.MethodPost, "/bookings", patientToken, map[string]any{
		"doctor_id": "doc-1",
		"slot":      SlotPayload{StartTime: testSlot.StartTime, EndTime: testSlot.StartTime.Add(time.Hour)},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_slot", errorCode(t, rec))

	// Unparsable body.
	req := httptest.NewRequest(http.MethodPost, "/bookings", bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer "+patientToken)
	raw := httptest.NewRecorder()
	env.router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)

	// Missing doctor_id fails struct validation.
	rec = env.do(t, http.MethodPost, "/bookings", patientToken, map[string]any{
		"slot": SlotPayload{StartTime: testSlot.StartTime, EndTime: testSlot.EndTime},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", errorCode(t, rec))
}

func bookTestAppointment(t *testing.T, env *testEnv, patientID string) AppointmentResponse {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/bookings", env.token(t, patientID, auth.RolePatient), map[string]any{
		"doctor_id": "doc-1",
		"slot":      SlotPayload{StartTime: testSlot.StartTime, EndTime: testSlot.EndTime},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var appt AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &appt))
	return appt
}

func TestAppointmentVisibilityAndLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.publish(t, "doc-1", testSlot)
	appt := bookTestAppointment(t, env, "pat-1")

	path := fmt.Sprintf("/appointments/%s", appt.ID)

	// A stranger cannot read it.
	rec := env.do(t, http.MethodGet, path, env.token(t, "pat-2", auth.RolePatient), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not_participant", errorCode(t, rec))

	// Both participants can.
	for _, who := range []string{"pat-1", "doc-1"} {
		role := auth.RolePatient
		if who == "doc-1" {
			role = auth.RoleDoctor
		}
		rec = env.do(t, http.MethodGet, path, env.token(t, who, role), nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	// Patients cannot complete.
	rec = env.do(t, http.MethodPost, path+"/complete", env.token(t, "pat-1", auth.RolePatient), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "doctors_only", errorCode(t, rec))

	// The doctor completes it.
	rec = env.do(t, http.MethodPost, path+"/complete", env.token(t, "doc-1", auth.RoleDoctor), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "completed", updated.Status)

	// Completed is terminal: cancelling now conflicts.
	rec = env.do(t, http.MethodPost, path+"/cancel", env.token(t, "pat-1", auth.RolePatient), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", errorCode(t, rec))
}

func TestCancelByPatient(t *testing.T) {
	env := newTestEnv(t)
	env.publish(t, "doc-1", testSlot)
	appt := bookTestAppointment(t, env, "pat-1")

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/appointments/%s/cancel", appt.ID),
		env.token(t, "pat-1", auth.RolePatient), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var updated AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "cancelled", updated.Status)
}

func TestListAppointmentsScopedToCaller(t *testing.T) {
	env := newTestEnv(t)
	env.publish(t, "doc-1", testSlot, testSlot2)

	bookTestAppointment(t, env, "pat-1")

	rec := env.do(t, http.MethodGet, "/appointments", env.token(t, "pat-1", auth.RolePatient), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list AppointmentListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)

	// Another patient sees nothing.
	rec = env.do(t, http.MethodGet, "/appointments", env.token(t, "pat-2", auth.RolePatient), nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 0, list.Total)

	// The doctor sees the booking.
	rec = env.do(t, http.MethodGet, "/appointments", env.token(t, "doc-1", auth.RoleDoctor), nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)

	// Admin must name a filter.
	rec = env.do(t, http.MethodGet, "/appointments", env.token(t, "admin-1", auth.RoleAdmin), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/appointments?doctor_id=doc-1", env.token(t, "admin-1", auth.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)
}

func TestInvalidAppointmentID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/appointments/not-a-uuid", env.token(t, "pat-1", auth.RolePatient), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_appointment_id", errorCode(t, rec))
}
