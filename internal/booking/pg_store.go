package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

// isTxConflict maps serialization and deadlock SQLSTATEs to the retryable
// conflict error.
func isTxConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// Interface methods

func (s *PgStore) GetDay(ctx context.Context, doctorID string, day time.Time) (*AvailabilityDay, error) {
	day = DayOf(day)

	var raw []byte
	d := AvailabilityDay{DoctorID: doctorID, Date: day}

	err := s.pool.QueryRow(ctx, `
		SELECT time_slots, updated_at
		FROM availability_days
		WHERE doctor_id = $1 AND day = $2
	`, doctorID, day).Scan(&raw, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAvailabilityNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(raw, &d.TimeSlots); err != nil {
		return nil, fmt.Errorf("decode time slots for %s: %w", DayKey(doctorID, day), err)
	}

	return &d, nil
}

func (s *PgStore) ReplaceDay(ctx context.Context, doctorID string, day time.Time, slots []TimeSlot) error {
	day = DayOf(day)

	if slots == nil {
		slots = []TimeSlot{}
	}
	raw, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("encode time slots: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO availability_days (doctor_id, day, time_slots, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (doctor_id, day)
		DO UPDATE SET time_slots = EXCLUDED.time_slots, updated_at = now()
	`, doctorID, day, raw)
	if err != nil {
		return fmt.Errorf("replace availability day %s: %w", DayKey(doctorID, day), err)
	}

	return nil
}

// BookSlot runs the booking transaction: lock the availability row, verify the
// slot is still open, insert the appointment, write back the shrunk slot set.
// The row lock is what makes two concurrent bookings for the same slot
// serialize; the loser sees the slot gone and gets ErrSlotUnavailable.
func (s *PgStore) BookSlot(ctx context.Context, doctorID, patientID string, slot TimeSlot) (*Appointment, error) {
	day := DayOf(slot.StartTime)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		if isTxConflict(err) {
			return nil, ErrTxConflict
		}
		return nil, fmt.Errorf("begin booking tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	err = tx.QueryRow(ctx, `
		SELECT time_slots
		FROM availability_days
		WHERE doctor_id = $1 AND day = $2
		FOR UPDATE
	`, doctorID, day).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAvailabilityNotFound
		}
		if isTxConflict(err) {
			return nil, ErrTxConflict
		}
		return nil, fmt.Errorf("lock availability day: %w", err)
	}

	var slots []TimeSlot
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil, fmt.Errorf("decode time slots for %s: %w", DayKey(doctorID, day), err)
	}

	kept, found := removeSlot(slots, slot.StartTime)
	if !found {
		return nil, ErrSlotUnavailable
	}

	id := uuid.New()
	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, start_time, end_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'scheduled', now(), now())
		RETURNING id, doctor_id, patient_id, start_time, end_time, status, created_at, updated_at
	`, id, doctorID, patientID, slot.StartTime, slot.EndTime)

	appt, err := scanAppointment(row)
	if err != nil {
		if isTxConflict(err) {
			return nil, ErrTxConflict
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	keptRaw, err := json.Marshal(kept)
	if err != nil {
		return nil, fmt.Errorf("encode time slots: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE availability_days
		SET time_slots = $3,
		    updated_at = now()
		WHERE doctor_id = $1 AND day = $2
	`, doctorID, day, keptRaw)
	if err != nil {
		if isTxConflict(err) {
			return nil, ErrTxConflict
		}
		return nil, fmt.Errorf("remove booked slot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isTxConflict(err) {
			return nil, ErrTxConflict
		}
		return nil, fmt.Errorf("commit booking tx: %w", err)
	}

	return appt, nil
}

func (s *PgStore) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, doctor_id, patient_id, start_time, end_time, status, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (s *PgStore) ListByDoctor(ctx context.Context, doctorID string, limit, offset int) ([]Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, doctor_id, patient_id, start_time, end_time, status, created_at, updated_at
		FROM appointments
		WHERE doctor_id = $1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3
	`, doctorID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (s *PgStore) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, doctor_id, patient_id, start_time, end_time, status, created_at, updated_at
		FROM appointments
		WHERE patient_id = $1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *PgStore) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING id, doctor_id, patient_id, start_time, end_time, status, created_at, updated_at
	`, id, to, from)

	return scanAppointment(row)
}

func (s *PgStore) FindFinishedScheduled(ctx context.Context, now time.Time) ([]Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, doctor_id, patient_id, start_time, end_time, status, created_at, updated_at
		FROM appointments
		WHERE status = 'scheduled'
		  AND end_time < $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (s *PgStore) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
