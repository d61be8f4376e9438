package booking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Full booking flow against the in-memory store: a doctor publishes two slots,
// patient A takes the first, patient B loses the race for it and takes the
// second.
func TestBookingScenario(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	svc := NewService(store, nil, zap.NewNop(), 3)

	require.NoError(t, svc.PublishAvailability(ctx, "doc-1", day0700, []TimeSlot{slot0900, slot0930}))

	// Patient A books 09:00.
	apptA, err := svc.Book(ctx, "doc-1", "patient-a", slot0900)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, apptA.Status)
	assert.Equal(t, "patient-a", apptA.PatientID)

	slots, err := svc.Availability(ctx, "doc-1", day0700)
	require.NoError(t, err)
	assert.Equal(t, []TimeSlot{slot0930}, slots)

	// Patient B tries the same slot.
	_, err = svc.Book(ctx, "doc-1", "patient-b", slot0900)
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	// Patient B books 09:30.
	_, err = svc.Book(ctx, "doc-1", "patient-b", slot0930)
	require.NoError(t, err)

	slots, err = svc.Availability(ctx, "doc-1", day0700)
	require.NoError(t, err)
	assert.Empty(t, slots)

	var confirmed int
	for _, ev := range store.Events() {
		if ev.EventType == EventBookingConfirmed {
			confirmed++
		}
	}
	assert.Equal(t, 2, confirmed)
}

// At most one of N concurrent bookings for the same slot may succeed; the rest
// observe the slot as gone.
func TestNoDoubleBookingUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	svc := NewService(store, nil, zap.NewNop(), 3)

	require.NoError(t, svc.PublishAvailability(ctx, "doc-1", day0700, []TimeSlot{slot0900}))

	const attempts = 64

	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			patientID := "patient-" + string(rune('a'+n%26))
			_, err := svc.Book(ctx, "doc-1", patientID, slot0900)
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var successes, unavailable int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case assert.ErrorIs(t, err, ErrSlotUnavailable):
			unavailable++
		}
	}

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, unavailable)

	appts, err := svc.ListForDoctor(ctx, "doc-1", 100, 0)
	require.NoError(t, err)
	assert.Len(t, appts, 1)
}

func TestFullReplaceDiscardsUnlistedSlots(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	svc := NewService(store, nil, zap.NewNop(), 0)

	require.NoError(t, svc.PublishAvailability(ctx, "doc-1", day0700, []TimeSlot{slot0900, slot0930}))
	require.NoError(t, svc.PublishAvailability(ctx, "doc-1", day0700, []TimeSlot{slot0930}))

	slots, err := svc.Availability(ctx, "doc-1", day0700)
	require.NoError(t, err)
	assert.Equal(t, []TimeSlot{slot0930}, slots)
}

// A replace does not resurrect booked slots unless the doctor lists them again.
func TestReplaceCanResurrectBookedSlotOnlyExplicitly(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	svc := NewService(store, nil, zap.NewNop(), 0)

	require.NoError(t, svc.PublishAvailability(ctx, "doc-1", day0700, []TimeSlot{slot0900, slot0930}))

	_, err := svc.Book(ctx, "doc-1", "pat-1", slot0900)
	require.NoError(t, err)

	// Doctor saves again without the booked slot: it stays gone.
	require.NoError(t, svc.PublishAvailability(ctx, "doc-1", day0700, []TimeSlot{slot0930}))
	slots, err := svc.Availability(ctx, "doc-1", day0700)
	require.NoError(t, err)
	assert.Equal(t, []TimeSlot{slot0930}, slots)
}

func TestStaleSlotRejection(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	svc := NewService(store, nil, zap.NewNop(), 0)

	// Day exists, slot does not: must be SlotUnavailable, not
	// AvailabilityNotFound.
	require.NoError(t, svc.PublishAvailability(ctx, "doc-1", day0700, []TimeSlot{slot0930}))

	_, err := svc.Book(ctx, "doc-1", "pat-1", slot0900)
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.NotErrorIs(t, err, ErrAvailabilityNotFound)

	// No day at all: AvailabilityNotFound.
	otherDay := TimeSlot{
		StartTime: time.Date(2024, 7, 2, 9, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2024, 7, 2, 9, 30, 0, 0, time.UTC),
	}
	_, err = svc.Book(ctx, "doc-1", "pat-1", otherDay)
	assert.ErrorIs(t, err, ErrAvailabilityNotFound)
}

func TestIdempotentRead(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	svc := NewService(store, nil, zap.NewNop(), 0)

	require.NoError(t, svc.PublishAvailability(ctx, "doc-1", day0700, []TimeSlot{slot0900, slot0930}))

	first, err := svc.Availability(ctx, "doc-1", day0700)
	require.NoError(t, err)
	second, err := svc.Availability(ctx, "doc-1", day0700)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSweeperCompletesFinishedAppointments(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	svc := NewService(store, nil, zap.NewNop(), 0)

	past := DayOf(time.Now().Add(-48 * time.Hour))
	slot := TimeSlot{StartTime: past.Add(9 * time.Hour), EndTime: past.Add(9*time.Hour + SlotDuration)}
	require.NoError(t, svc.PublishAvailability(ctx, "doc-1", past, []TimeSlot{slot}))

	appt, err := svc.Book(ctx, "doc-1", "pat-1", slot)
	require.NoError(t, err)

	require.NoError(t, svc.CompleteFinished(ctx))

	got, err := svc.Appointment(ctx, appt.ID, "pat-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}
