package booking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustSlot(t *testing.T, start string) TimeSlot {
	t.Helper()
	st, err := time.Parse(time.RFC3339, start)
	require.NoError(t, err)
	return TimeSlot{StartTime: st, EndTime: st.Add(SlotDuration)}
}

func TestTimeSlotValidate(t *testing.T) {
	base := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		slot    TimeSlot
		wantErr bool
	}{
		{
			name: "valid half hour slot",
			slot: TimeSlot{StartTime: base, EndTime: base.Add(30 * time.Minute)},
		},
		{
			name: "valid slot on half-hour boundary",
			slot: TimeSlot{StartTime: base.Add(30 * time.Minute), EndTime: base.Add(time.Hour)},
		},
		{
			name:    "end before start",
			slot:    TimeSlot{StartTime: base, EndTime: base.Add(-30 * time.Minute)},
			wantErr: true,
		},
		{
			name:    "end equals start",
			slot:    TimeSlot{StartTime: base, EndTime: base},
			wantErr: true,
		},
		{
			name:    "too long",
			slot:    TimeSlot{StartTime: base, EndTime: base.Add(time.Hour)},
			wantErr: true,
		},
		{
			name:    "too short",
			slot:    TimeSlot{StartTime: base, EndTime: base.Add(15 * time.Minute)},
			wantErr: true,
		},
		{
			name:    "misaligned start",
			slot:    TimeSlot{StartTime: base.Add(10 * time.Minute), EndTime: base.Add(40 * time.Minute)},
			wantErr: true,
		},
		{
			name:    "non-zero seconds",
			slot:    TimeSlot{StartTime: base.Add(5 * time.Second), EndTime: base.Add(30*time.Minute + 5*time.Second)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.slot.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSlot)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDayOf(t *testing.T) {
	in := time.Date(2024, 7, 1, 15, 45, 12, 999, time.UTC)
	assert.Equal(t, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), DayOf(in))

	// Non-UTC input normalizes to the UTC calendar date.
	loc := time.FixedZone("UTC+5", 5*3600)
	late := time.Date(2024, 7, 1, 2, 0, 0, 0, loc) // 2024-06-30 21:00 UTC
	assert.Equal(t, time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), DayOf(late))
}

func TestDayKey(t *testing.T) {
	day := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "doc-1_2024-07-01", DayKey("doc-1", day))
}

func TestRemoveSlot(t *testing.T) {
	a := mustSlot(t, "2024-07-01T09:00:00Z")
	b := mustSlot(t, "2024-07-01T09:30:00Z")

	kept, found := removeSlot([]TimeSlot{a, b}, a.StartTime)
	require.True(t, found)
	assert.Equal(t, []TimeSlot{b}, kept)

	kept, found = removeSlot([]TimeSlot{b}, a.StartTime)
	assert.False(t, found)
	assert.Equal(t, []TimeSlot{b}, kept)

	// Equality is by instant, not by representation.
	loc := time.FixedZone("UTC+2", 2*3600)
	sameInstant := a.StartTime.In(loc)
	_, found = removeSlot([]TimeSlot{a}, sameInstant)
	assert.True(t, found)
}
