package opd

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSlots(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	doctorID := uuid.New()

	slots, err := GenerateSlots(doctorID, testDay, "09:00", "09:25", 10*time.Minute, 4, loc)
	require.NoError(t, err)
	require.Len(t, slots, 2, "trailing partial interval is dropped")

	assert.Equal(t, time.Date(2026, time.March, 2, 9, 0, 0, 0, loc), slots[0].StartTime)
	assert.Equal(t, time.Date(2026, time.March, 2, 9, 10, 0, 0, loc), slots[0].EndTime)
	assert.Equal(t, slots[0].EndTime, slots[1].StartTime)
	for _, s := range slots {
		assert.Equal(t, doctorID, s.DoctorID)
		assert.Equal(t, 4, s.MaxCapacity)
		assert.Equal(t, SlotActive, s.Status)
		assert.Equal(t, 0, s.CurrentCount)
	}
}

func TestGenerateSlots_InvalidInput(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
		duration   time.Duration
		capacity   int
	}{
		{"bad clock", "9am", "10:00", 10 * time.Minute, 5},
		{"end before start", "10:00", "09:00", 10 * time.Minute, 5},
		{"zero duration", "09:00", "10:00", 0, 5},
		{"zero capacity", "09:00", "10:00", 10 * time.Minute, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := GenerateSlots(uuid.New(), testDay, tt.start, tt.end, tt.duration, tt.capacity, time.UTC)
			require.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestCreateSlots_SkipsExisting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.svc.CreateSlots(ctx, env.doctor.ID, testDay, "09:00", "10:00", 0)
	require.NoError(t, err)
	require.Len(t, created, 6)
	assert.Equal(t, 20, created[0].MaxCapacity)

	more, err := env.svc.CreateSlots(ctx, env.doctor.ID, testDay, "09:30", "10:30", 8)
	require.NoError(t, err)
	assert.Len(t, more, 3)

	_, err = env.svc.CreateSlots(ctx, env.doctor.ID, testDay, "09:00", "10:00", 0)
	require.ErrorIs(t, err, ErrSlotsExist)
	assert.Equal(t, KindConflict, Kind(err))

	_, err = env.svc.CreateSlots(ctx, uuid.New(), testDay, "09:00", "10:00", 0)
	require.ErrorIs(t, err, ErrDoctorNotFound)
}

func TestDoctors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.CreateDoctor(ctx, " ", "Cardiology", nil)
	require.ErrorIs(t, err, ErrInvalidInput)

	ortho, err := env.svc.CreateDoctor(ctx, "Dr. Iyer", "Orthopedics", []string{"Tuesday"})
	require.NoError(t, err)

	got, err := env.svc.GetDoctor(ctx, ortho.ID)
	require.NoError(t, err)
	assert.Equal(t, "Orthopedics", got.Specialization)

	all, err := env.svc.ListDoctors(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	cardio, err := env.svc.ListDoctors(ctx, "cardiology")
	require.NoError(t, err)
	require.Len(t, cardio, 1)
	assert.Equal(t, env.doctor.ID, cardio[0].ID)
}

func TestSlotsForDoctorAndAvailability(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	morning := env.addSlot(t, 9, 0, 1)
	noon := env.addSlot(t, 12, 0, 2)
	env.addSlot(t, 24+9, 0, 2)
	env.book(t, morning.ID, CategoryOnline, "A")

	day, err := env.svc.ParseDate("2026-03-02")
	require.NoError(t, err)

	slots, err := env.svc.SlotsForDoctor(ctx, env.doctor.ID, day)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, morning.ID, slots[0].ID)

	all, err := env.svc.SlotsForDoctor(ctx, env.doctor.ID, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	available, err := env.svc.AvailableSlots(ctx, env.doctor.ID, day)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, noon.ID, available[0].ID)

	_, err = env.svc.ParseDate("02/03/2026")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	slot := env.addSlot(t, 9, 0, 3)
	other := env.addSlot(t, 10, 0, 5)
	a := env.book(t, slot.ID, CategoryOnline, "A")
	env.book(t, slot.ID, CategoryPriority, "B")
	env.book(t, other.ID, CategoryWalkIn, "C")
	_, err := env.svc.Cancel(ctx, a.ID, "")
	require.NoError(t, err)

	st, err := env.svc.SlotStats(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, st.AvailableCapacity)
	assert.Equal(t, 33.33, st.UtilizationRate)
	assert.Equal(t, 1, st.ByCategory[CategoryOnline])
	assert.Equal(t, 1, st.ByCategory[CategoryPriority])
	assert.Equal(t, 0, st.ByCategory[CategoryEmergency])
	assert.Equal(t, 1, st.ByStatus[StatusCancelled])
	assert.Equal(t, 1, st.ByStatus[StatusScheduled])

	ds, err := env.svc.DoctorStats(ctx, env.doctor.ID, testDay)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", ds.Date)
	assert.Equal(t, 2, ds.Slots)
	assert.Equal(t, 8, ds.TotalCapacity)
	assert.Equal(t, 2, ds.TotalBooked)
	assert.Equal(t, 6, ds.AvailableCapacity)
	assert.Equal(t, 25.0, ds.UtilizationRate)
	assert.Equal(t, 1, ds.ByCategory[CategoryWalkIn])
	assert.Equal(t, 2, ds.ByStatus[StatusScheduled])
}
