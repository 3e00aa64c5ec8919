package opd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var slotCols = []string{"id", "doctor_id", "start_time", "end_time", "max_capacity", "current_count", "is_delayed", "delay_minutes", "status", "created_at", "updated_at"}

var tokenCols = []string{"id", "slot_id", "patient_id", "patient_name", "phone", "category", "priority_score", "position", "token_number", "status", "booked_at", "estimated_time", "actual_start_time", "actual_end_time", "is_relocated", "original_slot_id", "created_at", "updated_at"}

func newMockRepo(t *testing.T) (*PgRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newPgRepositoryWithPool(mock), mock
}

func TestPgRepository_GetSlot(t *testing.T) {
	repo, mock := newMockRepo(t)
	id, doctorID := uuid.New(), uuid.New()
	start := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM slots").WithArgs(id).WillReturnRows(
		pgxmock.NewRows(slotCols).AddRow(id, doctorID, start, start.Add(10*time.Minute), 5, 2, true, 15, "DELAYED", start, start),
	)

	slot, err := repo.GetSlot(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, doctorID, slot.DoctorID)
	assert.Equal(t, 5, slot.MaxCapacity)
	assert.Equal(t, 2, slot.CurrentCount)
	assert.Equal(t, SlotDelayed, slot.Status)
	assert.Equal(t, 15, slot.DelayMinutes)

	missing := uuid.New()
	mock.ExpectQuery("FROM slots").WithArgs(missing).WillReturnError(pgx.ErrNoRows)
	_, err = repo.GetSlot(context.Background(), missing)
	require.ErrorIs(t, err, ErrSlotNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_GetToken(t *testing.T) {
	repo, mock := newMockRepo(t)
	id, slotID := uuid.New(), uuid.New()
	at := time.Date(2026, time.March, 2, 8, 30, 0, 0, time.UTC)
	phone := "+91-98450-00000"

	mock.ExpectQuery("FROM tokens").WithArgs(id).WillReturnRows(
		pgxmock.NewRows(tokenCols).AddRow(
			id, slotID, "P-1", "Asha", &phone, "FOLLOWUP", 300.25, 2, "T002", "WAITING",
			at, at.Add(30*time.Minute), (*time.Time)(nil), (*time.Time)(nil), false, (*uuid.UUID)(nil), at, at,
		),
	)

	tok, err := repo.GetToken(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, CategoryFollowUp, tok.Category)
	assert.Equal(t, StatusWaiting, tok.Status)
	assert.Equal(t, "T002", tok.TokenNumber)
	require.NotNil(t, tok.Phone)
	assert.Equal(t, phone, *tok.Phone)
	assert.Nil(t, tok.OriginalSlotID)

	missing := uuid.New()
	mock.ExpectQuery("FROM tokens").WithArgs(missing).WillReturnError(pgx.ErrNoRows)
	_, err = repo.GetToken(context.Background(), missing)
	require.ErrorIs(t, err, ErrTokenNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_CommitWritesEverythingInOneTx(t *testing.T) {
	repo, mock := newMockRepo(t)
	at := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	slot := Slot{ID: uuid.New(), MaxCapacity: 3, CurrentCount: 1, Status: SlotActive, UpdatedAt: at}
	tok := Token{ID: uuid.New(), SlotID: slot.ID, PatientID: "P-1", PatientName: "Asha", Category: CategoryOnline, Status: StatusScheduled, Position: 1, TokenNumber: "T001"}
	tokID := tok.ID

	cs := &ChangeSet{}
	cs.addSlot(&slot)
	cs.addTokens(&tok)
	cs.addEvent(EventLog{EventType: EventTokenAllocated, TokenID: &tokID, SlotID: &slot.ID, Payload: []byte(`{}`), CreatedAt: at})

	args := make([]any, len(tokenCols))
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE slots").
		WithArgs(slot.ID, 3, 1, false, 0, "ACTIVE", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO tokens").WithArgs(args...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO event_logs").
		WithArgs(EventTokenAllocated, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Commit(context.Background(), cs))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_CommitRollsBackOnFailure(t *testing.T) {
	repo, mock := newMockRepo(t)
	slot := Slot{ID: uuid.New(), MaxCapacity: 3, CurrentCount: 1, Status: SlotActive}
	cs := &ChangeSet{}
	cs.addSlot(&slot)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE slots").WithArgs(
		pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
	).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := repo.Commit(context.Background(), cs)
	require.ErrorIs(t, err, ErrSlotNotFound)
	require.NoError(t, mock.ExpectationsWereMet())

	boom := errors.New("deadlock detected")
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE slots").WithArgs(
		pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
	).WillReturnError(boom)
	mock.ExpectRollback()

	err = repo.Commit(context.Background(), cs)
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_CommitEmptyIsNoop(t *testing.T) {
	repo, mock := newMockRepo(t)
	require.NoError(t, repo.Commit(context.Background(), &ChangeSet{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_CreateSlotsSkipsConflicts(t *testing.T) {
	repo, mock := newMockRepo(t)
	doctorID := uuid.New()
	start := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	slots, err := GenerateSlots(doctorID, start, "09:00", "09:20", 10*time.Minute, 5, time.UTC)
	require.NoError(t, err)
	require.Len(t, slots, 2)

	args := make([]any, len(slotCols))
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO slots").WithArgs(args...).WillReturnError(pgx.ErrNoRows)
	second := slots[1]
	mock.ExpectQuery("INSERT INTO slots").WithArgs(args...).WillReturnRows(
		pgxmock.NewRows(slotCols).AddRow(second.ID, doctorID, second.StartTime, second.EndTime, 5, 0, false, 0, "ACTIVE", start, start),
	)
	mock.ExpectCommit()

	created, err := repo.CreateSlots(context.Background(), slots)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, second.ID, created[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_DeleteToken(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec("DELETE FROM tokens").WithArgs(id).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	require.ErrorIs(t, repo.DeleteToken(context.Background(), id), ErrTokenNotFound)

	mock.ExpectExec("DELETE FROM tokens").WithArgs(id).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, repo.DeleteToken(context.Background(), id))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_ListOverdueScheduled(t *testing.T) {
	repo, mock := newMockRepo(t)
	cutoff := time.Date(2026, time.March, 2, 9, 15, 0, 0, time.UTC)

	mock.ExpectQuery("status = 'SCHEDULED'").WithArgs(cutoff).WillReturnRows(pgxmock.NewRows(tokenCols))

	tokens, err := repo.ListOverdueScheduled(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Empty(t, tokens)
	require.NoError(t, mock.ExpectationsWereMet())
}
