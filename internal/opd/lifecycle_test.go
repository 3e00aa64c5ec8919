package opd

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/opd-token-allocation/internal/config"
	"github.com/hackgods/opd-token-allocation/internal/logging"
	redisclient "github.com/hackgods/opd-token-allocation/internal/redis"
)

func TestCancel_ClosesGapAndReleasesOneUnit(t *testing.T) {
	env := newTestEnv(t)
	slot := env.addSlot(t, 9, 0, 3)
	a := env.book(t, slot.ID, CategoryPriority, "A")
	b := env.book(t, slot.ID, CategoryOnline, "B")
	c := env.book(t, slot.ID, CategoryWalkIn, "C")
	require.Equal(t, 1, a.Position)
	require.Equal(t, 3, env.slot(t, slot.ID).CurrentCount)

	cancelled, err := env.svc.Cancel(context.Background(), a.ID, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	assert.Equal(t, 2, env.slot(t, slot.ID).CurrentCount)
	assert.Equal(t, 1, env.token(t, b.ID).Position)
	assert.Equal(t, 2, env.token(t, c.ID).Position)
	assert.Equal(t, slot.StartTime.Add(10*time.Minute), env.token(t, c.ID).EstimatedTime)
	env.requireQueueInvariants(t, slot.ID)
	assert.Contains(t, env.repo.eventTypes(), EventTokenCancelled)
}

func TestCancel_RejectsTerminalTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	slot := env.addSlot(t, 9, 0, 3)
	a := env.book(t, slot.ID, CategoryOnline, "A")
	b := env.book(t, slot.ID, CategoryOnline, "B")

	_, err := env.svc.Cancel(ctx, a.ID, "changed plans")
	require.NoError(t, err)
	_, err = env.svc.Cancel(ctx, a.ID, "again")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = env.svc.MarkNoShow(ctx, b.ID)
	require.NoError(t, err)
	_, err = env.svc.Cancel(ctx, b.ID, "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	assert.Equal(t, 0, env.slot(t, slot.ID).CurrentCount)

	_, err = env.svc.Cancel(ctx, uuid.New(), "")
	require.ErrorIs(t, err, ErrTokenNotFound)
}

func TestCancel_PromotesAtMostOneWaitlistEntry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	slot := env.addSlot(t, 9, 0, 2)
	a := env.book(t, slot.ID, CategoryWalkIn, "A")
	env.book(t, slot.ID, CategoryWalkIn, "B")

	first, err := env.svc.JoinWaitlist(ctx, AllocateRequest{SlotID: slot.ID, PatientID: "C", PatientName: "C", Category: CategoryOnline})
	require.NoError(t, err)
	second, err := env.svc.JoinWaitlist(ctx, AllocateRequest{SlotID: slot.ID, PatientID: "D", PatientName: "D", Category: CategoryPriority})
	require.NoError(t, err)
	require.False(t, first.Admitted)
	require.Equal(t, 2, second.WaitlistPosition)

	_, err = env.svc.Cancel(ctx, a.ID, "")
	require.NoError(t, err)

	// FIFO: the online patient who joined first is promoted, not the
	// higher-priority one behind them.
	promoted := env.token(t, first.Token.ID)
	assert.Equal(t, StatusScheduled, promoted.Status)
	assert.Equal(t, slot.ID, promoted.SlotID)
	assert.Equal(t, 1, promoted.Position)

	assert.Equal(t, 2, env.slot(t, slot.ID).CurrentCount)
	assert.Equal(t, 1, env.wl.Len(slot.ID))
	waiting, ok := env.wl.Peek(slot.ID)
	require.True(t, ok)
	assert.Equal(t, second.Token.ID, waiting.ID)
	env.requireQueueInvariants(t, slot.ID)
	assert.Contains(t, env.repo.eventTypes(), EventWaitlistPromoted)
}

func TestCancel_CommitFailureKeepsWaitlistAndToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	slot := env.addSlot(t, 9, 0, 1)
	a := env.book(t, slot.ID, CategoryOnline, "A")
	res, err := env.svc.JoinWaitlist(ctx, AllocateRequest{SlotID: slot.ID, PatientID: "B", PatientName: "B", Category: CategoryOnline})
	require.NoError(t, err)
	require.False(t, res.Admitted)

	env.repo.failCommits(errCommitFailed)
	_, err = env.svc.Cancel(ctx, a.ID, "")
	require.ErrorIs(t, err, errCommitFailed)

	assert.Equal(t, StatusScheduled, env.token(t, a.ID).Status)
	assert.Equal(t, 1, env.slot(t, slot.ID).CurrentCount)
	assert.Equal(t, 1, env.wl.Len(slot.ID))
}

func TestMarkNoShow_OnlyQueuedTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	slot := env.addSlot(t, 9, 0, 3)
	a := env.book(t, slot.ID, CategoryOnline, "A")
	b := env.book(t, slot.ID, CategoryOnline, "B")

	_, err := env.svc.StartConsultation(ctx, a.ID)
	require.NoError(t, err)
	_, err = env.svc.MarkNoShow(ctx, a.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	tok, err := env.svc.MarkNoShow(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, tok.Status)
	assert.Equal(t, 1, env.slot(t, slot.ID).CurrentCount)
}

func TestTokenLifecycle_CheckInStartComplete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	slot := env.addSlot(t, 9, 0, 3)
	a := env.book(t, slot.ID, CategoryPriority, "A")
	b := env.book(t, slot.ID, CategoryOnline, "B")
	c := env.book(t, slot.ID, CategoryWalkIn, "C")

	checked, err := env.svc.CheckIn(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, checked.Status)
	assert.Equal(t, 2, checked.Position)

	_, err = env.svc.CheckIn(ctx, b.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	started, err := env.svc.StartConsultation(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, started.Status)
	require.NotNil(t, started.ActualStartTime)
	assert.Equal(t, 1, env.token(t, b.ID).Position)
	assert.Equal(t, 2, env.token(t, c.ID).Position)
	assert.Equal(t, 3, env.slot(t, slot.ID).CurrentCount)

	q, err := env.svc.Queue(ctx, slot.ID)
	require.NoError(t, err)
	require.Len(t, q.Serving, 1)
	assert.Equal(t, a.ID, q.Serving[0].ID)
	require.Len(t, q.Waiting, 2)
	assert.Equal(t, b.ID, q.Waiting[0].ID)

	_, err = env.svc.Complete(ctx, c.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	done, err := env.svc.Complete(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.ActualEndTime)
	assert.Equal(t, 3, env.slot(t, slot.ID).CurrentCount)
	env.requireQueueInvariants(t, slot.ID)
}

func TestUpdateStatus_Dispatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	slot := env.addSlot(t, 9, 0, 3)
	a := env.book(t, slot.ID, CategoryOnline, "A")

	_, err := env.svc.UpdateStatus(ctx, a.ID, StatusScheduled, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = env.svc.UpdateStatus(ctx, a.ID, TokenStatus("LOST"), "")
	require.ErrorIs(t, err, ErrInvalidInput)

	for _, st := range []TokenStatus{StatusWaiting, StatusInProgress, StatusCompleted} {
		tok, err := env.svc.UpdateStatus(ctx, a.ID, st, "")
		require.NoError(t, err)
		assert.Equal(t, st, tok.Status)
	}
}

func TestDeleteToken_OnlyTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	slot := env.addSlot(t, 9, 0, 3)
	a := env.book(t, slot.ID, CategoryOnline, "A")

	require.ErrorIs(t, env.svc.DeleteToken(ctx, a.ID), ErrInvalidTransition)

	_, err := env.svc.Cancel(ctx, a.ID, "")
	require.NoError(t, err)
	require.NoError(t, env.svc.DeleteToken(ctx, a.ID))

	_, err = env.svc.GetToken(ctx, a.ID)
	require.ErrorIs(t, err, ErrTokenNotFound)
}

func TestSweepNoShows_MarksOverdueScheduled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	slot := env.addSlot(t, 9, 0, 5)
	a := env.book(t, slot.ID, CategoryOnline, "A")
	b := env.book(t, slot.ID, CategoryOnline, "B")
	c := env.book(t, slot.ID, CategoryOnline, "C")
	_, err := env.svc.CheckIn(ctx, a.ID)
	require.NoError(t, err)

	// Estimates are 09:00, 09:10, 09:20; the default timeout is 15 minutes.
	marked, err := env.svc.SweepNoShows(ctx, slot.StartTime.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	assert.Equal(t, StatusWaiting, env.token(t, a.ID).Status)
	assert.Equal(t, StatusNoShow, env.token(t, b.ID).Status)
	assert.Equal(t, StatusScheduled, env.token(t, c.ID).Status)
	assert.Equal(t, 2, env.token(t, c.ID).Position)
	assert.Equal(t, 2, env.slot(t, slot.ID).CurrentCount)
}

// staleSlotRepository answers the first lookup of a token with the slot it
// was in before a reallocation.
type staleSlotRepository struct {
	*MemoryRepository
	tokenID uuid.UUID
	oldSlot uuid.UUID
	lookups int
}

func (r *staleSlotRepository) GetToken(ctx context.Context, id uuid.UUID) (*Token, error) {
	tok, err := r.MemoryRepository.GetToken(ctx, id)
	if err != nil || id != r.tokenID {
		return tok, err
	}
	r.lookups++
	if r.lookups == 1 {
		tok.SlotID = r.oldSlot
	}
	return tok, nil
}

func TestCancel_FollowsTokenRelocatedBeforeLock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	src := env.addSlot(t, 9, 0, 2)
	dst := env.addSlot(t, 10, 0, 2)
	a := env.book(t, src.ID, CategoryOnline, "A")

	_, err := env.svc.Reallocate(ctx, src.ID, "")
	require.NoError(t, err)
	require.Equal(t, dst.ID, env.token(t, a.ID).SlotID)

	repo := &staleSlotRepository{MemoryRepository: env.repo, tokenID: a.ID, oldSlot: src.ID}
	svc, err := NewService(repo, redisclient.NewLocalSlotLocker(time.Second), config.Config{}, Deps{
		Waitlist: env.wl,
		Logger:   logging.Discard(),
	})
	require.NoError(t, err)

	tok, err := svc.Cancel(ctx, a.ID, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, tok.Status)
	assert.Equal(t, dst.ID, tok.SlotID)
	assert.Equal(t, 2, repo.lookups)
	assert.Equal(t, 0, env.slot(t, dst.ID).CurrentCount)
}
