package opd

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/opd-token-allocation/internal/config"
	"github.com/hackgods/opd-token-allocation/internal/logging"
	redisclient "github.com/hackgods/opd-token-allocation/internal/redis"
)

func (r *MemoryRepository) failCommits(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commitErr = err
}

func (r *MemoryRepository) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.EventType
	}
	return out
}

var errCommitFailed = errors.New("connection reset")

// stepClock advances one millisecond on every reading so bookings made in
// sequence have strictly increasing timestamps.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock(start time.Time) *stepClock {
	return &stepClock{now: start}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

var testDay = time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)

type testEnv struct {
	svc    *Service
	repo   *MemoryRepository
	wl     *Waitlist
	doctor Doctor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := NewMemoryRepository()
	wl := NewWaitlist()
	svc, err := NewService(repo, redisclient.NewLocalSlotLocker(time.Second), config.Config{}, Deps{
		Waitlist: wl,
		Logger:   logging.Discard(),
		Clock:    newStepClock(testDay.Add(8 * time.Hour)).Now,
	})
	require.NoError(t, err)

	doc := Doctor{ID: uuid.New(), Name: "Dr. Rao", Specialization: "Cardiology", OPDDays: []string{"Monday"}}
	require.NoError(t, repo.CreateDoctor(context.Background(), &doc))
	return &testEnv{svc: svc, repo: repo, wl: wl, doctor: doc}
}

// addSlot stores an ACTIVE slot starting at hh:mm on testDay.
func (e *testEnv) addSlot(t *testing.T, hh, mm, capacity int) Slot {
	t.Helper()
	start := testDay.Add(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute)
	s := Slot{
		ID:          uuid.New(),
		DoctorID:    e.doctor.ID,
		StartTime:   start,
		EndTime:     start.Add(time.Hour),
		MaxCapacity: capacity,
		Status:      SlotActive,
	}
	e.repo.mu.Lock()
	e.repo.slots[s.ID] = s
	e.repo.mu.Unlock()
	return s
}

func (e *testEnv) slot(t *testing.T, id uuid.UUID) Slot {
	t.Helper()
	s, err := e.repo.GetSlot(context.Background(), id)
	require.NoError(t, err)
	return *s
}

func (e *testEnv) token(t *testing.T, id uuid.UUID) Token {
	t.Helper()
	tok, err := e.repo.GetToken(context.Background(), id)
	require.NoError(t, err)
	return *tok
}

func (e *testEnv) book(t *testing.T, slotID uuid.UUID, c Category, patient string) *Token {
	t.Helper()
	tok, err := e.svc.Allocate(context.Background(), AllocateRequest{
		SlotID:      slotID,
		PatientID:   patient,
		PatientName: "Patient " + patient,
		Category:    c,
	})
	require.NoError(t, err)
	return tok
}

// activeQueue returns the slot's active tokens in position order.
func (e *testEnv) activeQueue(t *testing.T, slotID uuid.UUID) []Token {
	t.Helper()
	tokens, err := e.repo.ListTokensForSlot(context.Background(), slotID)
	require.NoError(t, err)
	out := []Token{}
	for _, tok := range tokens {
		if tok.Status.IsActive() {
			out = append(out, tok)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// requireQueueInvariants checks dense positions, display numbers,
// non-increasing scores and estimates for every active token.
func (e *testEnv) requireQueueInvariants(t *testing.T, slotID uuid.UUID) {
	t.Helper()
	slot := e.slot(t, slotID)
	queue := e.activeQueue(t, slotID)
	est := NewEstimator(DefaultConsultationDuration)

	require.GreaterOrEqual(t, slot.CurrentCount, 0)
	require.LessOrEqual(t, slot.CurrentCount, slot.MaxCapacity)
	for i, tok := range queue {
		require.Equal(t, i+1, tok.Position, "positions must be dense")
		require.Equal(t, TokenNumber(i+1), tok.TokenNumber)
		require.True(t, est.Estimate(&slot, tok.Position).Equal(tok.EstimatedTime), "estimate for %s", tok.TokenNumber)
		if i > 0 {
			require.GreaterOrEqual(t, queue[i-1].PriorityScore, tok.PriorityScore)
		}
	}
}
