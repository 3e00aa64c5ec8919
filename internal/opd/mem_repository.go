package opd

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps everything in process memory. Reads return copies,
// so stored state only changes through Commit. It backs STORAGE_BACKEND=memory
// and the handler tests.
type MemoryRepository struct {
	mu      sync.Mutex
	doctors map[uuid.UUID]Doctor
	slots   map[uuid.UUID]Slot
	tokens  map[uuid.UUID]Token
	events  []EventLog

	// commitErr, when set, fails every Commit.
	commitErr error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		doctors: make(map[uuid.UUID]Doctor),
		slots:   make(map[uuid.UUID]Slot),
		tokens:  make(map[uuid.UUID]Token),
	}
}

func (r *MemoryRepository) GetDoctor(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (r *MemoryRepository) ListDoctors(context.Context) ([]Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Doctor, 0, len(r.doctors))
	for _, d := range r.doctors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryRepository) CreateDoctor(_ context.Context, d *Doctor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doctors[d.ID] = *d
	return nil
}

func (r *MemoryRepository) GetSlot(_ context.Context, id uuid.UUID) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (r *MemoryRepository) ListSlotsForDoctor(_ context.Context, doctorID uuid.UUID) ([]Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Slot{}
	for _, s := range r.slots {
		if s.DoctorID == doctorID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (r *MemoryRepository) CreateSlots(_ context.Context, slots []Slot) ([]Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	created := []Slot{}
	for _, s := range slots {
		exists := false
		for _, existing := range r.slots {
			if existing.DoctorID == s.DoctorID && existing.StartTime.Equal(s.StartTime) {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		r.slots[s.ID] = s
		created = append(created, s)
	}
	return created, nil
}

func (r *MemoryRepository) GetToken(_ context.Context, id uuid.UUID) (*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[id]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return &t, nil
}

func (r *MemoryRepository) listTokens(match func(Token) bool) []Token {
	out := []Token{}
	for _, t := range r.tokens {
		if match(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BookedAt.Before(out[j].BookedAt) })
	return out
}

func (r *MemoryRepository) ListTokensForSlot(_ context.Context, slotID uuid.UUID) ([]Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listTokens(func(t Token) bool { return t.SlotID == slotID }), nil
}

func (r *MemoryRepository) ListTokensForPatient(_ context.Context, patientID string) ([]Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listTokens(func(t Token) bool { return t.PatientID == patientID }), nil
}

func (r *MemoryRepository) ListOverdueScheduled(_ context.Context, cutoff time.Time) ([]Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listTokens(func(t Token) bool {
		return t.Status == StatusScheduled && t.EstimatedTime.Before(cutoff)
	}), nil
}

func (r *MemoryRepository) DeleteToken(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[id]; !ok {
		return ErrTokenNotFound
	}
	delete(r.tokens, id)
	return nil
}

// Commit enforces the same occupancy constraint as the slots table.
func (r *MemoryRepository) Commit(_ context.Context, cs *ChangeSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return r.commitErr
	}
	for _, s := range cs.Slots {
		if _, ok := r.slots[s.ID]; !ok {
			return ErrSlotNotFound
		}
		if s.CurrentCount < 0 || s.CurrentCount > s.MaxCapacity {
			return fmt.Errorf("slot %s occupancy %d outside 0..%d", s.ID, s.CurrentCount, s.MaxCapacity)
		}
	}
	for _, s := range cs.Slots {
		r.slots[s.ID] = s
	}
	for _, t := range cs.Tokens {
		r.tokens[t.ID] = t
	}
	for _, ev := range cs.Events {
		ev.ID = int64(len(r.events) + 1)
		r.events = append(r.events, ev)
	}
	return nil
}
