package opd

import (
	"sync"

	"github.com/google/uuid"
)

// Waitlist holds, per slot, the patients who could not be admitted, in
// arrival order. It lives as long as the process that owns it and is only
// mutated under the slot lock of the slot it belongs to.
type Waitlist struct {
	mu      sync.Mutex
	entries map[uuid.UUID][]Token
}

func NewWaitlist() *Waitlist {
	return &Waitlist{entries: make(map[uuid.UUID][]Token)}
}

// Push appends an entry and returns its 1-based place in line.
func (w *Waitlist) Push(slotID uuid.UUID, t Token) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.entries[slotID] = append(w.entries[slotID], t)
	return len(w.entries[slotID])
}

// Peek returns the oldest entry without removing it.
func (w *Waitlist) Peek(slotID uuid.UUID) (Token, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	list := w.entries[slotID]
	if len(list) == 0 {
		return Token{}, false
	}
	return list[0], true
}

// Remove drops one entry by token id.
func (w *Waitlist) Remove(slotID, tokenID uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	list := w.entries[slotID]
	for i := range list {
		if list[i].ID == tokenID {
			list = append(list[:i:i], list[i+1:]...)
			if len(list) == 0 {
				delete(w.entries, slotID)
			} else {
				w.entries[slotID] = list
			}
			return true
		}
	}
	return false
}

// Entries returns a copy of the slot's waitlist, oldest first.
func (w *Waitlist) Entries(slotID uuid.UUID) []Token {
	w.mu.Lock()
	defer w.mu.Unlock()

	list := w.entries[slotID]
	out := make([]Token, len(list))
	copy(out, list)
	return out
}

func (w *Waitlist) Len(slotID uuid.UUID) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries[slotID])
}

// Depth is the number of entries across all slots.
func (w *Waitlist) Depth() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := 0
	for _, list := range w.entries {
		n += len(list)
	}
	return n
}

// Find locates an entry by token id across all slots.
func (w *Waitlist) Find(tokenID uuid.UUID) (Token, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, list := range w.entries {
		for _, t := range list {
			if t.ID == tokenID {
				return t, true
			}
		}
	}
	return Token{}, false
}

// ForPatient returns the patient's entries across all slots.
func (w *Waitlist) ForPatient(patientID string) []Token {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []Token
	for _, list := range w.entries {
		for _, t := range list {
			if t.PatientID == patientID {
				out = append(out, t)
			}
		}
	}
	return out
}
