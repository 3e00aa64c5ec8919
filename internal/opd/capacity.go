package opd

import "fmt"

func (s *Slot) AvailableCapacity() int {
	if n := s.MaxCapacity - s.CurrentCount; n > 0 {
		return n
	}
	return 0
}

func (s *Slot) IsFull() bool {
	return s.CurrentCount >= s.MaxCapacity
}

// IsBookable reports whether new patients may be admitted. A delayed slot
// still takes bookings.
func (s *Slot) IsBookable() bool {
	return s.Status == SlotActive || s.Status == SlotDelayed
}

// acceptsRelocations reports whether reallocation may target the slot.
func (s *Slot) acceptsRelocations() bool {
	return s.Status == SlotActive && !s.IsFull()
}

func (s *Slot) UtilizationRate() float64 {
	if s.MaxCapacity <= 0 {
		return 0
	}
	return roundPercent(float64(s.CurrentCount) / float64(s.MaxCapacity))
}

func (s *Slot) admit() error {
	if s.IsFull() {
		return fmt.Errorf("%w: %d/%d booked", ErrSlotFull, s.CurrentCount, s.MaxCapacity)
	}
	s.CurrentCount++
	return nil
}

func (s *Slot) release() {
	if s.CurrentCount > 0 {
		s.CurrentCount--
	}
}

// extendForEmergency grows capacity by one, and only when the slot is full.
func (s *Slot) extendForEmergency() bool {
	if !s.IsFull() {
		return false
	}
	s.MaxCapacity++
	return true
}
