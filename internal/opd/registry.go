package opd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// CreateDoctor registers a doctor.
func (s *Service) CreateDoctor(ctx context.Context, name, specialization string, opdDays []string) (*Doctor, error) {
	name = strings.TrimSpace(name)
	specialization = strings.TrimSpace(specialization)
	if name == "" || specialization == "" {
		return nil, fmt.Errorf("%w: name and specialization are required", ErrInvalidInput)
	}
	if opdDays == nil {
		opdDays = []string{}
	}

	d := &Doctor{
		ID:             uuid.New(),
		Name:           name,
		Specialization: specialization,
		OPDDays:        opdDays,
		CreatedAt:      s.now(),
	}
	if err := s.repo.CreateDoctor(ctx, d); err != nil {
		return nil, fmt.Errorf("create doctor: %w", err)
	}
	s.logger.Info("doctor registered", "doctor_id", d.ID, "specialization", d.Specialization)
	return d, nil
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := s.repo.GetDoctor(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	return d, nil
}

// ListDoctors returns all doctors, or those whose specialization matches
// case-insensitively when one is given.
func (s *Service) ListDoctors(ctx context.Context, specialization string) ([]Doctor, error) {
	doctors, err := s.repo.ListDoctors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	if specialization == "" {
		return doctors, nil
	}

	out := make([]Doctor, 0, len(doctors))
	for _, d := range doctors {
		if strings.EqualFold(d.Specialization, specialization) {
			out = append(out, d)
		}
	}
	return out, nil
}

// GenerateSlots splits the open hours start..end ("HH:MM", clinic time) of
// date into back-to-back slots of the given duration. A trailing interval
// shorter than duration is dropped.
func GenerateSlots(doctorID uuid.UUID, date time.Time, start, end string, duration time.Duration, capacity int, loc *time.Location) ([]Slot, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("%w: slot duration must be positive", ErrInvalidInput)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: max capacity must be positive", ErrInvalidInput)
	}
	if loc == nil {
		loc = time.UTC
	}

	open, err := clockOn(date, start, loc)
	if err != nil {
		return nil, err
	}
	closeAt, err := clockOn(date, end, loc)
	if err != nil {
		return nil, err
	}
	if !closeAt.After(open) {
		return nil, fmt.Errorf("%w: end time must be after start time", ErrInvalidInput)
	}

	var slots []Slot
	for from := open; !from.Add(duration).After(closeAt); from = from.Add(duration) {
		slots = append(slots, Slot{
			ID:          uuid.New(),
			DoctorID:    doctorID,
			StartTime:   from,
			EndTime:     from.Add(duration),
			MaxCapacity: capacity,
			Status:      SlotActive,
		})
	}
	return slots, nil
}

func clockOn(date time.Time, clock string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse(clockLayout, clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q must be HH:MM", ErrInvalidInput, clock)
	}
	y, m, d := date.In(loc).Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc), nil
}

// CreateSlots generates and stores the slots for one doctor's open hours.
// Slots that already exist for the same start time are skipped; if every
// one exists the call fails with ErrSlotsExist.
func (s *Service) CreateSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, start, end string, capacity int) ([]Slot, error) {
	if _, err := s.repo.GetDoctor(ctx, doctorID); err != nil {
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	if capacity <= 0 {
		capacity = s.defaultCapacity
	}

	slots, err := GenerateSlots(doctorID, date, start, end, s.slotDuration, capacity, s.loc)
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("%w: open hours shorter than one slot", ErrInvalidInput)
	}
	now := s.now()
	for i := range slots {
		slots[i].CreatedAt = now
		slots[i].UpdatedAt = now
	}

	created, err := s.repo.CreateSlots(ctx, slots)
	if err != nil {
		return nil, fmt.Errorf("create slots: %w", err)
	}
	if len(created) == 0 {
		return nil, ErrSlotsExist
	}
	s.logger.Info("slots created",
		"doctor_id", doctorID, "date", date.In(s.loc).Format(DateLayout),
		"created", len(created), "skipped", len(slots)-len(created))
	return created, nil
}

func (s *Service) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	sl, err := s.repo.GetSlot(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return sl, nil
}

// SlotsForDoctor lists the doctor's slots in start order. A zero date
// returns every slot; otherwise only those on that clinic date.
func (s *Service) SlotsForDoctor(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error) {
	if _, err := s.repo.GetDoctor(ctx, doctorID); err != nil {
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	slots, err := s.repo.ListSlotsForDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list doctor slots: %w", err)
	}
	if date.IsZero() {
		return slots, nil
	}

	day := date.In(s.loc).Format(DateLayout)
	out := make([]Slot, 0, len(slots))
	for _, sl := range slots {
		if sl.StartTime.In(s.loc).Format(DateLayout) == day {
			out = append(out, sl)
		}
	}
	return out, nil
}

// AvailableSlots are the ACTIVE, non-full slots of the doctor on date.
func (s *Service) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error) {
	slots, err := s.SlotsForDoctor(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	out := make([]Slot, 0, len(slots))
	for _, sl := range slots {
		if sl.Status == SlotActive && !sl.IsFull() {
			out = append(out, sl)
		}
	}
	return out, nil
}

// ParseDate reads a clinic calendar date (YYYY-MM-DD). An empty string is
// the zero time.
func (s *Service) ParseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(DateLayout, v, s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidInput, v)
	}
	return t, nil
}
