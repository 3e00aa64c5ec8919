package opd

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

type SlotStats struct {
	Slot              Slot
	AvailableCapacity int
	UtilizationRate   float64
	ByCategory        map[Category]int
	ByStatus          map[TokenStatus]int
	WaitlistLength    int
}

type DoctorStats struct {
	DoctorID          uuid.UUID
	Date              string
	Slots             int
	TotalCapacity     int
	TotalBooked       int
	AvailableCapacity int
	UtilizationRate   float64
	ByCategory        map[Category]int
	ByStatus          map[TokenStatus]int
	WaitlistLength    int
}

// roundPercent turns a ratio into a percentage with two decimals.
func roundPercent(ratio float64) float64 {
	return math.Round(ratio*10000) / 100
}

func emptyCounts() (map[Category]int, map[TokenStatus]int) {
	byCategory := make(map[Category]int, len(Categories))
	for _, c := range Categories {
		byCategory[c] = 0
	}
	byStatus := make(map[TokenStatus]int, len(TokenStatuses))
	for _, st := range TokenStatuses {
		byStatus[st] = 0
	}
	return byCategory, byStatus
}

func countTokens(tokens []Token, byCategory map[Category]int, byStatus map[TokenStatus]int) {
	for _, t := range tokens {
		byCategory[t.Category]++
		byStatus[t.Status]++
	}
}

func (s *Service) SlotStats(ctx context.Context, slotID uuid.UUID) (*SlotStats, error) {
	slot, err := s.repo.GetSlot(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	tokens, err := s.repo.ListTokensForSlot(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("list slot tokens: %w", err)
	}

	byCategory, byStatus := emptyCounts()
	countTokens(tokens, byCategory, byStatus)

	return &SlotStats{
		Slot:              *slot,
		AvailableCapacity: slot.AvailableCapacity(),
		UtilizationRate:   slot.UtilizationRate(),
		ByCategory:        byCategory,
		ByStatus:          byStatus,
		WaitlistLength:    s.waitlist.Len(slotID),
	}, nil
}

// DoctorStats aggregates every slot the doctor has on the given clinic
// date.
func (s *Service) DoctorStats(ctx context.Context, doctorID uuid.UUID, date time.Time) (*DoctorStats, error) {
	slots, err := s.SlotsForDoctor(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}

	byCategory, byStatus := emptyCounts()
	stats := &DoctorStats{
		DoctorID:   doctorID,
		Slots:      len(slots),
		ByCategory: byCategory,
		ByStatus:   byStatus,
	}
	if !date.IsZero() {
		stats.Date = date.In(s.loc).Format(DateLayout)
	}
	for _, sl := range slots {
		tokens, err := s.repo.ListTokensForSlot(ctx, sl.ID)
		if err != nil {
			return nil, fmt.Errorf("list slot tokens: %w", err)
		}
		countTokens(tokens, byCategory, byStatus)
		stats.TotalCapacity += sl.MaxCapacity
		stats.TotalBooked += sl.CurrentCount
		stats.AvailableCapacity += sl.AvailableCapacity()
		stats.WaitlistLength += s.waitlist.Len(sl.ID)
	}
	if stats.TotalCapacity > 0 {
		stats.UtilizationRate = roundPercent(float64(stats.TotalBooked) / float64(stats.TotalCapacity))
	}
	return stats, nil
}
