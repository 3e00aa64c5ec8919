package opd

import (
	"fmt"
	"time"

	"github.com/hackgods/opd-token-allocation/internal/config"
)

const (
	// TieBreakScale bounds the booking-time component of a score. It must
	// stay below the smallest gap between two category bases.
	TieBreakScale = 0.5

	tieBreakHorizon = 20 * 365 * 24 * time.Hour
)

var tieBreakEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// Scorer turns a category and booking instant into a priority score.
type Scorer struct {
	emergency float64
	priority  float64
	followUp  float64
	online    float64
	walkIn    float64
}

func DefaultPriorities() config.Priorities {
	return config.Priorities{
		Emergency: 1000,
		Priority:  500,
		FollowUp:  300,
		Online:    200,
		WalkIn:    100,
	}
}

// NewScorer validates that bases are strictly descending by category rank
// and far enough apart that the tie-break never crosses a boundary.
func NewScorer(p config.Priorities) (*Scorer, error) {
	ordered := []struct {
		name string
		base float64
	}{
		{"EMERGENCY", p.Emergency},
		{"PRIORITY", p.Priority},
		{"FOLLOWUP", p.FollowUp},
		{"ONLINE", p.Online},
		{"WALKIN", p.WalkIn},
	}
	for i := 1; i < len(ordered); i++ {
		hi, lo := ordered[i-1], ordered[i]
		if hi.base-lo.base <= TieBreakScale {
			return nil, fmt.Errorf("%w: %s priority (%g) must exceed %s priority (%g) by more than %g",
				ErrInvalidInput, hi.name, hi.base, lo.name, lo.base, TieBreakScale)
		}
	}

	return &Scorer{
		emergency: p.Emergency,
		priority:  p.Priority,
		followUp:  p.FollowUp,
		online:    p.Online,
		walkIn:    p.WalkIn,
	}, nil
}

func (s *Scorer) Base(c Category) float64 {
	switch c {
	case CategoryEmergency:
		return s.emergency
	case CategoryPriority:
		return s.priority
	case CategoryFollowUp:
		return s.followUp
	case CategoryOnline:
		return s.online
	case CategoryWalkIn:
		return s.walkIn
	default:
		return s.walkIn
	}
}

func (s *Scorer) Score(c Category, bookedAt time.Time) float64 {
	return s.Base(c) + TieBreak(bookedAt)
}

// TieBreak maps a booking instant into [0, TieBreakScale). Earlier
// bookings get the larger value so they rank first within a category.
// Resolution is one millisecond.
func TieBreak(bookedAt time.Time) float64 {
	elapsed := bookedAt.Sub(tieBreakEpoch).Truncate(time.Millisecond)
	switch {
	case elapsed <= 0:
		elapsed = 0
	case elapsed >= tieBreakHorizon:
		return 0
	}
	remaining := float64(tieBreakHorizon-elapsed) / float64(tieBreakHorizon)
	return remaining * TieBreakScale * (1 - 1e-9)
}
