package opd

import "time"

// DefaultConsultationDuration is the throughput assumption behind every
// estimate.
const DefaultConsultationDuration = 10 * time.Minute

type Estimator struct {
	Average time.Duration
}

func NewEstimator(avg time.Duration) Estimator {
	if avg <= 0 {
		avg = DefaultConsultationDuration
	}
	return Estimator{Average: avg}
}

// Estimate is slot start + (position-1) × average, plus the slot delay.
func (e Estimator) Estimate(slot *Slot, position int) time.Time {
	if position < 1 {
		position = 1
	}
	est := slot.StartTime.Add(time.Duration(position-1) * e.Average)
	if slot.IsDelayed {
		est = est.Add(time.Duration(slot.DelayMinutes) * time.Minute)
	}
	return est
}

// Apply refreshes the estimate of every active token in the slot and
// returns the ones that moved.
func (e Estimator) Apply(slot *Slot, tokens []*Token) []*Token {
	var changed []*Token
	for _, t := range tokens {
		if !t.Status.IsActive() {
			continue
		}
		est := e.Estimate(slot, t.Position)
		if !t.EstimatedTime.Equal(est) {
			t.EstimatedTime = est
			changed = append(changed, t)
		}
	}
	return changed
}
