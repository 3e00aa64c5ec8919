package opd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const DefaultReallocationReason = "doctor_delay"

// Reallocate moves SCHEDULED tokens out of a slot into the doctor's next
// open slot. When the destination cannot take every candidate, the
// lowest-ranked ones move and the rest keep their place. Places freed in
// the source go to its waitlist before anyone else. The source lock is
// taken first; destinations are always later in time so the order is
// global.
func (s *Service) Reallocate(ctx context.Context, slotID uuid.UUID, reason string) (*ReallocationResult, error) {
	if reason == "" {
		reason = DefaultReallocationReason
	}
	ctx, span := s.startSpan(ctx, "opd.Reallocate",
		attribute.String("slot_id", slotID.String()),
		attribute.String("reason", reason),
	)
	var err error
	defer func() { endSpan(span, err) }()

	var res *ReallocationResult
	err = s.withSlot(ctx, slotID, func(lockCtx context.Context) error {
		src, err := s.loadSlotState(lockCtx, slotID)
		if err != nil {
			return err
		}

		candidates := activeByPosition(src.tokens, StatusScheduled)
		if len(candidates) == 0 {
			res = &ReallocationResult{From: *src.slot, Moved: []Token{}, Reason: reason}
			return nil
		}

		next, err := s.nextAvailableSlot(lockCtx, src.slot)
		if err != nil {
			return err
		}

		return s.withSlot(lockCtx, next.ID, func(lockCtx context.Context) error {
			dst, err := s.loadSlotState(lockCtx, next.ID)
			if err != nil {
				return err
			}
			if !dst.slot.acceptsRelocations() {
				return fmt.Errorf("%w: slot %s filled up", ErrNoDestinationSlot, dst.slot.ID)
			}

			n := min(len(candidates), dst.slot.AvailableCapacity())
			moving := candidates[len(candidates)-n:]

			cs := &ChangeSet{}
			s.moveTokens(src, dst, moving, reason, cs)
			promoted := s.promoteUpTo(src, cs, len(moving))
			if err := s.commit(lockCtx, cs); err != nil {
				return fmt.Errorf("commit reallocation: %w", err)
			}

			moved := make([]Token, len(moving))
			for i, t := range moving {
				moved[i] = *t
			}
			admitted := make([]Token, len(promoted))
			for i, t := range promoted {
				admitted[i] = *t
			}
			to := *dst.slot
			res = &ReallocationResult{From: *src.slot, To: &to, Moved: moved, Promoted: admitted, Reason: reason}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if len(res.Moved) > 0 {
		s.metrics.ObserveRelocated(len(res.Moved))
		s.logger.Info("tokens reallocated",
			"from_slot", res.From.ID, "to_slot", res.To.ID, "moved", len(res.Moved),
			"promoted", len(res.Promoted), "reason", reason)
	}
	return res, nil
}

func (s *Service) moveTokens(src, dst *slotState, moving []*Token, reason string, cs *ChangeSet) {
	now := s.now()
	for _, t := range moving {
		src.remove(t.ID)
		src.slot.release()

		t.relocate(dst.slot.ID)
		t.UpdatedAt = now
		dst.slot.CurrentCount++
		dst.tokens = append(dst.tokens, t)
	}
	src.slot.UpdatedAt = now
	dst.slot.UpdatedAt = now

	cs.addSlot(src.slot)
	cs.addSlot(dst.slot)
	cs.addTokens(s.settle(src)...)
	cs.addTokens(s.settle(dst)...)
	cs.addTokens(moving...)

	for _, t := range moving {
		tokID, dstID := t.ID, dst.slot.ID
		cs.addEvent(s.event(EventTokenRelocated, &tokID, &dstID, map[string]any{
			"from_slot":      src.slot.ID,
			"to_slot":        dst.slot.ID,
			"reason":         reason,
			"position":       t.Position,
			"estimated_time": t.EstimatedTime,
		}))
	}
}

// nextAvailableSlot finds the doctor's first ACTIVE, non-full slot starting
// after the given one, on any later date.
func (s *Service) nextAvailableSlot(ctx context.Context, after *Slot) (*Slot, error) {
	slots, err := s.repo.ListSlotsForDoctor(ctx, after.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("list doctor slots: %w", err)
	}
	for i := range slots {
		sl := &slots[i]
		if sl.ID == after.ID || !sl.StartTime.After(after.StartTime) {
			continue
		}
		if sl.acceptsRelocations() {
			return sl, nil
		}
	}
	return nil, fmt.Errorf("%w: after %s", ErrNoDestinationSlot, after.StartTime.Format(time.RFC3339))
}

// MarkSlotDelayed flags the slot as running late and pushes every active
// estimate back by the delay. The slot keeps taking bookings.
func (s *Service) MarkSlotDelayed(ctx context.Context, slotID uuid.UUID, minutes int) (*Slot, error) {
	if minutes <= 0 {
		return nil, fmt.Errorf("%w: delay minutes must be positive", ErrInvalidInput)
	}

	var out Slot
	err := s.withSlot(ctx, slotID, func(lockCtx context.Context) error {
		st, err := s.loadSlotState(lockCtx, slotID)
		if err != nil {
			return err
		}
		if !st.slot.IsBookable() {
			return fmt.Errorf("%w: slot %s is %s", ErrSlotNotOpen, slotID, st.slot.Status)
		}

		st.slot.IsDelayed = true
		st.slot.DelayMinutes = minutes
		st.slot.Status = SlotDelayed
		st.slot.UpdatedAt = s.now()

		cs := &ChangeSet{}
		cs.addSlot(st.slot)
		cs.addTokens(s.settle(st)...)
		cs.addEvent(s.event(EventSlotDelayed, nil, &slotID, map[string]any{
			"delay_minutes": minutes,
		}))
		if err := s.commit(lockCtx, cs); err != nil {
			return fmt.Errorf("commit slot delay: %w", err)
		}
		out = *st.slot
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("slot marked delayed", "slot_id", slotID, "delay_minutes", minutes)
	return &out, nil
}
