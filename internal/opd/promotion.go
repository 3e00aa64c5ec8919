package opd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// JoinWaitlist admits the patient straight away when the slot has room and
// otherwise queues them on the slot's waitlist. Emergencies are never
// waitlisted. Walk-ins and emergencies without a patient id get a
// synthesized one.
func (s *Service) JoinWaitlist(ctx context.Context, req AllocateRequest) (*WaitlistResult, error) {
	if req.PatientID == "" && (req.Category == CategoryWalkIn || req.Category == CategoryEmergency) {
		req.PatientID = syntheticPatientID(req.Category, s.now())
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.Category == CategoryEmergency {
		tok, err := s.Allocate(ctx, req)
		if err != nil {
			return nil, err
		}
		return &WaitlistResult{Token: *tok, Admitted: true}, nil
	}

	ctx, span := s.startSpan(ctx, "opd.JoinWaitlist", attribute.String("slot_id", req.SlotID.String()))
	var err error
	defer func() { endSpan(span, err) }()

	var res WaitlistResult
	err = s.withSlot(ctx, req.SlotID, func(lockCtx context.Context) error {
		st, err := s.loadSlotState(lockCtx, req.SlotID)
		if err != nil {
			return err
		}
		if !st.slot.IsBookable() {
			return fmt.Errorf("%w: slot %s is %s", ErrSlotNotOpen, st.slot.ID, st.slot.Status)
		}

		tok := s.newToken(req)
		if !st.slot.IsFull() {
			cs := &ChangeSet{}
			if _, err := s.admit(st, tok, false, cs); err != nil {
				return err
			}
			if err := s.commit(lockCtx, cs); err != nil {
				return fmt.Errorf("commit allocation: %w", err)
			}
			res = WaitlistResult{Token: *tok, Admitted: true}
			return nil
		}

		tok.Status = StatusWaiting
		pos := s.waitlist.Push(st.slot.ID, *tok)
		res = WaitlistResult{Token: *tok, WaitlistPosition: pos}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Admitted {
		s.metrics.ObserveAllocation(string(req.Category), "admitted")
		s.logger.Info("waitlist request admitted directly", "token_id", res.Token.ID, "slot_id", req.SlotID)
	} else {
		s.metrics.ObserveAllocation(string(req.Category), "waitlisted")
		s.metrics.SetWaitlistDepth(s.waitlist.Depth())
		s.logger.Info("patient added to waitlist",
			"token_id", res.Token.ID, "slot_id", req.SlotID, "waitlist_position", res.WaitlistPosition)
	}
	return &res, nil
}

// Promote admits the oldest waitlist entry if the slot has room. It returns
// nil when nothing was promoted.
func (s *Service) Promote(ctx context.Context, slotID uuid.UUID) (*Token, error) {
	ctx, span := s.startSpan(ctx, "opd.Promote", attribute.String("slot_id", slotID.String()))
	var err error
	defer func() { endSpan(span, err) }()

	var promoted *Token
	err = s.withSlot(ctx, slotID, func(lockCtx context.Context) error {
		st, err := s.loadSlotState(lockCtx, slotID)
		if err != nil {
			return err
		}
		cs := &ChangeSet{}
		tok := s.promoteLocked(st, cs)
		if tok == nil {
			return nil
		}
		if err := s.commit(lockCtx, cs); err != nil {
			return fmt.Errorf("commit promotion: %w", err)
		}
		promoted = tok
		return nil
	})
	if err != nil {
		return nil, err
	}
	return promoted, nil
}

// promoteLocked moves at most one waitlist entry into the slot working copy.
// The entry leaves the waitlist only once cs commits.
func (s *Service) promoteLocked(st *slotState, cs *ChangeSet) *Token {
	promoted := s.promoteUpTo(st, cs, 1)
	if len(promoted) == 0 {
		return nil
	}
	return promoted[0]
}

// promoteUpTo fills up to n freed places from the waitlist, oldest entry
// first, stopping early when the slot is full again.
func (s *Service) promoteUpTo(st *slotState, cs *ChangeSet, n int) []*Token {
	slotID := st.slot.ID
	if n <= 0 || !st.slot.IsBookable() {
		return nil
	}

	var promoted []*Token
	for _, entry := range s.waitlist.Entries(slotID) {
		if len(promoted) == n || st.slot.IsFull() {
			break
		}

		tok := entry
		tok.Status = StatusScheduled
		if _, err := s.admit(st, &tok, false, cs); err != nil {
			s.logger.Warn("waitlist promotion skipped", "slot_id", slotID, "token_id", tok.ID, "error", err)
			break
		}

		tokID := tok.ID
		cs.addEvent(s.event(EventWaitlistPromoted, &tokID, &slotID, map[string]any{
			"patient_id": tok.PatientID,
			"position":   tok.Position,
		}))
		cs.afterCommit(func() {
			s.waitlist.Remove(slotID, tokID)
			s.metrics.ObservePromotion()
			s.metrics.SetWaitlistDepth(s.waitlist.Depth())
			s.logger.Info("promoted token from waitlist", "token_id", tokID, "slot_id", slotID)
		})
		promoted = append(promoted, &tok)
	}
	return promoted
}

// leaveWaitlist cancels an entry that never got a place in the slot.
func (s *Service) leaveWaitlist(ctx context.Context, entry Token) (*Token, error) {
	err := s.withSlot(ctx, entry.SlotID, func(context.Context) error {
		if !s.waitlist.Remove(entry.SlotID, entry.ID) {
			return fmt.Errorf("%w: %s", ErrTokenNotFound, entry.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.SetWaitlistDepth(s.waitlist.Depth())
	entry.Status = StatusCancelled
	entry.UpdatedAt = s.now()
	return &entry, nil
}
