package opd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Allocate admits a patient into a slot. The capacity check, ranking,
// estimate refresh and persistence all happen under the slot lock and
// commit as one unit, so a failure leaves the slot untouched.
// EMERGENCY requests take the emergency path.
func (s *Service) Allocate(ctx context.Context, req AllocateRequest) (*Token, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	ctx, span := s.startSpan(ctx, "opd.Allocate",
		attribute.String("slot_id", req.SlotID.String()),
		attribute.String("category", string(req.Category)),
	)
	var err error
	defer func() { endSpan(span, err) }()

	emergency := req.Category == CategoryEmergency
	var created *Token
	err = s.withSlot(ctx, req.SlotID, func(lockCtx context.Context) error {
		st, err := s.loadSlotState(lockCtx, req.SlotID)
		if err != nil {
			return err
		}

		tok := s.newToken(req)
		cs := &ChangeSet{}
		bumped, err := s.admit(st, tok, emergency, cs)
		if err != nil {
			return err
		}

		if err := s.commit(lockCtx, cs); err != nil {
			return fmt.Errorf("commit allocation: %w", err)
		}
		if bumped {
			s.metrics.ObserveCapacityBump()
		}
		created = tok
		return nil
	})

	s.metrics.ObserveAllocation(string(req.Category), outcome(err))
	if err != nil {
		s.logger.Info("token allocation rejected",
			"slot_id", req.SlotID, "category", req.Category, "error", err)
		return nil, err
	}

	s.logger.Info("token allocated",
		"token_id", created.ID,
		"slot_id", created.SlotID,
		"category", created.Category,
		"position", created.Position,
		"token_number", created.TokenNumber,
	)
	return created, nil
}

// admit places tok into the slot working copy and records every resulting
// write in cs. For an emergency a full slot is first extended by exactly
// one, and the queue is ranked a second time after admission so the
// emergency lands ahead of every other category.
func (s *Service) admit(st *slotState, tok *Token, emergency bool, cs *ChangeSet) (bool, error) {
	slot := st.slot
	if !slot.IsBookable() {
		return false, fmt.Errorf("%w: slot %s is %s", ErrSlotNotOpen, slot.ID, slot.Status)
	}

	bumped := false
	if emergency {
		bumped = slot.extendForEmergency()
	}
	if err := slot.admit(); err != nil {
		return false, err
	}

	tok.SlotID = slot.ID
	tok.Status = StatusScheduled
	tok.UpdatedAt = s.now()
	st.tokens = append(st.tokens, tok)

	changed := s.settle(st)
	if emergency {
		changed = append(changed, s.settle(st)...)
	}

	slot.UpdatedAt = s.now()
	cs.addSlot(slot)
	cs.addTokens(changed...)
	cs.addTokens(tok)

	slotID, tokID := slot.ID, tok.ID
	if bumped {
		cs.addEvent(s.event(EventSlotCapacityExtended, &tokID, &slotID, map[string]any{
			"max_capacity": slot.MaxCapacity,
		}))
	}
	eventType := EventTokenAllocated
	if emergency {
		eventType = EventEmergencyInserted
	}
	cs.addEvent(s.event(eventType, &tokID, &slotID, map[string]any{
		"patient_id":     tok.PatientID,
		"category":       tok.Category,
		"position":       tok.Position,
		"token_number":   tok.TokenNumber,
		"estimated_time": tok.EstimatedTime,
		"current_count":  slot.CurrentCount,
	}))
	return bumped, nil
}

func outcome(err error) string {
	if err == nil {
		return "admitted"
	}
	return string(Kind(err))
}

// BookOnline books an online token for a registered patient.
func (s *Service) BookOnline(ctx context.Context, slotID uuid.UUID, patientID, name string, phone *string) (*Token, error) {
	return s.Allocate(ctx, AllocateRequest{
		SlotID:      slotID,
		PatientID:   patientID,
		PatientName: name,
		Phone:       phone,
		Category:    CategoryOnline,
	})
}

// WalkIn issues a token to a patient at the desk; walk-ins have no
// registered id so one is synthesized.
func (s *Service) WalkIn(ctx context.Context, slotID uuid.UUID, name string, phone *string) (*Token, error) {
	return s.Allocate(ctx, AllocateRequest{
		SlotID:      slotID,
		PatientID:   syntheticPatientID(CategoryWalkIn, s.now()),
		PatientName: name,
		Phone:       phone,
		Category:    CategoryWalkIn,
	})
}

// BookPriority issues a paid priority token.
func (s *Service) BookPriority(ctx context.Context, slotID uuid.UUID, patientID, name string, phone *string) (*Token, error) {
	return s.Allocate(ctx, AllocateRequest{
		SlotID:      slotID,
		PatientID:   patientID,
		PatientName: name,
		Phone:       phone,
		Category:    CategoryPriority,
	})
}

func (s *Service) BookFollowUp(ctx context.Context, slotID uuid.UUID, patientID, name string, phone *string) (*Token, error) {
	return s.Allocate(ctx, AllocateRequest{
		SlotID:      slotID,
		PatientID:   patientID,
		PatientName: name,
		Phone:       phone,
		Category:    CategoryFollowUp,
	})
}

// InsertEmergency admits an emergency even into a full slot.
func (s *Service) InsertEmergency(ctx context.Context, slotID uuid.UUID, name string, phone *string) (*Token, error) {
	return s.Allocate(ctx, AllocateRequest{
		SlotID:      slotID,
		PatientID:   syntheticPatientID(CategoryEmergency, s.now()),
		PatientName: name,
		Phone:       phone,
		Category:    CategoryEmergency,
	})
}
