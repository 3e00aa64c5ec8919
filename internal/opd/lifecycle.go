package opd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

type tokenMutation func(st *slotState, tok *Token, cs *ChangeSet) error

var errTokenMoved = fmt.Errorf("%w: token moved to another slot", ErrSlotBusy)

// mutateToken runs fn on the token inside its slot's lock and commits the
// resulting change set. A token relocated between the lookup and the lock is
// looked up again once.
func (s *Service) mutateToken(ctx context.Context, spanName string, tokenID uuid.UUID, fn tokenMutation) (*Token, error) {
	ctx, span := s.startSpan(ctx, spanName, attribute.String("token_id", tokenID.String()))
	var err error
	defer func() { endSpan(span, err) }()

	var result *Token
	for attempt := 0; attempt < 2; attempt++ {
		result, err = s.mutateTokenOnce(ctx, tokenID, fn)
		if !errors.Is(err, errTokenMoved) {
			break
		}
	}
	return result, err
}

func (s *Service) mutateTokenOnce(ctx context.Context, tokenID uuid.UUID, fn tokenMutation) (*Token, error) {
	found, err := s.repo.GetToken(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}

	var result Token
	err = s.withSlot(ctx, found.SlotID, func(lockCtx context.Context) error {
		st, err := s.loadSlotState(lockCtx, found.SlotID)
		if err != nil {
			return err
		}
		tok := st.find(tokenID)
		if tok == nil {
			return errTokenMoved
		}

		cs := &ChangeSet{}
		if err := fn(st, tok, cs); err != nil {
			return err
		}
		if err := s.commit(lockCtx, cs); err != nil {
			return fmt.Errorf("commit token update: %w", err)
		}
		result = *tok
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// releaseToken ends a token that still holds capacity, closes the gap it
// leaves in the queue and offers the freed place to the waitlist.
func (s *Service) releaseToken(st *slotState, tok *Token, status TokenStatus, eventType string, payload map[string]any, cs *ChangeSet) {
	now := s.now()
	tok.Status = status
	tok.UpdatedAt = now
	st.slot.release()
	st.slot.UpdatedAt = now

	cs.addTokens(tok)
	cs.addTokens(s.settle(st)...)
	cs.addSlot(st.slot)

	tokID, slotID := tok.ID, st.slot.ID
	payload["current_count"] = st.slot.CurrentCount
	cs.addEvent(s.event(eventType, &tokID, &slotID, payload))

	s.promoteLocked(st, cs)
}

// Cancel ends a booking. Cancelled, completed and no-show tokens are
// rejected without any change.
func (s *Service) Cancel(ctx context.Context, tokenID uuid.UUID, reason string) (*Token, error) {
	if reason == "" {
		reason = "Patient cancelled"
	}
	if entry, ok := s.waitlist.Find(tokenID); ok {
		tok, err := s.leaveWaitlist(ctx, entry)
		if err != nil {
			return nil, err
		}
		s.logger.Info("waitlist entry cancelled", "token_id", tok.ID, "slot_id", tok.SlotID, "reason", reason)
		return tok, nil
	}

	tok, err := s.mutateToken(ctx, "opd.Cancel", tokenID, func(st *slotState, tok *Token, cs *ChangeSet) error {
		switch tok.Status {
		case StatusCancelled:
			return fmt.Errorf("%w: token already cancelled", ErrInvalidTransition)
		case StatusCompleted:
			return fmt.Errorf("%w: cannot cancel completed token", ErrInvalidTransition)
		case StatusNoShow:
			return fmt.Errorf("%w: cannot cancel no-show token", ErrInvalidTransition)
		case StatusScheduled, StatusWaiting, StatusInProgress:
		}
		s.releaseToken(st, tok, StatusCancelled, EventTokenCancelled, map[string]any{
			"reason":     reason,
			"from_state": tok.Status,
		}, cs)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveRelease("cancelled")
	s.logger.Info("token cancelled", "token_id", tok.ID, "slot_id", tok.SlotID, "reason", reason)
	return tok, nil
}

// MarkNoShow ends a booking whose patient never arrived. Only tokens still
// queued may be marked.
func (s *Service) MarkNoShow(ctx context.Context, tokenID uuid.UUID) (*Token, error) {
	tok, err := s.mutateToken(ctx, "opd.MarkNoShow", tokenID, func(st *slotState, tok *Token, cs *ChangeSet) error {
		if !tok.Status.IsActive() {
			return fmt.Errorf("%w: cannot mark %s token as no-show", ErrInvalidTransition, tok.Status)
		}
		s.releaseToken(st, tok, StatusNoShow, EventTokenNoShow, map[string]any{
			"estimated_time": tok.EstimatedTime,
		}, cs)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveRelease("no_show")
	s.logger.Info("token marked no-show", "token_id", tok.ID, "slot_id", tok.SlotID)
	return tok, nil
}

// CheckIn records the patient's arrival. The token keeps its place.
func (s *Service) CheckIn(ctx context.Context, tokenID uuid.UUID) (*Token, error) {
	return s.mutateToken(ctx, "opd.CheckIn", tokenID, func(st *slotState, tok *Token, cs *ChangeSet) error {
		if tok.Status != StatusScheduled {
			return fmt.Errorf("%w: cannot check in %s token", ErrInvalidTransition, tok.Status)
		}
		tok.Status = StatusWaiting
		tok.UpdatedAt = s.now()
		cs.addTokens(tok)

		tokID, slotID := tok.ID, st.slot.ID
		cs.addEvent(s.event(EventTokenCheckedIn, &tokID, &slotID, map[string]any{}))
		return nil
	})
}

// StartConsultation moves a queued token in front of the doctor. The rest
// of the queue moves up.
func (s *Service) StartConsultation(ctx context.Context, tokenID uuid.UUID) (*Token, error) {
	return s.mutateToken(ctx, "opd.StartConsultation", tokenID, func(st *slotState, tok *Token, cs *ChangeSet) error {
		if !tok.Status.IsActive() {
			return fmt.Errorf("%w: cannot start %s token", ErrInvalidTransition, tok.Status)
		}
		now := s.now()
		tok.Status = StatusInProgress
		tok.ActualStartTime = &now
		tok.UpdatedAt = now
		cs.addTokens(tok)
		cs.addTokens(s.settle(st)...)

		tokID, slotID := tok.ID, st.slot.ID
		cs.addEvent(s.event(EventTokenStarted, &tokID, &slotID, map[string]any{
			"estimated_time": tok.EstimatedTime,
			"started_at":     now,
		}))
		return nil
	})
}

func (s *Service) Complete(ctx context.Context, tokenID uuid.UUID) (*Token, error) {
	return s.mutateToken(ctx, "opd.Complete", tokenID, func(st *slotState, tok *Token, cs *ChangeSet) error {
		if tok.Status != StatusInProgress {
			return fmt.Errorf("%w: cannot complete %s token", ErrInvalidTransition, tok.Status)
		}
		now := s.now()
		tok.Status = StatusCompleted
		tok.ActualEndTime = &now
		tok.UpdatedAt = now
		cs.addTokens(tok)

		tokID, slotID := tok.ID, st.slot.ID
		cs.addEvent(s.event(EventTokenCompleted, &tokID, &slotID, map[string]any{
			"completed_at": now,
		}))
		return nil
	})
}

// UpdateStatus dispatches a requested status to the matching transition.
func (s *Service) UpdateStatus(ctx context.Context, tokenID uuid.UUID, status TokenStatus, reason string) (*Token, error) {
	switch status {
	case StatusWaiting:
		return s.CheckIn(ctx, tokenID)
	case StatusInProgress:
		return s.StartConsultation(ctx, tokenID)
	case StatusCompleted:
		return s.Complete(ctx, tokenID)
	case StatusCancelled:
		return s.Cancel(ctx, tokenID, reason)
	case StatusNoShow:
		return s.MarkNoShow(ctx, tokenID)
	case StatusScheduled:
		return nil, fmt.Errorf("%w: tokens cannot be moved back to %s", ErrInvalidTransition, status)
	default:
		return nil, fmt.Errorf("%w: unknown token status %q", ErrInvalidInput, status)
	}
}

// SweepNoShows marks every SCHEDULED token whose estimated time passed more
// than the no-show timeout ago. Failures on one token do not stop the rest.
func (s *Service) SweepNoShows(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.noShowTimeout)
	overdue, err := s.repo.ListOverdueScheduled(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find overdue tokens: %w", err)
	}

	marked := 0
	for _, t := range overdue {
		if ctx.Err() != nil {
			return marked, ctx.Err()
		}
		if _, err := s.MarkNoShow(ctx, t.ID); err != nil {
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrTokenNotFound) {
				continue
			}
			s.logger.Warn("failed to mark token as no-show", "token_id", t.ID, "error", err)
			continue
		}
		marked++
	}
	return marked, nil
}
