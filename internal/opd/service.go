package opd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/opd-token-allocation/internal/config"
	"github.com/hackgods/opd-token-allocation/internal/logging"
	"github.com/hackgods/opd-token-allocation/internal/metrics"
	redisclient "github.com/hackgods/opd-token-allocation/internal/redis"
)

const (
	EventTokenAllocated       = "TOKEN_ALLOCATED"
	EventEmergencyInserted    = "EMERGENCY_INSERTED"
	EventSlotCapacityExtended = "SLOT_CAPACITY_EXTENDED"
	EventTokenCancelled       = "TOKEN_CANCELLED"
	EventTokenNoShow          = "TOKEN_NO_SHOW"
	EventTokenCheckedIn       = "TOKEN_CHECKED_IN"
	EventTokenStarted         = "TOKEN_STARTED"
	EventTokenCompleted       = "TOKEN_COMPLETED"
	EventTokenRelocated       = "TOKEN_RELOCATED"
	EventWaitlistPromoted     = "WAITLIST_PROMOTED"
	EventSlotDelayed          = "SLOT_DELAYED"
)

// Deps are the collaborators of Service that are not storage or locking.
// Zero values get sensible defaults.
type Deps struct {
	Waitlist *Waitlist
	Metrics  *metrics.OPDMetrics
	Logger   *logging.Logger
	Clock    func() time.Time
}

type Service struct {
	repo      Repository
	locker    redisclient.Locker
	scorer    *Scorer
	estimator Estimator
	waitlist  *Waitlist
	metrics   *metrics.OPDMetrics
	logger    *logging.Logger
	tracer    trace.Tracer
	now       func() time.Time

	noShowTimeout   time.Duration
	slotDuration    time.Duration
	defaultCapacity int
	loc             *time.Location
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, deps Deps) (*Service, error) {
	priorities := cfg.Priorities
	if priorities == (config.Priorities{}) {
		priorities = DefaultPriorities()
	}
	scorer, err := NewScorer(priorities)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		repo:            repo,
		locker:          locker,
		scorer:          scorer,
		estimator:       NewEstimator(cfg.ConsultationDuration),
		waitlist:        deps.Waitlist,
		metrics:         deps.Metrics,
		logger:          deps.Logger,
		tracer:          otel.Tracer("github.com/hackgods/opd-token-allocation/internal/opd"),
		now:             deps.Clock,
		noShowTimeout:   cfg.NoShowTimeout,
		slotDuration:    cfg.SlotDuration,
		defaultCapacity: cfg.DefaultMaxCapacity,
		loc:             cfg.Location,
	}
	if svc.waitlist == nil {
		svc.waitlist = NewWaitlist()
	}
	if svc.logger == nil {
		svc.logger = logging.Default()
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.noShowTimeout <= 0 {
		svc.noShowTimeout = 15 * time.Minute
	}
	if svc.slotDuration <= 0 {
		svc.slotDuration = 10 * time.Minute
	}
	if svc.defaultCapacity <= 0 {
		svc.defaultCapacity = 20
	}
	if svc.loc == nil {
		svc.loc = time.UTC
	}
	return svc, nil
}

// slotState is a private working copy of one slot and all of its tokens.
// Nothing in it is visible to other callers until the change set commits.
type slotState struct {
	slot   *Slot
	tokens []*Token
}

func (st *slotState) find(id uuid.UUID) *Token {
	for _, t := range st.tokens {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (st *slotState) remove(id uuid.UUID) {
	for i, t := range st.tokens {
		if t.ID == id {
			st.tokens = append(st.tokens[:i], st.tokens[i+1:]...)
			return
		}
	}
}

func (s *Service) loadSlotState(ctx context.Context, slotID uuid.UUID) (*slotState, error) {
	slot, err := s.repo.GetSlot(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("load slot: %w", err)
	}
	tokens, err := s.repo.ListTokensForSlot(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("load slot tokens: %w", err)
	}

	st := &slotState{slot: slot, tokens: make([]*Token, len(tokens))}
	for i := range tokens {
		st.tokens[i] = &tokens[i]
	}
	return st, nil
}

// settle re-ranks the slot and refreshes every active estimate. It returns
// each token touched.
func (s *Service) settle(st *slotState) []*Token {
	reranked := Rerank(st.tokens)
	estimated := s.estimator.Apply(st.slot, st.tokens)

	seen := make(map[uuid.UUID]bool)
	var out []*Token
	for _, t := range append(reranked, estimated...) {
		if !seen[t.ID] {
			seen[t.ID] = true
			out = append(out, t)
		}
	}
	return out
}

// commit persists cs and then runs its post-commit hooks.
func (s *Service) commit(ctx context.Context, cs *ChangeSet) error {
	if err := s.repo.Commit(ctx, cs); err != nil {
		return err
	}
	for _, fn := range cs.onCommit {
		fn()
	}
	return nil
}

// withSlot runs fn under the slot's serialization boundary.
func (s *Service) withSlot(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	start := time.Now()
	acquired := false
	err := s.locker.WithSlotLock(ctx, slotID, func(lockCtx context.Context) error {
		acquired = true
		s.metrics.ObserveLockWait(time.Since(start), true)
		return fn(lockCtx)
	})
	if err != nil && !acquired && errors.Is(err, redisclient.ErrLockNotAcquired) {
		s.metrics.ObserveLockWait(time.Since(start), false)
		return fmt.Errorf("%w: %v", ErrSlotBusy, err)
	}
	return err
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) event(eventType string, tokenID, slotID *uuid.UUID, payload map[string]any) EventLog {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", "event_type", eventType, "error", err)
		data = nil
	}

	return EventLog{
		EventType: eventType,
		TokenID:   tokenID,
		SlotID:    slotID,
		Payload:   data,
		CreatedAt: s.now(),
	}
}

func (s *Service) newToken(req AllocateRequest) *Token {
	now := s.now()
	return &Token{
		ID:            uuid.New(),
		SlotID:        req.SlotID,
		PatientID:     req.PatientID,
		PatientName:   req.PatientName,
		Phone:         req.Phone,
		Category:      req.Category,
		PriorityScore: s.scorer.Score(req.Category, now),
		Status:        StatusScheduled,
		BookedAt:      now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// syntheticPatientID tags patients who arrive without a registered id.
func syntheticPatientID(c Category, at time.Time) string {
	return fmt.Sprintf("%s-%d", c, at.UnixMilli())
}

// GetToken retrieves a token by ID. Waitlist entries are found too, with
// status WAITING and no position.
func (s *Service) GetToken(ctx context.Context, id uuid.UUID) (*Token, error) {
	t, err := s.repo.GetToken(ctx, id)
	if errors.Is(err, ErrTokenNotFound) {
		if entry, ok := s.waitlist.Find(id); ok {
			return &entry, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	return t, nil
}

// TokensForPatient lists every token a patient has held, followed by any
// waitlist entries.
func (s *Service) TokensForPatient(ctx context.Context, patientID string) ([]Token, error) {
	if patientID == "" {
		return nil, fmt.Errorf("%w: patient id is required", ErrInvalidInput)
	}
	tokens, err := s.repo.ListTokensForPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list tokens by patient: %w", err)
	}
	return append(tokens, s.waitlist.ForPatient(patientID)...), nil
}

// Queue returns the slot's live queue: who is being seen, who is waiting
// in position order, and who is on the waitlist.
func (s *Service) Queue(ctx context.Context, slotID uuid.UUID) (*Queue, error) {
	st, err := s.loadSlotState(ctx, slotID)
	if err != nil {
		return nil, err
	}

	q := &Queue{
		Slot:     *st.slot,
		Serving:  []Token{},
		Waiting:  []Token{},
		Waitlist: s.waitlist.Entries(slotID),
	}
	for _, t := range st.tokens {
		if t.Status == StatusInProgress {
			q.Serving = append(q.Serving, *t)
		}
	}
	for _, t := range activeByPosition(st.tokens) {
		q.Waiting = append(q.Waiting, *t)
	}
	return q, nil
}

// DeleteToken removes a token record. Only terminal tokens may be removed,
// so capacity and positions are never affected.
func (s *Service) DeleteToken(ctx context.Context, id uuid.UUID) error {
	tok, err := s.repo.GetToken(ctx, id)
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}
	return s.withSlot(ctx, tok.SlotID, func(ctx context.Context) error {
		current, err := s.repo.GetToken(ctx, id)
		if err != nil {
			return fmt.Errorf("load token: %w", err)
		}
		if !current.Status.IsTerminal() {
			return fmt.Errorf("%w: cannot delete %s token", ErrInvalidTransition, current.Status)
		}
		if err := s.repo.DeleteToken(ctx, id); err != nil {
			return fmt.Errorf("delete token: %w", err)
		}
		return nil
	})
}
