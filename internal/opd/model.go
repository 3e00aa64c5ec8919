package opd

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Category string

const (
	CategoryOnline    Category = "ONLINE"
	CategoryWalkIn    Category = "WALKIN"
	CategoryPriority  Category = "PRIORITY"
	CategoryFollowUp  Category = "FOLLOWUP"
	CategoryEmergency Category = "EMERGENCY"
)

// Categories lists every category, highest priority first.
var Categories = []Category{
	CategoryEmergency,
	CategoryPriority,
	CategoryFollowUp,
	CategoryOnline,
	CategoryWalkIn,
}

func ParseCategory(s string) (Category, error) {
	switch c := Category(s); c {
	case CategoryOnline, CategoryWalkIn, CategoryPriority, CategoryFollowUp, CategoryEmergency:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
	}
}

type TokenStatus string

const (
	StatusScheduled  TokenStatus = "SCHEDULED"
	StatusWaiting    TokenStatus = "WAITING"
	StatusInProgress TokenStatus = "IN_PROGRESS"
	StatusCompleted  TokenStatus = "COMPLETED"
	StatusCancelled  TokenStatus = "CANCELLED"
	StatusNoShow     TokenStatus = "NO_SHOW"
)

var TokenStatuses = []TokenStatus{
	StatusScheduled,
	StatusWaiting,
	StatusInProgress,
	StatusCompleted,
	StatusCancelled,
	StatusNoShow,
}

func ParseTokenStatus(s string) (TokenStatus, error) {
	for _, st := range TokenStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown token status %q", ErrInvalidInput, s)
}

// IsActive reports whether the token takes part in queue ranking.
func (s TokenStatus) IsActive() bool {
	switch s {
	case StatusScheduled, StatusWaiting:
		return true
	case StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow:
		return false
	default:
		return false
	}
}

// IsTerminal reports whether the token can never change again.
func (s TokenStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	case StatusScheduled, StatusWaiting, StatusInProgress:
		return false
	default:
		return false
	}
}

type SlotStatus string

const (
	SlotActive    SlotStatus = "ACTIVE"
	SlotDelayed   SlotStatus = "DELAYED"
	SlotCancelled SlotStatus = "CANCELLED"
	SlotCompleted SlotStatus = "COMPLETED"
)

type Doctor struct {
	ID             uuid.UUID
	Name           string
	Specialization string
	OPDDays        []string
	CreatedAt      time.Time
}

type Slot struct {
	ID           uuid.UUID
	DoctorID     uuid.UUID
	StartTime    time.Time
	EndTime      time.Time
	MaxCapacity  int
	CurrentCount int
	IsDelayed    bool
	DelayMinutes int
	Status       SlotStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Token struct {
	ID              uuid.UUID
	SlotID          uuid.UUID
	PatientID       string
	PatientName     string
	Phone           *string
	Category        Category
	PriorityScore   float64
	Position        int
	TokenNumber     string
	Status          TokenStatus
	BookedAt        time.Time
	EstimatedTime   time.Time
	ActualStartTime *time.Time
	ActualEndTime   *time.Time
	IsRelocated     bool
	OriginalSlotID  *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// relocate moves the token to another slot, remembering where it was first
// booked.
func (t *Token) relocate(slotID uuid.UUID) {
	if t.OriginalSlotID == nil {
		orig := t.SlotID
		t.OriginalSlotID = &orig
	}
	t.SlotID = slotID
	t.IsRelocated = true
}

type EventLog struct {
	ID        int64
	EventType string
	TokenID   *uuid.UUID
	SlotID    *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}

// Queue is the read view of one slot.
type Queue struct {
	Slot     Slot
	Serving  []Token
	Waiting  []Token
	Waitlist []Token
}

type ReallocationResult struct {
	From     Slot
	To       *Slot
	Moved    []Token
	Promoted []Token // waitlist entries admitted into the source
	Reason   string
}

type WaitlistResult struct {
	Token            Token
	Admitted         bool
	WaitlistPosition int
}

// AllocateRequest is the input of every booking entry point.
type AllocateRequest struct {
	SlotID      uuid.UUID
	PatientID   string
	PatientName string
	Phone       *string
	Category    Category
}

func (r AllocateRequest) validate() error {
	if r.SlotID == uuid.Nil {
		return fmt.Errorf("%w: slot id is required", ErrInvalidInput)
	}
	if r.PatientID == "" {
		return fmt.Errorf("%w: patient id is required", ErrInvalidInput)
	}
	if r.PatientName == "" {
		return fmt.Errorf("%w: patient name is required", ErrInvalidInput)
	}
	if _, err := ParseCategory(string(r.Category)); err != nil {
		return err
	}
	return nil
}

// ChangeSet is everything one operation writes. Repositories apply it
// atomically.
type ChangeSet struct {
	Slots  []Slot
	Tokens []Token
	Events []EventLog

	slotIdx  map[uuid.UUID]int
	tokenIdx map[uuid.UUID]int
	onCommit []func()
}

func (cs *ChangeSet) Empty() bool {
	return len(cs.Slots) == 0 && len(cs.Tokens) == 0 && len(cs.Events) == 0
}

func (cs *ChangeSet) addSlot(s *Slot) {
	if cs.slotIdx == nil {
		cs.slotIdx = make(map[uuid.UUID]int)
	}
	if i, ok := cs.slotIdx[s.ID]; ok {
		cs.Slots[i] = *s
		return
	}
	cs.slotIdx[s.ID] = len(cs.Slots)
	cs.Slots = append(cs.Slots, *s)
}

func (cs *ChangeSet) addTokens(tokens ...*Token) {
	if cs.tokenIdx == nil {
		cs.tokenIdx = make(map[uuid.UUID]int)
	}
	for _, t := range tokens {
		if i, ok := cs.tokenIdx[t.ID]; ok {
			cs.Tokens[i] = *t
			continue
		}
		cs.tokenIdx[t.ID] = len(cs.Tokens)
		cs.Tokens = append(cs.Tokens, *t)
	}
}

func (cs *ChangeSet) addEvent(ev EventLog) {
	cs.Events = append(cs.Events, ev)
}

// afterCommit registers work that must only happen once the change set is
// durable, such as dropping a promoted waitlist entry.
func (cs *ChangeSet) afterCommit(fn func()) {
	cs.onCommit = append(cs.onCommit, fn)
}
