package opd

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ListDoctors(ctx context.Context) ([]Doctor, error)
	CreateDoctor(ctx context.Context, d *Doctor) error

	GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	// ListSlotsForDoctor returns slots ordered by start time.
	ListSlotsForDoctor(ctx context.Context, doctorID uuid.UUID) ([]Slot, error)
	// CreateSlots inserts slots and returns the ones that did not already
	// exist for the same doctor and start time.
	CreateSlots(ctx context.Context, slots []Slot) ([]Slot, error)

	GetToken(ctx context.Context, id uuid.UUID) (*Token, error)
	ListTokensForSlot(ctx context.Context, slotID uuid.UUID) ([]Token, error)
	ListTokensForPatient(ctx context.Context, patientID string) ([]Token, error)
	// ListOverdueScheduled returns SCHEDULED tokens estimated before cutoff.
	ListOverdueScheduled(ctx context.Context, cutoff time.Time) ([]Token, error)
	DeleteToken(ctx context.Context, id uuid.UUID) error

	// Commit writes slots, tokens and events in one transaction.
	Commit(ctx context.Context, cs *ChangeSet) error
}
