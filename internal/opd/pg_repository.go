package opd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxPool is the subset of *pgxpool.Pool the repository uses.
type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool pgxPool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func newPgRepositoryWithPool(pool pgxPool) *PgRepository {
	return &PgRepository{pool: pool}
}

const (
	doctorColumns = `id, name, specialization, opd_days, created_at`
	slotColumns   = `id, doctor_id, start_time, end_time, max_capacity, current_count, is_delayed, delay_minutes, status, created_at, updated_at`
	tokenColumns  = `id, slot_id, patient_id, patient_name, phone, category, priority_score, position, token_number, status, booked_at, estimated_time, actual_start_time, actual_end_time, is_relocated, original_slot_id, created_at, updated_at`
)

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Specialization,
		&d.OPDDays,
		&d.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	if d.OPDDays == nil {
		d.OPDDays = []string{}
	}
	return &d, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var status string

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.StartTime,
		&s.EndTime,
		&s.MaxCapacity,
		&s.CurrentCount,
		&s.IsDelayed,
		&s.DelayMinutes,
		&status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.Status = SlotStatus(status)
	return &s, nil
}

func scanToken(row pgx.Row) (*Token, error) {
	var t Token
	var category, status string

	err := row.Scan(
		&t.ID,
		&t.SlotID,
		&t.PatientID,
		&t.PatientName,
		&t.Phone,
		&category,
		&t.PriorityScore,
		&t.Position,
		&t.TokenNumber,
		&status,
		&t.BookedAt,
		&t.EstimatedTime,
		&t.ActualStartTime,
		&t.ActualEndTime,
		&t.IsRelocated,
		&t.OriginalSlotID,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}

	t.Category = Category(category)
	t.Status = TokenStatus(status)
	return &t, nil
}

func collectTokens(rows pgx.Rows) ([]Token, error) {
	defer rows.Close()

	result := []Token{}
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Doctors

func (r *PgRepository) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Doctor{}
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) CreateDoctor(ctx context.Context, d *Doctor) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO doctors (id, name, specialization, opd_days, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, d.ID, d.Name, d.Specialization, d.OPDDays, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert doctor: %w", err)
	}
	return nil
}

// Slots

func (r *PgRepository) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListSlotsForDoctor(ctx context.Context, doctorID uuid.UUID) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE doctor_id = $1
		ORDER BY start_time
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Slot{}
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateSlots inserts every slot in one transaction. Rows that collide on
// (doctor_id, start_time) are skipped and left out of the result.
func (r *PgRepository) CreateSlots(ctx context.Context, slots []Slot) ([]Slot, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}

	created := []Slot{}
	for _, s := range slots {
		row := tx.QueryRow(ctx, `
			INSERT INTO slots (id, doctor_id, start_time, end_time, max_capacity, current_count, is_delayed, delay_minutes, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (doctor_id, start_time) DO NOTHING
			RETURNING `+slotColumns+`
		`, s.ID, s.DoctorID, s.StartTime, s.EndTime, s.MaxCapacity, s.CurrentCount,
			s.IsDelayed, s.DelayMinutes, string(s.Status), s.CreatedAt, s.UpdatedAt)

		inserted, err := scanSlot(row)
		if errors.Is(err, ErrSlotNotFound) {
			continue
		}
		if err != nil {
			rollback(ctx, tx)
			return nil, fmt.Errorf("insert slot: %w", err)
		}
		created = append(created, *inserted)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return created, nil
}

// Tokens

func (r *PgRepository) GetToken(ctx context.Context, id uuid.UUID) (*Token, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE id = $1
	`, id)
	return scanToken(row)
}

func (r *PgRepository) ListTokensForSlot(ctx context.Context, slotID uuid.UUID) ([]Token, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE slot_id = $1
		ORDER BY booked_at, id
	`, slotID)
	if err != nil {
		return nil, err
	}
	return collectTokens(rows)
}

func (r *PgRepository) ListTokensForPatient(ctx context.Context, patientID string) ([]Token, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE patient_id = $1
		ORDER BY booked_at DESC
	`, patientID)
	if err != nil {
		return nil, err
	}
	return collectTokens(rows)
}

func (r *PgRepository) ListOverdueScheduled(ctx context.Context, cutoff time.Time) ([]Token, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE status = 'SCHEDULED'
		  AND estimated_time < $1
		ORDER BY estimated_time
	`, cutoff)
	if err != nil {
		return nil, err
	}
	return collectTokens(rows)
}

func (r *PgRepository) DeleteToken(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tokens WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// Commit

func (r *PgRepository) Commit(ctx context.Context, cs *ChangeSet) error {
	if cs == nil || cs.Empty() {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	for _, s := range cs.Slots {
		tag, err := tx.Exec(ctx, `
			UPDATE slots
			SET max_capacity = $2,
			    current_count = $3,
			    is_delayed = $4,
			    delay_minutes = $5,
			    status = $6,
			    updated_at = $7
			WHERE id = $1
		`, s.ID, s.MaxCapacity, s.CurrentCount, s.IsDelayed, s.DelayMinutes, string(s.Status), s.UpdatedAt)
		if err != nil {
			rollback(ctx, tx)
			return fmt.Errorf("update slot: %w", err)
		}
		if tag.RowsAffected() == 0 {
			rollback(ctx, tx)
			return fmt.Errorf("update slot %s: %w", s.ID, ErrSlotNotFound)
		}
	}

	for _, t := range cs.Tokens {
		_, err := tx.Exec(ctx, `
			INSERT INTO tokens (`+tokenColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
			ON CONFLICT (id) DO UPDATE
			SET slot_id = EXCLUDED.slot_id,
			    priority_score = EXCLUDED.priority_score,
			    position = EXCLUDED.position,
			    token_number = EXCLUDED.token_number,
			    status = EXCLUDED.status,
			    estimated_time = EXCLUDED.estimated_time,
			    actual_start_time = EXCLUDED.actual_start_time,
			    actual_end_time = EXCLUDED.actual_end_time,
			    is_relocated = EXCLUDED.is_relocated,
			    original_slot_id = EXCLUDED.original_slot_id,
			    updated_at = EXCLUDED.updated_at
		`, t.ID, t.SlotID, t.PatientID, t.PatientName, t.Phone, string(t.Category),
			t.PriorityScore, t.Position, t.TokenNumber, string(t.Status), t.BookedAt,
			t.EstimatedTime, t.ActualStartTime, t.ActualEndTime, t.IsRelocated,
			t.OriginalSlotID, t.CreatedAt, t.UpdatedAt)
		if err != nil {
			rollback(ctx, tx)
			return fmt.Errorf("upsert token: %w", err)
		}
	}

	for _, ev := range cs.Events {
		_, err := tx.Exec(ctx, `
			INSERT INTO event_logs (event_type, token_id, slot_id, payload, created_at)
			VALUES ($1, $2, $3, $4, COALESCE($5, now()))
		`, ev.EventType, ev.TokenID, ev.SlotID, ev.Payload, nullableTime(ev.CreatedAt))
		if err != nil {
			rollback(ctx, tx)
			return fmt.Errorf("insert event log: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func rollback(ctx context.Context, tx pgx.Tx) {
	_ = tx.Rollback(context.WithoutCancel(ctx))
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
