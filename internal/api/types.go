package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/opd-token-allocation/internal/opd"
)

type CreateDoctorRequest struct {
	Name           string   `json:"name"`
	Specialization string   `json:"specialization"`
	OPDDays        []string `json:"opd_days"`
}

type CreateSlotsRequest struct {
	DoctorID    string `json:"doctor_id"`
	Date        string `json:"date"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	MaxCapacity int    `json:"max_capacity"`
}

// TokenRequest is the body of every booking endpoint. Category is only read
// by the waitlist endpoint; the others imply it from the route.
type TokenRequest struct {
	SlotID      string  `json:"slot_id"`
	PatientID   string  `json:"patient_id"`
	PatientName string  `json:"patient_name"`
	Phone       *string `json:"phone,omitempty"`
	Category    string  `json:"category,omitempty"`
}

type CancelTokenRequest struct {
	Reason string `json:"reason"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type DelaySlotRequest struct {
	DelayMinutes int `json:"delay_minutes"`
}

type ReallocateRequest struct {
	Reason string `json:"reason"`
}

type DoctorResponse struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Specialization string    `json:"specialization"`
	OPDDays        []string  `json:"opd_days"`
	CreatedAt      time.Time `json:"created_at"`
}

type SlotResponse struct {
	ID                uuid.UUID `json:"id"`
	DoctorID          uuid.UUID `json:"doctor_id"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	MaxCapacity       int       `json:"max_capacity"`
	CurrentCount      int       `json:"current_count"`
	AvailableCapacity int       `json:"available_capacity"`
	IsDelayed         bool      `json:"is_delayed"`
	DelayMinutes      int       `json:"delay_minutes"`
	Status            string    `json:"status"`
}

type TokenResponse struct {
	ID              uuid.UUID  `json:"id"`
	SlotID          uuid.UUID  `json:"slot_id"`
	PatientID       string     `json:"patient_id"`
	PatientName     string     `json:"patient_name"`
	Phone           *string    `json:"phone,omitempty"`
	Category        string     `json:"category"`
	PriorityScore   float64    `json:"priority_score"`
	Position        int        `json:"position"`
	TokenNumber     string     `json:"token_number"`
	Status          string     `json:"status"`
	BookedAt        time.Time  `json:"booked_at"`
	EstimatedTime   time.Time  `json:"estimated_time"`
	ActualStartTime *time.Time `json:"actual_start_time,omitempty"`
	ActualEndTime   *time.Time `json:"actual_end_time,omitempty"`
	IsRelocated     bool       `json:"is_relocated"`
	OriginalSlotID  *uuid.UUID `json:"original_slot_id,omitempty"`
}

type QueueResponse struct {
	Slot     SlotResponse    `json:"slot"`
	Serving  []TokenResponse `json:"serving"`
	Waiting  []TokenResponse `json:"waiting"`
	Waitlist []TokenResponse `json:"waitlist"`
}

type WaitlistResponse struct {
	Token            TokenResponse `json:"token"`
	Admitted         bool          `json:"admitted"`
	WaitlistPosition int           `json:"waitlist_position,omitempty"`
}

type ReallocationResponse struct {
	From     SlotResponse    `json:"from"`
	To       *SlotResponse   `json:"to"`
	Moved    []TokenResponse `json:"moved"`
	Promoted []TokenResponse `json:"promoted"`
	Reason   string          `json:"reason"`
}

type SlotStatsResponse struct {
	Slot              SlotResponse   `json:"slot"`
	AvailableCapacity int            `json:"available_capacity"`
	UtilizationRate   float64        `json:"utilization_rate"`
	ByCategory        map[string]int `json:"by_category"`
	ByStatus          map[string]int `json:"by_status"`
	WaitlistLength    int            `json:"waitlist_length"`
}

type DoctorStatsResponse struct {
	DoctorID          uuid.UUID      `json:"doctor_id"`
	Date              string         `json:"date,omitempty"`
	Slots             int            `json:"slots"`
	TotalCapacity     int            `json:"total_capacity"`
	TotalBooked       int            `json:"total_booked"`
	AvailableCapacity int            `json:"available_capacity"`
	UtilizationRate   float64        `json:"utilization_rate"`
	ByCategory        map[string]int `json:"by_category"`
	ByStatus          map[string]int `json:"by_status"`
	WaitlistLength    int            `json:"waitlist_length"`
}

type ListResponse[T any] struct {
	Count int `json:"count"`
	Data  []T `json:"data"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toDoctorResponse(d opd.Doctor) DoctorResponse {
	days := d.OPDDays
	if days == nil {
		days = []string{}
	}
	return DoctorResponse{
		ID:             d.ID,
		Name:           d.Name,
		Specialization: d.Specialization,
		OPDDays:        days,
		CreatedAt:      d.CreatedAt,
	}
}

func toSlotResponse(s opd.Slot) SlotResponse {
	return SlotResponse{
		ID:                s.ID,
		DoctorID:          s.DoctorID,
		StartTime:         s.StartTime,
		EndTime:           s.EndTime,
		MaxCapacity:       s.MaxCapacity,
		CurrentCount:      s.CurrentCount,
		AvailableCapacity: s.AvailableCapacity(),
		IsDelayed:         s.IsDelayed,
		DelayMinutes:      s.DelayMinutes,
		Status:            string(s.Status),
	}
}

func toTokenResponse(t opd.Token) TokenResponse {
	return TokenResponse{
		ID:              t.ID,
		SlotID:          t.SlotID,
		PatientID:       t.PatientID,
		PatientName:     t.PatientName,
		Phone:           t.Phone,
		Category:        string(t.Category),
		PriorityScore:   t.PriorityScore,
		Position:        t.Position,
		TokenNumber:     t.TokenNumber,
		Status:          string(t.Status),
		BookedAt:        t.BookedAt,
		EstimatedTime:   t.EstimatedTime,
		ActualStartTime: t.ActualStartTime,
		ActualEndTime:   t.ActualEndTime,
		IsRelocated:     t.IsRelocated,
		OriginalSlotID:  t.OriginalSlotID,
	}
}

func toTokenResponses(tokens []opd.Token) []TokenResponse {
	out := make([]TokenResponse, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, toTokenResponse(t))
	}
	return out
}

func toSlotResponses(slots []opd.Slot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, toSlotResponse(s))
	}
	return out
}

func countsByCategory(in map[opd.Category]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[string(k)] = v
	}
	return out
}

func countsByStatus(in map[opd.TokenStatus]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[string(k)] = v
	}
	return out
}
