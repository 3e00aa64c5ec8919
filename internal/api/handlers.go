package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/opd-token-allocation/internal/opd"
)

func createDoctorHandler(svc *opd.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateDoctorRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		doc, err := svc.CreateDoctor(r.Context(), req.Name, req.Specialization, req.OPDDays)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toDoctorResponse(*doc))
	}
}

func listDoctorsHandler(svc *opd.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors, err := svc.ListDoctors(r.Context(), r.URL.Query().Get("specialization"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		out := make([]DoctorResponse, 0, len(doctors))
		for _, d := range doctors {
			out = append(out, toDoctorResponse(d))
		}
		writeJSON(w, http.StatusOK, ListResponse[DoctorResponse]{Count: len(out), Data: out})
	}
}

func getDoctorHandler(svc *opd.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "id")
		if !ok {
			return
		}
		doc, err := svc.GetDoctor(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toDoctorResponse(*doc))
	}
}

func doctorStatsHandler(svc *opd.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "id")
		if !ok {
			return
		}
		date, err := svc.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeServiceError(w, err)
			return
		}

		stats, err := svc.DoctorStats(r.Context(), id, date)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, DoctorStatsResponse{
			DoctorID:          stats.DoctorID,
			Date:              stats.Date,
			Slots:             stats.Slots,
			TotalCapacity:     stats.TotalCapacity,
			TotalBooked:       stats.TotalBooked,
			AvailableCapacity: stats.AvailableCapacity,
			UtilizationRate:   stats.UtilizationRate,
			ByCategory:        countsByCategory(stats.ByCategory),
			ByStatus:          countsByStatus(stats.ByStatus),
			WaitlistLength:    stats.WaitlistLength,
		})
	}
}

type slotLister func(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]opd.Slot, error)

// doctorSlotsHandler serves both the full and the available slot listing.
// The available listing requires a date.
func doctorSlotsHandler(svc *opd.Service, list slotLister, requireDate bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "id")
		if !ok {
			return
		}
		raw := r.URL.Query().Get("date")
		if requireDate && raw == "" {
			writeError(w, http.StatusBadRequest, "missing_date", "date query parameter is required")
			return
		}
		date, err := svc.ParseDate(raw)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		slots, err := list(r.Context(), id, date)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		out := toSlotResponses(slots)
		writeJSON(w, http.StatusOK, ListResponse[SlotResponse]{Count: len(out), Data: out})
	}
}

func createSlotsHandler(svc *opd.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSlotsRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		doctorID, ok := parseUUIDField(w, "doctor_id", req.DoctorID)
		if !ok {
			return
		}
		if req.Date == "" {
			writeError(w, http.StatusBadRequest, "missing_date", "date is required")
			return
		}
		date, err := svc.ParseDate(req.Date)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		slots, err := svc.CreateSlots(r.Context(), doctorID, date, req.StartTime, req.EndTime, req.MaxCapacity)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		out := toSlotResponses(slots)
		writeJSON(w, http.StatusCreated, ListResponse[SlotResponse]{Count: len(out), Data: out})
	}
}

func getSlotHandler(svc *opd.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "id")
		if !ok {
			return
		}
		slot, err := svc.GetSlot(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotResponse(*slot))
	}
}

func slotStatsHandler(svc *opd.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "id")
		if !ok {
			return
		}
		stats, err := svc.SlotStats(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, SlotStatsResponse{
			Slot:              toSlotResponse(stats.Slot),
			AvailableCapacity: stats.AvailableCapacity,
			UtilizationRate:   stats.UtilizationRate,
			ByCategory:        countsByCategory(stats.ByCategory),
			ByStatus:          countsByStatus(stats.ByStatus),
			WaitlistLength:    stats.WaitlistLength,
		})
	}
}

func slotQueueHandler(svc *opd.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "id")
		if !ok {
			return
		}
		q, err := svc.Queue(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, QueueResponse{
			Slot:     toSlotResponse(q.Slot),
			Serving:  toTokenResponses(q.Serving),
			Waiting:  toTokenResponses(q.Waiting),
			Waitlist: toTokenResponses(q.Waitlist),
		})
	}
}

func delaySlotHandler(svc *opd.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "id")
		if !ok {
			return
		}
		var req DelaySlotRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		slot, err := svc.MarkSlotDelayed(r.Context(), id, req.DelayMinutes)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotResponse(*slot))
	}
}

func reallocateHandler(svc *opd.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "id")
		if !ok {
			return
		}
		var req ReallocateRequest
		if !decodeOptionalJSON(w, r, &req) {
			return
		}

		res, err := svc.Reallocate(r.Context(), id, req.Reason)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		resp := ReallocationResponse{
			From:     toSlotResponse(res.From),
			Moved:    toTokenResponses(res.Moved),
			Promoted: toTokenResponses(res.Promoted),
			Reason:   res.Reason,
		}
		if res.To != nil {
			to := toSlotResponse(*res.To)
			resp.To = &to
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func promoteHandler(svc *opd.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "id")
		if !ok {
			return
		}
		tok, err := svc.Promote(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if tok == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, toTokenResponse(*tok))
	}
}

// bookFunc books one token category. Walk-in and emergency entry points
// ignore the patient id.
type bookFunc func(ctx context.Context, slotID uuid.UUID, patientID, name string, phone *string) (*opd.Token, error)

func bookTokenHandler(book bookFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TokenRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		slotID, ok := parseUUIDField(w, "slot_id", req.SlotID)
		if !ok {
			return
		}

		tok, err := book(r.Context(), slotID, strings.TrimSpace(req.PatientID), strings.TrimSpace(req.PatientName), req.Phone)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toTokenResponse(*tok))
	}
}

func walkInBooker(svc *opd.Service) bookFunc {
	return func(ctx context.Context, slotID uuid.UUID, _, name string, phone *string) (*opd.Token, error) {
		return svc.WalkIn(ctx, slotID, name, phone)
	}
}

func emergencyBooker(svc *opd.Service) bookFunc {
	return func(ctx context.Context, slotID uuid.UUID, _, name string, phone *string) (*opd.Token, error) {
		return svc.InsertEmergency(ctx, slotID, name, phone)
	}
}

func joinWaitlistHandler(svc *opd.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TokenRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		slotID, ok := parseUUIDField(w, "slot_id", req.SlotID)
		if !ok {
			return
		}
		category := opd.CategoryOnline
		if req.Category != "" {
			c, err := opd.ParseCategory(strings.ToUpper(req.Category))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			category = c
		}

		res, err := svc.JoinWaitlist(r.Context(), opd.AllocateRequest{
			SlotID:      slotID,
			PatientID:   strings.TrimSpace(req.PatientID),
			PatientName: strings.TrimSpace(req.PatientName),
			Phone:       req.Phone,
			Category:    category,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		status := http.StatusAccepted
		if res.Admitted {
			status = http.StatusCreated
		}
		writeJSON(w, status, WaitlistResponse{
			Token:            toTokenResponse(res.Token),
			Admitted:         res.Admitted,
			WaitlistPosition: res.WaitlistPosition,
		})
	}
}

func getTokenHandler(svc *opd.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "id")
		if !ok {
			return
		}
		tok, err := svc.GetToken(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toTokenResponse(*tok))
	}
}

func listTokensHandler(svc *opd.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokens, err := svc.TokensForPatient(r.Context(), r.URL.Query().Get("patient_id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		out := toTokenResponses(tokens)
		writeJSON(w, http.StatusOK, ListResponse[TokenResponse]{Count: len(out), Data: out})
	}
}

func cancelTokenHandler(svc *opd.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "id")
		if !ok {
			return
		}
		var req CancelTokenRequest
		if !decodeOptionalJSON(w, r, &req) {
			return
		}

		tok, err := svc.Cancel(r.Context(), id, req.Reason)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toTokenResponse(*tok))
	}
}

func noShowHandler(svc *opd.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "id")
		if !ok {
			return
		}
		tok, err := svc.MarkNoShow(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toTokenResponse(*tok))
	}
}

func updateStatusHandler(svc *opd.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "id")
		if !ok {
			return
		}
		var req UpdateStatusRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		status, err := opd.ParseTokenStatus(strings.ToUpper(req.Status))
		if err != nil {
			writeServiceError(w, err)
			return
		}

		tok, err := svc.UpdateStatus(r.Context(), id, status, req.Reason)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toTokenResponse(*tok))
	}
}

func deleteTokenHandler(svc *opd.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "id")
		if !ok {
			return
		}
		if err := svc.DeleteToken(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
