package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medikeep/go-adherence/internal/domain/prescription"
	"github.com/medikeep/go-adherence/internal/domain/schedule"
	"github.com/medikeep/go-adherence/internal/domain/timeslot"
	"github.com/medikeep/go-adherence/internal/ledger"
)

// ChecklistHandler serves the per-date adherence checklist: schedule
// obligations joined with completion records.
type ChecklistHandler struct {
	prescriptions prescription.Store
	calculator    *schedule.Calculator
	ledger        *ledger.Ledger
	logger        *zap.Logger
}

func NewChecklistHandler(store prescription.Store, calc *schedule.Calculator, led *ledger.Ledger, logger *zap.Logger) *ChecklistHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChecklistHandler{
		prescriptions: store,
		calculator:    calc,
		ledger:        led,
		logger:        logger,
	}
}

// Routes returns the handler routes.
func (h *ChecklistHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{date}", h.ForDate)
	r.Get("/{date}/rate", h.Rate)
	r.Post("/toggle", h.Toggle)
	r.Post("/bulk", h.BulkSet)
	return r
}

type checklistItem struct {
	PrescriptionID int64      `json:"prescriptionId"`
	DrugID         int64      `json:"drugId"`
	DrugName       string     `json:"drugName"`
	TimeSlot       string     `json:"timeSlot"`
	IsCompleted    bool       `json:"isCompleted"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

type checklistSlot struct {
	TimeSlot string          `json:"timeSlot"`
	Items    []checklistItem `json:"items"`
}

type checklistResponse struct {
	Date  string          `json:"date"`
	Slots []checklistSlot `json:"slots"`
}

// ForDate handles GET /checklist/{date}. A date outside every course returns
// an empty checklist, not an error.
func (h *ChecklistHandler) ForDate(w http.ResponseWriter, r *http.Request) {
	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	all, err := h.prescriptions.List(ctx)
	if err != nil {
		h.logger.Error("list prescriptions failed", zap.Error(err))
		writeError(w, "failed to load prescriptions", http.StatusInternalServerError)
		return
	}

	records, err := h.ledger.RecordsForDate(ctx, date)
	if err != nil {
		h.logger.Error("load completion records failed", zap.Error(err))
		writeError(w, "failed to load completion records", http.StatusInternalServerError)
		return
	}

	obligations := h.calculator.ObligationsForDate(date, all)
	resp := checklistResponse{
		Date:  date.Format(prescription.DateFormat),
		Slots: []checklistSlot{},
	}
	for _, group := range schedule.GroupBySlot(obligations) {
		slot := checklistSlot{TimeSlot: string(group.Slot), Items: []checklistItem{}}
		for _, ob := range group.Obligations {
			item := checklistItem{
				PrescriptionID: ob.PrescriptionID,
				DrugID:         ob.DrugID,
				DrugName:       ob.DrugName,
				TimeSlot:       string(ob.Slot),
			}
			if rec, found := records[ledger.NewKey(ob.DrugID, date, ob.Slot)]; found {
				item.IsCompleted = rec.IsCompleted
				item.CompletedAt = rec.CompletedAt
			}
			slot.Items = append(slot.Items, item)
		}
		resp.Slots = append(resp.Slots, slot)
	}

	writeJSON(w, http.StatusOK, resp)
}

// Rate handles GET /checklist/{date}/rate.
func (h *ChecklistHandler) Rate(w http.ResponseWriter, r *http.Request) {
	date, ok := pathDate(w, r)
	if !ok {
		return
	}

	completed, total, err := h.ledger.CompletionRate(r.Context(), date)
	if err != nil {
		h.logger.Error("completion rate failed", zap.Error(err))
		writeError(w, "failed to compute completion rate", http.StatusInternalServerError)
		return
	}

	rate := 0.0
	if total > 0 {
		rate = float64(completed) / float64(total)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":      date.Format(prescription.DateFormat),
		"completed": completed,
		"total":     total,
		"rate":      rate,
	})
}

type toggleRequest struct {
	DrugID   int64  `json:"drugId"`
	Date     string `json:"date"`
	TimeSlot string `json:"timeSlot"`
}

func (t toggleRequest) key(w http.ResponseWriter) (ledger.Key, bool) {
	date, err := prescription.ParseDate(t.Date)
	if err != nil {
		writeError(w, "invalid date: expected YYYY-MM-DD", http.StatusBadRequest)
		return ledger.Key{}, false
	}
	slot := timeslot.Normalize(t.TimeSlot)
	if !slot.Valid() {
		writeError(w, "invalid timeSlot", http.StatusBadRequest)
		return ledger.Key{}, false
	}
	if t.DrugID <= 0 {
		writeError(w, "invalid drugId", http.StatusBadRequest)
		return ledger.Key{}, false
	}
	return ledger.NewKey(t.DrugID, date, slot), true
}

// Toggle handles POST /checklist/toggle.
func (h *ChecklistHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	key, ok := req.key(w)
	if !ok {
		return
	}

	rec, err := h.ledger.Toggle(r.Context(), key)
	if err != nil {
		h.logger.Error("toggle failed", zap.Int64("drug_id", key.DrugID), zap.Error(err))
		writeError(w, "failed to toggle completion", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type bulkSetRequest struct {
	Items       []toggleRequest `json:"items"`
	IsCompleted bool            `json:"isCompleted"`
}

// BulkSet handles POST /checklist/bulk. Per-item failures are reported but
// do not abort the batch.
func (h *ChecklistHandler) BulkSet(w http.ResponseWriter, r *http.Request) {
	var req bulkSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	keys := make([]ledger.Key, 0, len(req.Items))
	for _, item := range req.Items {
		key, ok := item.key(w)
		if !ok {
			return
		}
		keys = append(keys, key)
	}

	applied, failures := h.ledger.BulkSet(r.Context(), keys, req.IsCompleted)
	failed := make([]map[string]any, 0, len(failures))
	for _, f := range failures {
		failed = append(failed, map[string]any{
			"drugId": f.Key.DrugID,
			"error":  f.Err.Error(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"applied":  applied,
		"failures": failed,
	})
}

func pathDate(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	date, err := prescription.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, "invalid date: expected YYYY-MM-DD", http.StatusBadRequest)
		return time.Time{}, false
	}
	return date, true
}
