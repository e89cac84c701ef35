// Package handlers provides HTTP handlers for the adherence API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/medikeep/go-adherence/internal/api/middleware"
	"github.com/medikeep/go-adherence/internal/domain/prescription"
	"github.com/medikeep/go-adherence/internal/domain/timeslot"
)

// PrescriptionHandler handles prescription and drug CRUD.
type PrescriptionHandler struct {
	repo   *prescription.Repository
	logger *zap.Logger
}

func NewPrescriptionHandler(repo *prescription.Repository, logger *zap.Logger) *PrescriptionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrescriptionHandler{repo: repo, logger: logger}
}

// Routes returns the handler routes.
func (h *PrescriptionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/drugs", h.AddDrug)
	r.Put("/{id}/drugs/{drugID}", h.UpdateDrug)
	r.Delete("/{id}/drugs/{drugID}", h.DeleteDrug)
	return r
}

type drugPayload struct {
	Name      string   `json:"name"`
	Dosage    string   `json:"dosage,omitempty"`
	Frequency string   `json:"frequency,omitempty"`
	TotalDays int      `json:"totalDays"`
	Timing    string   `json:"timing,omitempty"`
	Memo      string   `json:"memo,omitempty"`
	TimeSlots []string `json:"timeSlots"`
}

type prescriptionPayload struct {
	StartDate  string        `json:"startDate"`
	Diagnosis  string        `json:"diagnosis"`
	Hospital   string        `json:"hospital,omitempty"`
	Department string        `json:"department,omitempty"`
	Pharmacy   string        `json:"pharmacy,omitempty"`
	Drugs      []drugPayload `json:"drugs,omitempty"`
}

type drugResponse struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	Dosage    string   `json:"dosage,omitempty"`
	Frequency string   `json:"frequency,omitempty"`
	TotalDays int      `json:"totalDays"`
	Timing    string   `json:"timing,omitempty"`
	Memo      string   `json:"memo,omitempty"`
	TimeSlots []string `json:"timeSlots"`
}

type prescriptionResponse struct {
	ID         int64          `json:"id"`
	StartDate  string         `json:"startDate"`
	Diagnosis  string         `json:"diagnosis"`
	Hospital   string         `json:"hospital,omitempty"`
	Department string         `json:"department,omitempty"`
	Pharmacy   string         `json:"pharmacy,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	Drugs      []drugResponse `json:"drugs"`
}

func (p prescriptionPayload) toDomain() (*prescription.Prescription, error) {
	start, err := prescription.ParseDate(p.StartDate)
	if err != nil {
		return nil, err
	}
	out := &prescription.Prescription{
		StartDate:  start,
		Diagnosis:  p.Diagnosis,
		Hospital:   p.Hospital,
		Department: p.Department,
		Pharmacy:   p.Pharmacy,
	}
	for _, d := range p.Drugs {
		out.Drugs = append(out.Drugs, d.toDomain())
	}
	return out, nil
}

func (d drugPayload) toDomain() *prescription.Drug {
	return &prescription.Drug{
		Name:      d.Name,
		Dosage:    d.Dosage,
		Frequency: d.Frequency,
		TotalDays: d.TotalDays,
		Timing:    d.Timing,
		Memo:      d.Memo,
		TimeSlots: normalizeSlots(d.TimeSlots),
	}
}

// normalizeSlots canonicalizes raw tokens and drops unknown ones.
func normalizeSlots(raw []string) []timeslot.Slot {
	var slots []timeslot.Slot
	for _, token := range raw {
		if slot := timeslot.Normalize(token); slot.Valid() && !timeslot.Contains(slots, slot) {
			slots = append(slots, slot)
		}
	}
	timeslot.Sort(slots)
	return slots
}

func toResponse(p *prescription.Prescription) prescriptionResponse {
	resp := prescriptionResponse{
		ID:         p.ID,
		StartDate:  p.StartDate.Format(prescription.DateFormat),
		Diagnosis:  p.Diagnosis,
		Hospital:   p.Hospital,
		Department: p.Department,
		Pharmacy:   p.Pharmacy,
		CreatedAt:  p.CreatedAt,
		Drugs:      []drugResponse{},
	}
	for _, d := range p.Drugs {
		slots := make([]string, 0, len(d.TimeSlots))
		for _, s := range timeslot.Sorted(d.TimeSlots) {
			slots = append(slots, string(s))
		}
		resp.Drugs = append(resp.Drugs, drugResponse{
			ID:        d.ID,
			Name:      d.Name,
			Dosage:    d.Dosage,
			Frequency: d.Frequency,
			TotalDays: d.TotalDays,
			Timing:    d.Timing,
			Memo:      d.Memo,
			TimeSlots: slots,
		})
	}
	return resp
}

// Create handles POST /prescriptions.
func (h *PrescriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("prescription-handler").Start(r.Context(), "create_prescription")
	defer span.End()

	var payload prescriptionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	p, err := payload.toDomain()
	if err != nil {
		writeError(w, "invalid startDate: expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	if err := p.Validate(); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.repo.Create(ctx, p); err != nil {
		h.logger.Error("create prescription failed", zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(ctx)))
		writeError(w, "failed to create prescription", http.StatusInternalServerError)
		return
	}
	span.SetAttributes(attribute.Int64("prescription_id", p.ID))

	h.logger.Info("prescription created",
		zap.Int64("id", p.ID),
		zap.Int("drugs", len(p.Drugs)),
		zap.String("request_id", middleware.GetRequestID(ctx)))

	writeJSON(w, http.StatusCreated, toResponse(p))
}

// List handles GET /prescriptions.
func (h *PrescriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("list prescriptions failed", zap.Error(err))
		writeError(w, "failed to list prescriptions", http.StatusInternalServerError)
		return
	}

	out := make([]prescriptionResponse, 0, len(all))
	for _, p := range all {
		out = append(out, toResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// Get handles GET /prescriptions/{id}.
func (h *PrescriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	p, err := h.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, prescription.ErrNotFound) {
			writeError(w, "prescription not found", http.StatusNotFound)
			return
		}
		h.logger.Error("get prescription failed", zap.Int64("id", id), zap.Error(err))
		writeError(w, "failed to load prescription", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(p))
}

// Update handles PUT /prescriptions/{id}. Drugs are managed through their own
// endpoints; this updates the prescription header only.
func (h *PrescriptionHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var payload prescriptionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	p, err := payload.toDomain()
	if err != nil {
		writeError(w, "invalid startDate: expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	p.ID = id
	if err := p.Validate(); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.repo.Update(r.Context(), p); err != nil {
		if errors.Is(err, prescription.ErrNotFound) {
			writeError(w, "prescription not found", http.StatusNotFound)
			return
		}
		h.logger.Error("update prescription failed", zap.Int64("id", id), zap.Error(err))
		writeError(w, "failed to update prescription", http.StatusInternalServerError)
		return
	}

	updated, err := h.repo.Get(r.Context(), id)
	if err != nil {
		writeError(w, "failed to reload prescription", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(updated))
}

// Delete handles DELETE /prescriptions/{id}. Drug rows and completion records
// follow via cascade.
func (h *PrescriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, prescription.ErrNotFound) {
			writeError(w, "prescription not found", http.StatusNotFound)
			return
		}
		h.logger.Error("delete prescription failed", zap.Int64("id", id), zap.Error(err))
		writeError(w, "failed to delete prescription", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddDrug handles POST /prescriptions/{id}/drugs.
func (h *PrescriptionHandler) AddDrug(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var payload drugPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	drug := payload.toDomain()
	drug.PrescriptionID = id
	if err := drug.Validate(); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.repo.AddDrug(r.Context(), drug); err != nil {
		if errors.Is(err, prescription.ErrNotFound) {
			writeError(w, "prescription not found", http.StatusNotFound)
			return
		}
		h.logger.Error("add drug failed", zap.Int64("prescription_id", id), zap.Error(err))
		writeError(w, "failed to add drug", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": drug.ID})
}

// UpdateDrug handles PUT /prescriptions/{id}/drugs/{drugID}.
func (h *PrescriptionHandler) UpdateDrug(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	drugID, ok := pathID(w, r, "drugID")
	if !ok {
		return
	}

	var payload drugPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	drug := payload.toDomain()
	drug.ID = drugID
	drug.PrescriptionID = id
	if err := drug.Validate(); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.repo.UpdateDrug(r.Context(), drug); err != nil {
		if errors.Is(err, prescription.ErrNotFound) {
			writeError(w, "drug not found", http.StatusNotFound)
			return
		}
		h.logger.Error("update drug failed", zap.Int64("drug_id", drugID), zap.Error(err))
		writeError(w, "failed to update drug", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteDrug handles DELETE /prescriptions/{id}/drugs/{drugID}.
func (h *PrescriptionHandler) DeleteDrug(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	drugID, ok := pathID(w, r, "drugID")
	if !ok {
		return
	}

	if err := h.repo.DeleteDrug(r.Context(), id, drugID); err != nil {
		if errors.Is(err, prescription.ErrNotFound) {
			writeError(w, "drug not found", http.StatusNotFound)
			return
		}
		h.logger.Error("delete drug failed", zap.Int64("drug_id", drugID), zap.Error(err))
		writeError(w, "failed to delete drug", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}
