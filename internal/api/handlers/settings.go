package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medikeep/go-adherence/internal/domain/timeslot"
	"github.com/medikeep/go-adherence/internal/infrastructure/redpanda"
	"github.com/medikeep/go-adherence/internal/settings"
)

// Publisher is the producer slice the settings handler needs.
type Publisher interface {
	PublishAsync(ctx context.Context, topic, key string, value []byte)
}

// SettingsHandler serves alarm preferences. Writes are persisted first, then
// announced so the dispatcher reschedules affected reminders. The dispatcher
// also re-derives everything at startup, which covers a lost announcement.
type SettingsHandler struct {
	service   *settings.Service
	publisher Publisher
	logger    *zap.Logger
}

func NewSettingsHandler(service *settings.Service, publisher Publisher, logger *zap.Logger) *SettingsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsHandler{service: service, publisher: publisher, logger: logger}
}

// Routes returns the handler routes.
func (h *SettingsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Get)
	r.Put("/slot-times/{slot}", h.PutSlotTime)
	r.Put("/medication-alerts", h.PutMedicationAlerts)
	r.Put("/course-end-alert", h.PutCourseEndAlert)
	return r
}

type settingsResponse struct {
	SlotTimes               map[string]string `json:"slotTimes"`
	MedicationAlertsEnabled bool              `json:"medicationAlertsEnabled"`
	CourseEndAlertEnabled   bool              `json:"courseEndAlertEnabled"`
}

func toSettingsResponse(prefs settings.Preferences) settingsResponse {
	resp := settingsResponse{
		SlotTimes:               make(map[string]string, len(prefs.SlotTimes)),
		MedicationAlertsEnabled: prefs.MedicationAlertsEnabled,
		CourseEndAlertEnabled:   prefs.CourseEndAlertEnabled,
	}
	for slot, clock := range prefs.SlotTimes {
		resp.SlotTimes[string(slot)] = clock
	}
	return resp
}

// Get handles GET /settings.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSettingsResponse(h.service.Get()))
}

type slotTimeRequest struct {
	Time string `json:"time"`
}

// PutSlotTime handles PUT /settings/slot-times/{slot}.
func (h *SettingsHandler) PutSlotTime(w http.ResponseWriter, r *http.Request) {
	slot := timeslot.Normalize(chi.URLParam(r, "slot"))
	if !slot.Valid() {
		writeError(w, "invalid time slot", http.StatusBadRequest)
		return
	}

	var req slotTimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	prefs, err := h.service.SetSlotTime(r.Context(), slot, req.Time)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.announce(r.Context(), settings.NewChangedEvent(settings.ChangeSlotTime, slot, req.Time))
	h.logger.Info("slot time updated",
		zap.String("slot", string(slot)),
		zap.String("time", req.Time))
	writeJSON(w, http.StatusOK, toSettingsResponse(prefs))
}

type enableRequest struct {
	Enabled bool `json:"enabled"`
}

// PutMedicationAlerts handles PUT /settings/medication-alerts.
func (h *SettingsHandler) PutMedicationAlerts(w http.ResponseWriter, r *http.Request) {
	var req enableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	prefs, err := h.service.SetMedicationAlertsEnabled(r.Context(), req.Enabled)
	if err != nil {
		h.logger.Error("persist medication alerts flag failed", zap.Error(err))
		writeError(w, "failed to save setting", http.StatusInternalServerError)
		return
	}

	h.announce(r.Context(), settings.NewChangedEvent(
		settings.ChangeMedicationAlerts, timeslot.Unknown, strconv.FormatBool(req.Enabled)))
	writeJSON(w, http.StatusOK, toSettingsResponse(prefs))
}

// PutCourseEndAlert handles PUT /settings/course-end-alert.
func (h *SettingsHandler) PutCourseEndAlert(w http.ResponseWriter, r *http.Request) {
	var req enableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	prefs, err := h.service.SetCourseEndAlertEnabled(r.Context(), req.Enabled)
	if err != nil {
		h.logger.Error("persist course-end alert flag failed", zap.Error(err))
		writeError(w, "failed to save setting", http.StatusInternalServerError)
		return
	}

	h.announce(r.Context(), settings.NewChangedEvent(
		settings.ChangeCourseEndAlert, timeslot.Unknown, strconv.FormatBool(req.Enabled)))
	writeJSON(w, http.StatusOK, toSettingsResponse(prefs))
}

func (h *SettingsHandler) announce(ctx context.Context, event settings.ChangedEvent) {
	if h.publisher == nil {
		return
	}
	payload, err := event.Marshal()
	if err != nil {
		h.logger.Error("marshal settings event failed", zap.Error(err))
		return
	}
	h.publisher.PublishAsync(ctx, redpanda.TopicSettingsChanged, string(event.Kind), payload)
}
