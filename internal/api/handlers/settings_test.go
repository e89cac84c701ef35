package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medikeep/go-adherence/internal/infrastructure/redpanda"
	"github.com/medikeep/go-adherence/internal/settings"
)

type fakeSettingsStore struct {
	values map[string]string
}

func (f *fakeSettingsStore) Load(context.Context) (settings.Preferences, error) {
	return settings.Default(), nil
}

func (f *fakeSettingsStore) Save(_ context.Context, key, value string) error {
	if f.values == nil {
		f.values = make(map[string]string)
	}
	f.values[key] = value
	return nil
}

type capturingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []settings.ChangedEvent
}

func (c *capturingPublisher) PublishAsync(_ context.Context, topic, _ string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	var event settings.ChangedEvent
	if json.Unmarshal(value, &event) == nil {
		c.events = append(c.events, event)
	}
}

func TestSettings_Get(t *testing.T) {
	h := NewSettingsHandler(settings.NewService(&fakeSettingsStore{}, nil), nil, nil)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp settingsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "08:00", resp.SlotTimes["morning"])
	assert.True(t, resp.MedicationAlertsEnabled)
}

func TestSettings_PutSlotTimeAnnouncesChange(t *testing.T) {
	pub := &capturingPublisher{}
	h := NewSettingsHandler(settings.NewService(&fakeSettingsStore{}, nil), pub, nil)

	body := strings.NewReader(`{"time":"09:00"}`)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/slot-times/morning", body))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp settingsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "09:00", resp.SlotTimes["morning"])

	require.Len(t, pub.events, 1)
	assert.Equal(t, []string{redpanda.TopicSettingsChanged}, pub.topics)
	assert.Equal(t, settings.ChangeSlotTime, pub.events[0].Kind)
	assert.Equal(t, "09:00", pub.events[0].Value)
}

func TestSettings_PutSlotTimeRejectsInvalid(t *testing.T) {
	pub := &capturingPublisher{}
	h := NewSettingsHandler(settings.NewService(&fakeSettingsStore{}, nil), pub, nil)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"unknown slot", "/slot-times/midnight", `{"time":"09:00"}`},
		{"bad clock", "/slot-times/morning", `{"time":"25:00"}`},
		{"bad json", "/slot-times/morning", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, tt.path, strings.NewReader(tt.body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Empty(t, pub.events, "failed writes are not announced")
}

func TestSettings_PutFlags(t *testing.T) {
	pub := &capturingPublisher{}
	h := NewSettingsHandler(settings.NewService(&fakeSettingsStore{}, nil), pub, nil)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/medication-alerts", strings.NewReader(`{"enabled":false}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp settingsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.MedicationAlertsEnabled)

	rec = httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/course-end-alert", strings.NewReader(`{"enabled":false}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, pub.events, 2)
	assert.Equal(t, settings.ChangeMedicationAlerts, pub.events[0].Kind)
	assert.Equal(t, settings.ChangeCourseEndAlert, pub.events[1].Kind)
}
