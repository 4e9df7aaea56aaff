package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/consult-api/config"
	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/pkg/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{Port: 8080, Mode: gin.TestMode},
		Storage:   config.StorageConfig{Driver: config.DriverMemory},
		RateLimit: config.RateLimitConfig{Enabled: false},
		CORS:      config.CORSConfig{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET", "POST"}},
		Seed:      config.SeedConfig{Patients: 30, RandomSeed: 42},
		Forecast:  model.Forecast{Today: "High", InSevenDays: "Moderate"},
	}
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Errors  []struct {
		Field string `json:"field"`
	} `json:"errors"`
}

func newServer(t *testing.T) (*App, *gin.Engine) {
	t.Helper()
	a, err := New(testConfig(), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	r, err := a.Router()
	require.NoError(t, err)
	return a, r.Engine()
}

func do(t *testing.T, engine *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestConsultationFlow(t *testing.T) {
	_, engine := newServer(t)

	w, env := do(t, engine, http.MethodPost, "/api/v1/consultations",
		`{"patient_id":"P001","transcript":"Stuffy nose and itchy eyes for two weeks"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res model.Consultation
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "Seasonal allergic rhinitis, mild-moderate.", res.Note.Assessment)
	assert.Equal(t, "Reassess in 7 days due to moderate pollen forecast.", res.Advisory.FollowUp)
	assert.Equal(t, "Recurring respiratory issues detected. Consider specialist referral for further evaluation.", res.Advisory.HealthRisk)
	assert.Equal(t, "International student. Insurance balance: $490.00. Out-of-pocket: $10.00.", res.Insurance.Message)
	assert.Len(t, res.History, 1)

	w, env = do(t, engine, http.MethodGet, "/api/v1/patients/P001/visits", "")
	require.Equal(t, http.StatusOK, w.Code)
	var rows []model.HistoryRow
	require.NoError(t, json.Unmarshal(env.Data, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, res.Visit.Timestamp(), rows[0].Timestamp)

	w, env = do(t, engine, http.MethodGet, "/api/v1/patients/P001", "")
	require.Equal(t, http.StatusOK, w.Code)
	var p model.Patient
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, 490.0, p.InsuranceBalance)
}

func TestConsultation_Errors(t *testing.T) {
	a, engine := newServer(t)

	w, env := do(t, engine, http.MethodPost, "/api/v1/consultations", `{"patient_id":"P999","transcript":"stuffy nose"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "error", env.Status)

	w, env = do(t, engine, http.MethodPost, "/api/v1/consultations", `{"transcript":"stuffy nose"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotEmpty(t, env.Errors)
	assert.Equal(t, "patient_id", env.Errors[0].Field)

	w, _ = do(t, engine, http.MethodPost, "/api/v1/consultations", `{"patient_id":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	visits, err := a.Visits.ListByPatient(context.Background(), "P999")
	require.NoError(t, err)
	assert.Empty(t, visits)
}

func TestPatients(t *testing.T) {
	_, engine := newServer(t)

	w, env := do(t, engine, http.MethodGet, "/api/v1/patients", "")
	require.Equal(t, http.StatusOK, w.Code)
	var patients []model.Patient
	require.NoError(t, json.Unmarshal(env.Data, &patients))
	require.Len(t, patients, 30)
	assert.Equal(t, "Raj Kumar", patients[0].Name)

	w, _ = do(t, engine, http.MethodGet, "/api/v1/patients/P031", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env = do(t, engine, http.MethodGet, "/api/v1/patients/P002/visits", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "No prior consultations", env.Message)

	w, _ = do(t, engine, http.MethodGet, "/api/v1/patients/P404/visits", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConcurrentConsultations(t *testing.T) {
	a, engine := newServer(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/consultations",
				strings.NewReader(`{"patient_id":"P001","transcript":"itchy eyes"}`))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, req)
			assert.Equal(t, http.StatusCreated, w.Code)
		}()
	}
	wg.Wait()

	p, err := a.Patients.Get(context.Background(), "P001")
	require.NoError(t, err)
	assert.Equal(t, 420.0, p.InsuranceBalance)
}

func TestOperationalEndpoints(t *testing.T) {
	_, engine := newServer(t)

	w, _ := do(t, engine, http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, engine, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)

	do(t, engine, http.MethodPost, "/api/v1/consultations", `{"patient_id":"P002","transcript":"headache"}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	mw := httptest.NewRecorder()
	engine.ServeHTTP(mw, req)
	assert.Equal(t, http.StatusOK, mw.Code)
	assert.Contains(t, mw.Body.String(), `consult_consultations_total{outcome="recorded"} 1`)
	assert.Contains(t, mw.Body.String(), "consult_http_requests_total")
}

func TestNew_LogsLoadedRules(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewLogger(&logger.Config{Level: logger.InfoLevel, Output: &buf, JSON: true})

	a, err := New(testConfig(), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["message"] == "Transcript rules loaded" {
			found = true
			assert.Equal(t, []interface{}{"seasonal-allergy"}, entry["rules"])
		}
	}
	assert.True(t, found, buf.String())
}
