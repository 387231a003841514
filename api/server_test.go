package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"sales-forecasting-platform/cache"
	"sales-forecasting-platform/config"
	"sales-forecasting-platform/forecast"
	"sales-forecasting-platform/ingestion"
	"sales-forecasting-platform/registry"
	"sales-forecasting-platform/store"
)

type testEnv struct {
	server *Server
	store  *store.Store
	reg    *registry.Registry
	cfg    *config.Config
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Forecasting.EnabledModels = []string{forecast.ModelSeasonalNaive, forecast.ModelLinearTrend}
	cfg.Forecasting.ArtifactPath = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}

	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	engine := forecast.NewEngine(forecast.Config{
		SeasonalPeriod:  cfg.Forecasting.SeasonalPeriod,
		MinTrainPoints:  cfg.Forecasting.MinTrainPoints,
		MaxTrainPoints:  cfg.Forecasting.MaxTrainPoints,
		EnabledModels:   cfg.Forecasting.EnabledModels,
		EnsembleMethod:  cfg.Forecasting.EnsembleMethod,
		ValidationSplit: cfg.Forecasting.ValidationSplit,
		ConfidenceLevel: cfg.Forecasting.ConfidenceLevel,
	})

	artifacts, err := registry.NewArtifactStore(cfg.Forecasting.ArtifactPath)
	require.NoError(t, err)
	reg := registry.New(st, engine, artifacts, cfg.Forecasting, log)

	processor := ingestion.NewProcessor(st, cfg.Ingestion, log)
	require.NoError(t, processor.Start(context.Background()))
	t.Cleanup(processor.Stop)

	fc := cache.New(cfg.Redis, log)

	server := NewServer(st, processor, reg, engine, fc, nil, cfg, log)
	return &testEnv{server: server, store: st, reg: reg, cfg: cfg}
}

func (e *testEnv) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seed(t *testing.T, productID string, days int) {
	t.Helper()
	start := time.Now().UTC().AddDate(0, 0, -days)
	records := make([]store.SalesRecord, days)
	for i := 0; i < days; i++ {
		qty := int64(30 + i%7*8)
		records[i] = store.SalesRecord{
			ProductID: productID,
			Date:      start.AddDate(0, 0, i),
			Quantity:  qty,
			Revenue:   decimal.NewFromInt(qty * 15),
		}
	}
	require.NoError(t, e.store.UpsertSales(records))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestUploadAndQuerySales(t *testing.T) {
	env := newTestEnv(t, nil)

	date := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	payload := []map[string]interface{}{
		{"product_id": "SKU-1", "date": date, "quantity": 10, "revenue": "99.90"},
	}
	rec := env.request(t, "POST", "/api/v1/sales", payload)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.request(t, "GET", "/api/v1/sales?product_id=SKU-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count   int                 `json:"count"`
		Records []store.SalesRecord `json:"records"`
	}
	decodeBody(t, rec, &resp)
	require.Equal(t, 1, resp.Count)
	require.Equal(t, int64(10), resp.Records[0].Quantity)

	rec = env.request(t, "GET", "/api/v1/sales?product_id=UNKNOWN", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadSingleObject(t *testing.T) {
	env := newTestEnv(t, nil)

	payload := map[string]interface{}{
		"product_id": "SKU-2",
		"date":       time.Now().UTC().Format(time.RFC3339),
		"quantity":   5,
		"revenue":    49.95,
	}
	rec := env.request(t, "POST", "/api/v1/sales", payload)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestUploadRejectsInvalidRecord(t *testing.T) {
	env := newTestEnv(t, nil)

	payload := []map[string]interface{}{
		{"product_id": "SKU-3", "date": "2026-08-01", "quantity": -4, "revenue": "10.00"},
	}
	rec := env.request(t, "POST", "/api/v1/sales", payload)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestUploadRejectsBadDate(t *testing.T) {
	env := newTestEnv(t, nil)

	payload := []map[string]interface{}{
		{"product_id": "SKU-4", "date": "01/08/2026", "quantity": 4, "revenue": "10.00"},
	}
	rec := env.request(t, "POST", "/api/v1/sales", payload)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestForecastHappyPath(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "SKU-5", 90)

	body := map[string]interface{}{"product_id": "SKU-5", "horizon_days": 14}
	rec := env.request(t, "POST", "/api/v1/forecast", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ForecastResponse
	decodeBody(t, rec, &resp)
	require.False(t, resp.Cached)
	require.Len(t, resp.Result.Predictions, 14)
	require.Equal(t, 0.95, resp.Result.ConfidenceLevel)

	// Second identical request is served from cache.
	rec = env.request(t, "POST", "/api/v1/forecast", body)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &resp)
	require.True(t, resp.Cached)
}

func TestForecastPersistsRows(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "SKU-6", 60)

	rec := env.request(t, "POST", "/api/v1/forecast",
		map[string]interface{}{"product_id": "SKU-6", "horizon_days": 7})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rows, err := env.store.GetForecasts("SKU-6", "", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 7)
}

func TestForecastValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	cases := []map[string]interface{}{
		{"horizon_days": 14},                                          // missing product
		{"product_id": "SKU-7", "horizon_days": 400},                  // over max
		{"product_id": "SKU-7", "horizon_days": -1},                   // negative
		{"product_id": "SKU-7", "confidence_level": 0.5},              // unsupported level
	}
	for _, body := range cases {
		rec := env.request(t, "POST", "/api/v1/forecast", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, "body: %v", body)
	}
}

func TestForecastInsufficientHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "SKU-8", 5)

	rec := env.request(t, "POST", "/api/v1/forecast",
		map[string]interface{}{"product_id": "SKU-8"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestBatchForecast(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "SKU-9", 60)
	env.seed(t, "SKU-10", 60)

	body := map[string]interface{}{
		"product_ids":  []string{"SKU-9", "SKU-10", "SKU-MISSING"},
		"horizon_days": 7,
	}
	rec := env.request(t, "POST", "/api/v1/forecast/batch", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp BatchForecastResponse
	decodeBody(t, rec, &resp)
	require.Equal(t, 2, resp.Count)
	require.Contains(t, resp.Errors, "SKU-MISSING")
}

func TestBatchForecastLimits(t *testing.T) {
	env := newTestEnv(t, nil)

	ids := make([]string, maxBatchProducts+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("SKU-%d", i)
	}
	rec := env.request(t, "POST", "/api/v1/forecast/batch",
		map[string]interface{}{"product_ids": ids})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.request(t, "POST", "/api/v1/forecast/batch",
		map[string]interface{}{"product_ids": []string{"SKU-1"}, "horizon_days": maxBatchHorizonDays + 1})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.request(t, "POST", "/api/v1/forecast/batch",
		map[string]interface{}{"horizon_days": 7})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrainingTaskFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "SKU-11", 60)

	rec := env.request(t, "POST", "/api/v1/models/train",
		map[string]interface{}{"product_id": "SKU-11", "model_type": "linear_trend"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var task registry.Task
	decodeBody(t, rec, &task)
	require.NotEmpty(t, task.ID)

	env.reg.Wait()

	rec = env.request(t, "GET", "/api/v1/models/tasks/"+task.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &task)
	require.Equal(t, registry.TaskCompleted, task.Status)
	require.Len(t, task.ModelIDs, 1)

	// The trained model shows up in the registry listing.
	rec = env.request(t, "GET", "/api/v1/models?active=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var models struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &models)
	require.Equal(t, 1, models.Count)

	rec = env.request(t, "GET", "/api/v1/models/"+task.ModelIDs[0], nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestTrainUnknownProduct(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.request(t, "POST", "/api/v1/models/train",
		map[string]interface{}{"product_id": "NOPE"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetTaskNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.request(t, "GET", "/api/v1/models/tasks/nonexistent", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetModelNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.request(t, "GET", "/api/v1/models/nonexistent", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccuracyReport(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "SKU-12", 60)

	_, err := env.reg.Train(context.Background(), "SKU-12", forecast.ModelEnsemble, nil)
	require.NoError(t, err)

	rec := env.request(t, "GET", "/api/v1/analytics/accuracy?product_id=SKU-12", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &resp)
	require.Equal(t, 2, resp.Count)

	rec = env.request(t, "GET", "/api/v1/analytics/accuracy?model_type="+forecast.ModelLinearTrend, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &resp)
	require.Equal(t, 1, resp.Count)

	// A window covering the training run finds both rows; a closed past
	// window finds none.
	rec = env.request(t, "GET", "/api/v1/analytics/accuracy?start_date=-24h", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &resp)
	require.Equal(t, 2, resp.Count)

	rec = env.request(t, "GET", "/api/v1/analytics/accuracy?end_date=2020-01-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &resp)
	require.Equal(t, 0, resp.Count)

	rec = env.request(t, "GET", "/api/v1/analytics/accuracy?start_date=not-a-date", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrendReport(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "SKU-13", 60)

	rec := env.request(t, "GET", "/api/v1/analytics/trends/SKU-13", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		ProductID  string  `json:"product_id"`
		DataPoints int     `json:"data_points"`
		AvgDaily   float64 `json:"avg_daily"`
		Direction  string  `json:"direction"`
	}
	decodeBody(t, rec, &resp)
	require.Equal(t, "SKU-13", resp.ProductID)
	require.Greater(t, resp.DataPoints, 0)
	require.Greater(t, resp.AvgDaily, 0.0)
	require.Contains(t, []string{"up", "down", "flat"}, resp.Direction)
}

func TestTrendReportNoHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.request(t, "GET", "/api/v1/analytics/trends/EMPTY", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestInventoryLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.request(t, "PUT", "/api/v1/inventory/SKU-14",
		map[string]interface{}{"on_hand": 120, "reorder_point": 40, "safety_stock": 15})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.request(t, "GET", "/api/v1/inventory/SKU-14", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var level store.InventoryLevel
	decodeBody(t, rec, &level)
	require.Equal(t, int64(120), level.OnHand)

	rec = env.request(t, "GET", "/api/v1/inventory", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, "GET", "/api/v1/inventory/MISSING", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.request(t, "PUT", "/api/v1/inventory/SKU-14",
		map[string]interface{}{"on_hand": -1})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInventoryRisk(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "SKU-21", 60)

	rec := env.request(t, "PUT", "/api/v1/inventory/SKU-21",
		map[string]interface{}{"on_hand": 10000, "reorder_point": 100, "safety_stock": 50})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.request(t, "GET", "/api/v1/inventory/SKU-21/risk?horizon_days=14", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var risk struct {
		HorizonDays     int     `json:"horizon_days"`
		ProjectedDemand float64 `json:"projected_demand"`
		Available       float64 `json:"available"`
		AtRisk          bool    `json:"at_risk"`
	}
	decodeBody(t, rec, &risk)
	require.Equal(t, 14, risk.HorizonDays)
	require.Greater(t, risk.ProjectedDemand, 0.0)
	require.False(t, risk.AtRisk, "demand around 50/day for 14 days should not exhaust 10000 units")

	// Starved stock flips the flag.
	rec = env.request(t, "PUT", "/api/v1/inventory/SKU-21",
		map[string]interface{}{"on_hand": 60, "reorder_point": 100, "safety_stock": 50})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, "GET", "/api/v1/inventory/SKU-21/risk?horizon_days=14", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &risk)
	require.True(t, risk.AtRisk)

	rec = env.request(t, "GET", "/api/v1/inventory/MISSING/risk", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.request(t, "GET", "/api/v1/inventory/SKU-21/risk?horizon_days=500", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAlertEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	created, err := env.store.CreateAlert(&store.Alert{
		ProductID: "SKU-15", Kind: store.AlertLowStock, Severity: "warning",
		Message: "on-hand 3 at or below reorder point 10",
	})
	require.NoError(t, err)
	require.True(t, created)

	rec := env.request(t, "GET", "/api/v1/alerts?acknowledged=false", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Alerts []store.Alert `json:"alerts"`
		Count  int           `json:"count"`
	}
	decodeBody(t, rec, &resp)
	require.Equal(t, 1, resp.Count)

	rec = env.request(t, "POST", fmt.Sprintf("/api/v1/alerts/%d/ack", resp.Alerts[0].ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, "POST", "/api/v1/alerts/99999/ack", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Auth.Enabled = true
		cfg.Auth.APIKey = "test-key"
		cfg.Auth.Secret = "test-secret-used-for-signing"
	})

	// Protected route without a token.
	rec := env.request(t, "GET", "/api/v1/stats", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Bad API key.
	rec = env.request(t, "POST", "/api/v1/auth/token",
		map[string]interface{}{"api_key": "wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid exchange.
	rec = env.request(t, "POST", "/api/v1/auth/token",
		map[string]interface{}{"api_key": "test-key"})
	require.Equal(t, http.StatusOK, rec.Code)

	var tokenResp struct {
		Token string `json:"token"`
	}
	decodeBody(t, rec, &tokenResp)
	require.NotEmpty(t, tokenResp.Token)

	// Protected route with the token.
	req := httptest.NewRequest("GET", "/api/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer "+tokenResp.Token)
	recorder := httptest.NewRecorder()
	env.server.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code)

	// Garbage token.
	req = httptest.NewRequest("GET", "/api/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	recorder = httptest.NewRecorder()
	env.server.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.request(t, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health struct {
		Status string `json:"status"`
	}
	decodeBody(t, rec, &health)
	require.Equal(t, "healthy", health.Status)

	rec = env.request(t, "GET", "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Server.RateLimitRPS = 1
		cfg.Server.RateLimitBurst = 1
	})

	rec := env.request(t, "GET", "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, "GET", "/api/v1/stats", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest("OPTIONS", "/api/v1/sales", nil)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
