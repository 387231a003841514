// HTTP API for the sales forecasting platform.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"sales-forecasting-platform/cache"
	"sales-forecasting-platform/config"
	"sales-forecasting-platform/forecast"
	"sales-forecasting-platform/ingestion"
	"sales-forecasting-platform/prom"
	"sales-forecasting-platform/registry"
	"sales-forecasting-platform/scheduler"
	"sales-forecasting-platform/store"
)

const (
	maxBatchHorizonDays = 90
	maxBatchProducts    = 100
)

// Server is the HTTP API server.
type Server struct {
	router    *mux.Router
	store     *store.Store
	processor *ingestion.Processor
	registry  *registry.Registry
	engine    *forecast.Engine
	cache     *cache.Cache
	scheduler *scheduler.Scheduler
	cfg       *config.Config
	log       *logrus.Entry
}

// NewServer wires the API around the platform components. scheduler may be
// nil when the background workers are disabled.
func NewServer(st *store.Store, processor *ingestion.Processor, reg *registry.Registry, engine *forecast.Engine, fc *cache.Cache, sched *scheduler.Scheduler, cfg *config.Config, log *logrus.Logger) *Server {
	server := &Server{
		router:    mux.NewRouter(),
		store:     st,
		processor: processor,
		registry:  reg,
		engine:    engine,
		cache:     fc,
		scheduler: sched,
		cfg:       cfg,
		log:       log.WithField("component", "api"),
	}
	server.setupRoutes()
	return server
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	s.router.ServeHTTP(w, r)
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(instrumentMiddleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(rateLimitMiddleware(rate.NewLimiter(rate.Limit(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst)))
	api.Use(authMiddleware(s.cfg.Auth))

	// Sales ingestion and queries
	api.HandleFunc("/sales", s.uploadSales).Methods("POST")
	api.HandleFunc("/sales", s.querySales).Methods("GET")

	// Forecasting
	api.HandleFunc("/forecast", s.generateForecast).Methods("POST")
	api.HandleFunc("/forecast/batch", s.generateBatchForecast).Methods("POST")

	// Model registry
	api.HandleFunc("/models", s.listModels).Methods("GET")
	api.HandleFunc("/models/train", s.trainModel).Methods("POST")
	api.HandleFunc("/models/tasks", s.listTasks).Methods("GET")
	api.HandleFunc("/models/tasks/{id}", s.getTask).Methods("GET")
	api.HandleFunc("/models/{id}", s.getModel).Methods("GET")

	// Analytics
	api.HandleFunc("/analytics/accuracy", s.accuracyReport).Methods("GET")
	api.HandleFunc("/analytics/trends/{product_id}", s.trendReport).Methods("GET")

	// Inventory and alerts
	api.HandleFunc("/inventory", s.listInventory).Methods("GET")
	api.HandleFunc("/inventory/{product_id}", s.getInventory).Methods("GET")
	api.HandleFunc("/inventory/{product_id}", s.setInventory).Methods("PUT")
	api.HandleFunc("/inventory/{product_id}/risk", s.inventoryRisk).Methods("GET")
	api.HandleFunc("/alerts", s.listAlerts).Methods("GET")
	api.HandleFunc("/alerts/{id}/ack", s.acknowledgeAlert).Methods("POST")

	// Auth and system
	api.HandleFunc("/auth/token", s.exchangeToken).Methods("POST")
	api.HandleFunc("/stats", s.getStats).Methods("GET")

	s.router.Handle("/metrics", prom.Handler()).Methods("GET")
	s.router.HandleFunc("/health", s.healthCheck).Methods("GET")
	s.router.HandleFunc("/", s.rootHandler).Methods("GET")
}

var startTime = time.Now()

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// parseDate accepts RFC3339 timestamps and plain dates.
func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}

// parseTimeParam supports absolute times and relative offsets like "-30d"
// via "-720h" style durations.
func parseTimeParam(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if value[0] == '-' {
		duration, err := time.ParseDuration(value[1:])
		if err != nil {
			return time.Time{}, err
		}
		return time.Now().Add(-duration), nil
	}
	return parseDate(value)
}

// SaleInput is one uploaded sales row. Dates may be RFC3339 or YYYY-MM-DD.
type SaleInput struct {
	ProductID string          `json:"product_id"`
	Date      string          `json:"date"`
	Quantity  int64           `json:"quantity"`
	Revenue   decimal.Decimal `json:"revenue"`
	Category  string          `json:"category,omitempty"`
	Region    string          `json:"region,omitempty"`
	Channel   string          `json:"channel,omitempty"`
}

// uploadSales accepts a single record or an array of records.
func (s *Server) uploadSales(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var inputs []SaleInput
	if err := json.Unmarshal(body, &inputs); err != nil {
		// Retry as a single object.
		var single SaleInput
		if err2 := json.Unmarshal(body, &single); err2 != nil {
			http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
			return
		}
		inputs = []SaleInput{single}
	}
	if len(inputs) == 0 {
		http.Error(w, "Empty payload", http.StatusBadRequest)
		return
	}

	records := make([]ingestion.Record, len(inputs))
	for i, in := range inputs {
		date, err := parseDate(in.Date)
		if err != nil {
			prom.RecordsRejected.Inc()
			http.Error(w, fmt.Sprintf("Record %d: invalid date: %v", i, err), http.StatusBadRequest)
			return
		}
		records[i] = ingestion.Record{
			ProductID: in.ProductID,
			Date:      date,
			Quantity:  in.Quantity,
			Revenue:   in.Revenue,
			Category:  in.Category,
			Region:    in.Region,
			Channel:   in.Channel,
		}
	}

	if err := s.processor.IngestBatch(records); err != nil {
		prom.RecordsRejected.Inc()
		http.Error(w, fmt.Sprintf("Validation failed: %v", err), http.StatusUnprocessableEntity)
		return
	}
	prom.RecordsIngested.Add(float64(len(records)))

	// New data invalidates cached forecasts for the touched products.
	seen := map[string]bool{}
	for _, rec := range records {
		if !seen[rec.ProductID] {
			seen[rec.ProductID] = true
			s.cache.InvalidateProduct(r.Context(), rec.ProductID)
		}
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"status":   "accepted",
		"records":  len(records),
		"products": len(seen),
	})
}

// querySales returns stored sales for a product.
func (s *Server) querySales(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	productID := query.Get("product_id")
	if productID == "" {
		http.Error(w, "Missing 'product_id' parameter", http.StatusBadRequest)
		return
	}

	start, err := parseTimeParam(query.Get("start"))
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid start time: %v", err), http.StatusBadRequest)
		return
	}
	end, err := parseTimeParam(query.Get("end"))
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid end time: %v", err), http.StatusBadRequest)
		return
	}

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
	}

	// Surface records still sitting in the ingestion buffer.
	s.processor.Flush()

	exists, err := s.store.HasProduct(productID)
	if err != nil {
		http.Error(w, fmt.Sprintf("Query failed: %v", err), http.StatusInternalServerError)
		return
	}
	if !exists {
		http.Error(w, "Unknown product", http.StatusNotFound)
		return
	}

	records, err := s.store.GetSalesRange(productID, start, end, limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("Query failed: %v", err), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"product_id": productID,
		"records":    records,
		"count":      len(records),
	})
}

// ForecastRequest is the body of a forecast call.
type ForecastRequest struct {
	ProductID       string  `json:"product_id"`
	HorizonDays     int     `json:"horizon_days,omitempty"`
	ModelType       string  `json:"model_type,omitempty"`
	ConfidenceLevel float64 `json:"confidence_level,omitempty"`
}

// ForecastResponse wraps a forecast result for one product.
type ForecastResponse struct {
	ProductID string          `json:"product_id"`
	Cached    bool            `json:"cached"`
	Result    forecast.Result `json:"forecast"`
}

func (s *Server) validateForecastRequest(req *ForecastRequest, maxHorizon int) error {
	if req.ProductID == "" {
		return fmt.Errorf("product_id is required")
	}
	if req.HorizonDays == 0 {
		req.HorizonDays = s.cfg.Forecasting.DefaultHorizonDays
	}
	if req.HorizonDays < 1 || req.HorizonDays > maxHorizon {
		return fmt.Errorf("horizon_days must be between 1 and %d", maxHorizon)
	}
	if req.ModelType == "" {
		req.ModelType = forecast.ModelAuto
	}
	switch req.ConfidenceLevel {
	case 0:
		req.ConfidenceLevel = s.cfg.Forecasting.ConfidenceLevel
	case 0.90, 0.95, 0.99:
	default:
		return fmt.Errorf("confidence_level must be one of 0.90, 0.95, 0.99")
	}
	return nil
}

// forecastProduct resolves models (training on demand) and produces one
// product's forecast, consulting the cache first.
func (s *Server) forecastProduct(r *http.Request, req ForecastRequest) (*ForecastResponse, error) {
	key := cache.Key(req.ProductID, req.ModelType, req.HorizonDays, req.ConfidenceLevel)
	if cached, ok := s.cache.Get(r.Context(), key); ok {
		prom.CacheHits.Inc()
		return &ForecastResponse{ProductID: req.ProductID, Cached: true, Result: *cached}, nil
	}
	prom.CacheMisses.Inc()

	// Make sure buffered uploads are visible to training.
	s.processor.Flush()

	trained, err := s.registry.EnsureTrained(r.Context(), req.ProductID, req.ModelType)
	if err != nil {
		return nil, err
	}

	result, err := s.engine.Forecast(trained, req.HorizonDays, req.ConfidenceLevel)
	if err != nil {
		return nil, err
	}

	s.cache.Set(r.Context(), key, &result)
	s.persistForecast(req.ProductID, result)
	prom.ForecastsServed.WithLabelValues(result.Method).Inc()

	return &ForecastResponse{ProductID: req.ProductID, Result: result}, nil
}

// persistForecast stores the generated predictions; failures are logged, not
// surfaced, since the response is already computed.
func (s *Server) persistForecast(productID string, result forecast.Result) {
	rows := make([]store.Forecast, len(result.Predictions))
	for i, p := range result.Predictions {
		rows[i] = store.Forecast{
			ProductID:   productID,
			TargetDate:  store.Day(p.Date),
			ModelType:   result.Method,
			Value:       p.Value,
			Lower:       p.Lower,
			Upper:       p.Upper,
			GeneratedAt: result.GeneratedAt,
		}
	}
	if err := s.store.UpsertForecasts(rows); err != nil {
		s.log.WithError(err).WithField("product_id", productID).Warn("forecast persist failed")
	}
}

// generateForecast handles a single-product forecast.
func (s *Server) generateForecast(w http.ResponseWriter, r *http.Request) {
	var req ForecastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if err := s.validateForecastRequest(&req, s.cfg.Forecasting.MaxHorizonDays); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.forecastProduct(r, req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, registry.ErrNoModel) || isClientError(err) {
			status = http.StatusUnprocessableEntity
		}
		http.Error(w, fmt.Sprintf("Forecast failed: %v", err), status)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// isClientError covers failures caused by the request rather than the system:
// unknown products and histories too short to train on.
func isClientError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "insufficient data") ||
		strings.Contains(msg, "no sales history") ||
		strings.Contains(msg, "unknown model type")
}

// BatchForecastRequest asks for forecasts across many products.
type BatchForecastRequest struct {
	ProductIDs      []string `json:"product_ids"`
	HorizonDays     int      `json:"horizon_days,omitempty"`
	ModelType       string   `json:"model_type,omitempty"`
	ConfidenceLevel float64  `json:"confidence_level,omitempty"`
}

// BatchForecastResponse carries per-product results and errors.
type BatchForecastResponse struct {
	Forecasts []ForecastResponse `json:"forecasts"`
	Errors    map[string]string  `json:"errors,omitempty"`
	Count     int                `json:"count"`
}

// generateBatchForecast handles multi-product forecasts with tighter limits.
func (s *Server) generateBatchForecast(w http.ResponseWriter, r *http.Request) {
	var req BatchForecastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.ProductIDs) == 0 {
		http.Error(w, "product_ids is required", http.StatusBadRequest)
		return
	}
	if len(req.ProductIDs) > maxBatchProducts {
		http.Error(w, fmt.Sprintf("at most %d products per batch", maxBatchProducts), http.StatusBadRequest)
		return
	}

	probe := ForecastRequest{
		ProductID:       req.ProductIDs[0],
		HorizonDays:     req.HorizonDays,
		ModelType:       req.ModelType,
		ConfidenceLevel: req.ConfidenceLevel,
	}
	if probe.HorizonDays == 0 {
		probe.HorizonDays = s.cfg.Forecasting.DefaultHorizonDays
		if probe.HorizonDays > maxBatchHorizonDays {
			probe.HorizonDays = maxBatchHorizonDays
		}
	}
	if err := s.validateForecastRequest(&probe, maxBatchHorizonDays); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := BatchForecastResponse{Errors: map[string]string{}}
	for _, productID := range req.ProductIDs {
		each := probe
		each.ProductID = productID
		result, err := s.forecastProduct(r, each)
		if err != nil {
			resp.Errors[productID] = err.Error()
			continue
		}
		resp.Forecasts = append(resp.Forecasts, *result)
	}
	resp.Count = len(resp.Forecasts)
	if len(resp.Errors) == 0 {
		resp.Errors = nil
	}

	respondJSON(w, http.StatusOK, resp)
}

// TrainRequest queues model training for a product.
type TrainRequest struct {
	ProductID       string             `json:"product_id"`
	ModelType       string             `json:"model_type,omitempty"`
	Hyperparameters map[string]float64 `json:"hyperparameters,omitempty"`
}

// trainModel starts an asynchronous training task.
func (s *Server) trainModel(w http.ResponseWriter, r *http.Request) {
	var req TrainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if req.ProductID == "" {
		http.Error(w, "product_id is required", http.StatusBadRequest)
		return
	}

	s.processor.Flush()

	task, err := s.registry.StartTraining(r.Context(), req.ProductID, req.ModelType, req.Hyperparameters)
	if err != nil {
		http.Error(w, fmt.Sprintf("Training rejected: %v", err), http.StatusUnprocessableEntity)
		return
	}

	respondJSON(w, http.StatusAccepted, task)
}

// getTask returns a training task by id.
func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task := s.registry.GetTask(mux.Vars(r)["id"])
	if task == nil {
		http.Error(w, "Task not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

// listTasks returns all tracked training tasks.
func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.registry.ListTasks()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// listModels returns model metadata rows.
func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	activeOnly := query.Get("active") == "true"

	models, err := s.store.ListModels(query.Get("model_type"), activeOnly)
	if err != nil {
		http.Error(w, fmt.Sprintf("Query failed: %v", err), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"models": models,
		"count":  len(models),
	})
}

// getModel returns one model's metadata.
func (s *Server) getModel(w http.ResponseWriter, r *http.Request) {
	meta, err := s.store.GetModelMetadata(mux.Vars(r)["id"])
	if err != nil {
		if store.IsNotFound(err) {
			http.Error(w, "Model not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Query failed: %v", err), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, meta)
}

// accuracyReport returns the accuracy trend of trained models, oldest first,
// filterable by training window, model type and product.
func (s *Server) accuracyReport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	productID := query.Get("product_id")
	modelType := query.Get("model_type")

	start, err := parseTimeParam(query.Get("start_date"))
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid start_date: %v", err), http.StatusBadRequest)
		return
	}
	end, err := parseTimeParam(query.Get("end_date"))
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid end_date: %v", err), http.StatusBadRequest)
		return
	}

	models, err := s.store.ModelsTrainedBetween(start, end, modelType)
	if err != nil {
		http.Error(w, fmt.Sprintf("Query failed: %v", err), http.StatusInternalServerError)
		return
	}
	if productID != "" {
		filtered := models[:0]
		for _, m := range models {
			if m.ProductID == productID {
				filtered = append(filtered, m)
			}
		}
		models = filtered
	}

	type row struct {
		ProductID string    `json:"product_id"`
		ModelType string    `json:"model_type"`
		Version   int       `json:"model_version"`
		TrainedAt time.Time `json:"trained_on"`
		IsActive  bool      `json:"is_active"`
		MAE       float64   `json:"mae"`
		RMSE      float64   `json:"rmse"`
		MAPE      float64   `json:"mape"`
		R2        float64   `json:"r2"`
		Coverage  float64   `json:"coverage"`
	}
	rows := make([]row, len(models))
	for i, m := range models {
		rows[i] = row{
			ProductID: m.ProductID, ModelType: m.ModelType, Version: m.Version,
			TrainedAt: m.TrainedAt, IsActive: m.IsActive, MAE: m.MAE, RMSE: m.RMSE,
			MAPE: m.MAPE, R2: m.R2, Coverage: m.Coverage,
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"models": rows,
		"count":  len(rows),
	})
}

// trendReport summarizes recent demand direction for a product.
func (s *Server) trendReport(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["product_id"]

	windowDays := 90
	if raw := r.URL.Query().Get("window_days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 7 || parsed > 365 {
			http.Error(w, "window_days must be between 7 and 365", http.StatusBadRequest)
			return
		}
		windowDays = parsed
	}

	s.processor.Flush()
	start := time.Now().AddDate(0, 0, -windowDays)
	records, err := s.store.GetSalesRange(productID, start, time.Time{}, 0)
	if err != nil {
		http.Error(w, fmt.Sprintf("Query failed: %v", err), http.StatusInternalServerError)
		return
	}
	if len(records) < 2 {
		http.Error(w, "Not enough sales history for a trend", http.StatusUnprocessableEntity)
		return
	}

	var totalQty int64
	totalRevenue := decimal.Zero
	for _, rec := range records {
		totalQty += rec.Quantity
		totalRevenue = totalRevenue.Add(rec.Revenue)
	}

	// Least-squares slope of daily quantity over the window.
	n := float64(len(records))
	var sumX, sumY, sumXY, sumX2 float64
	for i, rec := range records {
		x, y := float64(i), float64(rec.Quantity)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}
	slope := 0.0
	if denom := n*sumX2 - sumX*sumX; denom != 0 {
		slope = (n*sumXY - sumX*sumY) / denom
	}

	avg := float64(totalQty) / n
	direction := "flat"
	// More than 1% daily drift relative to the mean counts as a trend.
	if avg > 0 {
		switch {
		case slope > 0.01*avg:
			direction = "up"
		case slope < -0.01*avg:
			direction = "down"
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"product_id":     productID,
		"window_days":    windowDays,
		"data_points":    len(records),
		"total_quantity": totalQty,
		"total_revenue":  totalRevenue,
		"avg_daily":      avg,
		"daily_slope":    slope,
		"direction":      direction,
		"first_date":     records[0].Date,
		"last_date":      records[len(records)-1].Date,
	})
}

// InventoryInput sets a product's stock position.
type InventoryInput struct {
	OnHand       int64 `json:"on_hand"`
	ReorderPoint int64 `json:"reorder_point"`
	SafetyStock  int64 `json:"safety_stock"`
}

// setInventory creates or replaces a stock position.
func (s *Server) setInventory(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["product_id"]

	var input InventoryInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if input.OnHand < 0 || input.ReorderPoint < 0 || input.SafetyStock < 0 {
		http.Error(w, "Inventory values must be non-negative", http.StatusBadRequest)
		return
	}

	level := &store.InventoryLevel{
		ProductID:    productID,
		OnHand:       input.OnHand,
		ReorderPoint: input.ReorderPoint,
		SafetyStock:  input.SafetyStock,
	}
	if err := s.store.SetInventoryLevel(level); err != nil {
		http.Error(w, fmt.Sprintf("Update failed: %v", err), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, level)
}

// getInventory returns a product's stock position.
func (s *Server) getInventory(w http.ResponseWriter, r *http.Request) {
	level, err := s.store.GetInventoryLevel(mux.Vars(r)["product_id"])
	if err != nil {
		if store.IsNotFound(err) {
			http.Error(w, "No inventory level for product", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Query failed: %v", err), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, level)
}

// listInventory returns every stock position.
func (s *Server) listInventory(w http.ResponseWriter, r *http.Request) {
	levels, err := s.store.ListInventoryLevels()
	if err != nil {
		http.Error(w, fmt.Sprintf("Query failed: %v", err), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"inventory": levels,
		"count":     len(levels),
	})
}

// inventoryRisk projects forecast demand against the current stock position.
func (s *Server) inventoryRisk(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["product_id"]

	horizon := s.cfg.Alerts.RiskHorizonDays
	if raw := r.URL.Query().Get("horizon_days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxBatchHorizonDays {
			http.Error(w, fmt.Sprintf("horizon_days must be between 1 and %d", maxBatchHorizonDays), http.StatusBadRequest)
			return
		}
		horizon = parsed
	}

	level, err := s.store.GetInventoryLevel(productID)
	if err != nil {
		if store.IsNotFound(err) {
			http.Error(w, "No inventory level for product", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Query failed: %v", err), http.StatusInternalServerError)
		return
	}

	resp, err := s.forecastProduct(r, ForecastRequest{
		ProductID:       productID,
		HorizonDays:     horizon,
		ModelType:       forecast.ModelAuto,
		ConfidenceLevel: s.cfg.Forecasting.ConfidenceLevel,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, registry.ErrNoModel) || isClientError(err) {
			status = http.StatusUnprocessableEntity
		}
		http.Error(w, fmt.Sprintf("Forecast failed: %v", err), status)
		return
	}

	demand := resp.Result.Total()
	available := float64(level.OnHand - level.SafetyStock)

	daysOfCover := 0.0
	if daily := demand / float64(horizon); daily > 0 {
		daysOfCover = available / daily
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"product_id":       productID,
		"horizon_days":     horizon,
		"projected_demand": demand,
		"on_hand":          level.OnHand,
		"safety_stock":     level.SafetyStock,
		"available":        available,
		"days_of_cover":    daysOfCover,
		"at_risk":          demand > available,
	})
}

// listAlerts returns alerts, filterable by acknowledged state.
func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var acknowledged *bool
	if raw := query.Get("acknowledged"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "Invalid acknowledged value", http.StatusBadRequest)
			return
		}
		acknowledged = &parsed
	}

	limit := 100
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	alerts, err := s.store.ListAlerts(acknowledged, limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("Query failed: %v", err), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// acknowledgeAlert marks an alert as handled.
func (s *Server) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		http.Error(w, "Invalid alert id", http.StatusBadRequest)
		return
	}

	if err := s.store.AcknowledgeAlert(uint(id)); err != nil {
		if store.IsNotFound(err) {
			http.Error(w, "Alert not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Update failed: %v", err), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "acknowledged",
		"id":     id,
	})
}

// TokenRequest exchanges the configured API key for a bearer token.
type TokenRequest struct {
	APIKey string `json:"api_key"`
}

// exchangeToken issues a JWT for a valid API key.
func (s *Server) exchangeToken(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Auth.Enabled {
		http.Error(w, "Authentication is disabled", http.StatusNotFound)
		return
	}

	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if req.APIKey == "" || req.APIKey != s.cfg.Auth.APIKey {
		http.Error(w, "Invalid API key", http.StatusUnauthorized)
		return
	}

	token, expiresAt, err := issueToken(s.cfg.Auth)
	if err != nil {
		http.Error(w, fmt.Sprintf("Token generation failed: %v", err), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"token_type": "Bearer",
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}

// getStats reports platform counters.
func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	totalSales, err := s.store.TotalSalesRecords()
	if err != nil {
		http.Error(w, fmt.Sprintf("Query failed: %v", err), http.StatusInternalServerError)
		return
	}
	products, err := s.store.DistinctProducts()
	if err != nil {
		http.Error(w, fmt.Sprintf("Query failed: %v", err), http.StatusInternalServerError)
		return
	}
	modelCount, err := s.store.CountModels()
	if err != nil {
		http.Error(w, fmt.Sprintf("Query failed: %v", err), http.StatusInternalServerError)
		return
	}

	stats := map[string]interface{}{
		"storage": map[string]interface{}{
			"sales_records": totalSales,
			"products":      len(products),
			"models":        modelCount,
		},
		"ingestion": s.processor.Stats(),
		"system": map[string]interface{}{
			"start_time": startTime.UTC().Format(time.RFC3339),
			"uptime":     time.Since(startTime).String(),
		},
	}
	if s.scheduler != nil {
		stats["scheduler"] = s.scheduler.Stats()
	}

	respondJSON(w, http.StatusOK, stats)
}

// healthCheck reports service and dependency health.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK

	dbStatus := "ok"
	if err := s.store.Ping(r.Context()); err != nil {
		dbStatus = err.Error()
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	cacheStatus := "ok"
	if err := s.cache.Ping(r.Context()); err != nil {
		cacheStatus = err.Error()
		status = "degraded"
	}

	respondJSON(w, code, map[string]interface{}{
		"status":    status,
		"database":  dbStatus,
		"cache":     cacheStatus,
		"ingestion": s.processor.IsRunning(),
		"uptime":    time.Since(startTime).String(),
	})
}

// rootHandler describes the API.
func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": "sales-forecasting-platform",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"POST /api/v1/sales":                         "Upload sales records",
			"GET /api/v1/sales":                          "Query sales history",
			"POST /api/v1/forecast":                      "Generate a demand forecast",
			"POST /api/v1/forecast/batch":                "Forecast multiple products",
			"GET /api/v1/models":                         "List trained models",
			"POST /api/v1/models/train":                  "Queue model training",
			"GET /api/v1/models/tasks/{id}":              "Poll a training task",
			"GET /api/v1/analytics/accuracy":             "Model accuracy report",
			"GET /api/v1/analytics/trends/{product_id}":  "Demand trend report",
			"PUT /api/v1/inventory/{product_id}":         "Set stock position",
			"GET /api/v1/inventory/{product_id}/risk":    "Stockout risk projection",
			"GET /api/v1/alerts":                         "List alerts",
			"GET /health":                                "Health check",
			"GET /metrics":                               "Prometheus metrics",
		},
	})
}
