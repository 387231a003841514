// Background workers.
// Periodically retrains stale models and evaluates alert rules. Each worker
// runs on its own ticker and stops cleanly on shutdown.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sales-forecasting-platform/alerts"
	"sales-forecasting-platform/cache"
	"sales-forecasting-platform/config"
	"sales-forecasting-platform/forecast"
	"sales-forecasting-platform/registry"
	"sales-forecasting-platform/store"
)

// Stats is a snapshot of scheduler counters.
type Stats struct {
	RetrainPasses  int64     `json:"retrain_passes"`
	ModelsTrained  int64     `json:"models_trained"`
	AlertPasses    int64     `json:"alert_passes"`
	AlertsRaised   int64     `json:"alerts_raised"`
	LastRetrainAt  time.Time `json:"last_retrain_at,omitempty"`
	LastAlertRunAt time.Time `json:"last_alert_run_at,omitempty"`
}

// Scheduler owns the retrain and alert workers.
type Scheduler struct {
	store     *store.Store
	registry  *registry.Registry
	engine    *forecast.Engine
	evaluator *alerts.Evaluator
	cache     *cache.Cache
	cfg       config.SchedulerConfig
	fcfg      config.ForecastingConfig
	log       *logrus.Entry

	mu        sync.Mutex
	isRunning bool
	stopChan  chan struct{}
	wg        sync.WaitGroup

	stats   Stats
	statsMu sync.RWMutex
}

// New creates a scheduler.
func New(st *store.Store, reg *registry.Registry, engine *forecast.Engine, evaluator *alerts.Evaluator, fc *cache.Cache, cfg config.SchedulerConfig, fcfg config.ForecastingConfig, log *logrus.Logger) *Scheduler {
	return &Scheduler{
		store:     st,
		registry:  reg,
		engine:    engine,
		evaluator: evaluator,
		cache:     fc,
		cfg:       cfg,
		fcfg:      fcfg,
		log:       log.WithField("component", "scheduler"),
		stopChan:  make(chan struct{}),
	}
}

// Start launches the enabled workers.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	if s.cfg.RetrainEnabled {
		s.wg.Add(1)
		go s.retrainLoop(ctx)
	}
	if s.cfg.AlertEnabled {
		s.wg.Add(1)
		go s.alertLoop(ctx)
	}

	s.log.WithFields(logrus.Fields{
		"retrain_enabled":  s.cfg.RetrainEnabled,
		"retrain_interval": s.cfg.RetrainInterval.Duration,
		"alert_enabled":    s.cfg.AlertEnabled,
		"alert_interval":   s.cfg.AlertInterval.Duration,
	}).Info("scheduler started")
	return nil
}

// Stop shuts the workers down and waits for in-flight passes.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) retrainLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.RetrainInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			if err := s.RetrainPass(ctx); err != nil {
				s.log.WithError(err).Error("retrain pass failed")
			}
		}
	}
}

func (s *Scheduler) alertLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.AlertInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			if err := s.AlertPass(ctx); err != nil {
				s.log.WithError(err).Error("alert pass failed")
			}
		}
	}
}

// RetrainPass retrains every product whose history has grown past its active
// models, then refreshes the stored default-horizon forecast.
func (s *Scheduler) RetrainPass(ctx context.Context) error {
	products, err := s.store.DistinctProducts()
	if err != nil {
		return err
	}

	trained := int64(0)
	for _, productID := range products {
		if err := ctx.Err(); err != nil {
			return err
		}

		stale, err := s.isStale(productID)
		if err != nil {
			s.log.WithError(err).WithField("product_id", productID).Warn("staleness check failed")
			continue
		}
		if !stale {
			continue
		}

		metas, err := s.registry.Train(ctx, productID, forecast.ModelEnsemble, nil)
		if err != nil {
			// Products with thin history stay untrained until they accumulate
			// enough data.
			s.log.WithError(err).WithField("product_id", productID).Debug("retrain skipped")
			continue
		}
		trained += int64(len(metas))

		if err := s.refreshForecast(ctx, productID); err != nil {
			s.log.WithError(err).WithField("product_id", productID).Warn("forecast refresh failed")
		}
	}

	s.statsMu.Lock()
	s.stats.RetrainPasses++
	s.stats.ModelsTrained += trained
	s.stats.LastRetrainAt = time.Now().UTC()
	s.statsMu.Unlock()

	s.log.WithFields(logrus.Fields{
		"products": len(products),
		"models":   trained,
	}).Info("retrain pass complete")
	return nil
}

// isStale reports whether a product needs (re)training: no active models, or
// sales recorded after the newest model's training window.
func (s *Scheduler) isStale(productID string) (bool, error) {
	active, err := s.store.ActiveModels(productID)
	if err != nil {
		return false, err
	}
	if len(active) == 0 {
		return true, nil
	}

	latest, err := s.store.LatestSaleDate(productID)
	if err != nil {
		if store.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	newest := active[0].TrainEnd
	for _, m := range active[1:] {
		if m.TrainEnd.After(newest) {
			newest = m.TrainEnd
		}
	}
	return latest.After(newest), nil
}

// refreshForecast regenerates and persists the default-horizon forecast for
// a product and drops its cache entries.
func (s *Scheduler) refreshForecast(ctx context.Context, productID string) error {
	trained, err := s.registry.ActiveTrained(productID, forecast.ModelEnsemble)
	if err != nil {
		return err
	}

	result, err := s.engine.Forecast(trained, s.fcfg.DefaultHorizonDays, s.fcfg.ConfidenceLevel)
	if err != nil {
		return err
	}

	active, err := s.store.ActiveModels(productID)
	if err != nil {
		return err
	}
	version := 0
	for _, m := range active {
		if m.Version > version {
			version = m.Version
		}
	}

	rows := make([]store.Forecast, len(result.Predictions))
	for i, p := range result.Predictions {
		rows[i] = store.Forecast{
			ProductID:    productID,
			TargetDate:   store.Day(p.Date),
			ModelType:    result.Method,
			ModelVersion: version,
			Value:        p.Value,
			Lower:        p.Lower,
			Upper:        p.Upper,
			GeneratedAt:  result.GeneratedAt,
		}
	}
	if err := s.store.UpsertForecasts(rows); err != nil {
		return err
	}

	if s.cache != nil {
		s.cache.InvalidateProduct(ctx, productID)
	}
	return nil
}

// AlertPass runs the alert rules once.
func (s *Scheduler) AlertPass(ctx context.Context) error {
	created, err := s.evaluator.Evaluate(ctx)

	s.statsMu.Lock()
	s.stats.AlertPasses++
	s.stats.AlertsRaised += int64(created)
	s.stats.LastAlertRunAt = time.Now().UTC()
	s.statsMu.Unlock()

	return err
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}
