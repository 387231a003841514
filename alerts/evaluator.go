// Inventory and demand alerting.
// Evaluates stock positions against thresholds and forecasted demand, and
// flags abnormal sales days. Alerts are deduplicated per (product, kind)
// while unacknowledged, persisted, and fanned out through the broker.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"sales-forecasting-platform/config"
	"sales-forecasting-platform/forecast"
	"sales-forecasting-platform/prom"
	"sales-forecasting-platform/registry"
	"sales-forecasting-platform/store"
)

// Severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// ForecastSource resolves trained models for demand projections.
type ForecastSource interface {
	ActiveTrained(productID, modelType string) (map[string]forecast.Trained, error)
}

// Evaluator runs the alert rules over current inventory and sales.
type Evaluator struct {
	store  *store.Store
	source ForecastSource
	engine *forecast.Engine
	broker *Broker
	spike  *SpikeDetector
	cfg    config.AlertsConfig
	log    *logrus.Entry
}

// NewEvaluator wires the alert rules together.
func NewEvaluator(st *store.Store, source ForecastSource, engine *forecast.Engine, broker *Broker, cfg config.AlertsConfig, log *logrus.Logger) *Evaluator {
	return &Evaluator{
		store:  st,
		source: source,
		engine: engine,
		broker: broker,
		spike:  NewSpikeDetector(cfg.SpikeWindowDays, cfg.SpikeThreshold),
		cfg:    cfg,
		log:    log.WithField("component", "alerts"),
	}
}

// Evaluate runs every rule once and returns the number of alerts raised.
func (e *Evaluator) Evaluate(ctx context.Context) (int, error) {
	created := 0

	n, err := e.evaluateInventory(ctx)
	if err != nil {
		return created, err
	}
	created += n

	n, err = e.evaluateSpikes(ctx)
	if err != nil {
		return created, err
	}
	created += n

	return created, nil
}

// evaluateInventory checks reorder thresholds and forecasted stockout risk.
func (e *Evaluator) evaluateInventory(ctx context.Context) (int, error) {
	levels, err := e.store.ListInventoryLevels()
	if err != nil {
		return 0, err
	}

	created := 0
	for _, level := range levels {
		if err := ctx.Err(); err != nil {
			return created, err
		}

		if level.OnHand <= level.ReorderPoint {
			severity := SeverityWarning
			if level.OnHand <= level.SafetyStock {
				severity = SeverityCritical
			}
			ok, err := e.raise(store.Alert{
				ProductID: level.ProductID,
				Kind:      store.AlertLowStock,
				Severity:  severity,
				Message: fmt.Sprintf("on-hand %d at or below reorder point %d",
					level.OnHand, level.ReorderPoint),
			})
			if err != nil {
				return created, err
			}
			if ok {
				created++
			}
		}

		ok, err := e.checkStockoutRisk(level)
		if err != nil {
			e.log.WithError(err).WithField("product_id", level.ProductID).
				Debug("stockout projection skipped")
			continue
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// checkStockoutRisk compares projected demand over the risk horizon against
// the stock position. Products without a trained model are skipped.
func (e *Evaluator) checkStockoutRisk(level store.InventoryLevel) (bool, error) {
	trained, err := e.source.ActiveTrained(level.ProductID, forecast.ModelAuto)
	if err != nil {
		if errors.Is(err, registry.ErrNoModel) {
			return false, nil
		}
		return false, err
	}

	result, err := e.engine.Forecast(trained, e.cfg.RiskHorizonDays, 0)
	if err != nil {
		return false, err
	}

	demand := result.Total()
	available := float64(level.OnHand - level.SafetyStock)
	if available >= demand {
		return false, nil
	}

	severity := SeverityWarning
	if float64(level.OnHand) < demand {
		severity = SeverityCritical
	}
	return e.raise(store.Alert{
		ProductID: level.ProductID,
		Kind:      store.AlertStockoutRisk,
		Severity:  severity,
		Message: fmt.Sprintf("projected demand %.0f over %d days exceeds available stock %d",
			demand, e.cfg.RiskHorizonDays, level.OnHand),
	})
}

// evaluateSpikes flags products whose latest sales day deviates sharply from
// the trailing window.
func (e *Evaluator) evaluateSpikes(ctx context.Context) (int, error) {
	products, err := e.store.DistinctProducts()
	if err != nil {
		return 0, err
	}

	created := 0
	for _, productID := range products {
		if err := ctx.Err(); err != nil {
			return created, err
		}

		records, err := e.store.GetSalesRange(productID, time.Time{}, time.Time{}, e.spike.WindowDays()+1)
		if err != nil {
			return created, err
		}

		z, spiked := e.spike.Check(records)
		if !spiked {
			continue
		}

		direction := "spike"
		if z < 0 {
			direction = "drop"
		}
		ok, err := e.raise(store.Alert{
			ProductID: productID,
			Kind:      store.AlertSalesSpike,
			Severity:  SeverityInfo,
			Message:   fmt.Sprintf("sales %s detected: %.1f standard deviations from recent mean", direction, z),
		})
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// raise persists an alert (deduplicated by the store) and publishes it on
// the broker when newly created.
func (e *Evaluator) raise(alert store.Alert) (bool, error) {
	alert.TriggeredAt = time.Now().UTC()
	created, err := e.store.CreateAlert(&alert)
	if err != nil {
		return false, err
	}
	if !created {
		return false, nil
	}
	prom.AlertsRaised.WithLabelValues(alert.Kind).Inc()

	e.log.WithFields(logrus.Fields{
		"product_id": alert.ProductID,
		"kind":       alert.Kind,
		"severity":   alert.Severity,
	}).Info("alert raised")

	if e.broker != nil {
		e.broker.Publish(alert)
	}
	return true, nil
}
