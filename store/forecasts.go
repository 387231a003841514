package store

import (
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm/clause"
)

// UpsertForecasts writes forecast rows, replacing any existing prediction for
// the same (product, target date, model type).
func (s *Store) UpsertForecasts(forecasts []Forecast) error {
	if len(forecasts) == 0 {
		return nil
	}

	for i := range forecasts {
		forecasts[i].TargetDate = Day(forecasts[i].TargetDate)
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "product_id"}, {Name: "target_date"}, {Name: "model_type"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"model_version", "value", "lower", "upper", "generated_at",
		}),
	}).Create(&forecasts).Error
	return errors.Wrap(err, "upsert forecasts")
}

// GetForecasts returns stored forecasts for a product and model type within
// the target-date range, ordered by date.
func (s *Store) GetForecasts(productID, modelType string, start, end time.Time) ([]Forecast, error) {
	q := s.db.Where("product_id = ?", productID)
	if modelType != "" {
		q = q.Where("model_type = ?", modelType)
	}
	if !start.IsZero() {
		q = q.Where("target_date >= ?", Day(start))
	}
	if !end.IsZero() {
		q = q.Where("target_date <= ?", Day(end))
	}

	var forecasts []Forecast
	err := q.Order("target_date asc").Find(&forecasts).Error
	return forecasts, errors.Wrap(err, "query forecasts")
}
