package store

import (
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// CreateModelMetadata inserts a trained model row and deactivates the
// previous active version for the same (product, model type) in one
// transaction.
func (s *Store) CreateModelMetadata(meta *ModelMetadata) error {
	return errors.Wrap(s.db.Transaction(func(tx *gorm.DB) error {
		if meta.IsActive {
			err := tx.Model(&ModelMetadata{}).
				Where("product_id = ? AND model_type = ? AND is_active", meta.ProductID, meta.ModelType).
				Update("is_active", false).Error
			if err != nil {
				return err
			}
		}
		return tx.Create(meta).Error
	}), "create model metadata")
}

// NextModelVersion returns the next version number for (product, model type).
func (s *Store) NextModelVersion(productID, modelType string) (int, error) {
	var max int
	err := s.db.Model(&ModelMetadata{}).
		Where("product_id = ? AND model_type = ?", productID, modelType).
		Select("COALESCE(MAX(version), 0)").Scan(&max).Error
	if err != nil {
		return 0, errors.Wrap(err, "max model version")
	}
	return max + 1, nil
}

// GetModelMetadata fetches a model row by id.
func (s *Store) GetModelMetadata(id string) (*ModelMetadata, error) {
	var meta ModelMetadata
	if err := s.db.Where("id = ?", id).First(&meta).Error; err != nil {
		return nil, err
	}
	return &meta, nil
}

// ListModels returns model rows, optionally filtered by type and activity.
func (s *Store) ListModels(modelType string, activeOnly bool) ([]ModelMetadata, error) {
	q := s.db.Model(&ModelMetadata{})
	if modelType != "" {
		q = q.Where("model_type = ?", modelType)
	}
	if activeOnly {
		q = q.Where("is_active")
	}

	var models []ModelMetadata
	err := q.Order("trained_at desc").Find(&models).Error
	return models, errors.Wrap(err, "list models")
}

// ActiveModels returns the active model rows for a product.
func (s *Store) ActiveModels(productID string) ([]ModelMetadata, error) {
	var models []ModelMetadata
	err := s.db.Where("product_id = ? AND is_active", productID).Find(&models).Error
	return models, errors.Wrap(err, "active models")
}

// ModelsTrainedBetween returns models trained inside the window, oldest
// first, so callers get a chronological accuracy trend.
func (s *Store) ModelsTrainedBetween(start, end time.Time, modelType string) ([]ModelMetadata, error) {
	q := s.db.Model(&ModelMetadata{})
	if !start.IsZero() {
		q = q.Where("trained_at >= ?", start)
	}
	if !end.IsZero() {
		q = q.Where("trained_at <= ?", end)
	}
	if modelType != "" {
		q = q.Where("model_type = ?", modelType)
	}

	var models []ModelMetadata
	err := q.Order("trained_at asc").Find(&models).Error
	return models, errors.Wrap(err, "models trained between")
}

// CountModels returns the number of model rows.
func (s *Store) CountModels() (int64, error) {
	var count int64
	err := s.db.Model(&ModelMetadata{}).Count(&count).Error
	return count, errors.Wrap(err, "count models")
}
