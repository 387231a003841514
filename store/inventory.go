package store

import (
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SetInventoryLevel creates or replaces the stock position for a product.
func (s *Store) SetInventoryLevel(level *InventoryLevel) error {
	level.UpdatedAt = time.Now().UTC()
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"on_hand", "reorder_point", "safety_stock", "updated_at",
		}),
	}).Create(level).Error
	return errors.Wrap(err, "set inventory level")
}

// GetInventoryLevel returns the stock position for a product.
func (s *Store) GetInventoryLevel(productID string) (*InventoryLevel, error) {
	var level InventoryLevel
	if err := s.db.Where("product_id = ?", productID).First(&level).Error; err != nil {
		return nil, err
	}
	return &level, nil
}

// ListInventoryLevels returns all stock positions.
func (s *Store) ListInventoryLevels() ([]InventoryLevel, error) {
	var levels []InventoryLevel
	err := s.db.Order("product_id").Find(&levels).Error
	return levels, errors.Wrap(err, "list inventory")
}

// CreateAlert inserts an alert row unless an unacknowledged alert of the same
// kind is already open for the product. Returns true when a row was created.
func (s *Store) CreateAlert(alert *Alert) (bool, error) {
	var open int64
	err := s.db.Model(&Alert{}).
		Where("product_id = ? AND kind = ? AND NOT acknowledged", alert.ProductID, alert.Kind).
		Count(&open).Error
	if err != nil {
		return false, errors.Wrap(err, "count open alerts")
	}
	if open > 0 {
		return false, nil
	}

	if alert.TriggeredAt.IsZero() {
		alert.TriggeredAt = time.Now().UTC()
	}
	if err := s.db.Create(alert).Error; err != nil {
		return false, errors.Wrap(err, "create alert")
	}
	return true, nil
}

// ListAlerts returns alerts, newest first. acknowledged filters by state when
// non-nil; limit <= 0 means no limit.
func (s *Store) ListAlerts(acknowledged *bool, limit int) ([]Alert, error) {
	q := s.db.Model(&Alert{})
	if acknowledged != nil {
		if *acknowledged {
			q = q.Where("acknowledged")
		} else {
			q = q.Where("NOT acknowledged")
		}
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var alerts []Alert
	err := q.Order("triggered_at desc").Find(&alerts).Error
	return alerts, errors.Wrap(err, "list alerts")
}

// AcknowledgeAlert marks an alert as handled.
func (s *Store) AcknowledgeAlert(id uint) error {
	res := s.db.Model(&Alert{}).Where("id = ?", id).Update("acknowledged", true)
	if res.Error != nil {
		return errors.Wrap(res.Error, "acknowledge alert")
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
