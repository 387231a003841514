package store

import (
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertSales writes a batch of sales records, updating quantity and revenue
// when a (product, date) row already exists.
func (s *Store) UpsertSales(records []SalesRecord) error {
	if len(records) == 0 {
		return nil
	}

	for i := range records {
		records[i].Date = Day(records[i].Date)
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "product_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"quantity", "revenue", "category", "region", "channel", "updated_at",
		}),
	}).Create(&records).Error
	return errors.Wrap(err, "upsert sales")
}

// GetSalesRange returns sales for a product ordered by date. Zero start/end
// times leave that side of the range unbounded; limit <= 0 means no limit
// (most recent rows are kept when a limit truncates the result).
func (s *Store) GetSalesRange(productID string, start, end time.Time, limit int) ([]SalesRecord, error) {
	q := s.db.Where("product_id = ?", productID)
	if !start.IsZero() {
		q = q.Where("date >= ?", Day(start))
	}
	if !end.IsZero() {
		q = q.Where("date <= ?", Day(end))
	}

	var records []SalesRecord
	if err := q.Order("date asc").Find(&records).Error; err != nil {
		return nil, errors.Wrap(err, "query sales")
	}

	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

// HasProduct reports whether any sales exist for the product.
func (s *Store) HasProduct(productID string) (bool, error) {
	var count int64
	err := s.db.Model(&SalesRecord{}).Where("product_id = ?", productID).Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "count sales")
	}
	return count > 0, nil
}

// CountSales returns the number of sales rows for a product.
func (s *Store) CountSales(productID string) (int64, error) {
	var count int64
	err := s.db.Model(&SalesRecord{}).Where("product_id = ?", productID).Count(&count).Error
	return count, errors.Wrap(err, "count sales")
}

// TotalSalesRecords returns the total number of sales rows.
func (s *Store) TotalSalesRecords() (int64, error) {
	var count int64
	err := s.db.Model(&SalesRecord{}).Count(&count).Error
	return count, errors.Wrap(err, "count sales")
}

// DistinctProducts lists every product id with sales history.
func (s *Store) DistinctProducts() ([]string, error) {
	var ids []string
	err := s.db.Model(&SalesRecord{}).Distinct("product_id").Order("product_id").Pluck("product_id", &ids).Error
	return ids, errors.Wrap(err, "distinct products")
}

// LatestSaleDate returns the most recent sales date for a product.
// Returns gorm.ErrRecordNotFound when the product has no history.
func (s *Store) LatestSaleDate(productID string) (time.Time, error) {
	var record SalesRecord
	err := s.db.Where("product_id = ?", productID).Order("date desc").First(&record).Error
	if err != nil {
		return time.Time{}, err
	}
	return record.Date, nil
}

// IsNotFound reports whether err is the store's record-not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
