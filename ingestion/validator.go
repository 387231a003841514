package ingestion

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"sales-forecasting-platform/config"
	"sales-forecasting-platform/store"
)

// Record is one incoming sales row as accepted by the upload endpoints.
type Record struct {
	ProductID string          `json:"product_id"`
	Date      time.Time       `json:"date"`
	Quantity  int64           `json:"quantity"`
	Revenue   decimal.Decimal `json:"revenue"`
	Category  string          `json:"category,omitempty"`
	Region    string          `json:"region,omitempty"`
	Channel   string          `json:"channel,omitempty"`
}

func (r Record) toStore() store.SalesRecord {
	return store.SalesRecord{
		ProductID: r.ProductID,
		Date:      store.Day(r.Date),
		Quantity:  r.Quantity,
		Revenue:   r.Revenue,
		Category:  r.Category,
		Region:    r.Region,
		Channel:   r.Channel,
	}
}

// Validator enforces data quality rules on incoming sales records.
type Validator struct {
	maxQuantity     int64
	maxRevenue      decimal.Decimal
	maxProductIDLen int
	futureThreshold time.Duration
	pastThreshold   time.Duration
}

// NewValidator builds a validator from the configured rules.
func NewValidator(rules config.ValidationConfig) *Validator {
	return &Validator{
		maxQuantity:     rules.MaxQuantity,
		maxRevenue:      decimal.NewFromFloat(rules.MaxRevenue),
		maxProductIDLen: rules.MaxProductIDLength,
		futureThreshold: rules.FutureTimestampThreshold.Duration,
		pastThreshold:   rules.PastTimestampThreshold.Duration,
	}
}

// Validate checks a single record. The error message names the failing field
// so the API can return it verbatim.
func (v *Validator) Validate(r Record) error {
	if r.ProductID == "" {
		return fmt.Errorf("product_id is required")
	}
	if v.maxProductIDLen > 0 && len(r.ProductID) > v.maxProductIDLen {
		return fmt.Errorf("product_id exceeds %d characters", v.maxProductIDLen)
	}
	if r.Date.IsZero() {
		return fmt.Errorf("date is required")
	}
	if r.Quantity < 0 {
		return fmt.Errorf("quantity must be non-negative")
	}
	if v.maxQuantity > 0 && r.Quantity > v.maxQuantity {
		return fmt.Errorf("quantity %d exceeds maximum %d", r.Quantity, v.maxQuantity)
	}
	if r.Revenue.IsNegative() {
		return fmt.Errorf("revenue must be non-negative")
	}
	if v.maxRevenue.IsPositive() && r.Revenue.GreaterThan(v.maxRevenue) {
		return fmt.Errorf("revenue %s exceeds maximum %s", r.Revenue, v.maxRevenue)
	}

	now := time.Now()
	if v.futureThreshold > 0 && r.Date.After(now.Add(v.futureThreshold)) {
		return fmt.Errorf("date too far in the future")
	}
	if v.pastThreshold > 0 && r.Date.Before(now.Add(-v.pastThreshold)) {
		return fmt.Errorf("date too far in the past")
	}
	return nil
}
