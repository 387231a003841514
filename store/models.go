package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// SalesRecord is one day of sales for a product. Append-only from the API's
// point of view; re-uploading a (product, date) pair updates the row.
type SalesRecord struct {
	ID        uint            `gorm:"primaryKey" json:"-"`
	ProductID string          `gorm:"size:100;not null;uniqueIndex:idx_sales_product_date;index" json:"product_id"`
	Date      time.Time       `gorm:"not null;uniqueIndex:idx_sales_product_date" json:"date"`
	Quantity  int64           `gorm:"not null;check:quantity >= 0" json:"quantity"`
	Revenue   decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"revenue"`
	Category  string          `gorm:"size:100" json:"category,omitempty"`
	Region    string          `gorm:"size:100" json:"region,omitempty"`
	Channel   string          `gorm:"size:100" json:"channel,omitempty"`
	CreatedAt time.Time       `json:"-"`
	UpdatedAt time.Time       `json:"-"`
}

// Forecast is a single predicted day for a product under one model type.
type Forecast struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	ProductID    string    `gorm:"size:100;not null;uniqueIndex:idx_forecast_product_date_model;index" json:"product_id"`
	TargetDate   time.Time `gorm:"not null;uniqueIndex:idx_forecast_product_date_model" json:"target_date"`
	ModelType    string    `gorm:"size:50;not null;uniqueIndex:idx_forecast_product_date_model" json:"model_type"`
	ModelVersion int       `json:"model_version"`
	Value        float64   `json:"predicted_sales"`
	Lower        float64   `json:"lower_bound"`
	Upper        float64   `json:"upper_bound"`
	GeneratedAt  time.Time `gorm:"not null" json:"generated_at"`
}

// ModelMetadata records one trained model version. At most one row per
// (product, model type) has IsActive set.
type ModelMetadata struct {
	ID              string    `gorm:"primaryKey;size:36" json:"model_id"`
	ProductID       string    `gorm:"size:100;not null;index:idx_model_product_type" json:"product_id"`
	ModelType       string    `gorm:"size:50;not null;index:idx_model_product_type" json:"model_type"`
	Version         int       `gorm:"not null" json:"model_version"`
	TrainedAt       time.Time `gorm:"not null" json:"trained_on"`
	TrainStart      time.Time `json:"training_start"`
	TrainEnd        time.Time `json:"training_end"`
	TrainPoints     int       `json:"training_points"`
	Hyperparameters string    `gorm:"type:text" json:"hyperparameters,omitempty"`
	MAE             float64   `json:"mae"`
	RMSE            float64   `json:"rmse"`
	MAPE            float64   `json:"mape"`
	R2              float64   `json:"r2"`
	Coverage        float64   `json:"coverage"`
	ArtifactPath    string    `gorm:"size:512" json:"-"`
	IsActive        bool      `gorm:"not null;default:false;index" json:"is_active"`
	CreatedAt       time.Time `json:"-"`
}

// InventoryLevel is the current stock position for a product.
type InventoryLevel struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	ProductID    string    `gorm:"size:100;not null;uniqueIndex" json:"product_id"`
	OnHand       int64     `gorm:"not null;check:on_hand >= 0" json:"on_hand"`
	ReorderPoint int64     `gorm:"not null" json:"reorder_point"`
	SafetyStock  int64     `gorm:"not null" json:"safety_stock"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Alert kinds.
const (
	AlertLowStock     = "low_stock"
	AlertStockoutRisk = "stockout_risk"
	AlertSalesSpike   = "sales_spike"
)

// Alert is a threshold-triggered notification row.
type Alert struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ProductID    string    `gorm:"size:100;not null;index" json:"product_id"`
	Kind         string    `gorm:"size:50;not null" json:"kind"`
	Severity     string    `gorm:"size:20;not null" json:"severity"`
	Message      string    `gorm:"size:512" json:"message"`
	TriggeredAt  time.Time `gorm:"not null" json:"triggered_at"`
	Acknowledged bool      `gorm:"not null;default:false;index" json:"acknowledged"`
}

// Day truncates a timestamp to UTC midnight. All sales and forecast dates are
// stored this way so the composite unique indexes behave.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
