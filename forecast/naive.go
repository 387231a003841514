package forecast

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// seasonalNaive repeats the last observed season. It is the baseline every
// other model has to beat, and it is what the ensemble degrades to on very
// short histories.
type seasonalNaive struct {
	period int

	LastSeason []float64 `json:"last_season"`
	LastDate   time.Time `json:"last_date"`
	Sigma      float64   `json:"sigma"`
	Period     int       `json:"period"`
}

func newSeasonalNaive(period int) *seasonalNaive {
	return &seasonalNaive{period: period}
}

func (m *seasonalNaive) Name() string { return ModelSeasonalNaive }

func (m *seasonalNaive) Train(data []DataPoint) error {
	if len(data) < m.period+1 {
		return fmt.Errorf("insufficient data for seasonal naive with period %d", m.period)
	}

	m.Period = m.period
	m.LastDate = data[len(data)-1].Date
	m.LastSeason = make([]float64, m.period)
	for i := 0; i < m.period; i++ {
		m.LastSeason[i] = data[len(data)-m.period+i].Value
	}

	// One-step seasonal errors y[t] - y[t-period].
	residuals := make([]float64, 0, len(data)-m.period)
	for i := m.period; i < len(data); i++ {
		residuals = append(residuals, data[i].Value-data[i-m.period].Value)
	}
	m.Sigma = residualStdDev(residuals)

	return nil
}

func (m *seasonalNaive) Forecast(horizon int, confidence float64) (Result, error) {
	if len(m.LastSeason) == 0 {
		return Result{}, fmt.Errorf("model not trained")
	}

	z := zScore(confidence)
	dates := futureDates(m.LastDate, horizon)
	predictions := make([]Point, horizon)

	for i := 0; i < horizon; i++ {
		value := m.LastSeason[i%m.Period]
		// Interval widens each time the season repeats.
		spread := z * m.Sigma * math.Sqrt(float64(i/m.Period+1))
		predictions[i] = Point{
			Date:  dates[i],
			Value: value,
			Lower: value - spread,
			Upper: value + spread,
		}
	}

	return Result{
		Predictions:     predictions,
		Method:          ModelSeasonalNaive,
		ConfidenceLevel: confidence,
		GeneratedAt:     time.Now().UTC(),
		Horizon:         horizon,
	}, nil
}

func (m *seasonalNaive) State() ([]byte, error) {
	return json.Marshal(m)
}

func (m *seasonalNaive) Restore(state []byte) error {
	if err := json.Unmarshal(state, m); err != nil {
		return err
	}
	if m.Period > 0 {
		m.period = m.Period
	}
	return nil
}
