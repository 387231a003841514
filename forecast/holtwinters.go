package forecast

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// holtWinters is additive triple exponential smoothing with a weekly season
// for daily sales. Smoothing factors can be overridden through the training
// hyperparameters ("alpha", "beta", "gamma").
type holtWinters struct {
	period int
	alpha  float64
	beta   float64
	gamma  float64

	Level    float64   `json:"level"`
	Trend    float64   `json:"trend"`
	Seasonal []float64 `json:"seasonal"`
	Sigma    float64   `json:"sigma"`
	Steps    int       `json:"steps"` // observations consumed, indexes the seasonal cycle
	Period   int       `json:"period"`
	Alpha    float64   `json:"alpha"`
	Beta     float64   `json:"beta"`
	Gamma    float64   `json:"gamma"`
	LastDate time.Time `json:"last_date"`
}

func newHoltWinters(period int, hyperparameters map[string]float64) *holtWinters {
	m := &holtWinters{
		period: period,
		alpha:  0.3,
		beta:   0.05,
		gamma:  0.2,
	}
	if v, ok := hyperparameters["alpha"]; ok && v > 0 && v < 1 {
		m.alpha = v
	}
	if v, ok := hyperparameters["beta"]; ok && v > 0 && v < 1 {
		m.beta = v
	}
	if v, ok := hyperparameters["gamma"]; ok && v > 0 && v < 1 {
		m.gamma = v
	}
	return m
}

func (m *holtWinters) Name() string { return ModelHoltWinters }

func (m *holtWinters) Train(data []DataPoint) error {
	if len(data) < 2*m.period {
		return fmt.Errorf("insufficient data for holt-winters: need %d points", 2*m.period)
	}

	// Initialize level and trend from the first two seasons, seasonal
	// components from deviations within the first season.
	var first, second float64
	for i := 0; i < m.period; i++ {
		first += data[i].Value
		second += data[m.period+i].Value
	}
	first /= float64(m.period)
	second /= float64(m.period)

	level := first
	trend := (second - first) / float64(m.period)
	seasonal := make([]float64, m.period)
	for i := 0; i < m.period; i++ {
		seasonal[i] = data[i].Value - first
	}

	var residuals []float64
	for i := 0; i < len(data); i++ {
		idx := i % m.period
		predicted := level + trend + seasonal[idx]
		residuals = append(residuals, data[i].Value-predicted)

		prevLevel := level
		level = m.alpha*(data[i].Value-seasonal[idx]) + (1-m.alpha)*(level+trend)
		trend = m.beta*(level-prevLevel) + (1-m.beta)*trend
		seasonal[idx] = m.gamma*(data[i].Value-level) + (1-m.gamma)*seasonal[idx]
	}

	// Discard warm-up residuals from the first season.
	if len(residuals) > m.period {
		residuals = residuals[m.period:]
	}

	m.Level = level
	m.Trend = trend
	m.Seasonal = seasonal
	m.Sigma = residualStdDev(residuals)
	m.Steps = len(data)
	m.Period = m.period
	m.Alpha, m.Beta, m.Gamma = m.alpha, m.beta, m.gamma
	m.LastDate = data[len(data)-1].Date

	return nil
}

func (m *holtWinters) Forecast(horizon int, confidence float64) (Result, error) {
	if len(m.Seasonal) == 0 {
		return Result{}, fmt.Errorf("model not trained")
	}

	z := zScore(confidence)
	dates := futureDates(m.LastDate, horizon)
	predictions := make([]Point, horizon)

	for h := 1; h <= horizon; h++ {
		idx := (m.Steps + h - 1) % m.Period
		value := m.Level + float64(h)*m.Trend + m.Seasonal[idx]
		spread := z * m.Sigma * math.Sqrt(float64(h))
		predictions[h-1] = Point{
			Date:  dates[h-1],
			Value: value,
			Lower: value - spread,
			Upper: value + spread,
		}
	}

	return Result{
		Predictions:     predictions,
		Method:          ModelHoltWinters,
		ConfidenceLevel: confidence,
		GeneratedAt:     time.Now().UTC(),
		Horizon:         horizon,
	}, nil
}

func (m *holtWinters) State() ([]byte, error) {
	return json.Marshal(m)
}

func (m *holtWinters) Restore(state []byte) error {
	if err := json.Unmarshal(state, m); err != nil {
		return err
	}
	if m.Period > 0 {
		m.period = m.Period
	}
	if m.Alpha > 0 {
		m.alpha, m.beta, m.gamma = m.Alpha, m.Beta, m.Gamma
	}
	return nil
}
