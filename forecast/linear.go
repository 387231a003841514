package forecast

import (
	"encoding/json"
	"fmt"
	"time"
)

// linearTrend fits ordinary least squares on the day index. Confidence
// intervals come from the residual standard deviation.
type linearTrend struct {
	Slope     float64   `json:"slope"`
	Intercept float64   `json:"intercept"`
	Sigma     float64   `json:"sigma"`
	N         int       `json:"n"`
	LastDate  time.Time `json:"last_date"`
	trained   bool
}

func newLinearTrend() *linearTrend {
	return &linearTrend{}
}

func (m *linearTrend) Name() string { return ModelLinearTrend }

func (m *linearTrend) Train(data []DataPoint) error {
	if len(data) < 2 {
		return fmt.Errorf("insufficient data for linear trend")
	}

	n := float64(len(data))
	var sumX, sumY, sumXY, sumX2 float64
	for i, point := range data {
		x := float64(i)
		sumX += x
		sumY += point.Value
		sumXY += x * point.Value
		sumX2 += x * x
	}

	denom := n*sumX2 - sumX*sumX
	if denom == 0 {
		return fmt.Errorf("degenerate time axis")
	}
	m.Slope = (n*sumXY - sumX*sumY) / denom
	m.Intercept = (sumY - m.Slope*sumX) / n

	residuals := make([]float64, len(data))
	for i, point := range data {
		residuals[i] = point.Value - (m.Slope*float64(i) + m.Intercept)
	}
	m.Sigma = residualStdDev(residuals)
	m.N = len(data)
	m.LastDate = data[len(data)-1].Date
	m.trained = true

	return nil
}

func (m *linearTrend) Forecast(horizon int, confidence float64) (Result, error) {
	if !m.trained && m.N == 0 {
		return Result{}, fmt.Errorf("model not trained")
	}

	z := zScore(confidence)
	dates := futureDates(m.LastDate, horizon)
	predictions := make([]Point, horizon)

	for i := 0; i < horizon; i++ {
		x := float64(m.N + i)
		value := m.Slope*x + m.Intercept
		spread := z * m.Sigma
		predictions[i] = Point{
			Date:  dates[i],
			Value: value,
			Lower: value - spread,
			Upper: value + spread,
		}
	}

	return Result{
		Predictions:     predictions,
		Method:          ModelLinearTrend,
		ConfidenceLevel: confidence,
		GeneratedAt:     time.Now().UTC(),
		Horizon:         horizon,
	}, nil
}

func (m *linearTrend) State() ([]byte, error) {
	return json.Marshal(m)
}

func (m *linearTrend) Restore(state []byte) error {
	return json.Unmarshal(state, m)
}
