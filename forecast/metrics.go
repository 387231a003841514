package forecast

import "math"

// Metrics holds forecast accuracy measures computed on a holdout window.
type Metrics struct {
	MAE      float64 `json:"mae"`
	RMSE     float64 `json:"rmse"`
	MAPE     float64 `json:"mape"`
	R2       float64 `json:"r2"`
	Coverage float64 `json:"coverage"`
}

// Accuracy collapses the metrics into a single [0,1] weight for ensembling
// and auto model selection. R-squared clamped at a small floor so a weak but
// working model still contributes.
func (m Metrics) Accuracy() float64 {
	if math.IsNaN(m.R2) {
		return 0.05
	}
	if m.R2 < 0.05 {
		return 0.05
	}
	if m.R2 > 1 {
		return 1
	}
	return m.R2
}

// Evaluate compares holdout actuals against predictions. Predictions shorter
// than the holdout are compared up to their length.
func Evaluate(actuals []DataPoint, predictions []Point) Metrics {
	n := len(actuals)
	if len(predictions) < n {
		n = len(predictions)
	}
	if n == 0 {
		return Metrics{}
	}

	var sumAbs, sumSq, sumPct, mean float64
	pctCount := 0
	covered := 0

	for i := 0; i < n; i++ {
		mean += actuals[i].Value
	}
	mean /= float64(n)

	var sst float64
	for i := 0; i < n; i++ {
		actual := actuals[i].Value
		err := actual - predictions[i].Value

		sumAbs += math.Abs(err)
		sumSq += err * err
		sst += (actual - mean) * (actual - mean)

		if actual != 0 {
			sumPct += math.Abs(err / actual)
			pctCount++
		}
		if actual >= predictions[i].Lower && actual <= predictions[i].Upper {
			covered++
		}
	}

	metrics := Metrics{
		MAE:      sumAbs / float64(n),
		RMSE:     math.Sqrt(sumSq / float64(n)),
		Coverage: float64(covered) / float64(n) * 100,
	}
	if pctCount > 0 {
		metrics.MAPE = sumPct / float64(pctCount) * 100
	}
	if sst > 0 {
		metrics.R2 = 1 - sumSq/sst
	}
	return metrics
}

// residualStdDev computes the standard deviation of one-step errors; used by
// the models to size confidence intervals.
func residualStdDev(residuals []float64) float64 {
	if len(residuals) < 2 {
		return 0
	}
	var sum float64
	for _, r := range residuals {
		sum += r
	}
	mean := sum / float64(len(residuals))

	var sq float64
	for _, r := range residuals {
		sq += (r - mean) * (r - mean)
	}
	return math.Sqrt(sq / float64(len(residuals)-1))
}
