package forecast

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// arima fits an autoregressive model on a d-times differenced series. The AR
// coefficients are estimated by least squares on the lagged regression; the
// moving-average terms of a full ARIMA are folded into the residual variance
// used for the intervals. Defaults to ARIMA(2,1).
type arima struct {
	p int
	d int

	Coeffs   []float64   `json:"coeffs"` // [intercept, phi_1..phi_p]
	History  []float64   `json:"history"` // last p values of the differenced series
	Tails    []float64   `json:"tails"`   // last value at each differencing level
	Sigma    float64     `json:"sigma"`
	P        int         `json:"p"`
	D        int         `json:"d"`
	LastDate time.Time   `json:"last_date"`
}

func newARIMA(hyperparameters map[string]float64) *arima {
	m := &arima{p: 2, d: 1}
	if v, ok := hyperparameters["p"]; ok && v >= 1 && v <= 14 {
		m.p = int(v)
	}
	if v, ok := hyperparameters["d"]; ok && v >= 0 && v <= 2 {
		m.d = int(v)
	}
	return m
}

func (m *arima) Name() string { return ModelARIMA }

func (m *arima) Train(data []DataPoint) error {
	if len(data) < m.p+m.d+10 {
		return fmt.Errorf("insufficient data for arima(%d,%d)", m.p, m.d)
	}

	values := make([]float64, len(data))
	for i, point := range data {
		values[i] = point.Value
	}

	// Difference d times, remembering the tail value at each level for
	// reintegration at forecast time.
	tails := make([]float64, m.d)
	diffed := values
	for level := 0; level < m.d; level++ {
		tails[level] = diffed[len(diffed)-1]
		next := make([]float64, len(diffed)-1)
		for i := 1; i < len(diffed); i++ {
			next[i-1] = diffed[i] - diffed[i-1]
		}
		diffed = next
	}

	coeffs, err := fitAR(diffed, m.p)
	if errors.Is(err, errSingular) {
		// A clean trend differences to a constant series, making every lag
		// column collinear with the intercept. Fall back to pure drift.
		var sum float64
		for _, v := range diffed {
			sum += v
		}
		coeffs = make([]float64, m.p+1)
		coeffs[0] = sum / float64(len(diffed))
	} else if err != nil {
		return err
	}

	residuals := make([]float64, 0, len(diffed)-m.p)
	for t := m.p; t < len(diffed); t++ {
		predicted := coeffs[0]
		for i := 1; i <= m.p; i++ {
			predicted += coeffs[i] * diffed[t-i]
		}
		residuals = append(residuals, diffed[t]-predicted)
	}

	m.Coeffs = coeffs
	m.History = append([]float64(nil), diffed[len(diffed)-m.p:]...)
	m.Tails = tails
	m.Sigma = residualStdDev(residuals)
	m.P, m.D = m.p, m.d
	m.LastDate = data[len(data)-1].Date

	return nil
}

func (m *arima) Forecast(horizon int, confidence float64) (Result, error) {
	if len(m.Coeffs) == 0 {
		return Result{}, fmt.Errorf("model not trained")
	}

	z := zScore(confidence)
	dates := futureDates(m.LastDate, horizon)
	predictions := make([]Point, horizon)

	history := append([]float64(nil), m.History...)
	tails := append([]float64(nil), m.Tails...)

	for h := 1; h <= horizon; h++ {
		// AR recursion on the differenced series.
		next := m.Coeffs[0]
		for i := 1; i <= m.P; i++ {
			next += m.Coeffs[i] * history[len(history)-i]
		}
		history = append(history, next)

		// Reintegrate through each differencing level.
		value := next
		for level := m.D - 1; level >= 0; level-- {
			value += tails[level]
			tails[level] = value
		}

		spread := z * m.Sigma
		if m.D > 0 {
			spread *= math.Sqrt(float64(h))
		}
		predictions[h-1] = Point{
			Date:  dates[h-1],
			Value: value,
			Lower: value - spread,
			Upper: value + spread,
		}
	}

	return Result{
		Predictions:     predictions,
		Method:          ModelARIMA,
		ConfidenceLevel: confidence,
		GeneratedAt:     time.Now().UTC(),
		Horizon:         horizon,
	}, nil
}

func (m *arima) State() ([]byte, error) {
	return json.Marshal(m)
}

func (m *arima) Restore(state []byte) error {
	if err := json.Unmarshal(state, m); err != nil {
		return err
	}
	if m.P > 0 {
		m.p, m.d = m.P, m.D
	}
	return nil
}

// fitAR estimates [intercept, phi_1..phi_p] by least squares over the lagged
// regression y[t] ~ y[t-1]..y[t-p].
func fitAR(series []float64, p int) ([]float64, error) {
	n := len(series) - p
	if n <= p+1 {
		return nil, fmt.Errorf("series too short for AR(%d)", p)
	}

	dim := p + 1
	ata := make([][]float64, dim)
	atb := make([]float64, dim)
	for i := range ata {
		ata[i] = make([]float64, dim)
	}

	// Accumulate normal equations; column 0 is the intercept.
	for t := p; t < len(series); t++ {
		row := make([]float64, dim)
		row[0] = 1
		for i := 1; i <= p; i++ {
			row[i] = series[t-i]
		}
		for i := 0; i < dim; i++ {
			for j := 0; j < dim; j++ {
				ata[i][j] += row[i] * row[j]
			}
			atb[i] += row[i] * series[t]
		}
	}

	return solveLinear(ata, atb)
}

var errSingular = errors.New("singular regression matrix")

// solveLinear solves ax=b with Gaussian elimination and partial pivoting.
func solveLinear(a [][]float64, b []float64) ([]float64, error) {
	n := len(a)
	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(a[row][col]) > math.Abs(a[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, errSingular
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for row := col + 1; row < n; row++ {
			factor := a[row][col] / a[col][col]
			for k := col; k < n; k++ {
				a[row][k] -= factor * a[col][k]
			}
			b[row] -= factor * b[col]
		}
	}

	x := make([]float64, n)
	for row := n - 1; row >= 0; row-- {
		sum := b[row]
		for col := row + 1; col < n; col++ {
			sum -= a[row][col] * x[col]
		}
		x[row] = sum / a[row][row]
	}
	return x, nil
}
