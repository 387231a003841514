// Sales forecasting engine.
// Implements multiple forecasting algorithms for daily demand prediction.
package forecast

import (
	"fmt"
	"sort"
	"time"
)

// Model names accepted by the API and the registry.
const (
	ModelSeasonalNaive = "seasonal_naive"
	ModelLinearTrend   = "linear_trend"
	ModelHoltWinters   = "holt_winters"
	ModelARIMA         = "arima"
	ModelEnsemble      = "ensemble"
	ModelAuto          = "auto"
)

// DataPoint is one day of observed sales.
type DataPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Point is a single forecasted day.
type Point struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"predicted_sales"`
	Lower float64   `json:"lower_bound"`
	Upper float64   `json:"upper_bound"`
}

// Result contains forecast predictions and metadata.
type Result struct {
	Predictions     []Point   `json:"predictions"`
	Method          string    `json:"method"`
	Metrics         Metrics   `json:"metrics"`
	ConfidenceLevel float64   `json:"confidence_level"`
	GeneratedAt     time.Time `json:"generated_at"`
	Horizon         int       `json:"horizon_days"`
}

// Total returns the sum of predicted values.
func (r Result) Total() float64 {
	var sum float64
	for _, p := range r.Predictions {
		sum += p.Value
	}
	return sum
}

// Model is a trainable forecasting algorithm.
type Model interface {
	Name() string
	Train(data []DataPoint) error
	Forecast(horizon int, confidence float64) (Result, error)

	// State round-trips the fitted parameters so the registry can persist
	// and reload models without retraining.
	State() ([]byte, error)
	Restore(state []byte) error
}

// Config defines engine behavior.
type Config struct {
	SeasonalPeriod  int
	MinTrainPoints  int
	MaxTrainPoints  int
	EnabledModels   []string
	EnsembleMethod  string // "average", "weighted", "best"
	ValidationSplit float64
	ConfidenceLevel float64
}

// Engine trains the enabled models and combines their forecasts.
type Engine struct {
	config Config
}

// NewEngine creates a forecasting engine.
func NewEngine(config Config) *Engine {
	if config.SeasonalPeriod <= 0 {
		config.SeasonalPeriod = 7
	}
	if config.ValidationSplit <= 0 {
		config.ValidationSplit = 0.2
	}
	if config.ConfidenceLevel == 0 {
		config.ConfidenceLevel = 0.95
	}
	return &Engine{config: config}
}

// NewModel constructs a model by name. Hyperparameters unknown to the model
// are ignored; nil is fine.
func (e *Engine) NewModel(name string, hyperparameters map[string]float64) (Model, error) {
	switch name {
	case ModelSeasonalNaive:
		return newSeasonalNaive(e.config.SeasonalPeriod), nil
	case ModelLinearTrend:
		return newLinearTrend(), nil
	case ModelHoltWinters:
		return newHoltWinters(e.config.SeasonalPeriod, hyperparameters), nil
	case ModelARIMA:
		return newARIMA(hyperparameters), nil
	default:
		return nil, fmt.Errorf("unknown model type: %s", name)
	}
}

// Trained pairs a fitted model with its holdout metrics.
type Trained struct {
	Model   Model
	Metrics Metrics
}

// TrainAll fits every enabled model: each is evaluated on a holdout tail,
// then refit on the full history. Models that fail to train are skipped;
// training fails only when no model survives.
func (e *Engine) TrainAll(data []DataPoint, hyperparameters map[string]float64) (map[string]Trained, error) {
	data, err := e.prepare(data)
	if err != nil {
		return nil, err
	}

	trained := make(map[string]Trained)
	for _, name := range e.config.EnabledModels {
		t, err := e.TrainOne(name, data, hyperparameters)
		if err != nil {
			continue
		}
		trained[name] = t
	}

	if len(trained) == 0 {
		return nil, fmt.Errorf("all forecasting models failed to train")
	}
	return trained, nil
}

// TrainOne fits a single model with holdout evaluation.
func (e *Engine) TrainOne(name string, data []DataPoint, hyperparameters map[string]float64) (Trained, error) {
	data, err := e.prepare(data)
	if err != nil {
		return Trained{}, err
	}

	holdout := int(float64(len(data)) * e.config.ValidationSplit)
	if holdout < 1 {
		holdout = 1
	}
	head, tail := data[:len(data)-holdout], data[len(data)-holdout:]

	eval, err := e.NewModel(name, hyperparameters)
	if err != nil {
		return Trained{}, err
	}
	metrics := Metrics{}
	if err := eval.Train(head); err == nil {
		if result, err := eval.Forecast(len(tail), e.config.ConfidenceLevel); err == nil {
			metrics = Evaluate(tail, result.Predictions)
		}
	}

	final, err := e.NewModel(name, hyperparameters)
	if err != nil {
		return Trained{}, err
	}
	if err := final.Train(data); err != nil {
		return Trained{}, fmt.Errorf("train %s: %w", name, err)
	}

	return Trained{Model: final, Metrics: metrics}, nil
}

// Forecast produces predictions from the trained models, applying the
// configured ensemble method when more than one model is available.
func (e *Engine) Forecast(trained map[string]Trained, horizon int, confidence float64) (Result, error) {
	if len(trained) == 0 {
		return Result{}, fmt.Errorf("no trained models available")
	}
	if confidence == 0 {
		confidence = e.config.ConfidenceLevel
	}

	var results []Result
	var metrics []Metrics
	for _, t := range trained {
		result, err := t.Model.Forecast(horizon, confidence)
		if err != nil {
			continue
		}
		result.Metrics = t.Metrics
		results = append(results, result)
		metrics = append(metrics, t.Metrics)
	}
	if len(results) == 0 {
		return Result{}, fmt.Errorf("all forecasting models failed")
	}
	if len(results) == 1 {
		return results[0], nil
	}

	switch e.config.EnsembleMethod {
	case "best":
		return bestResult(results), nil
	case "weighted":
		return combine(results, accuracyWeights(results), "ensemble_weighted", confidence, horizon), nil
	default:
		return combine(results, uniformWeights(len(results)), "ensemble_average", confidence, horizon), nil
	}
}

// prepare sorts, deduplicates by date (last write wins) and applies the
// training size limits.
func (e *Engine) prepare(data []DataPoint) ([]DataPoint, error) {
	if len(data) < e.config.MinTrainPoints {
		return nil, fmt.Errorf("insufficient data: %d points, minimum %d required",
			len(data), e.config.MinTrainPoints)
	}

	sorted := make([]DataPoint, len(data))
	copy(sorted, data)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	deduped := sorted[:0]
	for _, p := range sorted {
		if len(deduped) > 0 && deduped[len(deduped)-1].Date.Equal(p.Date) {
			deduped[len(deduped)-1] = p
			continue
		}
		deduped = append(deduped, p)
	}

	if e.config.MaxTrainPoints > 0 && len(deduped) > e.config.MaxTrainPoints {
		deduped = deduped[len(deduped)-e.config.MaxTrainPoints:]
	}
	if len(deduped) < e.config.MinTrainPoints {
		return nil, fmt.Errorf("insufficient data after deduplication: %d points", len(deduped))
	}
	return deduped, nil
}

func bestResult(results []Result) Result {
	best := results[0]
	for _, r := range results[1:] {
		if r.Metrics.Accuracy() > best.Metrics.Accuracy() {
			best = r
		}
	}
	return best
}

func uniformWeights(n int) []float64 {
	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1.0 / float64(n)
	}
	return weights
}

func accuracyWeights(results []Result) []float64 {
	weights := make([]float64, len(results))
	total := 0.0
	for i, r := range results {
		weights[i] = r.Metrics.Accuracy()
		total += weights[i]
	}
	if total == 0 {
		return uniformWeights(len(results))
	}
	for i := range weights {
		weights[i] /= total
	}
	return weights
}

// combine merges per-model predictions into a single weighted forecast.
func combine(results []Result, weights []float64, method string, confidence float64, horizon int) Result {
	ensemble := Result{
		Predictions:     make([]Point, horizon),
		Method:          method,
		ConfidenceLevel: confidence,
		GeneratedAt:     time.Now().UTC(),
		Horizon:         horizon,
	}

	for i := 0; i < horizon; i++ {
		var value, lower, upper float64
		for j, r := range results {
			if i >= len(r.Predictions) {
				continue
			}
			value += r.Predictions[i].Value * weights[j]
			lower += r.Predictions[i].Lower * weights[j]
			upper += r.Predictions[i].Upper * weights[j]
			if ensemble.Predictions[i].Date.IsZero() {
				ensemble.Predictions[i].Date = r.Predictions[i].Date
			}
		}
		ensemble.Predictions[i].Value = value
		ensemble.Predictions[i].Lower = lower
		ensemble.Predictions[i].Upper = upper
	}

	var accuracy, mae, rmse, mape, coverage float64
	for j, r := range results {
		accuracy += r.Metrics.R2 * weights[j]
		mae += r.Metrics.MAE * weights[j]
		rmse += r.Metrics.RMSE * weights[j]
		mape += r.Metrics.MAPE * weights[j]
		coverage += r.Metrics.Coverage * weights[j]
	}
	ensemble.Metrics = Metrics{MAE: mae, RMSE: rmse, MAPE: mape, R2: accuracy, Coverage: coverage}

	return ensemble
}

// zScore maps the supported confidence levels to normal quantiles.
func zScore(confidence float64) float64 {
	switch {
	case confidence >= 0.99:
		return 2.576
	case confidence >= 0.95:
		return 1.960
	default:
		return 1.645
	}
}

// futureDates generates the horizon's daily timestamps following the last
// training observation.
func futureDates(last time.Time, horizon int) []time.Time {
	dates := make([]time.Time, horizon)
	for i := 0; i < horizon; i++ {
		dates[i] = last.AddDate(0, 0, i+1)
	}
	return dates
}
