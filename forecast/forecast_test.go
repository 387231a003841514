package forecast

import (
	"math"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		SeasonalPeriod:  7,
		MinTrainPoints:  30,
		MaxTrainPoints:  10000,
		EnabledModels:   []string{ModelSeasonalNaive, ModelLinearTrend, ModelHoltWinters, ModelARIMA},
		EnsembleMethod:  "weighted",
		ValidationSplit: 0.2,
		ConfidenceLevel: 0.95,
	}
}

// seasonalSeries generates n days of trending sales with a weekly cycle.
func seasonalSeries(n int) []DataPoint {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	data := make([]DataPoint, n)
	for i := 0; i < n; i++ {
		base := 100.0 + 0.5*float64(i)
		seasonal := 20.0 * math.Sin(2*math.Pi*float64(i)/7.0)
		data[i] = DataPoint{Date: start.AddDate(0, 0, i), Value: base + seasonal}
	}
	return data
}

func TestEngineTrainAll(t *testing.T) {
	engine := NewEngine(testConfig())
	trained, err := engine.TrainAll(seasonalSeries(90), nil)
	if err != nil {
		t.Fatalf("TrainAll failed: %v", err)
	}
	if len(trained) != 4 {
		t.Errorf("expected 4 trained models, got %d", len(trained))
	}
	for name, tr := range trained {
		if tr.Model.Name() != name {
			t.Errorf("model name mismatch: key %s, Name() %s", name, tr.Model.Name())
		}
	}
}

func TestEngineRejectsShortHistory(t *testing.T) {
	engine := NewEngine(testConfig())
	if _, err := engine.TrainAll(seasonalSeries(10), nil); err == nil {
		t.Error("expected error for history shorter than minimum")
	}
}

func TestEngineDeduplicatesDates(t *testing.T) {
	engine := NewEngine(testConfig())
	data := seasonalSeries(60)
	// Duplicate a date with a different value; the later row should win.
	data = append(data, DataPoint{Date: data[30].Date, Value: 9999})

	prepared, err := engine.prepare(data)
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	if len(prepared) != 60 {
		t.Errorf("expected 60 points after dedup, got %d", len(prepared))
	}
	if prepared[30].Value != 9999 {
		t.Errorf("expected last write to win, got %f", prepared[30].Value)
	}
}

func TestForecastHorizonAndBounds(t *testing.T) {
	engine := NewEngine(testConfig())
	trained, err := engine.TrainAll(seasonalSeries(120), nil)
	if err != nil {
		t.Fatalf("TrainAll failed: %v", err)
	}

	result, err := engine.Forecast(trained, 14, 0.95)
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}
	if len(result.Predictions) != 14 {
		t.Fatalf("expected 14 predictions, got %d", len(result.Predictions))
	}
	for i, p := range result.Predictions {
		if p.Lower > p.Value || p.Upper < p.Value {
			t.Errorf("prediction %d: bounds do not bracket value (%f, %f, %f)",
				i, p.Lower, p.Value, p.Upper)
		}
		if p.Date.IsZero() {
			t.Errorf("prediction %d has zero date", i)
		}
	}
}

func TestForecastDatesFollowTraining(t *testing.T) {
	engine := NewEngine(testConfig())
	data := seasonalSeries(60)
	trained, err := engine.TrainAll(data, nil)
	if err != nil {
		t.Fatalf("TrainAll failed: %v", err)
	}

	result, err := engine.Forecast(trained, 7, 0.95)
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}
	want := data[len(data)-1].Date.AddDate(0, 0, 1)
	if !result.Predictions[0].Date.Equal(want) {
		t.Errorf("first prediction date = %v, want %v", result.Predictions[0].Date, want)
	}
}

func TestEnsembleMethods(t *testing.T) {
	data := seasonalSeries(120)
	for _, method := range []string{"average", "weighted", "best"} {
		cfg := testConfig()
		cfg.EnsembleMethod = method
		engine := NewEngine(cfg)

		trained, err := engine.TrainAll(data, nil)
		if err != nil {
			t.Fatalf("TrainAll (%s) failed: %v", method, err)
		}
		result, err := engine.Forecast(trained, 7, 0.95)
		if err != nil {
			t.Fatalf("Forecast (%s) failed: %v", method, err)
		}
		if len(result.Predictions) != 7 {
			t.Errorf("%s: expected 7 predictions, got %d", method, len(result.Predictions))
		}
		if result.Method == "" {
			t.Errorf("%s: empty method name", method)
		}
	}
}

func TestConfidenceLevelsWidenIntervals(t *testing.T) {
	engine := NewEngine(testConfig())
	trained, err := engine.TrainOne(ModelHoltWinters, seasonalSeries(90), nil)
	if err != nil {
		t.Fatalf("TrainOne failed: %v", err)
	}

	narrow, err := trained.Model.Forecast(7, 0.90)
	if err != nil {
		t.Fatalf("Forecast at 0.90 failed: %v", err)
	}
	wide, err := trained.Model.Forecast(7, 0.99)
	if err != nil {
		t.Fatalf("Forecast at 0.99 failed: %v", err)
	}
	narrowSpread := narrow.Predictions[0].Upper - narrow.Predictions[0].Lower
	wideSpread := wide.Predictions[0].Upper - wide.Predictions[0].Lower
	if wideSpread <= narrowSpread {
		t.Errorf("0.99 interval (%f) not wider than 0.90 interval (%f)", wideSpread, narrowSpread)
	}
}

func TestSeasonalNaiveRepeatsSeason(t *testing.T) {
	data := seasonalSeries(70)
	model := newSeasonalNaive(7)
	if err := model.Train(data); err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	result, err := model.Forecast(7, 0.95)
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}
	for i := 0; i < 7; i++ {
		want := data[len(data)-7+i].Value
		if math.Abs(result.Predictions[i].Value-want) > 1e-9 {
			t.Errorf("day %d: got %f, want %f", i, result.Predictions[i].Value, want)
		}
	}
}

func TestLinearTrendRecoversSlope(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	data := make([]DataPoint, 60)
	for i := range data {
		data[i] = DataPoint{Date: start.AddDate(0, 0, i), Value: 50 + 2*float64(i)}
	}

	model := newLinearTrend()
	if err := model.Train(data); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if math.Abs(model.Slope-2) > 1e-9 {
		t.Errorf("slope = %f, want 2", model.Slope)
	}

	result, err := model.Forecast(5, 0.95)
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}
	want := 50 + 2*float64(60)
	if math.Abs(result.Predictions[0].Value-want) > 1e-6 {
		t.Errorf("first prediction = %f, want %f", result.Predictions[0].Value, want)
	}
}

func TestHoltWintersTracksSeasonality(t *testing.T) {
	engine := NewEngine(testConfig())
	trained, err := engine.TrainOne(ModelHoltWinters, seasonalSeries(140), nil)
	if err != nil {
		t.Fatalf("TrainOne failed: %v", err)
	}
	// A clean seasonal series should be explained well on the holdout.
	if trained.Metrics.R2 < 0.6 {
		t.Errorf("holt-winters R2 = %f on clean seasonal data, expected > 0.6", trained.Metrics.R2)
	}
}

func TestARIMAFollowsTrend(t *testing.T) {
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	data := make([]DataPoint, 80)
	for i := range data {
		data[i] = DataPoint{Date: start.AddDate(0, 0, i), Value: 10 + 3*float64(i)}
	}

	model := newARIMA(nil)
	if err := model.Train(data); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	result, err := model.Forecast(5, 0.95)
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}
	// With d=1 a pure linear ramp should continue within a loose tolerance.
	want := 10 + 3*float64(80)
	if math.Abs(result.Predictions[0].Value-want) > 1.0 {
		t.Errorf("first prediction = %f, want ~%f", result.Predictions[0].Value, want)
	}
}

func TestARIMAFlatSeries(t *testing.T) {
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	data := make([]DataPoint, 40)
	for i := range data {
		data[i] = DataPoint{Date: start.AddDate(0, 0, i), Value: 25}
	}

	// Differencing a constant series leaves all zeros; the fit must not
	// reject it as singular.
	model := newARIMA(nil)
	if err := model.Train(data); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	result, err := model.Forecast(7, 0.95)
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}
	for i, p := range result.Predictions {
		if math.Abs(p.Value-25) > 1e-9 {
			t.Errorf("prediction %d = %f, want 25", i, p.Value)
		}
	}
}

func TestModelStateRoundTrip(t *testing.T) {
	engine := NewEngine(testConfig())
	data := seasonalSeries(90)

	for _, name := range testConfig().EnabledModels {
		trained, err := engine.TrainOne(name, data, nil)
		if err != nil {
			t.Fatalf("TrainOne(%s) failed: %v", name, err)
		}
		state, err := trained.Model.State()
		if err != nil {
			t.Fatalf("State(%s) failed: %v", name, err)
		}

		restored, err := engine.NewModel(name, nil)
		if err != nil {
			t.Fatalf("NewModel(%s) failed: %v", name, err)
		}
		if err := restored.Restore(state); err != nil {
			t.Fatalf("Restore(%s) failed: %v", name, err)
		}

		original, err := trained.Model.Forecast(7, 0.95)
		if err != nil {
			t.Fatalf("Forecast(%s) failed: %v", name, err)
		}
		roundTripped, err := restored.Forecast(7, 0.95)
		if err != nil {
			t.Fatalf("restored Forecast(%s) failed: %v", name, err)
		}
		for i := range original.Predictions {
			if math.Abs(original.Predictions[i].Value-roundTripped.Predictions[i].Value) > 1e-9 {
				t.Errorf("%s: prediction %d differs after state round trip", name, i)
			}
		}
	}
}

func TestEvaluateMetrics(t *testing.T) {
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	actuals := []DataPoint{
		{Date: start, Value: 100},
		{Date: start.AddDate(0, 0, 1), Value: 110},
		{Date: start.AddDate(0, 0, 2), Value: 90},
	}
	predictions := []Point{
		{Date: start, Value: 105, Lower: 95, Upper: 115},
		{Date: start.AddDate(0, 0, 1), Value: 110, Lower: 100, Upper: 120},
		{Date: start.AddDate(0, 0, 2), Value: 100, Lower: 85, Upper: 115},
	}

	m := Evaluate(actuals, predictions)
	if math.Abs(m.MAE-5) > 1e-9 {
		t.Errorf("MAE = %f, want 5", m.MAE)
	}
	if m.Coverage != 100 {
		t.Errorf("Coverage = %f, want 100", m.Coverage)
	}
	if m.RMSE < m.MAE {
		t.Errorf("RMSE (%f) should be >= MAE (%f)", m.RMSE, m.MAE)
	}
}

func TestAccuracyClamps(t *testing.T) {
	if got := (Metrics{R2: -3}).Accuracy(); got != 0.05 {
		t.Errorf("negative R2 accuracy = %f, want 0.05", got)
	}
	if got := (Metrics{R2: math.NaN()}).Accuracy(); got != 0.05 {
		t.Errorf("NaN R2 accuracy = %f, want 0.05", got)
	}
	if got := (Metrics{R2: 0.8}).Accuracy(); got != 0.8 {
		t.Errorf("accuracy = %f, want 0.8", got)
	}
}

func TestZScore(t *testing.T) {
	cases := []struct {
		confidence float64
		want       float64
	}{
		{0.99, 2.576},
		{0.95, 1.960},
		{0.90, 1.645},
	}
	for _, c := range cases {
		if got := zScore(c.confidence); got != c.want {
			t.Errorf("zScore(%f) = %f, want %f", c.confidence, got, c.want)
		}
	}
}

func BenchmarkTrainAll(b *testing.B) {
	engine := NewEngine(testConfig())
	data := seasonalSeries(365)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.TrainAll(data, nil); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkForecast30Days(b *testing.B) {
	engine := NewEngine(testConfig())
	trained, err := engine.TrainAll(seasonalSeries(365), nil)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Forecast(trained, 30, 0.95); err != nil {
			b.Fatal(err)
		}
	}
}
