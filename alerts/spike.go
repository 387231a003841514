package alerts

import (
	"math"

	"sales-forecasting-platform/store"
)

// SpikeDetector flags days whose sales deviate from the recent mean by more
// than threshold standard deviations.
type SpikeDetector struct {
	windowDays int
	threshold  float64
}

// NewSpikeDetector creates a detector over a trailing window.
func NewSpikeDetector(windowDays int, threshold float64) *SpikeDetector {
	if windowDays < 7 {
		windowDays = 7
	}
	if threshold <= 0 {
		threshold = 3.0
	}
	return &SpikeDetector{windowDays: windowDays, threshold: threshold}
}

// WindowDays returns the trailing window length the detector needs.
func (d *SpikeDetector) WindowDays() int { return d.windowDays }

// Check examines the most recent day against the preceding window. Records
// must be ordered by date ascending. Returns the z-score and whether it
// crossed the threshold.
func (d *SpikeDetector) Check(records []store.SalesRecord) (float64, bool) {
	if len(records) < 8 {
		return 0, false
	}

	latest := records[len(records)-1]
	window := records[:len(records)-1]
	if len(window) > d.windowDays {
		window = window[len(window)-d.windowDays:]
	}

	var sum float64
	for _, r := range window {
		sum += float64(r.Quantity)
	}
	mean := sum / float64(len(window))

	var sq float64
	for _, r := range window {
		diff := float64(r.Quantity) - mean
		sq += diff * diff
	}
	stddev := math.Sqrt(sq / float64(len(window)-1))
	if stddev == 0 {
		// Flat history: any change at all is a spike.
		if float64(latest.Quantity) != mean {
			return math.Inf(1), true
		}
		return 0, false
	}

	z := (float64(latest.Quantity) - mean) / stddev
	return z, math.Abs(z) >= d.threshold
}
