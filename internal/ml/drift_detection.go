package ml

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"

	"ev-insight/internal/artifact"
	"ev-insight/internal/features"
)

// minDriftSamples is the window fill needed before drift is reported.
const minDriftSamples = 30

// DriftConfig configures input drift detection
type DriftConfig struct {
	Window        int           `yaml:"window"`
	Threshold     float64       `yaml:"threshold"`
	AlertCooldown time.Duration `yaml:"alert_cooldown"`
}

// DriftDetector compares a rolling window of request inputs with the
// training distribution recorded in the artifact. Shift is measured in units
// of the fitted scale, i.e. how far the window mean sits from the training
// mean after standardisation.
type DriftDetector struct {
	mu            sync.Mutex
	names         []string
	fixed         []bool
	trainingMean  []float64
	scale         []float64
	windows       [][]float64
	next          int
	filled        int
	threshold     float64
	alertCooldown time.Duration
	lastAlertTime time.Time
}

// DriftAlert reports one feature whose recent inputs moved away from training.
type DriftAlert struct {
	Timestamp    time.Time `json:"timestamp"`
	FeatureName  string    `json:"feature_name"`
	WindowMean   float64   `json:"window_mean"`
	WindowStdDev float64   `json:"window_std_dev"`
	TrainingMean float64   `json:"training_mean"`
	Shift        float64   `json:"shift"`
	Threshold    float64   `json:"threshold"`
	Severity     string    `json:"severity"`
	Samples      int       `json:"samples"`
}

// NewDriftDetector returns nil when cfg.Window is not positive, which
// disables detection.
func NewDriftDetector(a *artifact.Artifact, cfg DriftConfig) *DriftDetector {
	if cfg.Window <= 0 {
		return nil
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 1.0
	}
	if cfg.AlertCooldown == 0 {
		cfg.AlertCooldown = 1 * time.Hour
	}

	mean, scale := a.Scaler.Params()
	dd := &DriftDetector{
		names:         a.Schema.Names(),
		fixed:         make([]bool, a.Schema.Len()),
		trainingMean:  mean,
		scale:         scale,
		windows:       make([][]float64, a.Schema.Len()),
		threshold:     cfg.Threshold,
		alertCooldown: cfg.AlertCooldown,
	}
	for i := range dd.windows {
		dd.windows[i] = make([]float64, cfg.Window)
		dd.fixed[i] = a.Features[i].Fixed
	}
	return dd
}

// Observe adds one raw input vector to the window.
func (dd *DriftDetector) Observe(v features.Vector) {
	if dd == nil {
		return
	}
	dd.mu.Lock()
	defer dd.mu.Unlock()

	for i, value := range v {
		dd.windows[i][dd.next] = value
	}
	size := len(dd.windows[0])
	dd.next = (dd.next + 1) % size
	if dd.filled < size {
		dd.filled++
	}
}

// Detect returns one alert per drifting feature. Fixed features are skipped.
func (dd *DriftDetector) Detect() []DriftAlert {
	if dd == nil {
		return nil
	}
	dd.mu.Lock()
	defer dd.mu.Unlock()

	if dd.filled < min(minDriftSamples, len(dd.windows[0])) {
		return nil
	}

	now := time.Now()
	var alerts []DriftAlert
	for i, name := range dd.names {
		if dd.fixed[i] {
			continue
		}
		mean, std := stat.MeanStdDev(dd.windows[i][:dd.filled], nil)
		shift := math.Abs(mean-dd.trainingMean[i]) / math.Abs(dd.scale[i])
		if shift <= dd.threshold {
			continue
		}

		severity := "medium"
		if shift > 2*dd.threshold {
			severity = "high"
		}
		alerts = append(alerts, DriftAlert{
			Timestamp:    now,
			FeatureName:  name,
			WindowMean:   mean,
			WindowStdDev: std,
			TrainingMean: dd.trainingMean[i],
			Shift:        shift,
			Threshold:    dd.threshold,
			Severity:     severity,
			Samples:      dd.filled,
		})
	}

	if len(alerts) > 0 && now.Sub(dd.lastAlertTime) > dd.alertCooldown {
		dd.lastAlertTime = now
		for _, a := range alerts {
			log.Warn().
				Str("feature", a.FeatureName).
				Float64("shift", a.Shift).
				Str("severity", a.Severity).
				Int("samples", a.Samples).
				Msg("Input drift detected")
		}
	}
	return alerts
}

// Reset clears the window.
func (dd *DriftDetector) Reset() {
	if dd == nil {
		return
	}
	dd.mu.Lock()
	defer dd.mu.Unlock()
	dd.next, dd.filled = 0, 0
}
