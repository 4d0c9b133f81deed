package metrics

import "strconv"

// MetricsWrapper adapts Metrics to the narrow interfaces the ml and api
// packages depend on.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) PredictionsInc() {
	w.m.Predictions.Inc()
}

func (w *MetricsWrapper) PredictionFailuresInc(kind string) {
	w.m.PredictionFailures.WithLabelValues(kind).Inc()
}

func (w *MetricsWrapper) ValidationFailuresInc(cause string) {
	w.m.ValidationFailures.WithLabelValues(cause).Inc()
}

func (w *MetricsWrapper) PredictionLatencyObserve(v float64) {
	w.m.PredictionLatency.Observe(v)
}

func (w *MetricsWrapper) ExplanationLatencyObserve(v float64) {
	w.m.ExplanationLatency.Observe(v)
}

func (w *MetricsWrapper) EfficiencyResidualObserve(v float64) {
	w.m.EfficiencyResidual.Observe(v)
}

func (w *MetricsWrapper) InputOutOfRangeInc(feature string) {
	w.m.InputOutOfRange.WithLabelValues(feature).Inc()
}

func (w *MetricsWrapper) SensitivityRunsInc() {
	w.m.SensitivityRuns.Inc()
}

func (w *MetricsWrapper) ModelReloadsInc(result string) {
	w.m.ModelReloads.WithLabelValues(result).Inc()
}

func (w *MetricsWrapper) ModelAgeSet(v float64) {
	w.m.ModelAge.Set(v)
}

func (w *MetricsWrapper) RecorderErrorsInc() {
	w.m.RecorderErrors.Inc()
}

// HTTPRequestObserve records one finished API request.
func (w *MetricsWrapper) HTTPRequestObserve(route string, code int, seconds float64) {
	w.m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	w.m.HTTPRequestTime.WithLabelValues(route).Observe(seconds)
}
