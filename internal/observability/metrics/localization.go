package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Tick outcome labels.
const (
	TickSkipped = "skipped"
	TickSilent  = "silent"
	TickLocated = "located"
)

// LocalizationMetrics tracks the fusion loop.
type LocalizationMetrics struct {
	ticksTotal   *prometheus.CounterVec
	tickDuration prometheus.Histogram
	overruns     prometheus.Counter
	present      prometheus.Gauge
	confidence   prometheus.Gauge
	cost         prometheus.Gauge
	position     *prometheus.GaugeVec
}

// NewLocalizationMetrics creates and registers the localization collectors.
func NewLocalizationMetrics(registry *prometheus.Registry) (*LocalizationMetrics, error) {
	m := &LocalizationMetrics{
		ticksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "localization_ticks_total",
			Help: "Localization ticks, by outcome",
		}, []string{"outcome"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "localization_tick_duration_seconds",
			Help:    "Time spent in one localization tick",
			Buckets: prometheus.ExponentialBuckets(tickDurationStart, tickDurationFactor, tickDurationCount),
		}),
		overruns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "localization_tick_overruns_total",
			Help: "Ticks that finished after the next scheduled deadline",
		}),
		present: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "localization_present",
			Help: "1 while a source is being tracked",
		}),
		confidence: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "localization_confidence",
			Help: "Confidence of the latest estimate",
		}),
		cost: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "localization_cost",
			Help: "Residual cost of the latest grid search",
		}),
		position: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "localization_position_meters",
			Help: "Smoothed source position",
		}, []string{"axis"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register localization metrics: %w", err)
	}
	return m, nil
}

// RecordTick counts one tick and its duration.
func (m *LocalizationMetrics) RecordTick(outcome string, seconds float64) {
	m.ticksTotal.WithLabelValues(outcome).Inc()
	m.tickDuration.Observe(seconds)
}

// IncrementOverruns counts a tick that missed its deadline.
func (m *LocalizationMetrics) IncrementOverruns() {
	m.overruns.Inc()
}

// RecordEstimate stores the latest published estimate.
func (m *LocalizationMetrics) RecordEstimate(present bool, confidence, cost float64, position [3]float64) {
	if present {
		m.present.Set(1)
	} else {
		m.present.Set(0)
	}
	m.confidence.Set(confidence)
	m.cost.Set(cost)
	for i, axis := range []string{"x", "y", "z"} {
		m.position.WithLabelValues(axis).Set(position[i])
	}
}

// Describe implements the prometheus.Collector interface.
func (m *LocalizationMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ticksTotal.Describe(ch)
	m.tickDuration.Describe(ch)
	m.overruns.Describe(ch)
	m.present.Describe(ch)
	m.confidence.Describe(ch)
	m.cost.Describe(ch)
	m.position.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *LocalizationMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ticksTotal.Collect(ch)
	m.tickDuration.Collect(ch)
	m.overruns.Collect(ch)
	m.present.Collect(ch)
	m.confidence.Collect(ch)
	m.cost.Collect(ch)
	m.position.Collect(ch)
}
