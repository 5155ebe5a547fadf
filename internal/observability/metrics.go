// Package observability provides Prometheus metrics for the node agent and
// the fusion server. Sentry error telemetry lives in the telemetry package.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/dronenet-go/internal/observability/metrics"
)

// Metrics holds the collectors of one process. Collectors that do not apply
// to the process role are nil.
type Metrics struct {
	registry     *prometheus.Registry
	Node         *metrics.NodeMetrics
	Receiver     *metrics.ReceiverMetrics
	Localization *metrics.LocalizationMetrics
	MQTT         *metrics.MQTTMetrics
	Datastore    *metrics.DatastoreMetrics
}

func newRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// NewNodeMetrics creates the metrics of a sensor node.
func NewNodeMetrics() (*Metrics, error) {
	registry := newRegistry()
	nodeMetrics, err := metrics.NewNodeMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create node metrics: %w", err)
	}
	return &Metrics{registry: registry, Node: nodeMetrics}, nil
}

// NewServerMetrics creates the metrics of the fusion server.
func NewServerMetrics() (*Metrics, error) {
	registry := newRegistry()

	receiverMetrics, err := metrics.NewReceiverMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create receiver metrics: %w", err)
	}

	localizationMetrics, err := metrics.NewLocalizationMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create localization metrics: %w", err)
	}

	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}

	datastoreMetrics, err := metrics.NewDatastoreMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create Datastore metrics: %w", err)
	}

	return &Metrics{
		registry:     registry,
		Receiver:     receiverMetrics,
		Localization: localizationMetrics,
		MQTT:         mqttMetrics,
		Datastore:    datastoreMetrics,
	}, nil
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// RegisterHandlers registers the metrics endpoint with the provided mux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", m.Handler())
}
