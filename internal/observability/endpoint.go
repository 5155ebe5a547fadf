package observability

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/tphakala/dronenet-go/internal/logger"
	metricspkg "github.com/tphakala/dronenet-go/internal/observability/metrics"
)

// Endpoint serves /metrics on its own listener. The fusion server mounts the
// handler on its API instead; nodes, which have no API, use this.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
}

// NewEndpoint creates an endpoint for the given metrics.
func NewEndpoint(listenAddress string, metrics *Metrics) *Endpoint {
	return &Endpoint{
		listenAddress: listenAddress,
		metrics:       metrics,
	}
}

// Start runs the HTTP server until quitChan is closed.
func (e *Endpoint) Start(wg *sync.WaitGroup, quitChan <-chan struct{}) {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)

	e.server = &http.Server{
		Addr:              e.listenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log := GetLogger()
	wg.Go(func() {
		log.Info("metrics endpoint starting", logger.String("address", e.listenAddress))
		if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics HTTP server error", logger.Error(err))
		}
	})

	wg.Go(func() {
		e.gracefulShutdown(quitChan)
	})
}

func (e *Endpoint) gracefulShutdown(quitChan <-chan struct{}) {
	<-quitChan
	log := GetLogger()
	log.Info("stopping metrics endpoint")
	ctx, cancel := context.WithTimeout(context.Background(), metricspkg.ShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(ctx); err != nil {
		log.Error("metrics server shutdown error", logger.Error(err))
	}
}
