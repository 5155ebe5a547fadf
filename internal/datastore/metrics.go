package datastore

import "github.com/tphakala/dronenet-go/internal/observability/metrics"

// Metrics records per-operation counts and latency.
type Metrics = metrics.DatastoreMetrics
