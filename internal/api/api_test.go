package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/dronenet-go/internal/calibration"
	"github.com/tphakala/dronenet-go/internal/conf"
	"github.com/tphakala/dronenet-go/internal/detection"
	"github.com/tphakala/dronenet-go/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testSettings() *conf.ServerSettings {
	return &conf.ServerSettings{
		OfflineTimeout: 2 * time.Second,
		Nodes: []conf.NodeGeometry{
			{NodeID: 2, Position: []float64{20, 0, 1}},
			{NodeID: 1, Position: []float64{0, 0, 1}},
		},
		Localization: conf.LocalizationSettings{
			RateHz:     10,
			GridStep:   1,
			GridBounds: conf.GridBounds{X: []float64{-5, 25}, Y: []float64{-5, 25}, Z: []float64{0, 15}},
		},
	}
}

func newTestController(t *testing.T, opts ...Option) (*Controller, *store.FrameStore) {
	t.Helper()
	st := store.New()
	mgr := calibration.NewManager(st, t.TempDir())
	opts = append([]Option{WithCalibration(mgr)}, opts...)
	return New(testSettings(), st, opts...), st
}

func do(t *testing.T, c *Controller, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)
	return rec
}

func TestGetState(t *testing.T) {
	t.Parallel()
	c, st := newTestController(t)
	st.UpdateFusionState(detection.FusionState{
		Timestamp:  time.Now(),
		Present:    true,
		Position:   [3]float64{10, 10, 5},
		Confidence: 0.8,
	})

	rec := do(t, c, http.MethodGet, "/api/v1/state", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got detection.FusionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Present)
	assert.Equal(t, [3]float64{10, 10, 5}, got.Position)
	assert.InDelta(t, 0.8, got.Confidence, 1e-12)
}

func TestGetNodesMergesConfigAndHealth(t *testing.T) {
	t.Parallel()
	c, st := newTestController(t)
	st.UpdateFrame(&detection.Frame{NodeID: 1, Seq: 7, Timestamp: time.Now(), Present: true})
	st.UpdateFrame(&detection.Frame{NodeID: 3, Seq: 1, Timestamp: time.Now()})

	rec := do(t, c, http.MethodGet, "/api/v1/nodes", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []NodeStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 3)

	assert.Equal(t, 1, got[0].NodeID)
	assert.True(t, got[0].Configured)
	assert.True(t, got[0].Online)
	assert.True(t, got[0].Present)
	assert.Equal(t, int64(7), got[0].Seq)
	assert.Equal(t, []float64{0, 0, 1}, got[0].Position)

	assert.Equal(t, 2, got[1].NodeID)
	assert.False(t, got[1].Online)
	assert.Nil(t, got[1].LastSeen)

	assert.Equal(t, 3, got[2].NodeID)
	assert.False(t, got[2].Configured)
	assert.True(t, got[2].Online)
}

func TestGetConfigIsCached(t *testing.T) {
	t.Parallel()
	c, _ := newTestController(t)

	rec := do(t, c, http.MethodGet, "/api/v1/config", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got ConfigResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Nodes, 2)
	assert.Equal(t, 1, got.Nodes[0].NodeID)
	assert.Equal(t, []float64{-5, 25}, got.GridBounds.X)
	assert.InDelta(t, 10.0, got.RateHz, 1e-12)
	assert.InDelta(t, 0.2, got.StreamInterval, 1e-12)
	assert.NotContains(t, rec.Body.String(), "password")

	c.settings.Localization.RateHz = 50
	rec = do(t, c, http.MethodGet, "/api/v1/config", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.InDelta(t, 10.0, got.RateHz, 1e-12, "served from cache")
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()
	c, st := newTestController(t)
	st.UpdateFrame(&detection.Frame{NodeID: 1, Seq: 1, Timestamp: time.Now()})

	rec := do(t, c, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "healthy", got["status"])
	assert.InDelta(t, 1.0, got["nodes_online"], 1e-12)
}

func TestCalibrationEndpoints(t *testing.T) {
	t.Parallel()
	c, _ := newTestController(t)

	rec := do(t, c, http.MethodPost, "/api/v1/calibration/1", `{"duration_s": 30}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var job calibration.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, 1, job.NodeID)
	assert.Equal(t, calibration.StatusPending, job.Status)
	assert.InDelta(t, 30.0, job.Duration, 1e-12)
	require.NotEmpty(t, job.ID)

	rec = do(t, c, http.MethodPost, "/api/v1/calibration/1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, c, http.MethodGet, "/api/v1/calibration/"+job.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched calibration.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, job.ID, fetched.ID)

	rec = do(t, c, http.MethodGet, "/api/v1/calibration", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs []calibration.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	assert.Len(t, jobs, 1)
}

func TestCalibrationDefaultsDuration(t *testing.T) {
	t.Parallel()
	c, _ := newTestController(t)

	rec := do(t, c, http.MethodPost, "/api/v1/calibration/2", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var job calibration.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.InDelta(t, float64(DefaultCalibrationSeconds), job.Duration, 1e-12)
}

func TestCalibrationErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"bad node id", http.MethodPost, "/api/v1/calibration/abc", "", http.StatusBadRequest},
		{"unknown node", http.MethodPost, "/api/v1/calibration/99", "", http.StatusNotFound},
		{"negative duration", http.MethodPost, "/api/v1/calibration/1", `{"duration_s": -5}`, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/api/v1/calibration/1", `{"duration_s": "long"}`, http.StatusBadRequest},
		{"unknown job", http.MethodGet, "/api/v1/calibration/does-not-exist", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, _ := newTestController(t)
			rec := do(t, c, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp.Code)
			assert.Len(t, resp.CorrelationID, 8)
		})
	}
}

func TestCalibrationDisabled(t *testing.T) {
	t.Parallel()
	c := New(testSettings(), store.New())
	rec := do(t, c, http.MethodPost, "/api/v1/calibration/1", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, c, http.MethodGet, "/api/v1/calibration", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestStreamState(t *testing.T) {
	t.Parallel()
	c, st := newTestController(t, WithStreamInterval(20*time.Millisecond))
	st.UpdateFusionState(detection.FusionState{Present: true, Position: [3]float64{1, 2, 3}})

	ctx, cancel := context.WithTimeout(t.Context(), 150*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream", http.NoBody).WithContext(ctx)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: connected\n"))
	assert.Contains(t, body, "event: state\n")
	assert.Contains(t, body, `"position":[1,2,3]`)
	assert.Zero(t, c.StreamClientCount())
}

func TestStreamEndsOnShutdown(t *testing.T) {
	t.Parallel()
	c, _ := newTestController(t, WithStreamInterval(10*time.Millisecond))

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/stream", http.NoBody)
		c.Echo.ServeHTTP(httptest.NewRecorder(), req)
	}()

	assert.Eventually(t, func() bool { return c.StreamClientCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Shutdown(t.Context()))

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("stream did not end on shutdown")
	}
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "dronenet_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	c, _ := newTestController(t, WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	rec := do(t, c, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dronenet_test_total 1")
}

func TestStatusForError(t *testing.T) {
	t.Parallel()
	_, err := calibration.NewManager(store.New(), t.TempDir()).StartJob(1, 0)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, statusForError(err))
	assert.Equal(t, http.StatusInternalServerError, statusForError(assert.AnError))
}
