package api

import (
	"net/http"
	"slices"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/dronenet-go/internal/conf"
)

// NodeStatus is one entry of GET /nodes.
type NodeStatus struct {
	NodeID     int        `json:"node_id"`
	Position   []float64  `json:"position,omitempty"`
	Configured bool       `json:"configured"`
	Online     bool       `json:"online"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
	Present    bool       `json:"present"`
	Seq        int64      `json:"seq"`
}

// ConfigResponse is the body of GET /config. Credentials are never included.
type ConfigResponse struct {
	Nodes          []conf.NodeGeometry `json:"nodes"`
	GridBounds     conf.GridBounds     `json:"grid_bounds"`
	GridStep       float64             `json:"grid_step"`
	RateHz         float64             `json:"rate_hz"`
	OfflineTimeout float64             `json:"offline_timeout_s"`
	StreamInterval float64             `json:"stream_interval_s"`
}

// HealthCheck handles the API health check endpoint
func (c *Controller) HealthCheck(ctx echo.Context) error {
	online := 0
	health := c.state.NodeHealth()
	for _, h := range health {
		if h.Online {
			online++
		}
	}
	uptime := time.Since(c.startTime)
	return ctx.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"timestamp":      time.Now().Format(time.RFC3339),
		"uptime":         uptime.Truncate(time.Second).String(),
		"uptime_seconds": uptime.Seconds(),
		"nodes_seen":     len(health),
		"nodes_online":   online,
		"stream_clients": c.StreamClientCount(),
	})
}

// GetState returns the current fusion estimate.
func (c *Controller) GetState(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.state.FusionState())
}

// GetNodes merges configured node positions with live health, sorted by id.
// Nodes that report without being configured are listed with configured=false.
func (c *Controller) GetNodes(ctx echo.Context) error {
	byID := make(map[int]*NodeStatus)
	if c.settings != nil {
		for _, n := range c.settings.Nodes {
			byID[n.NodeID] = &NodeStatus{NodeID: n.NodeID, Position: n.Position, Configured: true}
		}
	}
	for id, h := range c.state.NodeHealth() {
		ns, ok := byID[id]
		if !ok {
			ns = &NodeStatus{NodeID: id}
			byID[id] = ns
		}
		lastSeen := h.LastSeen
		ns.Online = h.Online
		ns.LastSeen = &lastSeen
		ns.Present = h.Present
		ns.Seq = h.Seq
	}

	out := make([]NodeStatus, 0, len(byID))
	for _, ns := range byID {
		out = append(out, *ns)
	}
	slices.SortFunc(out, func(a, b NodeStatus) int { return a.NodeID - b.NodeID })
	return ctx.JSON(http.StatusOK, out)
}

// GetConfig returns the geometry and localization settings. The response is
// cached since settings do not change while the server runs.
func (c *Controller) GetConfig(ctx echo.Context) error {
	if cached, ok := c.configCache.Get(configCacheKey); ok {
		return ctx.JSON(http.StatusOK, cached)
	}
	resp := c.buildConfigResponse()
	c.configCache.SetDefault(configCacheKey, resp)
	return ctx.JSON(http.StatusOK, resp)
}

func (c *Controller) buildConfigResponse() ConfigResponse {
	resp := ConfigResponse{
		Nodes:          []conf.NodeGeometry{},
		StreamInterval: c.streamInterval.Seconds(),
	}
	if c.settings == nil {
		return resp
	}
	resp.Nodes = slices.Clone(c.settings.Nodes)
	slices.SortFunc(resp.Nodes, func(a, b conf.NodeGeometry) int { return a.NodeID - b.NodeID })
	resp.GridBounds = c.settings.Localization.GridBounds
	resp.GridStep = c.settings.Localization.GridStep
	resp.RateHz = c.settings.Localization.RateHz
	resp.OfflineTimeout = c.settings.OfflineTimeout.Seconds()
	return resp
}
