package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/dronenet-go/internal/calibration"
	"github.com/tphakala/dronenet-go/internal/errors"
)

// DefaultCalibrationSeconds is used when the request omits duration_s.
const DefaultCalibrationSeconds = 60

// CalibrationRequest is the body of POST /calibration/:node.
type CalibrationRequest struct {
	DurationS float64 `json:"duration_s"`
}

// StartCalibration queues a noise-floor calibration for one node.
func (c *Controller) StartCalibration(ctx echo.Context) error {
	if c.calibration == nil {
		return c.HandleError(ctx, nil, "Calibration is not enabled", http.StatusServiceUnavailable)
	}

	nodeID, err := strconv.Atoi(ctx.Param("node"))
	if err != nil || nodeID < 0 {
		return c.HandleError(ctx, err, "Invalid node id", http.StatusBadRequest)
	}
	if !c.knownNode(nodeID) {
		return c.HandleError(ctx, nil, "Unknown node "+strconv.Itoa(nodeID), http.StatusNotFound)
	}

	req := CalibrationRequest{}
	if ctx.Request().ContentLength != 0 {
		if err := ctx.Bind(&req); err != nil {
			return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
		}
	}
	if req.DurationS == 0 {
		req.DurationS = DefaultCalibrationSeconds
	}

	job, err := c.calibration.StartJob(nodeID, time.Duration(req.DurationS*float64(time.Second)))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to start calibration", statusForError(err))
	}
	return ctx.JSON(http.StatusAccepted, job)
}

// GetCalibrationJob returns one job by id.
func (c *Controller) GetCalibrationJob(ctx echo.Context) error {
	if c.calibration == nil {
		return c.HandleError(ctx, nil, "Calibration is not enabled", http.StatusServiceUnavailable)
	}
	job, ok := c.calibration.Job(ctx.Param("id"))
	if !ok {
		err := errors.Newf("calibration job %q not found", ctx.Param("id")).
			Component("api").
			Category(errors.CategoryNotFound).
			Build()
		return c.HandleError(ctx, err, "Job not found", statusForError(err))
	}
	return ctx.JSON(http.StatusOK, job)
}

// ListCalibrationJobs returns the latest job of every node.
func (c *Controller) ListCalibrationJobs(ctx echo.Context) error {
	if c.calibration == nil {
		return ctx.JSON(http.StatusOK, []calibration.Job{})
	}
	return ctx.JSON(http.StatusOK, c.calibration.Jobs())
}

// knownNode accepts configured nodes and nodes that have reported.
func (c *Controller) knownNode(id int) bool {
	if c.settings != nil {
		for _, n := range c.settings.Nodes {
			if n.NodeID == id {
				return true
			}
		}
	}
	_, ok := c.state.NodeHealth()[id]
	return ok
}
