package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/dronenet-go/internal/logger"
)

const sseWriteTimeout = 10 * time.Second

// StreamState pushes the fusion state as a "state" event every stream
// interval until the client disconnects or the controller shuts down.
func (c *Controller) StreamState(ctx echo.Context) error {
	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set(echo.HeaderAccessControlAllowOrigin, "*")
	res.WriteHeader(http.StatusOK)

	clientID := uuid.NewString()
	c.addStreamClient(clientID)
	defer c.removeStreamClient(clientID)

	c.log.Info("SSE client connected",
		logger.String("client_id", clientID),
		logger.String("ip", ctx.RealIP()))
	defer c.log.Info("SSE client disconnected", logger.String("client_id", clientID))

	if err := c.sendSSEMessage(ctx, "connected", map[string]string{"client_id": clientID}); err != nil {
		return nil
	}

	ticker := time.NewTicker(c.streamInterval)
	defer ticker.Stop()
	reqCtx := ctx.Request().Context()

	for {
		select {
		case <-reqCtx.Done():
			return nil
		case <-c.done:
			return nil
		case <-ticker.C:
			if err := c.sendSSEMessage(ctx, "state", c.state.FusionState()); err != nil {
				c.log.Debug("SSE write failed, client likely disconnected",
					logger.String("client_id", clientID),
					logger.Error(err))
				return nil
			}
		}
	}
}

// sendSSEMessage writes one event and flushes it.
func (c *Controller) sendSSEMessage(ctx echo.Context, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE data: %w", err)
	}

	rc := http.NewResponseController(ctx.Response().Writer)
	// Not every writer supports deadlines; a failure here is not fatal.
	_ = rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout))

	if _, err := fmt.Fprintf(ctx.Response(), "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return fmt.Errorf("failed to write SSE message: %w", err)
	}
	return rc.Flush()
}

func (c *Controller) addStreamClient(id string) {
	c.sseMu.Lock()
	defer c.sseMu.Unlock()
	c.sseClients[id] = time.Now()
}

func (c *Controller) removeStreamClient(id string) {
	c.sseMu.Lock()
	defer c.sseMu.Unlock()
	delete(c.sseClients, id)
}

// StreamClientCount returns the number of open SSE streams.
func (c *Controller) StreamClientCount() int {
	c.sseMu.Lock()
	defer c.sseMu.Unlock()
	return len(c.sseClients)
}
