package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/shineum/form-relay/internal/pipeline"
)

// HeaderAPIKey carries the shared API key.
const HeaderAPIKey = "X-API-Key"

const healthTimeout = 2 * time.Second

// Submitter runs one submission through the admission pipeline.
type Submitter interface {
	Handle(ctx context.Context, req pipeline.Request) pipeline.Response
}

// HealthFunc reports whether a dependency is usable.
type HealthFunc func(ctx context.Context) error

type contactHandler struct {
	submitter Submitter
	identity  IdentityFunc
	health    HealthFunc
	logger    *slog.Logger
}

// Submit reads the raw body and hands it to the pipeline unparsed; the
// pipeline owns authentication and parsing order.
func (h *contactHandler) Submit(c echo.Context) error {
	req := c.Request()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, pipeline.MsgInvalidJSON)
	}

	resp := h.submitter.Handle(req.Context(), pipeline.Request{
		RequestID:  c.Response().Header().Get(echo.HeaderXRequestID),
		Credential: req.Header.Get(HeaderAPIKey),
		Body:       body,
		Identity:   h.identity(req),
	})

	for k, v := range resp.Headers {
		c.Response().Header().Set(k, v)
	}
	return c.JSON(resp.Status, resp.Body)
}

// Health returns 200 while the configured dependency check passes.
func (h *contactHandler) Health(c echo.Context) error {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()
		if err := h.health(ctx); err != nil {
			h.logger.Warn("health check failed", "error", err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
