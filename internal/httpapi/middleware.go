package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/shineum/form-relay/internal/pipeline"
)

// RequestLoggerMiddleware logs one line per request. Errors returned by the
// handler are rendered first so the logged status is the one sent.
func RequestLoggerMiddleware(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()
			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"latency_ms", time.Since(start).Milliseconds(),
				"bytes_out", res.Size,
				"request_id", res.Header().Get(echo.HeaderXRequestID),
			}

			switch {
			case res.Status >= http.StatusInternalServerError:
				logger.Error("http request", attrs...)
			case res.Status >= http.StatusBadRequest:
				logger.Warn("http request", attrs...)
			default:
				logger.Info("http request", attrs...)
			}
			return nil
		}
	}
}

// errorHandler renders echo errors in the relay's response shape.
func errorHandler(logger *slog.Logger, now func() time.Time) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		msg := pipeline.MsgInternal
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			if status < http.StatusInternalServerError {
				msg = http.StatusText(status)
				if s, ok := he.Message.(string); ok && s != "" {
					msg = s
				}
			}
		}
		if status >= http.StatusInternalServerError {
			logger.Error("unhandled http error", "error", err, "path", c.Request().URL.Path)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, pipeline.ErrorBody(msg, nil, now()))
		}
		if err != nil {
			logger.Warn("failed to write error response", "error", err)
		}
	}
}
