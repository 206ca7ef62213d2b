package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"Consilium/pkg/logger"
)

// RequestLogging writes one access-log line per request. 5xx lines go out at
// error level and carry the handler error; 4xx at warn.
func RequestLogging(l *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// commit the response now so the logged status is the real one
				c.Error(err)
			}

			req, res := c.Request(), c.Response()
			fields := []logger.Field{
				logger.String("request_id", requestID(c)),
				logger.String("method", req.Method),
				logger.String("route", c.Path()),
				logger.String("uri", req.RequestURI),
				logger.String("remote", c.RealIP()),
				logger.Int("status", res.Status),
				logger.Duration("latency_ms", time.Since(start)),
				logger.Int64("bytes_out", res.Size),
			}
			if req.ContentLength > 0 {
				fields = append(fields, logger.Int64("bytes_in", req.ContentLength))
			}

			switch {
			case res.Status >= 500:
				if err != nil {
					fields = append(fields, logger.Error(err))
				}
				l.Error("http request", fields...)
			case res.Status >= 400:
				l.Warn("http request", fields...)
			case c.Path() == "/healthz" || c.Path() == "/metrics":
				l.Debug("http request", fields...)
			default:
				l.Info("http request", fields...)
			}
			return nil
		}
	}
}
