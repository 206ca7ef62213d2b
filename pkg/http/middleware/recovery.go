package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"

	"Consilium/pkg/logger"
)

// Recover converts a handler panic into a 500 and logs it with the stack.
// The response reuses the envelope shape without importing the parent package.
func Recover(l *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				perr, ok := r.(error)
				if !ok {
					perr = fmt.Errorf("panic: %v", r)
				}
				l.Error("http handler panic",
					logger.String("method", c.Request().Method),
					logger.String("route", c.Path()),
					logger.String("request_id", requestID(c)),
					logger.String("stack", string(debug.Stack())),
					logger.Error(perr),
				)
				if c.Response().Committed {
					return
				}
				err = c.JSON(http.StatusInternalServerError, map[string]interface{}{
					"status":  http.StatusInternalServerError,
					"message": http.StatusText(http.StatusInternalServerError),
					"data":    []map[string]string{{"code": "ERR_INTERNAL", "message": "internal error"}},
				})
			}()
			return next(c)
		}
	}
}

// requestID reads the id set by echo's RequestID middleware, falling back
// to the one the client sent.
func requestID(c echo.Context) string {
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		return id
	}
	return c.Request().Header.Get(echo.HeaderXRequestID)
}
