package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "Consilium/pkg/errors"
)

func TestFromError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"invalid input", fmt.Errorf("unknown agent %q: %w", "soros", xerrors.ErrInvalidInput), CodeBadRequest, http.StatusBadRequest},
		{"not found", xerrors.ErrNotFound, CodeNotFound, http.StatusNotFound},
		{"rate limited before transient", xerrors.Transient(xerrors.KindRateLimited, 429, errors.New("slow down")), CodeRateLimited, http.StatusTooManyRequests},
		{"upstream timeout", xerrors.Transient(xerrors.KindTimeout, 0, errors.New("i/o")), CodeTimeout, http.StatusGatewayTimeout},
		{"deadline", fmt.Errorf("run: %w", context.DeadlineExceeded), CodeTimeout, http.StatusGatewayTimeout},
		{"data unavailable", &xerrors.DataUnavailableError{Ticker: "AAPL", Category: "price"}, CodeDataUnavailable, http.StatusServiceUnavailable},
		{"transient", xerrors.Transient(xerrors.KindUpstream, 503, errors.New("down")), CodeUpstream, http.StatusBadGateway},
		{"permanent", xerrors.Permanent(xerrors.KindAuth, 401, errors.New("bad key")), CodeUpstream, http.StatusBadGateway},
		{"configuration", xerrors.NewConfigurationError("llm.api_key", "missing"), CodeConfiguration, http.StatusInternalServerError},
		{"unknown", errors.New("boom"), CodeInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := FromError(tc.err)
			assert.Equal(t, tc.code, got.Code)
			assert.Equal(t, tc.status, got.Status)
			assert.ErrorIs(t, got, tc.err)
		})
	}
}

func TestFromErrorHidesInternalText(t *testing.T) {
	got := FromError(errors.New("dsn=postgres://user:secret@db"))
	assert.Equal(t, "internal error", got.Message)
}

func TestFromErrorCarriesUpstreamStatus(t *testing.T) {
	got := FromError(fmt.Errorf("finnhub /quote: %w", xerrors.FromStatus(502, errors.New("bad gateway"))))
	assert.Equal(t, 502, got.Params["upstream_status"])
}

func TestAppErrorResponseSetsRetryAfter(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)

	appErr := NewAppError(CodeRateLimited, "", "too many analysis requests", http.StatusTooManyRequests).WithParam("retry_after", 10)
	require.NoError(t, AppErrorResponse(c, appErr))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"code":"ERR_RATE_LIMITED"`)
}
