package api

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"Consilium/internal/domain/models"
	"Consilium/internal/service/metrics"
	"Consilium/internal/service/ratelimit"
	"Consilium/internal/usecase"
	xhttp "Consilium/pkg/http"
	xlogger "Consilium/pkg/logger"
	"Consilium/pkg/util"
)

// AnalysisService is the orchestrator surface exposed over HTTP.
type AnalysisService interface {
	Analyze(ctx context.Context, in usecase.AnalyzeInput) (*models.AnalysisResult, error)
	Estimate(tickers []string, f models.AgentFilter) (models.CostEstimate, error)
	History(ctx context.Context, f models.HistoryFilter) ([]models.ConsensusResult, error)
	Result(ctx context.Context, id string) (*models.ConsensusResult, error)
	Agents(kind models.AgentKind) []models.AgentDefinition
}

type HealthChecker interface {
	Health(ctx context.Context) error
}

// RateLimit is the per-client token bucket applied to POST /api/analyze.
type RateLimit struct {
	Capacity     float64
	RefillPerSec float64
}

type AnalysisHandler struct {
	svc     AnalysisService
	health  HealthChecker
	limiter *ratelimit.Limiter
	rl      RateLimit
	logger  *xlogger.Logger
}

func NewAnalysisHandler(svc AnalysisService, health HealthChecker, limiter *ratelimit.Limiter, rl RateLimit, logger *xlogger.Logger) *AnalysisHandler {
	metrics.Register()
	if logger == nil {
		logger = xlogger.Nop()
	}
	if limiter == nil {
		limiter = ratelimit.New()
	}
	return &AnalysisHandler{svc: svc, health: health, limiter: limiter, rl: rl, logger: logger}
}

var _ xhttp.Handler = (*AnalysisHandler)(nil)

func (h *AnalysisHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Healthz)

	g := e.Group("/api")
	g.POST("/analyze", h.Analyze)
	g.POST("/estimate", h.Estimate)
	g.GET("/history", h.History)
	g.GET("/history/:id", h.Result)
	g.GET("/agents", h.Agents)
}

func (h *AnalysisHandler) Analyze(c echo.Context) error {
	const endpoint = "analyze"
	defer observe(endpoint, time.Now())

	if h.rl.Capacity > 0 {
		if ok, wait := h.limiter.Reserve(c.RealIP()+":"+endpoint, h.rl.Capacity, h.rl.RefillPerSec); !ok {
			metrics.APIRejected.WithLabelValues(endpoint).Inc()
			h.logger.Warn("analyze rate_limited", xlogger.String("remote", c.RealIP()), xlogger.Duration("wait_ms", wait))
			appErr := xhttp.NewAppError(xhttp.CodeRateLimited, "", "too many analysis requests", http.StatusTooManyRequests)
			if wait > 0 {
				appErr.WithParam("retry_after", int(math.Ceil(wait.Seconds())))
			}
			return h.fail(c, endpoint, appErr)
		}
	}

	req := &models.AnalyzeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		metrics.APIErrors.WithLabelValues(endpoint, xhttp.CodeBadRequest).Inc()
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.svc.Analyze(c.Request().Context(), usecase.AnalyzeInput{
		Tickers:  req.Tickers,
		Filter:   models.AgentFilter{IDs: req.Agents, SkipSpecialists: req.SkipSpecialists},
		Deadline: time.Duration(req.DeadlineSeconds) * time.Second,
	})
	if err != nil {
		h.logger.Error("analyze usecase error", xlogger.Strings("tickers", req.Tickers), xlogger.Error(err))
		return h.fail(c, endpoint, xhttp.FromError(err))
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *AnalysisHandler) Estimate(c echo.Context) error {
	const endpoint = "estimate"
	defer observe(endpoint, time.Now())

	req := &models.EstimateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		metrics.APIErrors.WithLabelValues(endpoint, xhttp.CodeBadRequest).Inc()
		return xhttp.BadRequestResponse(c, verr)
	}
	est, err := h.svc.Estimate(req.Tickers, models.AgentFilter{IDs: req.Agents, SkipSpecialists: req.SkipSpecialists})
	if err != nil {
		return h.fail(c, endpoint, xhttp.FromError(err))
	}
	return xhttp.SuccessResponse(c, est)
}

func (h *AnalysisHandler) History(c echo.Context) error {
	const endpoint = "history"
	defer observe(endpoint, time.Now())

	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		metrics.APIErrors.WithLabelValues(endpoint, xhttp.CodeBadRequest).Inc()
		return xhttp.BadRequestResponse(c, verr)
	}
	f := models.HistoryFilter{
		Ticker: strings.ToUpper(strings.TrimSpace(req.Ticker)),
		Signal: models.Signal(req.Signal),
		Limit:  req.Limit,
	}
	if req.From != "" {
		t, ok := util.ParseTime(req.From)
		if !ok {
			return h.fail(c, endpoint, xhttp.BadRequestErrorf("from: unsupported time %q", req.From))
		}
		f.From = t
	}
	if req.To != "" {
		t, ok := util.ParseUpperBound(req.To)
		if !ok {
			return h.fail(c, endpoint, xhttp.BadRequestErrorf("to: unsupported time %q", req.To))
		}
		f.To = t
	}

	rows, err := h.svc.History(c.Request().Context(), f)
	if err != nil {
		h.logger.Error("history usecase error", xlogger.Error(err))
		return h.fail(c, endpoint, xhttp.FromError(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *AnalysisHandler) Result(c echo.Context) error {
	const endpoint = "result"
	defer observe(endpoint, time.Now())

	r, err := h.svc.Result(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, endpoint, xhttp.FromError(err))
	}
	return xhttp.SuccessResponse(c, r)
}

func (h *AnalysisHandler) Agents(c echo.Context) error {
	const endpoint = "agents"
	defer observe(endpoint, time.Now())

	req := &models.AgentsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	agents := h.svc.Agents(models.AgentKind(req.Kind))
	return xhttp.ListResponse(c, agents, int64(len(agents)))
}

func (h *AnalysisHandler) Healthz(c echo.Context) error {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := h.health.Health(ctx); err != nil {
			h.logger.Warn("health check failed", xlogger.Error(err))
			return xhttp.DataResponse(c, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		}
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

func (h *AnalysisHandler) fail(c echo.Context, endpoint string, appErr *xhttp.AppError) error {
	metrics.APIErrors.WithLabelValues(endpoint, appErr.Code).Inc()
	return xhttp.AppErrorResponse(c, appErr)
}

func observe(endpoint string, start time.Time) {
	metrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
