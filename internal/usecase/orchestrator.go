package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"Consilium/internal/domain/models"
	drepo "Consilium/internal/domain/repository"
	"Consilium/internal/services/consensus"
	"Consilium/internal/services/cost"
	xerrors "Consilium/pkg/errors"
	"Consilium/pkg/logger"
	"Consilium/pkg/util"
)

// Snapshotter assembles the market snapshot for one ticker.
type Snapshotter interface {
	Snapshot(ctx context.Context, ticker string, categories []models.DataCategory) (*models.MarketSnapshot, error)
}

// OrchestratorConfig tunes the fan-out.
type OrchestratorConfig struct {
	MaxConcurrency  int
	Deadline        time.Duration
	SnapshotTimeout time.Duration
	// DrainGrace is how long in-flight calls get to report after the deadline.
	DrainGrace time.Duration
}

func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxConcurrency:  10,
		Deadline:        10 * time.Minute,
		SnapshotTimeout: 30 * time.Second,
		DrainGrace:      500 * time.Millisecond,
	}
}

// AnalyzeInput is one analyze call. A zero Deadline uses the configured default.
type AnalyzeInput struct {
	Tickers  []string
	Filter   models.AgentFilter
	Deadline time.Duration
}

// Orchestrator runs every selected agent against every ticker and folds the outcomes into
// one consensus per ticker.
type Orchestrator struct {
	catalog   drepo.AgentCatalog
	snapshots Snapshotter
	runner    *AgentRunner
	engine    *consensus.Engine
	estimator *cost.Estimator
	recorder  *ResultRecorder
	metrics   drepo.Metrics
	logger    *logger.Logger
	cfg       OrchestratorConfig
	now       func() time.Time
}

func NewOrchestrator(
	catalog drepo.AgentCatalog,
	snapshots Snapshotter,
	runner *AgentRunner,
	engine *consensus.Engine,
	estimator *cost.Estimator,
	recorder *ResultRecorder,
	metrics drepo.Metrics,
	l *logger.Logger,
	cfg OrchestratorConfig,
) *Orchestrator {
	def := DefaultOrchestratorConfig()
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = def.Deadline
	}
	if cfg.SnapshotTimeout <= 0 {
		cfg.SnapshotTimeout = def.SnapshotTimeout
	}
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = def.DrainGrace
	}
	if l == nil {
		l = logger.Nop()
	}
	return &Orchestrator{
		catalog:   catalog,
		snapshots: snapshots,
		runner:    runner,
		engine:    engine,
		estimator: estimator,
		recorder:  recorder,
		metrics:   metrics,
		logger:    l,
		cfg:       cfg,
		now:       time.Now,
	}
}

// ResolveAgents applies the filter to the catalog, preserving catalog order. Unknown ids are
// rejected so a typo does not silently shrink the panel.
func (o *Orchestrator) ResolveAgents(f models.AgentFilter) ([]models.AgentDefinition, error) {
	var unknown []string
	for _, id := range f.IDs {
		if _, ok := o.catalog.Get(strings.ToLower(strings.TrimSpace(id))); !ok {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown agents %s: %w", strings.Join(unknown, ", "), xerrors.ErrInvalidInput)
	}

	var out []models.AgentDefinition
	for _, a := range o.catalog.List() {
		if f.Matches(a) {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no agents selected: %w", xerrors.ErrInvalidInput)
	}
	return out, nil
}

// Estimate projects the cost of an analyze call without running it.
func (o *Orchestrator) Estimate(tickers []string, f models.AgentFilter) (models.CostEstimate, error) {
	norm := util.NormalizeTickers(tickers)
	if len(norm) == 0 {
		return models.CostEstimate{}, fmt.Errorf("no tickers given: %w", xerrors.ErrInvalidInput)
	}
	agents, err := o.ResolveAgents(f)
	if err != nil {
		return models.CostEstimate{}, err
	}
	return o.estimator.Estimate(agents, len(norm)), nil
}

type task struct {
	ticker string
	agent  models.AgentDefinition
}

// Analyze runs the full (ticker x agent) task set on the bounded pool: specialists first, then
// investors briefed with the specialist findings for their ticker. It returns an error only
// for invalid input; agent faults and a missed deadline produce partial, degraded results.
func (o *Orchestrator) Analyze(ctx context.Context, in AnalyzeInput) (*models.AnalysisResult, error) {
	started := o.now()
	tickers := util.NormalizeTickers(in.Tickers)
	if len(tickers) == 0 {
		return nil, fmt.Errorf("no tickers given: %w", xerrors.ErrInvalidInput)
	}
	agents, err := o.ResolveAgents(in.Filter)
	if err != nil {
		return nil, err
	}
	estimate := o.estimator.Estimate(agents, len(tickers))

	deadline := in.Deadline
	if deadline <= 0 {
		deadline = o.cfg.Deadline
	}
	dctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	requestID := uuid.NewString()
	log := o.logger.With(logger.String("request_id", requestID))
	log.Info("analysis started",
		logger.Strings("tickers", tickers),
		logger.Int("agents", len(agents)),
		logger.String("estimated_cost", estimate.TotalCost.StringFixed(4)))

	snaps := o.collectSnapshots(dctx, tickers, requiredCategories(agents), log)

	specialists, investors := splitPanel(agents)
	var (
		tasks    []task
		outcomes []models.AgentOutcome
		order    []int
	)
	runPhase := func(panel []models.AgentDefinition, briefings map[string][]models.AgentResponse) {
		phase := buildTasks(tickers, panel)
		if len(phase) == 0 {
			return
		}
		outs, ord := o.runTasks(dctx, phase, snaps, briefings)
		for _, i := range ord {
			order = append(order, len(tasks)+i)
		}
		tasks = append(tasks, phase...)
		outcomes = append(outcomes, outs...)
	}
	// Specialists report first so investors can read their findings; both phases share dctx.
	runPhase(specialists, nil)
	runPhase(investors, briefingsByTicker(tasks, outcomes))

	results := make([]models.ConsensusResult, 0, len(tickers))
	for _, t := range tickers {
		var responses []models.AgentResponse
		var failures []models.AgentFailure
		for _, i := range order {
			if tasks[i].ticker != t {
				continue
			}
			if out := outcomes[i]; out.Response != nil {
				responses = append(responses, *out.Response)
			} else {
				failures = append(failures, *out.Failure)
			}
		}

		r := o.engine.Aggregate(t, responses, failures)
		r.RequestID = requestID
		if s := snaps[t]; s != nil {
			r.MissingData = s.Missing
		}
		o.metrics.RecordConsensus(t, r.Score, string(r.Signal))

		if o.recorder != nil {
			// recording failures are logged by the recorder and never fail the run
			_ = o.recorder.Record(context.WithoutCancel(ctx), &r)
		}
		log.Info("consensus ready",
			logger.String("ticker", t),
			logger.String("signal", string(r.Signal)),
			logger.Float64("score", r.Score),
			logger.String("coverage", r.Coverage()),
			logger.Bool("degraded", r.Degraded))
		results = append(results, r)
	}

	completed := o.now()
	o.metrics.RecordLatency("analyze", completed.Sub(started).Seconds())
	return &models.AnalysisResult{
		RequestID:     requestID,
		Tickers:       tickers,
		Results:       results,
		AgentsUsed:    len(agents),
		StartedAt:     started,
		CompletedAt:   completed,
		ExecutionTime: completed.Sub(started),
		Estimate:      &estimate,
	}, nil
}

// collectSnapshots fetches one snapshot per ticker in parallel. A failed ticker gets an empty
// snapshot with every category missing.
func (o *Orchestrator) collectSnapshots(ctx context.Context, tickers []string, categories []models.DataCategory, log *logger.Logger) map[string]*models.MarketSnapshot {
	snaps := make(map[string]*models.MarketSnapshot, len(tickers))
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(o.cfg.MaxConcurrency)
	for _, t := range tickers {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, o.cfg.SnapshotTimeout)
			defer cancel()
			s, err := o.snapshots.Snapshot(sctx, t, categories)
			if err != nil || s == nil {
				log.Warn("market snapshot unavailable", logger.String("ticker", t), logger.Error(err))
				s = &models.MarketSnapshot{Ticker: t, Missing: append([]models.DataCategory(nil), categories...)}
			}
			mu.Lock()
			snaps[t] = s
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return snaps
}

func splitPanel(agents []models.AgentDefinition) (specialists, investors []models.AgentDefinition) {
	for _, a := range agents {
		if a.IsSpecialist() {
			specialists = append(specialists, a)
		} else {
			investors = append(investors, a)
		}
	}
	return specialists, investors
}

func buildTasks(tickers []string, agents []models.AgentDefinition) []task {
	tasks := make([]task, 0, len(tickers)*len(agents))
	for _, t := range tickers {
		for _, a := range agents {
			tasks = append(tasks, task{ticker: t, agent: a})
		}
	}
	return tasks
}

// briefingsByTicker collects successful responses per ticker in task order, so every
// investor for a ticker reads the same findings in the same order.
func briefingsByTicker(tasks []task, outcomes []models.AgentOutcome) map[string][]models.AgentResponse {
	out := make(map[string][]models.AgentResponse)
	for i, tk := range tasks {
		if r := outcomes[i].Response; r != nil {
			out[tk.ticker] = append(out[tk.ticker], *r)
		}
	}
	return out
}

// runTasks executes tasks on a bounded pool until all finish or ctx ends. The returned slice
// has exactly one outcome per task; tasks that never completed are TIMEOUT failures. order
// lists task indexes in completion order with unfinished tasks last.
func (o *Orchestrator) runTasks(ctx context.Context, tasks []task, snaps map[string]*models.MarketSnapshot, briefings map[string][]models.AgentResponse) ([]models.AgentOutcome, []int) {
	var (
		mu     sync.Mutex
		sealed bool
		done   = make([]bool, len(tasks))
		outs   = make([]models.AgentOutcome, len(tasks))
		order  = make([]int, 0, len(tasks))
	)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		g := new(errgroup.Group)
		g.SetLimit(o.cfg.MaxConcurrency)
		for i, tk := range tasks {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				out := o.runner.Run(ctx, tk.agent, tk.ticker, snaps[tk.ticker], briefings[tk.ticker])
				mu.Lock()
				defer mu.Unlock()
				if !sealed {
					outs[i], done[i] = out, true
					order = append(order, i)
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		t := time.NewTimer(o.cfg.DrainGrace)
		select {
		case <-finished:
		case <-t.C:
		}
		t.Stop()
	}

	mu.Lock()
	defer mu.Unlock()
	sealed = true
	pending := 0
	for i, tk := range tasks {
		if done[i] {
			continue
		}
		pending++
		outs[i] = models.Failed(models.AgentFailure{
			AgentID: tk.agent.ID,
			Ticker:  tk.ticker,
			Kind:    models.FailureTimeout,
			Detail:  "not completed before the analysis deadline",
		})
		order = append(order, i)
	}
	if pending > 0 {
		o.metrics.RecordError("analysis_deadline")
		o.logger.Warn("analysis deadline reached", logger.Int("pending_tasks", pending), logger.Int("tasks", len(tasks)))
	}
	return outs, order
}

func requiredCategories(agents []models.AgentDefinition) []models.DataCategory {
	var out []models.DataCategory
	for _, c := range models.AllCategories {
		for _, a := range agents {
			if a.Requires(c) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// History loads stored results.
func (o *Orchestrator) History(ctx context.Context, f models.HistoryFilter) ([]models.ConsensusResult, error) {
	if o.recorder == nil {
		return nil, nil
	}
	return o.recorder.History(ctx, f)
}

// Result loads one stored result.
func (o *Orchestrator) Result(ctx context.Context, id string) (*models.ConsensusResult, error) {
	if o.recorder == nil {
		return nil, fmt.Errorf("result %s: %w", id, xerrors.ErrNotFound)
	}
	return o.recorder.Load(ctx, id)
}

// Agents lists the catalog, optionally narrowed to one kind.
func (o *Orchestrator) Agents(kind models.AgentKind) []models.AgentDefinition {
	var out []models.AgentDefinition
	for _, a := range o.catalog.List() {
		if kind == "" || a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}
