package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"Consilium/internal/domain/models"
	"Consilium/internal/usecase"
)

type selectionFlags struct {
	agents          []string
	skipSpecialists bool
	asJSON          bool
}

func (f *selectionFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.agents, "agents", nil, "Comma-separated agent ids (default: whole catalog)")
	cmd.Flags().BoolVar(&f.skipSpecialists, "skip-specialists", false, "Run investors only")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "Render JSON output")
}

func (f *selectionFlags) filter() models.AgentFilter {
	return models.AgentFilter{IDs: f.agents, SkipSpecialists: f.skipSpecialists}
}

func newAnalyzeCmd(loadConfig configLoader, open serviceOpener) *cobra.Command {
	var (
		sel      selectionFlags
		yes      bool
		deadline time.Duration
	)

	cmd := &cobra.Command{
		Use:   "analyze TICKER...",
		Short: "Estimate, then run the agent panel and print the consensus per ticker",
		Long:  "analyze prints the projected cost first. Nothing is spent until the command is repeated with --yes.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return report(cmd, err)
			}
			svc, cleanup, err := open(cfg)
			if err != nil {
				return report(cmd, err)
			}
			defer cleanup()

			est, err := svc.Estimate(args, sel.filter())
			if err != nil {
				return report(cmd, err)
			}
			if !yes {
				out := cmd.OutOrStdout()
				if sel.asJSON {
					return report(cmd, writeJSON(out, est))
				}
				renderEstimate(out, est)
				renderHint(out, "re-run with --yes to start the analysis")
				return nil
			}
			if err := cfg.RequireLLM(); err != nil {
				return report(cmd, err)
			}

			ctx, stop := signal.NotifyContext(contextOrBackground(cmd.Context()), os.Interrupt, syscall.SIGTERM)
			defer stop()
			res, err := svc.Analyze(ctx, usecase.AnalyzeInput{
				Tickers:  args,
				Filter:   sel.filter(),
				Deadline: deadline,
			})
			if err != nil {
				return report(cmd, err)
			}

			if sel.asJSON {
				return report(cmd, writeJSON(cmd.OutOrStdout(), res))
			}
			renderAnalysis(cmd.OutOrStdout(), res)
			return nil
		},
	}

	sel.bind(cmd)
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm the estimate and run the analysis")
	cmd.Flags().DurationVar(&deadline, "deadline", 0, "Overall deadline (default from config)")
	return cmd
}

func newEstimateCmd(loadConfig configLoader, open serviceOpener) *cobra.Command {
	var sel selectionFlags

	cmd := &cobra.Command{
		Use:   "estimate TICKER...",
		Short: "Project token usage and spend without calling any agent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return report(cmd, err)
			}
			svc, cleanup, err := open(cfg)
			if err != nil {
				return report(cmd, err)
			}
			defer cleanup()

			est, err := svc.Estimate(args, sel.filter())
			if err != nil {
				return report(cmd, err)
			}
			if sel.asJSON {
				return report(cmd, writeJSON(cmd.OutOrStdout(), est))
			}
			renderEstimate(cmd.OutOrStdout(), est)
			return nil
		},
	}

	sel.bind(cmd)
	return cmd
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
