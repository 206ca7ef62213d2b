package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"Consilium/internal/domain/models"
	xerrors "Consilium/pkg/errors"
	"Consilium/pkg/util"
)

func newHistoryCmd(loadConfig configLoader, open serviceOpener) *cobra.Command {
	var (
		ticker   string
		signal   string
		from, to string
		limit    int
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "history [ID]",
		Short: "List stored consensus results, or show one by id",
		Args:  cobra.MaximumNArgs(1),
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
			ctx := contextOrBackground(cmd.Context())
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				r, err := svc.Result(ctx, args[0])
				if err != nil {
					return report(cmd, err)
				}
				if asJSON {
					return report(cmd, writeJSON(out, r))
				}
				renderConsensus(out, r)
				return nil
			}

			f, err := historyFilter(ticker, signal, from, to, limit)
			if err != nil {
				return report(cmd, err)
			}
			results, err := svc.History(ctx, f)
			if err != nil {
				return report(cmd, err)
			}
			if asJSON {
				return report(cmd, writeJSON(out, results))
			}
			renderHistory(out, results)
			return nil
		},
	}

	cmd.Flags().StringVar(&ticker, "ticker", "", "Only this ticker")
	cmd.Flags().StringVar(&signal, "signal", "", "Only this signal (STRONG_BUY, BUY, HOLD, SELL, STRONG_SELL)")
	cmd.Flags().StringVar(&from, "from", "", "Created at or after (RFC3339, YYYY-MM-DD or unix seconds)")
	cmd.Flags().StringVar(&to, "to", "", "Created at or before")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum rows")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")
	return cmd
}

func historyFilter(ticker, signal, from, to string, limit int) (models.HistoryFilter, error) {
	f := models.HistoryFilter{Ticker: strings.ToUpper(strings.TrimSpace(ticker)), Limit: limit}
	if signal != "" {
		s, err := models.ParseSignal(signal)
		if err != nil {
			return f, fmt.Errorf("--signal: %w", xerrors.ErrInvalidInput)
		}
		f.Signal = s
	}
	if from != "" {
		t, ok := util.ParseTime(from)
		if !ok {
			return f, fmt.Errorf("--from %q: %w", from, xerrors.ErrInvalidInput)
		}
		f.From = t
	}
	if to != "" {
		t, ok := util.ParseUpperBound(to)
		if !ok {
			return f, fmt.Errorf("--to %q: %w", to, xerrors.ErrInvalidInput)
		}
		f.To = t
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, fmt.Errorf("--to is before --from: %w", xerrors.ErrInvalidInput)
	}
	return f, nil
}

func newAgentsCmd(loadConfig configLoader, open serviceOpener) *cobra.Command {
	var (
		kind   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List the agent catalog with weights and data needs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var k models.AgentKind
			switch strings.ToLower(kind) {
			case "":
			case string(models.AgentInvestor), string(models.AgentSpecialist):
				k = models.AgentKind(strings.ToLower(kind))
			default:
				return report(cmd, fmt.Errorf("--kind must be investor or specialist: %w", xerrors.ErrInvalidInput))
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return report(cmd, err)
			}
			svc, cleanup, err := open(cfg)
			if err != nil {
				return report(cmd, err)
			}
			defer cleanup()

			agents := svc.Agents(k)
			if asJSON {
				return report(cmd, writeJSON(cmd.OutOrStdout(), agents))
			}
			renderAgents(cmd.OutOrStdout(), agents)
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "investor or specialist")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")
	return cmd
}
