package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"Consilium/internal/di"
	"Consilium/internal/handler/api"
	"Consilium/pkg/config"
	xerrors "Consilium/pkg/errors"
)

func main() {
	if err := newRootCmd(defaultDeps()).Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// deps lets tests swap the wired orchestrator for a fake.
type deps struct {
	load func(path string) (*config.Config, error)
	open func(cfg *config.Config) (api.AnalysisService, func(), error)
}

func defaultDeps() deps {
	return deps{
		load: config.LoadWithEnv,
		open: func(cfg *config.Config) (api.AnalysisService, func(), error) {
			return di.InitializeOrchestrator(cfg)
		},
	}
}

func newRootCmd(d deps) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "consilium",
		Short:         "Multi-agent investment analysis with weighted consensus",
		Long:          "consilium runs a panel of investor personas and analytical specialists against market data for each ticker and folds their votes into one weighted signal.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (.yaml or .toml); defaults plus CONSILIUM_* env when empty")

	loadConfig := func(cmd *cobra.Command) (*config.Config, error) {
		cfg, err := d.load(configPath)
		if err != nil {
			return nil, err
		}
		// keep stdout clean for tables and --json
		if cmd.Name() != "serve" && (cfg.Log.Output == "" || cfg.Log.Output == "stdout") {
			cfg.Log.Output = "stderr"
		}
		return cfg, nil
	}

	rootCmd.AddCommand(
		newServeCmd(loadConfig),
		newAnalyzeCmd(loadConfig, d.open),
		newEstimateCmd(loadConfig, d.open),
		newHistoryCmd(loadConfig, d.open),
		newAgentsCmd(loadConfig, d.open),
	)
	return rootCmd
}

type configLoader func(cmd *cobra.Command) (*config.Config, error)

type serviceOpener func(cfg *config.Config) (api.AnalysisService, func(), error)

func newServeCmd(loadConfig configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the Kafka intake and the price warmer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return report(cmd, err)
			}
			if err := cfg.RequireLLM(); err != nil {
				return report(cmd, err)
			}

			app, cleanup, err := di.InitializeApp(cfg)
			if err != nil {
				return report(cmd, fmt.Errorf("app initialization failed: %w", err))
			}
			defer cleanup()

			return report(cmd, app.Run())
		},
	}
}

// report prints err once, styled, and hands it back so Execute exits non-zero.
func report(cmd *cobra.Command, err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	fmt.Fprintln(cmd.ErrOrStderr(), styles.failure.Render("error: ")+err.Error())
	return err
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, xerrors.ErrConfiguration):
		return 78
	case errors.Is(err, xerrors.ErrInvalidInput):
		return 64
	default:
		return 1
	}
}
