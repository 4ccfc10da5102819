package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Hemanth-S/consensus-playground/raft/node"
	"github.com/Hemanth-S/consensus-playground/repl"
	"github.com/Hemanth-S/consensus-playground/scenario"
)

var rootCmd = &cobra.Command{
	Use:   "raftsim",
	Short: "Deterministic discrete-event simulator for the Raft consensus algorithm.",
	Long: `raftsim advances virtual time in integer ticks, drives raft nodes through
elections and log replication, routes messages through a programmable
network, and reports pass/fail for scenario assertions. The same seed always
produces the same result.

With --scenario the named file is played to the end and its assertions are
evaluated; otherwise an interactive prompt starts.`,

	RunE: func(c *cobra.Command, args []string) error {
		ctx := c.Context()
		log := logger.Get(ctx)

		config := node.DefaultConfig()
		if path := viper.GetString("scenario"); path != "" {
			return runScenario(ctx, path, log, config)
		}

		return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
			spawn("repl", parallel.Exit, func(ctx context.Context) error {
				return repl.New(os.Stdin, os.Stdout, log, config).Run(ctx)
			})
			return nil
		})
	},
}

func runScenario(ctx context.Context, path string, log *zap.Logger, config node.Config) error {
	s, err := scenario.Load(path)
	if err != nil {
		return err
	}
	m, err := scenario.Build(s, log, config)
	if err != nil {
		return err
	}

	ctrl := scenario.NewController(m, s, log)
	if err := ctrl.PlayToEnd(); err != nil {
		return err
	}
	results, err := ctrl.EvaluateAssertions()
	if err != nil {
		return err
	}

	failed := 0
	for _, result := range results {
		fmt.Println(result)
		if !result.Passed {
			failed++
		}
	}
	if failed > 0 {
		return errors.Errorf("%d of %d assertions failed", failed, len(results))
	}
	return nil
}

// Execute runs the root command. Errors are printed by cobra; the caller maps
// them to a non-zero exit code.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("RAFTSIM")

	rootCmd.Flags().String("scenario", "", "path of a scenario file to play non-interactively. Can also be set through the environment variable RAFTSIM_SCENARIO.")
	_ = viper.BindPFlag("scenario", rootCmd.Flags().Lookup("scenario"))
}
