package main

import (
	"time"

	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	serverURL string
	natsURL   string
	timeout   time.Duration
	metrics   []string
	durable   string
	replay    bool

	rootCmd = &cobra.Command{
		Use:          "relayctl",
		Short:        "Drive and inspect a running relay",
		SilenceUsage: true,
	}

	// --- Gateway ---
	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Start a new search session and follow it until it settles",
		Args:  cobra.NoArgs,
		RunE:  runStart,
	}
	scoreCmd = &cobra.Command{
		Use:   "score [solutionID...]",
		Short: "Score solutions of the current session",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runScore,
	}
	describeCmd = &cobra.Command{
		Use:   "describe [solutionID...]",
		Short: "Fetch and cache pipeline descriptions",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDescribe,
	}

	// --- Read API ---
	sessionCmd = &cobra.Command{
		Use:   "session",
		Short: "Show the current session",
		Args:  cobra.NoArgs,
		RunE:  runSession,
	}
	solutionsCmd = &cobra.Command{
		Use:     "solutions",
		Short:   "List the solutions of the current session",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE:    runSolutions,
	}
	pipelineCmd = &cobra.Command{
		Use:   "pipeline [solutionID]",
		Short: "Print the cached pipeline of a solution",
		Args:  cobra.ExactArgs(1),
		RunE:  runPipeline,
	}
	rankingCmd = &cobra.Command{
		Use:   "ranking [metric]",
		Short: "Rank the current session by a metric",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRanking,
	}

	// --- Events ---
	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Follow lifecycle events mirrored to NATS",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9090", "relay base URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Minute, "how long to wait for an answer")

	scoreCmd.Flags().StringSliceVar(&metrics, "metric", nil, "metrics to score (default: the relay's)")

	watchCmd.Flags().StringVar(&natsURL, "nats", "nats://localhost:4222", "NATS server URL")
	watchCmd.Flags().StringVar(&durable, "durable", "", "durable consumer name; resumes where it stopped")
	watchCmd.Flags().BoolVar(&replay, "replay", false, "replay retained events first")

	rootCmd.AddCommand(startCmd, scoreCmd, describeCmd, sessionCmd, solutionsCmd, pipelineCmd, rankingCmd, watchCmd)
}
