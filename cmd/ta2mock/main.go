package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xphd/d3m-mini-ms/pkg/ta2/ta2mock"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	listenAddr     string
	version        string
	solutionCount  int
	discoveryDelay time.Duration

	rootCmd = &cobra.Command{
		Use:   "ta2mock",
		Short: "Serve a deterministic TA2 Core service for local development",
		RunE:  serve,
	}
)

func init() {
	rootCmd.Flags().StringVar(&listenAddr, "addr", "localhost:50051", "listen address")
	rootCmd.Flags().StringVar(&version, "version", "2018.7.7", "protocol version answered by Hello")
	rootCmd.Flags().IntVar(&solutionCount, "solutions", 5, "number of solutions a search discovers")
	rootCmd.Flags().DurationVar(&discoveryDelay, "delay", 200*time.Millisecond, "delay before each discovery")
}

// cannedSolutions spreads accuracy over (0.5, 0.95] so rankings are stable.
func cannedSolutions(n int) []ta2mock.Solution {
	out := make([]ta2mock.Solution, 0, n)
	for i := 0; i < n; i++ {
		acc := 0.95 - float64(i)*0.45/float64(n)
		out = append(out, ta2mock.Solution{
			ID: fmt.Sprintf("solution-%02d", i+1),
			Scores: map[string]float64{
				"accuracy":         acc,
				"f1Macro":          acc - 0.05,
				"meanSquaredError": 1 - acc,
			},
			Steps: 3 + i%4,
		})
	}
	return out
}

func serve(cmd *cobra.Command, _ []string) error {
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", listenAddr, err)
	}

	mock := ta2mock.New(version, cannedSolutions(solutionCount)...)
	mock.DiscoveryDelay = discoveryDelay
	srv := ta2mock.Serve(lis, mock)

	color.Green("ta2mock listening on %s (version %s, %d solutions)", lis.Addr(), version, solutionCount)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	srv.GracefulStop()
	color.Yellow("ta2mock stopped after %d calls", len(mock.Calls()))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
