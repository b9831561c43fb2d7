package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/xphd/d3m-mini-ms/internal/dto"
	"github.com/xphd/d3m-mini-ms/internal/handler"
	"github.com/xphd/d3m-mini-ms/internal/pkg/logger"
	"github.com/xphd/d3m-mini-ms/internal/service"
	"github.com/xphd/d3m-mini-ms/pkg/events"
	pktNats "github.com/xphd/d3m-mini-ms/pkg/nats"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.Faint)
)

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	return ctx, func() {
		stop()
		cancel()
	}
}

func printError(f frame) error {
	var e dto.ErrorEvent
	if err := json.Unmarshal(f.Data, &e); err != nil {
		return err
	}
	if e.SolutionID != "" {
		errColor.Printf("  ✗ %s %s: %s\n", e.SolutionID, e.Code, e.Message)
	} else {
		errColor.Printf("✗ %s: %s\n", e.Code, e.Message)
	}
	return nil
}

func runStart(cmd *cobra.Command, _ []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	gw, err := dialGateway(ctx, serverURL)
	if err != nil {
		return err
	}
	defer gw.Close()

	if err := gw.emit(handler.EventRequestStart); err != nil {
		return err
	}

	var failed error
	err = gw.await(ctx, func(f frame) (bool, error) {
		switch f.Event {
		case service.SessionStatusEvent:
			var ev events.BaseEvent
			if err := json.Unmarshal(f.Data, &ev); err != nil {
				return false, err
			}
			printLifecycle(ev)
		case handler.EventResponseStart:
			okColor.Println("✓ search, score and describe done")
			return true, nil
		case handler.EventErrorStart:
			failed = fmt.Errorf("start failed")
			return true, printError(f)
		}
		return false, nil
	})
	if err != nil {
		return err
	}
	return failed
}

func printLifecycle(ev events.BaseEvent) {
	ts := dimColor.Sprint(ev.OccurredAt.Local().Format("15:04:05.000"))
	switch ev.Type {
	case events.SessionStarted:
		fmt.Printf("%s session %v started\n", ts, ev.Data["generation"])
	case events.StateChanged:
		line := fmt.Sprintf("%s state → %v", ts, ev.Data["state"])
		if msg, ok := ev.Data["error"]; ok {
			errColor.Printf("%s (%v)\n", line, msg)
			return
		}
		fmt.Println(line)
	case events.SolutionDiscovered:
		fmt.Printf("%s found %v\n", ts, ev.Data["solutionID"])
	case events.RunFinished:
		fmt.Printf("%s run finished: %v\n", ts, ev.Data["state"])
	default:
		fmt.Printf("%s %s %v\n", ts, ev.Type, ev.Data)
	}
}

func runScore(cmd *cobra.Command, ids []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	gw, err := dialGateway(ctx, serverURL)
	if err != nil {
		return err
	}
	defer gw.Close()

	if err := gw.emit(handler.EventScoreSelected, ids, metrics); err != nil {
		return err
	}
	return gw.await(ctx, func(f frame) (bool, error) {
		switch f.Event {
		case handler.EventErrorScore:
			return false, printError(f)
		case handler.EventResponseScore:
			var res dto.ScoreResultResponse
			if err := json.Unmarshal(f.Data, &res); err != nil {
				return true, err
			}
			for _, id := range sortedKeys(res.Scored) {
				okColor.Printf("✓ %s ", id)
				fmt.Println(formatScores(res.Scored[id]))
			}
			if len(res.Failures) > 0 {
				warnColor.Printf("%d of %d failed\n", len(res.Failures), len(res.Failures)+len(res.Scored))
			}
			return true, nil
		}
		return false, nil
	})
}

func runDescribe(cmd *cobra.Command, ids []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	gw, err := dialGateway(ctx, serverURL)
	if err != nil {
		return err
	}
	defer gw.Close()

	if err := gw.emit(handler.EventDescribe, ids); err != nil {
		return err
	}
	return gw.await(ctx, func(f frame) (bool, error) {
		switch f.Event {
		case handler.EventErrorDescribe:
			return false, printError(f)
		case handler.EventResponseDescribe:
			var res dto.DescribeResultResponse
			if err := json.Unmarshal(f.Data, &res); err != nil {
				return true, err
			}
			for _, id := range sortedKeys(res.Described) {
				okColor.Printf("✓ %s ", id)
				fmt.Printf("%d steps\n", res.Described[id])
			}
			return true, nil
		}
		return false, nil
	})
}

func runSession(_ *cobra.Command, _ []string) error {
	var s dto.SessionResponse
	if err := getJSON(serverURL, "/api/session", nil, timeout, &s); err != nil {
		return err
	}
	fmt.Printf("generation   %d\n", s.Generation)
	fmt.Printf("state        %s\n", s.State)
	fmt.Printf("connection   %s\n", s.ConnectionState)
	fmt.Printf("search       %s\n", s.SearchID)
	fmt.Printf("solutions    %d (rank cutoff %d)\n", s.SolutionCount, s.RankCutoff)
	return nil
}

func runSolutions(_ *cobra.Command, _ []string) error {
	var rows []dto.SolutionResponse
	if err := getJSON(serverURL, "/api/solutions", nil, timeout, &rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		warnColor.Println("no solutions")
		return nil
	}
	for _, r := range rows {
		size := dimColor.Sprint("-")
		if r.PipelineSize != nil {
			size = fmt.Sprintf("%d steps", *r.PipelineSize)
		}
		line := fmt.Sprintf("%-40s %-10s %s", r.SolutionID, size, formatScores(r.Scores))
		if r.ArtifactError != "" {
			warnColor.Printf("%s [%s]\n", line, r.ArtifactError)
			continue
		}
		fmt.Println(line)
	}
	return nil
}

func runPipeline(_ *cobra.Command, args []string) error {
	var res dto.PipelineResponse
	if err := getJSON(serverURL, "/api/solutions/"+url.PathEscape(args[0])+"/pipeline", nil, timeout, &res); err != nil {
		return err
	}
	out, err := json.MarshalIndent(res.Pipeline, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runRanking(_ *cobra.Command, args []string) error {
	query := url.Values{}
	if len(args) == 1 {
		query.Set("metric", args[0])
	}
	var res dto.RankingResponse
	if err := getJSON(serverURL, "/api/ranking", query, timeout, &res); err != nil {
		return err
	}
	okColor.Printf("ranking by %s\n", res.Metric)
	for _, r := range res.Solutions {
		fmt.Printf("%3d  %-40s %.4f\n", r.Rank, r.SolutionID, r.Score)
	}
	return nil
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stopSignals := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	sub, err := pktNats.NewSubscriber(natsURL, logger.NewNopLogger())
	if err != nil {
		return err
	}
	defer sub.Close()

	stop, err := sub.Subscribe(ctx, pktNats.SubjectPrefix+".>", pktNats.SubscribeOptions{Durable: durable, DeliverAll: replay},
		func(_ context.Context, event events.Event) error {
			printLifecycle(events.BaseEvent{Type: event.EventType(), Data: event.Payload(), OccurredAt: event.Timestamp()})
			return nil
		})
	if err != nil {
		return err
	}
	defer stop()

	dimColor.Printf("watching %s.> on %s\n", pktNats.SubjectPrefix, natsURL)
	<-ctx.Done()
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatScores(scores map[string]float64) string {
	parts := make([]string, 0, len(scores))
	for _, k := range sortedKeys(scores) {
		parts = append(parts, fmt.Sprintf("%s=%.4f", k, scores[k]))
	}
	return strings.Join(parts, " ")
}
