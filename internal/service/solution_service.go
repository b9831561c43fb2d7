package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/xphd/d3m-mini-ms/internal/pkg/logger"
	"github.com/xphd/d3m-mini-ms/internal/repository/contract"
	"github.com/xphd/d3m-mini-ms/pkg/store"
	"github.com/xphd/d3m-mini-ms/pkg/ta2"

	"golang.org/x/sync/errgroup"
)

const describeConcurrency = 4

// ScoreOutcome reports a batch score. Every requested id lands in exactly one
// of the two maps.
type ScoreOutcome struct {
	Scored   map[string]map[string]float64
	Failures map[string]error
}

// DescribeOutcome reports a batch describe: step counts of cached documents and
// per-id failures.
type DescribeOutcome struct {
	StepCounts map[string]int
	Failures   map[string]error
}

// SolutionView is one row of requestSolutions. ArtifactErr is set when the
// solution's description could not be read; the row is still returned.
type SolutionView struct {
	Record      store.SolutionRecord
	ArtifactErr error
}

type SolutionServiceConfig struct {
	// Metrics are used when a score request names none.
	Metrics    []string
	RankMetric string
}

type ISolutionService interface {
	// ScoreSolutions and DescribeSolutions write into sess, which may already
	// be superseded; such writes are never visible through the store.
	ScoreSolutions(ctx context.Context, sess *store.Session, solutionIDs, metrics []string) (*ScoreOutcome, error)
	DescribeSolutions(ctx context.Context, sess *store.Session, solutionIDs []string) (*DescribeOutcome, error)

	// The Selected variants act on the current session.
	ScoreSelected(ctx context.Context, solutionIDs, metrics []string) (*ScoreOutcome, error)
	DescribeSelected(ctx context.Context, solutionIDs []string) (*DescribeOutcome, error)

	ListSolutions(ctx context.Context) []SolutionView
	Pipeline(ctx context.Context, solutionID string) (json.RawMessage, error)
	Ranking(metric string) (string, []store.RankedSolution)
	Session() store.Summary
}

type solutionService struct {
	client    IRemoteSolutionClient
	artifacts contract.ArtifactRepository
	store     *store.SessionStore
	cfg       SolutionServiceConfig
	logger    logger.ILogger
}

func NewSolutionService(
	client IRemoteSolutionClient,
	artifacts contract.ArtifactRepository,
	sessions *store.SessionStore,
	cfg SolutionServiceConfig,
	log logger.ILogger,
) ISolutionService {
	return &solutionService{
		client:    client,
		artifacts: artifacts,
		store:     sessions,
		cfg:       cfg,
		logger:    log,
	}
}

// known splits ids into those present in sess, deduplicated, and failures for
// the rest.
func known(sess *store.Session, solutionIDs []string) ([]string, map[string]error) {
	var ids []string
	failures := make(map[string]error)
	seen := make(map[string]bool, len(solutionIDs))
	for _, id := range solutionIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if !sess.Has(id) {
			failures[id] = fmt.Errorf("%w: %s", store.ErrUnknownSolution, id)
			continue
		}
		ids = append(ids, id)
	}
	return ids, failures
}

func (s *solutionService) ScoreSolutions(ctx context.Context, sess *store.Session, solutionIDs, metrics []string) (*ScoreOutcome, error) {
	if len(metrics) == 0 {
		metrics = s.cfg.Metrics
	}
	ids, failures := known(sess, solutionIDs)
	out := &ScoreOutcome{Scored: make(map[string]map[string]float64), Failures: failures}
	if len(ids) == 0 {
		return out, nil
	}

	report, err := s.client.ScoreSolutions(ctx, ids, metrics)
	if err != nil {
		return nil, err
	}
	for id, ferr := range report.Failures {
		out.Failures[id] = ferr
	}
	for id, scores := range report.Scores {
		if err := sess.MergeScores(id, scores); err != nil {
			out.Failures[id] = err
			continue
		}
		out.Scored[id] = scores
	}

	if len(out.Failures) > 0 {
		s.logger.Warn("SolutionService", "Some solutions failed to score", map[string]interface{}{
			"generation": sess.Generation(),
			"scored":     len(out.Scored),
			"failed":     len(out.Failures),
		})
	}
	return out, nil
}

func (s *solutionService) DescribeSolutions(ctx context.Context, sess *store.Session, solutionIDs []string) (*DescribeOutcome, error) {
	ids, failures := known(sess, solutionIDs)
	out := &DescribeOutcome{StepCounts: make(map[string]int), Failures: failures}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(describeConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			steps, err := s.describeOne(gctx, sess, id)
			// A missing handshake fails every id the same way; stop the batch.
			if errors.Is(err, ta2.ErrNotConnected) || errors.Is(err, ta2.ErrHandshakeRequired) {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Failures[id] = err
				return nil
			}
			out.StepCounts[id] = steps
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(out.Failures) > 0 {
		s.logger.Warn("SolutionService", "Some solutions failed to describe", map[string]interface{}{
			"generation": sess.Generation(),
			"described":  len(out.StepCounts),
			"failed":     len(out.Failures),
		})
	}
	return out, nil
}

func (s *solutionService) describeOne(ctx context.Context, sess *store.Session, id string) (int, error) {
	doc, err := s.client.DescribeSolution(ctx, id)
	if err != nil {
		return 0, err
	}
	desc, err := s.artifacts.WriteDescription(ctx, id, doc)
	if err != nil {
		return 0, err
	}
	if err := sess.AttachDescription(id, desc.StepCount); err != nil {
		return 0, err
	}
	return desc.StepCount, nil
}

func (s *solutionService) ScoreSelected(ctx context.Context, solutionIDs, metrics []string) (*ScoreOutcome, error) {
	return s.ScoreSolutions(ctx, s.store.Current(), solutionIDs, metrics)
}

func (s *solutionService) DescribeSelected(ctx context.Context, solutionIDs []string) (*DescribeOutcome, error) {
	return s.DescribeSolutions(ctx, s.store.Current(), solutionIDs)
}

// ListSolutions returns every solution of the current session. The pipeline
// size is read from the artifact store, so documents cached by an earlier
// process still count and a row whose artifact is unreadable carries none.
func (s *solutionService) ListSolutions(ctx context.Context) []SolutionView {
	records := s.store.Current().Snapshot()
	views := make([]SolutionView, 0, len(records))
	for _, rec := range records {
		view := SolutionView{Record: rec}
		steps, err := s.artifacts.PipelineStepCount(ctx, rec.SolutionID)
		if err != nil {
			// The row reports the artifact, not what an earlier describe saw.
			view.ArtifactErr = err
			view.Record.PipelineSize = nil
			if !errors.Is(err, contract.ErrNotFound) {
				s.logger.Warn("SolutionService", "Unreadable description", map[string]interface{}{
					"solution_id": rec.SolutionID,
					"error":       err.Error(),
				})
			}
		} else {
			view.Record.PipelineSize = &steps
		}
		views = append(views, view)
	}
	return views
}

func (s *solutionService) Pipeline(ctx context.Context, solutionID string) (json.RawMessage, error) {
	desc, err := s.artifacts.ReadDescription(ctx, solutionID)
	if err != nil {
		return nil, err
	}
	return desc.Document, nil
}

// Ranking ranks the current session by metric, or by the configured metric
// when metric is empty. It returns the metric used.
func (s *solutionService) Ranking(metric string) (string, []store.RankedSolution) {
	if metric == "" {
		metric = s.cfg.RankMetric
	}
	return metric, s.store.Current().Ranked(metric, 0)
}

func (s *solutionService) Session() store.Summary {
	return s.store.Current().Summary()
}
