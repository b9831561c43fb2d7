// Package ta2mock is an in-memory Core service with deterministic solutions.
// It backs the client tests and the local ta2mock command.
package ta2mock

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/xphd/d3m-mini-ms/pkg/ta2"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// Solution is one canned search result.
type Solution struct {
	ID     string
	Scores map[string]float64
	Steps  int
}

type Server struct {
	Version   string
	UserAgent string
	Solutions []Solution

	// DiscoveryDelay is slept before each discovery message.
	DiscoveryDelay time.Duration
	// HoldSearchOpen keeps the results stream open after the last solution
	// without a terminal message.
	HoldSearchOpen bool
	// FailSearch makes SearchSolutions return Internal.
	FailSearch bool
	// FailScore and FailDescribe list solution ids that error.
	FailScore    map[string]bool
	FailDescribe map[string]bool
	// BeforeScore, when set, runs at the start of every ScoreSolution call.
	BeforeScore func(solutionID string)

	mu            sync.Mutex
	searches      map[string]bool
	scoreRequests map[string]scoreRequest
	calls         []string
}

type scoreRequest struct {
	solutionID string
	metrics    []string
}

// New returns a server speaking version with the given solutions.
func New(version string, solutions ...Solution) *Server {
	return &Server{
		Version:       version,
		UserAgent:     "ta2mock",
		Solutions:     solutions,
		FailScore:     map[string]bool{},
		FailDescribe:  map[string]bool{},
		searches:      map[string]bool{},
		scoreRequests: map[string]scoreRequest{},
	}
}

// Calls returns the method names served so far, in order.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Server) record(method string) {
	s.mu.Lock()
	s.calls = append(s.calls, method)
	s.mu.Unlock()
}

func (s *Server) solution(id string) (Solution, bool) {
	for _, sol := range s.Solutions {
		if sol.ID == id {
			return sol, true
		}
	}
	return Solution{}, false
}

func (s *Server) Hello(_ context.Context, _ *ta2.HelloRequest) (*ta2.HelloResponse, error) {
	s.record("Hello")
	return &ta2.HelloResponse{
		UserAgent:         s.UserAgent,
		Version:           s.Version,
		AllowedValueTypes: []string{"1", "2", "3"},
	}, nil
}

func (s *Server) SearchSolutions(_ context.Context, req *ta2.SearchSolutionsRequest) (*ta2.SearchSolutionsResponse, error) {
	s.record("SearchSolutions")
	if s.FailSearch {
		return nil, status.Error(codes.Internal, "search rejected")
	}
	if req.Version != s.Version {
		return nil, status.Errorf(codes.FailedPrecondition, "version %q not supported", req.Version)
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.searches[id] = true
	s.mu.Unlock()
	return &ta2.SearchSolutionsResponse{SearchID: id}, nil
}

func (s *Server) GetSearchSolutionsResults(req *ta2.GetSearchSolutionsResultsRequest, stream ta2.SearchResultsStream) error {
	s.record("GetSearchSolutionsResults")
	s.mu.Lock()
	known := s.searches[req.SearchID]
	s.mu.Unlock()
	if !known {
		return status.Errorf(codes.NotFound, "search %q not found", req.SearchID)
	}

	ctx := stream.Context()
	total := float64(len(s.Solutions))
	for i, sol := range s.Solutions {
		if s.DiscoveryDelay > 0 {
			select {
			case <-time.After(s.DiscoveryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := stream.Send(&ta2.GetSearchSolutionsResultsResponse{
			Progress:   ta2.Progress{State: ta2.ProgressRunning},
			DoneTicks:  float64(i + 1),
			AllTicks:   total,
			SolutionID: sol.ID,
		})
		if err != nil {
			return err
		}
	}

	if s.HoldSearchOpen {
		<-ctx.Done()
		return ctx.Err()
	}
	return stream.Send(&ta2.GetSearchSolutionsResultsResponse{
		Progress:  ta2.Progress{State: ta2.ProgressCompleted},
		DoneTicks: total,
		AllTicks:  total,
	})
}

func (s *Server) EndSearchSolutions(_ context.Context, req *ta2.EndSearchSolutionsRequest) (*ta2.EndSearchSolutionsResponse, error) {
	s.record("EndSearchSolutions")
	s.mu.Lock()
	delete(s.searches, req.SearchID)
	s.mu.Unlock()
	return &ta2.EndSearchSolutionsResponse{}, nil
}

func (s *Server) ScoreSolution(_ context.Context, req *ta2.ScoreSolutionRequest) (*ta2.ScoreSolutionResponse, error) {
	s.record("ScoreSolution")
	if s.BeforeScore != nil {
		s.BeforeScore(req.SolutionID)
	}
	if _, ok := s.solution(req.SolutionID); !ok {
		return nil, status.Errorf(codes.NotFound, "solution %q not found", req.SolutionID)
	}
	if s.FailScore[req.SolutionID] {
		return nil, status.Errorf(codes.Internal, "scoring %q failed", req.SolutionID)
	}
	var metrics []string
	for _, m := range req.PerformanceMetrics {
		metrics = append(metrics, m.Metric)
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.scoreRequests[id] = scoreRequest{solutionID: req.SolutionID, metrics: metrics}
	s.mu.Unlock()
	return &ta2.ScoreSolutionResponse{RequestID: id}, nil
}

func (s *Server) GetScoreSolutionResults(req *ta2.GetScoreSolutionResultsRequest, stream ta2.ScoreResultsStream) error {
	s.record("GetScoreSolutionResults")
	s.mu.Lock()
	sr, ok := s.scoreRequests[req.RequestID]
	delete(s.scoreRequests, req.RequestID)
	s.mu.Unlock()
	if !ok {
		return status.Errorf(codes.NotFound, "request %q not found", req.RequestID)
	}
	sol, _ := s.solution(sr.solutionID)

	if err := stream.Send(&ta2.GetScoreSolutionResultsResponse{Progress: ta2.Progress{State: ta2.ProgressRunning}}); err != nil {
		return err
	}
	final := &ta2.GetScoreSolutionResultsResponse{Progress: ta2.Progress{State: ta2.ProgressCompleted}}
	for _, m := range sr.metrics {
		if v, ok := sol.Scores[m]; ok {
			final.Scores = append(final.Scores, ta2.Score{Metric: ta2.PerformanceMetric{Metric: m}, Value: v})
		}
	}
	return stream.Send(final)
}

func (s *Server) DescribeSolution(_ context.Context, req *ta2.DescribeSolutionRequest) (*ta2.DescribeSolutionResponse, error) {
	s.record("DescribeSolution")
	sol, ok := s.solution(req.SolutionID)
	if !ok || s.FailDescribe[req.SolutionID] {
		return nil, status.Errorf(codes.NotFound, "solution %q not found", req.SolutionID)
	}
	pipeline, err := json.Marshal(PipelineDocument(sol.ID, sol.Steps)["pipeline"])
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &ta2.DescribeSolutionResponse{Pipeline: pipeline}, nil
}

// PipelineDocument builds the description document the mock serves for a
// solution with the given number of steps.
func PipelineDocument(solutionID string, steps int) map[string]interface{} {
	stepList := make([]map[string]interface{}, 0, steps)
	for i := 0; i < steps; i++ {
		stepList = append(stepList, map[string]interface{}{
			"primitive": map[string]interface{}{
				"primitive": map[string]interface{}{
					"id":          fmt.Sprintf("step-%d", i),
					"python_path": fmt.Sprintf("d3m.primitives.mock.Step%d", i),
				},
			},
		})
	}
	return map[string]interface{}{
		"pipeline": map[string]interface{}{
			"id":    solutionID,
			"steps": stepList,
		},
	}
}

// Serve registers s on a new gRPC server listening on lis.
func Serve(lis net.Listener, s *Server) *grpc.Server {
	srv := grpc.NewServer()
	ta2.RegisterCoreServer(srv, s)
	go func() {
		// Returns when Stop is called.
		_ = srv.Serve(lis)
	}()
	return srv
}

// Bufconn serves s in process. The returned target and dial option connect a
// ta2.Client to it; stop tears everything down.
func Bufconn(s *Server) (target string, dial grpc.DialOption, stop func()) {
	lis := bufconn.Listen(1024 * 1024)
	srv := Serve(lis, s)
	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}
	return "passthrough:///bufnet", grpc.WithContextDialer(dialer), func() {
		srv.Stop()
		_ = lis.Close()
	}
}
