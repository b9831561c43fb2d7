package service

import (
	"context"
	"time"

	"github.com/xphd/d3m-mini-ms/pkg/ta2"
)

// IRemoteSolutionClient is the part of *ta2.Client the services drive.
type IRemoteSolutionClient interface {
	Connect(ctx context.Context, addr string) error
	Connected() bool
	Hello(ctx context.Context) (*ta2.HelloResponse, error)
	SearchSolutions(ctx context.Context, req ta2.SearchSolutionsRequest) (string, error)
	SearchResults(ctx context.Context, searchID string, deadline time.Duration, onFound func(ta2.SolutionFound) error) error
	EndSearch(ctx context.Context, searchID string) error
	ScoreSolutions(ctx context.Context, solutionIDs, metrics []string) (*ta2.ScoreReport, error)
	DescribeSolution(ctx context.Context, solutionID string) ([]byte, error)
}

var _ IRemoteSolutionClient = (*ta2.Client)(nil)
