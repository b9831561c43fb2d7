package presenter

import (
	"encoding/json"
	"sort"

	"github.com/xphd/d3m-mini-ms/internal/dto"
	"github.com/xphd/d3m-mini-ms/internal/pkg/serverutils"
	"github.com/xphd/d3m-mini-ms/internal/repository/contract"
	"github.com/xphd/d3m-mini-ms/internal/service"
	"github.com/xphd/d3m-mini-ms/pkg/store"
)

// GatewayPresenter turns service results into the payloads shared by the
// gateway events and the HTTP API.
type GatewayPresenter struct{}

func NewGatewayPresenter() *GatewayPresenter {
	return &GatewayPresenter{}
}

func (p *GatewayPresenter) Error(err error, solutionID string) dto.ErrorEvent {
	return dto.ErrorEvent{
		Code:       serverutils.ErrorCode(err),
		Message:    err.Error(),
		SolutionID: solutionID,
	}
}

// Failures flattens per-id errors, ordered by solution id.
func (p *GatewayPresenter) Failures(failures map[string]error) []dto.ErrorEvent {
	ids := make([]string, 0, len(failures))
	for id := range failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]dto.ErrorEvent, 0, len(ids))
	for _, id := range ids {
		out = append(out, p.Error(failures[id], id))
	}
	return out
}

func (p *GatewayPresenter) Solutions(views []service.SolutionView) []dto.SolutionResponse {
	out := make([]dto.SolutionResponse, 0, len(views))
	for _, v := range views {
		row := dto.SolutionResponse{
			SolutionID:   v.Record.SolutionID,
			Scores:       v.Record.Scores,
			PipelineSize: v.Record.PipelineSize,
		}
		if row.Scores == nil {
			row.Scores = map[string]float64{}
		}
		if v.ArtifactErr != nil {
			row.ArtifactError = serverutils.ErrorCode(v.ArtifactErr)
		}
		out = append(out, row)
	}
	return out
}

func (p *GatewayPresenter) ScoreResult(outcome *service.ScoreOutcome) dto.ScoreResultResponse {
	scored := outcome.Scored
	if scored == nil {
		scored = map[string]map[string]float64{}
	}
	return dto.ScoreResultResponse{Scored: scored, Failures: p.Failures(outcome.Failures)}
}

func (p *GatewayPresenter) DescribeResult(outcome *service.DescribeOutcome) dto.DescribeResultResponse {
	described := outcome.StepCounts
	if described == nil {
		described = map[string]int{}
	}
	return dto.DescribeResultResponse{Described: described, Failures: p.Failures(outcome.Failures)}
}

func (p *GatewayPresenter) Ranking(metric string, ranked []store.RankedSolution) dto.RankingResponse {
	out := dto.RankingResponse{Metric: metric, Solutions: make([]dto.RankedSolutionResponse, 0, len(ranked))}
	for _, r := range ranked {
		out.Solutions = append(out.Solutions, dto.RankedSolutionResponse{Rank: r.Rank, SolutionID: r.SolutionID, Score: r.Score})
	}
	return out
}

func (p *GatewayPresenter) Session(status service.SessionStatus) dto.SessionResponse {
	return dto.SessionResponse{
		Generation:      status.Generation,
		SearchID:        status.SearchID,
		ConnectionState: string(status.ConnectionState),
		State:           string(status.State),
		RankCutoff:      status.RankCutoff,
		SolutionCount:   status.SolutionCount,
	}
}

// Pipeline extracts the "pipeline" object of a cached description, which is
// what the front end renders.
func (p *GatewayPresenter) Pipeline(document json.RawMessage) (json.RawMessage, error) {
	var doc struct {
		Pipeline json.RawMessage `json:"pipeline"`
	}
	if err := json.Unmarshal(document, &doc); err != nil || len(doc.Pipeline) == 0 {
		return nil, contract.ErrCorruptArtifact
	}
	return doc.Pipeline, nil
}
