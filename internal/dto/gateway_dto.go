package dto

// Requests decoded from positional gateway args or HTTP bodies.

type ScoreSelectedRequest struct {
	SolutionIDs []string `json:"solutionIDs" validate:"required,min=1,dive,required"`
	// Empty means the configured metrics.
	Metrics []string `json:"metrics" validate:"omitempty,dive,required"`
}

type DescribeSolutionsRequest struct {
	SolutionIDs []string `json:"solutionIDs" validate:"required,min=1,dive,required"`
}

type PipelineRequest struct {
	SolutionID string `json:"solutionID" validate:"required"`
}

type RankingRequest struct {
	Metric string `json:"metric" query:"metric"`
}

// ErrorEvent is the payload of every error* gateway event and of per-id
// failures inside score/describe results.
type ErrorEvent struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	SolutionID string `json:"solutionID,omitempty"`
}

// SolutionResponse is one row of responseSolutions.
type SolutionResponse struct {
	SolutionID    string             `json:"solutionID"`
	Scores        map[string]float64 `json:"scores"`
	PipelineSize  *int               `json:"pipelineSize,omitempty"`
	ArtifactError string             `json:"artifactError,omitempty"`
}

type ScoreResultResponse struct {
	Scored   map[string]map[string]float64 `json:"scored"`
	Failures []ErrorEvent                  `json:"failures"`
}

type DescribeResultResponse struct {
	Described map[string]int `json:"described"`
	Failures  []ErrorEvent   `json:"failures"`
}

type RankedSolutionResponse struct {
	Rank       int     `json:"rank"`
	SolutionID string  `json:"solutionID"`
	Score      float64 `json:"score"`
}

type RankingResponse struct {
	Metric    string                   `json:"metric"`
	Solutions []RankedSolutionResponse `json:"solutions"`
}

type SessionResponse struct {
	Generation      uint64 `json:"generation"`
	SearchID        string `json:"searchID"`
	ConnectionState string `json:"connectionState"`
	State           string `json:"state"`
	RankCutoff      int    `json:"rankCutoff"`
	SolutionCount   int    `json:"solutionCount"`
}

type PipelineResponse struct {
	SolutionID string      `json:"solutionID"`
	Pipeline   interface{} `json:"pipeline"`
}
