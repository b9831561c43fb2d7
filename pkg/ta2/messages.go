package ta2

import "encoding/json"

// ProgressState is the lifecycle of a long-running remote request.
type ProgressState string

const (
	ProgressPending   ProgressState = "PENDING"
	ProgressRunning   ProgressState = "RUNNING"
	ProgressCompleted ProgressState = "COMPLETED"
	ProgressErrored   ProgressState = "ERRORED"
)

func (p ProgressState) Terminal() bool {
	return p == ProgressCompleted || p == ProgressErrored
}

type Progress struct {
	State  ProgressState `json:"state"`
	Status string        `json:"status,omitempty"`
}

// Value points the remote at input data.
type Value struct {
	DatasetURI string `json:"datasetUri,omitempty"`
}

type PerformanceMetric struct {
	Metric string `json:"metric"`
}

type HelloRequest struct{}

type HelloResponse struct {
	UserAgent           string   `json:"userAgent"`
	Version             string   `json:"version"`
	AllowedValueTypes   []string `json:"allowedValueTypes"`
	SupportedExtensions []string `json:"supportedExtensions,omitempty"`
}

type SearchSolutionsRequest struct {
	UserAgent         string          `json:"userAgent"`
	Version           string          `json:"version"`
	TimeBound         float64         `json:"timeBound"` // minutes
	Priority          float64         `json:"priority"`
	AllowedValueTypes []string        `json:"allowedValueTypes"`
	Problem           json.RawMessage `json:"problem,omitempty"`
	Inputs            []Value         `json:"inputs,omitempty"`
}

type SearchSolutionsResponse struct {
	SearchID string `json:"searchId"`
}

type GetSearchSolutionsResultsRequest struct {
	SearchID string `json:"searchId"`
}

type GetSearchSolutionsResultsResponse struct {
	Progress      Progress `json:"progress"`
	DoneTicks     float64  `json:"doneTicks,omitempty"`
	AllTicks      float64  `json:"allTicks,omitempty"`
	SolutionID    string   `json:"solutionId,omitempty"`
	InternalScore float64  `json:"internalScore,omitempty"`
}

type EndSearchSolutionsRequest struct {
	SearchID string `json:"searchId"`
}

type EndSearchSolutionsResponse struct{}

type ScoreSolutionRequest struct {
	SolutionID         string              `json:"solutionId"`
	Inputs             []Value             `json:"inputs,omitempty"`
	PerformanceMetrics []PerformanceMetric `json:"performanceMetrics"`
}

type ScoreSolutionResponse struct {
	RequestID string `json:"requestId"`
}

type GetScoreSolutionResultsRequest struct {
	RequestID string `json:"requestId"`
}

type Score struct {
	Metric PerformanceMetric `json:"metric"`
	Fold   int               `json:"fold,omitempty"`
	Value  float64           `json:"value"`
}

type GetScoreSolutionResultsResponse struct {
	Progress Progress `json:"progress"`
	Scores   []Score  `json:"scores,omitempty"`
}

type DescribeSolutionRequest struct {
	SolutionID string `json:"solutionId"`
}

// DescribeSolutionResponse is cached verbatim as the solution's description
// document, so Pipeline must keep its "steps" array.
type DescribeSolutionResponse struct {
	Pipeline json.RawMessage `json:"pipeline"`
	Steps    json.RawMessage `json:"steps,omitempty"`
}

// SolutionFound is one discovery notification from a running search.
type SolutionFound struct {
	SolutionID    string
	InternalScore float64
}
