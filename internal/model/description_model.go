package model

import "encoding/json"

// Description is a parsed describeSolution document. Document keeps the bytes
// exactly as cached so responsePipeline can hand them back unchanged.
type Description struct {
	SolutionID string          `json:"solutionID"`
	Document   json.RawMessage `json:"document"`
	StepCount  int             `json:"stepCount"`
}
