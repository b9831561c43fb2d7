package mapper

import (
	"encoding/json"
	"fmt"

	"github.com/xphd/d3m-mini-ms/internal/model"
	"github.com/xphd/d3m-mini-ms/internal/repository/contract"
)

type DescriptionMapper struct{}

func NewDescriptionMapper() *DescriptionMapper {
	return &DescriptionMapper{}
}

// ToModel parses a raw description document. The document must be a JSON
// object whose "pipeline" object carries a "steps" array.
func (m *DescriptionMapper) ToModel(solutionID string, document []byte) (*model.Description, error) {
	var doc struct {
		Pipeline *struct {
			Steps *[]json.RawMessage `json:"steps"`
		} `json:"pipeline"`
	}
	if err := json.Unmarshal(document, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", contract.ErrCorruptArtifact, solutionID, err)
	}
	if doc.Pipeline == nil {
		return nil, fmt.Errorf("%w: %s: missing pipeline", contract.ErrCorruptArtifact, solutionID)
	}
	if doc.Pipeline.Steps == nil {
		return nil, fmt.Errorf("%w: %s: missing pipeline.steps", contract.ErrCorruptArtifact, solutionID)
	}

	raw := make(json.RawMessage, len(document))
	copy(raw, document)
	return &model.Description{
		SolutionID: solutionID,
		Document:   raw,
		StepCount:  len(*doc.Pipeline.Steps),
	}, nil
}
