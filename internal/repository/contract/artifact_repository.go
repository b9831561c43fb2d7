package contract

import (
	"context"
	"errors"

	"github.com/xphd/d3m-mini-ms/internal/model"
)

var (
	ErrNotFound        = errors.New("repository: artifact not found")
	ErrCorruptArtifact = errors.New("repository: corrupt artifact")
	ErrInvalidID       = errors.New("repository: invalid solution id")
)

// ArtifactRepository stores per-solution description documents outside the
// session. Reads of a missing document return ErrNotFound; documents that do
// not parse or lack pipeline.steps return ErrCorruptArtifact.
type ArtifactRepository interface {
	ReadDescription(ctx context.Context, solutionID string) (*model.Description, error)
	PipelineStepCount(ctx context.Context, solutionID string) (int, error)
	// WriteDescription validates document before storing it, so a corrupt
	// document is rejected instead of replacing a good one.
	WriteDescription(ctx context.Context, solutionID string, document []byte) (*model.Description, error)
}
