package implementation

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/xphd/d3m-mini-ms/internal/mapper"
	"github.com/xphd/d3m-mini-ms/internal/model"
	"github.com/xphd/d3m-mini-ms/internal/repository/contract"
)

// FileArtifactRepositoryImpl keeps one <solutionID>.json file per solution in
// dir, the layout the front end's tooling already reads.
type FileArtifactRepositoryImpl struct {
	dir    string
	mapper *mapper.DescriptionMapper
}

func NewFileArtifactRepository(dir string) contract.ArtifactRepository {
	return &FileArtifactRepositoryImpl{
		dir:    dir,
		mapper: mapper.NewDescriptionMapper(),
	}
}

// path rejects ids that would escape dir.
func (r *FileArtifactRepositoryImpl) path(solutionID string) (string, error) {
	if solutionID == "" || solutionID == "." || solutionID == ".." ||
		strings.ContainsAny(solutionID, `/\`) || strings.ContainsRune(solutionID, 0) {
		return "", fmt.Errorf("%w: %q", contract.ErrInvalidID, solutionID)
	}
	return filepath.Join(r.dir, solutionID+".json"), nil
}

func (r *FileArtifactRepositoryImpl) ReadDescription(ctx context.Context, solutionID string) (*model.Description, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := r.path(solutionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contract.ErrNotFound, err)
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", contract.ErrNotFound, solutionID)
	}
	if err != nil {
		return nil, fmt.Errorf("repository: read %s: %w", p, err)
	}
	return r.mapper.ToModel(solutionID, data)
}

func (r *FileArtifactRepositoryImpl) PipelineStepCount(ctx context.Context, solutionID string) (int, error) {
	desc, err := r.ReadDescription(ctx, solutionID)
	if err != nil {
		return 0, err
	}
	return desc.StepCount, nil
}

// WriteDescription replaces the file atomically through a temp file in the
// same directory.
func (r *FileArtifactRepositoryImpl) WriteDescription(ctx context.Context, solutionID string, document []byte) (*model.Description, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := r.path(solutionID)
	if err != nil {
		return nil, err
	}
	desc, err := r.mapper.ToModel(solutionID, document)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("repository: create %s: %w", r.dir, err)
	}
	tmp, err := os.CreateTemp(r.dir, "."+solutionID+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("repository: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(document); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("repository: write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("repository: close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return nil, fmt.Errorf("repository: rename to %s: %w", p, err)
	}
	return desc, nil
}
