package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xphd/d3m-mini-ms/internal/model"
	"github.com/xphd/d3m-mini-ms/internal/repository/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRepo struct {
	docs  map[string]*model.Description
	reads int
}

func (r *countingRepo) ReadDescription(_ context.Context, id string) (*model.Description, error) {
	r.reads++
	if d, ok := r.docs[id]; ok {
		return d, nil
	}
	return nil, contract.ErrNotFound
}

func (r *countingRepo) PipelineStepCount(ctx context.Context, id string) (int, error) {
	d, err := r.ReadDescription(ctx, id)
	if err != nil {
		return 0, err
	}
	return d.StepCount, nil
}

func (r *countingRepo) WriteDescription(_ context.Context, id string, document []byte) (*model.Description, error) {
	d := &model.Description{SolutionID: id, Document: document, StepCount: 2}
	r.docs[id] = d
	return d, nil
}

func TestArtifactCacheReadThrough(t *testing.T) {
	repo := &countingRepo{docs: map[string]*model.Description{
		"A": {SolutionID: "A", StepCount: 3},
	}}
	c := NewArtifactCache(repo, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		n, err := c.PipelineStepCount(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	}
	assert.Equal(t, 1, repo.reads)

	// Misses are not cached.
	_, err := c.ReadDescription(ctx, "B")
	assert.True(t, errors.Is(err, contract.ErrNotFound))
	_, err = c.ReadDescription(ctx, "B")
	assert.True(t, errors.Is(err, contract.ErrNotFound))
	assert.Equal(t, 3, repo.reads)

	_, err = c.WriteDescription(ctx, "B", []byte(`{}`))
	require.NoError(t, err)
	n, err := c.PipelineStepCount(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 3, repo.reads)
	assert.Equal(t, 2, c.Len())

	c.Flush()
	assert.Equal(t, 0, c.Len())
}
