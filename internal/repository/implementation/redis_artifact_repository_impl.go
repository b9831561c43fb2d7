package implementation

import (
	"context"
	"errors"
	"fmt"

	"github.com/xphd/d3m-mini-ms/internal/mapper"
	"github.com/xphd/d3m-mini-ms/internal/model"
	"github.com/xphd/d3m-mini-ms/internal/repository/contract"

	"github.com/redis/go-redis/v9"
)

const descriptionKeyPrefix = "describeSolution:"

// RedisArtifactRepositoryImpl stores documents under describeSolution:<id>.
// Keys never expire; the relay does not outlive the documents it caches.
type RedisArtifactRepositoryImpl struct {
	rdb    *redis.Client
	mapper *mapper.DescriptionMapper
}

func NewRedisArtifactRepository(rdb *redis.Client) contract.ArtifactRepository {
	return &RedisArtifactRepositoryImpl{
		rdb:    rdb,
		mapper: mapper.NewDescriptionMapper(),
	}
}

func DescriptionKey(solutionID string) string {
	return descriptionKeyPrefix + solutionID
}

func (r *RedisArtifactRepositoryImpl) ReadDescription(ctx context.Context, solutionID string) (*model.Description, error) {
	if solutionID == "" {
		return nil, fmt.Errorf("%w: %v", contract.ErrNotFound, contract.ErrInvalidID)
	}
	data, err := r.rdb.Get(ctx, DescriptionKey(solutionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", contract.ErrNotFound, solutionID)
	}
	if err != nil {
		return nil, fmt.Errorf("repository: redis get %s: %w", solutionID, err)
	}
	return r.mapper.ToModel(solutionID, data)
}

func (r *RedisArtifactRepositoryImpl) PipelineStepCount(ctx context.Context, solutionID string) (int, error) {
	desc, err := r.ReadDescription(ctx, solutionID)
	if err != nil {
		return 0, err
	}
	return desc.StepCount, nil
}

func (r *RedisArtifactRepositoryImpl) WriteDescription(ctx context.Context, solutionID string, document []byte) (*model.Description, error) {
	if solutionID == "" {
		return nil, fmt.Errorf("%w: empty", contract.ErrInvalidID)
	}
	desc, err := r.mapper.ToModel(solutionID, document)
	if err != nil {
		return nil, err
	}
	if err := r.rdb.Set(ctx, DescriptionKey(solutionID), document, 0).Err(); err != nil {
		return nil, fmt.Errorf("repository: redis set %s: %w", solutionID, err)
	}
	return desc, nil
}
