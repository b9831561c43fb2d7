package memory

import (
	"context"
	"time"

	"github.com/xphd/d3m-mini-ms/internal/model"
	"github.com/xphd/d3m-mini-ms/internal/repository/contract"

	"github.com/patrickmn/go-cache"
)

var _ contract.ArtifactRepository = (*ArtifactCache)(nil)

// ArtifactCache is a read-through cache of parsed descriptions in front of a
// slower repository. Only successful reads are cached, so a document that
// appears later, or a corrupt one that gets rewritten, is picked up.
type ArtifactCache struct {
	next  contract.ArtifactRepository
	cache *cache.Cache
}

func NewArtifactCache(next contract.ArtifactRepository, ttl time.Duration) *ArtifactCache {
	// Purge expired entries every two TTLs
	c := cache.New(ttl, 2*ttl)
	return &ArtifactCache{
		next:  next,
		cache: c,
	}
}

func (r *ArtifactCache) ReadDescription(ctx context.Context, solutionID string) (*model.Description, error) {
	if x, found := r.cache.Get(solutionID); found {
		return x.(*model.Description), nil
	}
	desc, err := r.next.ReadDescription(ctx, solutionID)
	if err != nil {
		return nil, err
	}
	r.cache.Set(solutionID, desc, cache.DefaultExpiration)
	return desc, nil
}

func (r *ArtifactCache) PipelineStepCount(ctx context.Context, solutionID string) (int, error) {
	desc, err := r.ReadDescription(ctx, solutionID)
	if err != nil {
		return 0, err
	}
	return desc.StepCount, nil
}

func (r *ArtifactCache) WriteDescription(ctx context.Context, solutionID string, document []byte) (*model.Description, error) {
	r.cache.Delete(solutionID)
	desc, err := r.next.WriteDescription(ctx, solutionID, document)
	if err != nil {
		return nil, err
	}
	r.cache.Set(solutionID, desc, cache.DefaultExpiration)
	return desc, nil
}

// Flush drops every cached entry.
func (r *ArtifactCache) Flush() {
	r.cache.Flush()
}

func (r *ArtifactCache) Len() int {
	return r.cache.ItemCount()
}
