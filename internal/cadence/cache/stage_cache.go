// Package cache keeps pipeline stage lists in an in-process ristretto cache.
package cache

import (
	"context"
	"time"

	"crm_backend/internal/cadence/domain"
	"crm_backend/internal/cadence/ports"
	"crm_backend/platform/logger"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"
)

// stageCostOverhead approximates the fixed size of a domain.Stage in bytes.
const stageCostOverhead = 64

const minCounters = 1000

// CachedStageDirectory decorates a StageDirectory with a TTL cache keyed by
// tenant and pipeline. A zero TTL disables caching.
type CachedStageDirectory struct {
	next ports.StageDirectory
	c    *ristretto.Cache[string, []domain.Stage]
	ttl  time.Duration
	log  *logger.Logger
}

// NewStageDirectory wraps next. maxCost bounds the cached bytes.
func NewStageDirectory(next ports.StageDirectory, ttl time.Duration, maxCost int64, log *logger.Logger) (*CachedStageDirectory, error) {
	d := &CachedStageDirectory{next: next, ttl: ttl, log: log}
	if ttl <= 0 {
		return d, nil
	}

	c, err := ristretto.NewCache(&ristretto.Config[string, []domain.Stage]{
		NumCounters:        max(maxCost/100*10, minCounters),
		MaxCost:            maxCost,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	d.c = c
	return d, nil
}

// ListStages serves from the cache when possible. Errors are never cached.
func (d *CachedStageDirectory) ListStages(ctx context.Context, pipelineID, tenantID uuid.UUID) ([]domain.Stage, error) {
	if d.c == nil {
		return d.next.ListStages(ctx, pipelineID, tenantID)
	}

	key := cacheKey(pipelineID, tenantID)
	if stages, ok := d.c.Get(key); ok {
		return cloneStages(stages), nil
	}

	stages, err := d.next.ListStages(ctx, pipelineID, tenantID)
	if err != nil {
		return nil, err
	}

	if !d.c.SetWithTTL(key, cloneStages(stages), stagesCost(stages), d.ttl) && d.log != nil {
		d.log.Debug("stage list not admitted to cache", "pipelineId", pipelineID, "tenantId", tenantID)
	}
	return stages, nil
}

// RefreshStages drops the cached list and reloads it from the source.
func (d *CachedStageDirectory) RefreshStages(ctx context.Context, pipelineID, tenantID uuid.UUID) ([]domain.Stage, error) {
	d.Invalidate(pipelineID, tenantID)
	return d.ListStages(ctx, pipelineID, tenantID)
}

// Invalidate drops the cached stage list of one pipeline.
func (d *CachedStageDirectory) Invalidate(pipelineID, tenantID uuid.UUID) {
	if d.c == nil {
		return
	}
	d.c.Del(cacheKey(pipelineID, tenantID))
}

// Wait blocks until pending cache writes are applied.
func (d *CachedStageDirectory) Wait() {
	if d.c != nil {
		d.c.Wait()
	}
}

// Close releases the cache goroutines.
func (d *CachedStageDirectory) Close() {
	if d.c != nil {
		d.c.Close()
	}
}

func cacheKey(pipelineID, tenantID uuid.UUID) string {
	return tenantID.String() + ":" + pipelineID.String()
}

func stagesCost(stages []domain.Stage) int64 {
	cost := int64(1)
	for _, s := range stages {
		cost += stageCostOverhead + int64(len(s.Name))
	}
	return cost
}

func cloneStages(stages []domain.Stage) []domain.Stage {
	out := make([]domain.Stage, len(stages))
	copy(out, stages)
	return out
}

var (
	_ ports.StageDirectory = (*CachedStageDirectory)(nil)
	_ ports.StageRefresher = (*CachedStageDirectory)(nil)
)
