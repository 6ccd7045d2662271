package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/grievance-api/pkg/errors"
)

func TestMemoryCacheRepositoryRoundTrip(t *testing.T) {
	repo := NewMemoryCacheRepository(time.Minute, time.Minute)
	ctx := context.Background()

	var out map[string]int
	assert.ErrorIs(t, repo.Get(ctx, "grievances:stats:all", &out), appErrors.ErrCacheMiss)

	require.NoError(t, repo.Set(ctx, "grievances:stats:all", map[string]int{"total": 3}, time.Minute))
	require.NoError(t, repo.Get(ctx, "grievances:stats:all", &out))
	assert.Equal(t, 3, out["total"])
}

func TestMemoryCacheRepositoryDeleteByPattern(t *testing.T) {
	repo := NewMemoryCacheRepository(time.Minute, time.Minute)
	ctx := context.Background()
	require.NoError(t, repo.Set(ctx, "grievances:stats:user-1", 1, 0))
	require.NoError(t, repo.Set(ctx, "grievances:analytics", 2, 0))
	require.NoError(t, repo.Set(ctx, "other:key", 3, 0))

	require.NoError(t, repo.DeleteByPattern(ctx, "grievances:*"))

	var v int
	assert.ErrorIs(t, repo.Get(ctx, "grievances:stats:user-1", &v), appErrors.ErrCacheMiss)
	assert.ErrorIs(t, repo.Get(ctx, "grievances:analytics", &v), appErrors.ErrCacheMiss)
	require.NoError(t, repo.Get(ctx, "other:key", &v))
	assert.Equal(t, 3, v)
}
