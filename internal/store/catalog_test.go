package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddService_AssignsIDs(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id1, err := s.AddService(ctx, "sync-1.0", "{node}/1.0/{uid}")
	require.NoError(t, err)
	id2, err := s.AddService(ctx, "queuey-1.0", "{node}/{service}/{uid}")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestAddService_Duplicate(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddService(ctx, "sync-1.0", "{node}/1.0/{uid}")
	require.NoError(t, err)

	_, err = s.AddService(ctx, "sync-1.0", "{node}/other/{uid}")
	require.Error(t, err)
	assert.True(t, IsDuplicateService(err))
}

func TestServiceID_CachedForProcessLifetime(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.AddService(ctx, "sync-1.0", "{node}/1.0/{uid}")
	require.NoError(t, err)

	// Deleting the row behind the cache's back proves resolution no
	// longer touches the catalog table.
	_, err = s.DB().Exec("DELETE FROM services")
	require.NoError(t, err)

	got, err := s.serviceID(ctx, "sync-1.0")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	// Dropping the entry exposes the miss.
	s.forgetService("sync-1.0")
	_, err = s.serviceID(ctx, "sync-1.0")
	require.Error(t, err)
	assert.True(t, IsUnknownService(err))
}

func TestGetPatterns_WarmsCache(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.AddService(ctx, "sync-1.0", "{node}/1.0/{uid}")
	require.NoError(t, err)
	s.forgetService("sync-1.0")

	patterns, err := s.GetPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, ServicePattern{ID: id, Service: "sync-1.0", Pattern: "{node}/1.0/{uid}"}, patterns[0])

	// The listing warmed the cache: resolution survives row deletion.
	_, err = s.DB().Exec("DELETE FROM services")
	require.NoError(t, err)
	got, err := s.serviceID(ctx, "sync-1.0")
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestGetPatterns_EmptyCatalog(t *testing.T) {
	s, _ := newTestStore(t)

	patterns, err := s.GetPatterns(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, patterns)
	assert.Empty(t, patterns)
}
