package sharded

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/wimms/internal/store"
)

func openTestShard(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Config{
		Driver:       "sqlite3",
		DSN:          filepath.Join(t.TempDir(), "shard.db"),
		CreateTables: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// newTestDirectory wires one shard for the "sync" family and one for
// "queuey", mirroring the canonical two-database deployment.
func newTestDirectory(t *testing.T) (*Store, *store.Store, *store.Store) {
	t.Helper()
	syncDB := openTestShard(t)
	queueyDB := openTestShard(t)
	dir, err := New([]ShardConfig{
		{Service: "sync", Store: syncDB},
		{Service: "queuey", Store: queueyDB},
	})
	require.NoError(t, err)
	return dir, syncDB, queueyDB
}

func TestShardKey(t *testing.T) {
	cases := map[string]string{
		"sync-1.0":   "sync",
		"sync-1.5":   "sync",
		"queuey":     "queuey",
		"queuey-1.0": "queuey",
		"sync":       "sync",
	}
	for service, want := range cases {
		assert.Equal(t, want, ShardKey(service), "service %q", service)
	}
}

func TestNew_RequiresShards(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestShard_RoutesByFamily(t *testing.T) {
	dir, syncDB, queueyDB := newTestDirectory(t)

	got, err := dir.Shard("sync-1.0")
	require.NoError(t, err)
	assert.Same(t, syncDB, got)

	got, err = dir.Shard("sync-1.5")
	require.NoError(t, err)
	assert.Same(t, syncDB, got)

	got, err = dir.Shard("queuey-2.0")
	require.NoError(t, err)
	assert.Same(t, queueyDB, got)
}

func TestShard_UnknownFamily(t *testing.T) {
	dir, _, _ := newTestDirectory(t)

	_, err := dir.Shard("ghost-1.0")
	require.Error(t, err)
	assert.True(t, store.IsUnknownService(err))
}

func TestShard_WildcardDefault(t *testing.T) {
	db := openTestShard(t)
	dir, err := New([]ShardConfig{{Service: WildcardService, Store: db}})
	require.NoError(t, err)

	got, err := dir.Shard("anything-1.0")
	require.NoError(t, err)
	assert.Same(t, db, got)
}

func TestCrossVersionVisibility(t *testing.T) {
	dir, _, _ := newTestDirectory(t)
	ctx := context.Background()

	// A node registered under one version serves allocations for every
	// version of the family: node rows are keyed by family, and both
	// versions land on the same shard.
	_, err := dir.AddService(ctx, "sync-1.0", "{node}/1.0/{uid}")
	require.NoError(t, err)
	_, err = dir.AddService(ctx, "sync-1.5", "{node}/1.5/{uid}")
	require.NoError(t, err)
	require.NoError(t, dir.AddNode(ctx, "sync-1.0", "https://phx12", 100, nil))

	node, err := dir.AllocateNode(ctx, "sync-1.5")
	require.NoError(t, err)
	assert.Equal(t, "https://phx12", node)

	user, err := dir.CreateUser(ctx, "sync-1.5", "tarek@mozilla.com", 0, "")
	require.NoError(t, err)
	assert.Equal(t, "https://phx12", user.Node)
}

func TestShardsAreIndependent(t *testing.T) {
	dir, syncDB, queueyDB := newTestDirectory(t)
	ctx := context.Background()

	_, err := dir.AddService(ctx, "sync-1.0", "{node}/1.0/{uid}")
	require.NoError(t, err)
	_, err = dir.AddService(ctx, "queuey-1.0", "{node}/{service}/{uid}")
	require.NoError(t, err)

	// The sync catalog lives only on the sync shard.
	var count int
	require.NoError(t, syncDB.DB().
		QueryRow("SELECT COUNT(*) FROM services").Scan(&count))
	assert.Equal(t, 1, count)
	require.NoError(t, queueyDB.DB().
		QueryRow("SELECT COUNT(*) FROM services").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestVersioningThroughRouting(t *testing.T) {
	dir, _, _ := newTestDirectory(t)
	ctx := context.Background()

	_, err := dir.AddService(ctx, "sync-1.0", "{node}/1.0/{uid}")
	require.NoError(t, err)
	require.NoError(t, dir.AddNode(ctx, "sync-1.0", "https://phx12", 100, nil))

	user, err := dir.CreateUser(ctx, "sync-1.0", "tarek@mozilla.com", 0, "")
	require.NoError(t, err)

	state := "aaa"
	require.NoError(t, dir.UpdateUser(ctx, "sync-1.0", user,
		store.UserUpdate{ClientState: &state}))
	err = dir.UpdateUser(ctx, "sync-1.0", user,
		store.UserUpdate{ClientState: &state})
	require.Error(t, err)
	assert.True(t, store.IsClientStateReused(err))

	records, err := dir.GetUserRecords(ctx, "sync-1.0", "tarek@mozilla.com")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestGetPatterns_MergesAllShards(t *testing.T) {
	dir, _, _ := newTestDirectory(t)
	ctx := context.Background()

	_, err := dir.AddService(ctx, "sync-1.0", "{node}/1.0/{uid}")
	require.NoError(t, err)
	_, err = dir.AddService(ctx, "queuey-1.0", "{node}/{service}/{uid}")
	require.NoError(t, err)

	patterns, err := dir.GetPatterns(ctx)
	require.NoError(t, err)

	services := make([]string, 0, len(patterns))
	for _, p := range patterns {
		services = append(services, p.Service)
	}
	assert.ElementsMatch(t, []string{"sync-1.0", "queuey-1.0"}, services)
}

func TestGetPatterns_SkipsUnreachableShard(t *testing.T) {
	dir, _, queueyDB := newTestDirectory(t)
	ctx := context.Background()

	_, err := dir.AddService(ctx, "queuey-1.0", "{node}/{service}/{uid}")
	require.NoError(t, err)
	_, err = dir.AddService(ctx, "sync-1.0", "{node}/1.0/{uid}")
	require.NoError(t, err)

	// Kill the queuey shard; the listing must still deliver sync.
	require.NoError(t, queueyDB.Close())

	patterns, err := dir.GetPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, "sync-1.0", patterns[0].Service)
}

func TestRetireUser_ExplicitShard(t *testing.T) {
	dir, syncDB, _ := newTestDirectory(t)
	ctx := context.Background()

	_, err := dir.AddService(ctx, "sync-1.0", "{node}/1.0/{uid}")
	require.NoError(t, err)
	require.NoError(t, dir.AddNode(ctx, "sync-1.0", "https://phx12", 100, nil))
	before, err := dir.CreateUser(ctx, "sync-1.0", "test@mozilla.com", 0, "")
	require.NoError(t, err)

	require.NoError(t, dir.RetireUser(ctx, syncDB, "test@mozilla.com"))

	after, err := dir.GetUser(ctx, "sync-1.0", "test@mozilla.com")
	require.NoError(t, err)
	assert.Greater(t, after.Generation, before.Generation)
}

func TestShards_EnumeratesAll(t *testing.T) {
	dir, _, _ := newTestDirectory(t)
	assert.Len(t, dir.Shards(), 2)
}
