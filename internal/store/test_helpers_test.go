package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// testClock is a controllable time source so record timestamps and
// grace-period cutoffs are deterministic.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestStore opens a provisioned SQLite store on a temp file with a
// deterministic clock.
func newTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()
	clock := newTestClock()
	s, err := Open(Config{
		Driver:       "sqlite3",
		DSN:          filepath.Join(t.TempDir(), "wimms.db"),
		CreateTables: true,
		Clock:        clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

// seedSyncService registers the fixture services and one node, the
// baseline most scenarios start from.
func seedSyncService(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	_, err := s.AddService(ctx, "sync-1.0", "{node}/1.0/{uid}")
	require.NoError(t, err)
	_, err = s.AddService(ctx, "sync-1.5", "{node}/1.5/{uid}")
	require.NoError(t, err)
	_, err = s.AddService(ctx, "queuey-1.0", "{node}/{service}/{uid}")
	require.NoError(t, err)
	require.NoError(t, s.AddNode(ctx, "sync-1.0", "https://phx12", 100, nil))
}

// testEmail returns a unique identity per call.
func testEmail() string {
	return uuid.NewString() + "@example.com"
}

func genPtr(g int64) *int64 {
	return &g
}

func statePtr(s string) *string {
	return &s
}
