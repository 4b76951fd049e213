// Package sharded routes metadata operations across several
// independent physical databases, one per service family.
//
// The shard key is the service name truncated at the first "-", so
// "sync-1.0" and "sync-1.5" share the "sync" shard while "queuey" is
// its own. Every shard is a fully independent store.Store with its own
// pool, dialect and service-id cache; no operation ever spans two
// shards in one statement (cross-shard transactions are a non-goal).
package sharded

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mozilla-services/wimms/internal/store"
)

// WildcardService in a shard definition marks the default shard used
// when no other shard owns a service's family. Single-database
// deployments register their one store under it.
const WildcardService = "*"

// ShardConfig binds one service family to a physical database.
type ShardConfig struct {
	// Service is a service name whose family owns the shard; the key
	// stored is ShardKey(Service).
	Service string

	// Store is the opened metadata store for the shard's database.
	Store *store.Store
}

// Store fans metadata operations out to per-family shards.
type Store struct {
	shards map[string]*store.Store
	names  []string
	def    *store.Store
}

// New assembles a sharded store from opened shards. Later duplicates of
// a shard key are ignored, matching first-writer-wins config parsing.
func New(shards []ShardConfig) (*Store, error) {
	if len(shards) == 0 {
		return nil, fmt.Errorf("sharded store: no shards configured")
	}

	s := &Store{shards: map[string]*store.Store{}}
	for _, sc := range shards {
		if sc.Service == WildcardService {
			if s.def == nil {
				s.def = sc.Store
			}
			continue
		}
		key := ShardKey(sc.Service)
		if _, ok := s.shards[key]; ok {
			continue
		}
		s.shards[key] = sc.Store
		s.names = append(s.names, key)
	}
	sort.Strings(s.names)
	return s, nil
}

// ShardKey maps a service name to its shard. Shards are owned by
// service families, so this is store.ServiceFamily.
func ShardKey(service string) string {
	return store.ServiceFamily(service)
}

// Shard returns the store owning a service's family.
func (s *Store) Shard(service string) (*store.Store, error) {
	if db, ok := s.shards[ShardKey(service)]; ok {
		return db, nil
	}
	if s.def != nil {
		return s.def, nil
	}
	return nil, &store.Error{
		Code:    store.ErrCodeUnknownService,
		Message: "no shard owns this service family",
		Service: service,
	}
}

// Shards returns every distinct physical store, default shard
// included, in deterministic order. Callers use it to drive
// per-database sweeps such as retirement and garbage collection.
func (s *Store) Shards() []*store.Store {
	out := make([]*store.Store, 0, len(s.names)+1)
	for _, name := range s.names {
		out = append(out, s.shards[name])
	}
	if s.def != nil {
		out = append(out, s.def)
	}
	return out
}

// Close closes every shard, returning the first failure.
func (s *Store) Close() error {
	var first error
	for _, db := range s.Shards() {
		if err := db.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// AddService registers a service on its family's shard.
func (s *Store) AddService(ctx context.Context, service, pattern string) (int64, error) {
	db, err := s.Shard(service)
	if err != nil {
		return 0, err
	}
	return db.AddService(ctx, service, pattern)
}

// AddNode registers a node on its service family's shard.
func (s *Store) AddNode(ctx context.Context, service, node string, capacity int, opts *store.NodeOptions) error {
	db, err := s.Shard(service)
	if err != nil {
		return err
	}
	return db.AddNode(ctx, service, node, capacity, opts)
}

// UpdateNode applies whitelisted node updates on the owning shard.
func (s *Store) UpdateNode(ctx context.Context, service, node string, fields map[string]any) error {
	db, err := s.Shard(service)
	if err != nil {
		return err
	}
	return db.UpdateNode(ctx, service, node, fields)
}

// AllocateNode allocates on the owning shard.
func (s *Store) AllocateNode(ctx context.Context, service string) (string, error) {
	db, err := s.Shard(service)
	if err != nil {
		return "", err
	}
	return db.AllocateNode(ctx, service)
}

// GetNode resolves (or first allocates) an identity's node binding.
func (s *Store) GetNode(ctx context.Context, service, email string) (string, error) {
	db, err := s.Shard(service)
	if err != nil {
		return "", err
	}
	return db.GetNode(ctx, service, email)
}

// GetUser reads an identity's active state from the owning shard.
func (s *Store) GetUser(ctx context.Context, service, email string) (*store.User, error) {
	db, err := s.Shard(service)
	if err != nil {
		return nil, err
	}
	return db.GetUser(ctx, service, email)
}

// CreateUser creates an identity's first record on the owning shard.
func (s *Store) CreateUser(ctx context.Context, service, email string, generation int64, clientState string) (*store.User, error) {
	db, err := s.Shard(service)
	if err != nil {
		return nil, err
	}
	return db.CreateUser(ctx, service, email, generation, clientState)
}

// UpdateUser runs the versioning protocol on the owning shard.
func (s *Store) UpdateUser(ctx context.Context, service string, user *store.User, upd store.UserUpdate) error {
	db, err := s.Shard(service)
	if err != nil {
		return err
	}
	return db.UpdateUser(ctx, service, user, upd)
}

// RetireUser retires an identity on one explicitly chosen physical
// database. Retirement is keyed by identity only, so it cannot be
// routed by the service-derived shard key; callers sweep Shards()
// themselves when an identity may live on several databases.
func (s *Store) RetireUser(ctx context.Context, db *store.Store, email string) error {
	return db.RetireUser(ctx, email)
}

// GetUserRecords reads an identity's history from the owning shard.
func (s *Store) GetUserRecords(ctx context.Context, service, email string) ([]store.UserRecord, error) {
	db, err := s.Shard(service)
	if err != nil {
		return nil, err
	}
	return db.GetUserRecords(ctx, service, email)
}

// GetOldUserRecords reads the garbage-collection feed from the owning
// shard.
func (s *Store) GetOldUserRecords(ctx context.Context, service string, grace time.Duration, limit int) ([]store.UserRecord, error) {
	db, err := s.Shard(service)
	if err != nil {
		return nil, err
	}
	return db.GetOldUserRecords(ctx, service, grace, limit)
}

// DeleteUserRecord deletes one superseded record on the owning shard.
func (s *Store) DeleteUserRecord(ctx context.Context, service string, uid int64) error {
	db, err := s.Shard(service)
	if err != nil {
		return err
	}
	return db.DeleteUserRecord(ctx, service, uid)
}

// GetPatterns fans the pattern listing out to every shard and merges
// the results. An unreachable shard is skipped and logged, never fatal:
// one dead database must not hide every other service's patterns.
func (s *Store) GetPatterns(ctx context.Context) ([]store.ServicePattern, error) {
	var (
		merged []store.ServicePattern
		seen   = map[string]bool{}
	)
	for _, name := range s.shardNamesWithDefault() {
		db := s.lookup(name)
		patterns, err := db.GetPatterns(ctx)
		if err != nil {
			slog.Warn("skipping unreachable shard",
				"shard", name, "error", err)
			continue
		}
		for _, p := range patterns {
			key := p.Service + "\x00" + p.Pattern
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, p)
		}
	}
	if merged == nil {
		merged = []store.ServicePattern{}
	}
	return merged, nil
}

func (s *Store) shardNamesWithDefault() []string {
	names := append([]string(nil), s.names...)
	if s.def != nil {
		names = append(names, WildcardService)
	}
	return names
}

func (s *Store) lookup(name string) *store.Store {
	if name == WildcardService {
		return s.def
	}
	return s.shards[name]
}
