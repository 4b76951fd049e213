package store

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
)

// writableNodeFields is the whitelist UpdateNode accepts. Everything
// else on a node row is owned by this subsystem.
var writableNodeFields = map[string]bool{
	"available":    true,
	"current_load": true,
	"capacity":     true,
	"downed":       true,
	"backoff":      true,
}

// allocAttempts bounds the select/conditional-update loop in
// AllocateNode under contention.
const allocAttempts = 10

// ServiceFamily maps a service name to the family that shares one node
// pool (and, in a sharded deployment, one shard): the name truncated
// at the first "-", stripping version suffixes. "sync-1.0" and
// "sync-1.5" are both family "sync"; "queuey" is its own.
func ServiceFamily(service string) string {
	family, _, _ := strings.Cut(service, "-")
	return family
}

// AddNode registers a node for a service with the given hard capacity.
// The row is keyed by the service family, so a node added under
// "sync-1.0" also serves "sync-1.5" allocations. opts may preset load
// and flags; a nil opts gives the node its full capacity in available
// slots.
func (s *Store) AddNode(ctx context.Context, service, node string, capacity int, opts *NodeOptions) error {
	if _, err := s.serviceID(ctx, service); err != nil {
		return err
	}

	if opts == nil {
		opts = &NodeOptions{}
	}
	available := capacity
	if opts.Available != nil {
		available = *opts.Available
	}

	_, err := s.exec(ctx, `
		INSERT INTO nodes
		(service, node, available, current_load, capacity, downed, backoff)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ServiceFamily(service), node, available, opts.CurrentLoad, capacity,
		boolToInt(opts.Downed), boolToInt(opts.Backoff))
	return err
}

// UpdateNode applies operator updates to a node row, restricted to the
// writable whitelist. Any other field fails with
// ErrCodeUnsupportedField before touching the database.
func (s *Store) UpdateNode(ctx context.Context, service, node string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		if !writableNodeFields[name] {
			return unsupportedFieldError(name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if _, err := s.serviceID(ctx, service); err != nil {
		return err
	}

	var set strings.Builder
	args := make([]any, 0, len(names)+2)
	for i, name := range names {
		if i > 0 {
			set.WriteString(", ")
		}
		set.WriteString(name)
		set.WriteString(" = ?")
		args = append(args, coerceNodeField(fields[name]))
	}
	args = append(args, ServiceFamily(service), node)

	_, err := s.exec(ctx,
		"UPDATE nodes SET "+set.String()+" WHERE service = ? AND node = ?",
		args...)
	return err
}

// AllocateNode picks the least-loaded eligible node for a service and
// claims one slot on it.
//
// Eligibility is available > 0 AND capacity > current_load AND NOT
// downed; candidates are ranked by load ratio with ties broken by the
// backend's result ordering. The claim is a conditional update keyed on
// the load observed at selection time: if a concurrent allocator got
// there first the update is a no-op and the select runs again. This
// closes the select-then-update race the assignment protocol would
// otherwise carry (a deliberate choice, see DESIGN.md); the bookkeeping
// itself stays best-effort and eventually consistent.
func (s *Store) AllocateNode(ctx context.Context, service string) (string, error) {
	if _, err := s.serviceID(ctx, service); err != nil {
		return "", err
	}
	family := ServiceFamily(service)

	for attempt := 0; attempt < allocAttempts; attempt++ {
		node, load, err := s.bestNode(ctx, family, service)
		if err != nil {
			return "", err
		}

		res, err := s.exec(ctx, `
			UPDATE nodes
			SET available = available - 1, current_load = current_load + 1
			WHERE service = ? AND node = ? AND current_load = ?
		`, family, node, load)
		if err != nil {
			return "", err
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return "", backendError("allocate node", err)
		}
		if affected > 0 {
			return node, nil
		}
		// Lost the claim to a concurrent allocator; re-select.
	}

	return "", backendError("allocate node",
		errors.New("allocation contended, retries exhausted"))
}

// bestNode selects the current least-loaded eligible node and the load
// observed on it.
func (s *Store) bestNode(ctx context.Context, family, service string) (string, int, error) {
	qctx, cancel := context.WithTimeout(ctx, s.stmtTimeout)
	defer cancel()

	var (
		node string
		load int
	)
	err := s.db.QueryRowContext(qctx, `
		SELECT node, current_load FROM nodes
		WHERE service = ? AND available > 0
		  AND capacity > current_load AND downed = 0
		ORDER BY `+s.dialect.loadOrder()+`
		LIMIT 1
	`, family).Scan(&node, &load)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, noNodeError(service)
	}
	if err != nil {
		return "", 0, backendError("select node", err)
	}
	return node, load, nil
}

// GetNode returns the node an identity is bound to on a service,
// allocating a new binding on first contact.
func (s *Store) GetNode(ctx context.Context, service, email string) (string, error) {
	user, err := s.GetUser(ctx, service, email)
	if err != nil {
		return "", err
	}
	if user == nil {
		user, err = s.CreateUser(ctx, service, email, 0, "")
		if err != nil {
			return "", err
		}
	}
	return user.Node, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// coerceNodeField maps bool flag values onto the integer columns the
// schema uses for downed/backoff.
func coerceNodeField(v any) any {
	if b, ok := v.(bool); ok {
		return boolToInt(b)
	}
	return v
}
