package store

import (
	"context"
	"database/sql"
	"math"
	"time"

	"golang.org/x/text/unicode/norm"
)

// defaultGracePeriod protects recently superseded records from garbage
// collection: one week.
const defaultGracePeriod = 7 * 24 * time.Hour

// retiredGeneration is the sentinel written by RetireUser. No client
// can ever present a larger generation, so retired identities stay
// blocked under their old bindings.
const retiredGeneration = math.MaxInt64

// normalizeEmail puts an identity into NFC so byte-equal lookups agree
// with what devices submit in any normalization form.
func normalizeEmail(email string) string {
	return norm.NFC.String(email)
}

// GetUser returns the active record for an identity on a service plus
// the client-state values seen in the anti-reuse window, or nil if the
// identity has no records.
func (s *Store) GetUser(ctx context.Context, service, email string) (*User, error) {
	email = normalizeEmail(email)
	svc, err := s.serviceID(ctx, service)
	if err != nil {
		return nil, err
	}

	rows, cancel, err := s.query(ctx, `
		SELECT uid, node, generation, client_state, created_at
		FROM users
		WHERE email = ? AND service = ?
		ORDER BY created_at DESC, uid DESC
		LIMIT ?
	`, email, svc, windowSize)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer rows.Close()

	var user *User
	for rows.Next() {
		var (
			uid, generation, createdAt int64
			node, clientState          string
		)
		if err := rows.Scan(&uid, &node, &generation, &clientState, &createdAt); err != nil {
			return nil, backendError("scan user record", err)
		}
		if user == nil {
			// First row is the most up-to-date record.
			user = &User{
				UID:             uid,
				Email:           email,
				Node:            node,
				Generation:      generation,
				ClientState:     clientState,
				CreatedAt:       createdAt,
				OldClientStates: map[string]bool{},
			}
			continue
		}
		// Subsequent rows carry old client-state values.
		user.OldClientStates[clientState] = true
	}
	if err := rows.Err(); err != nil {
		return nil, backendError("iterate user records", err)
	}
	return user, nil
}

// CreateUser allocates a node for a new identity and inserts its first
// record. If a concurrent creator wins the per-identity uniqueness
// race, the winning record is fetched and returned instead of an
// error.
func (s *Store) CreateUser(ctx context.Context, service, email string, generation int64, clientState string) (*User, error) {
	email = normalizeEmail(email)
	svc, err := s.serviceID(ctx, service)
	if err != nil {
		return nil, err
	}

	node, err := s.AllocateNode(ctx, service)
	if err != nil {
		return nil, err
	}

	now := s.timestamp()
	uid, created, err := s.insertUserRecord(ctx, svc, email, node, generation, clientState, now)
	if err != nil {
		return nil, err
	}
	if !created {
		// A concurrent creator won; its record is the truth.
		return s.GetUser(ctx, service, email)
	}

	return &User{
		UID:             uid,
		Email:           email,
		Node:            node,
		Generation:      generation,
		ClientState:     clientState,
		CreatedAt:       now,
		OldClientStates: map[string]bool{},
	}, nil
}

// UserUpdate carries the optional inputs of UpdateUser. A nil field is
// left untouched.
type UserUpdate struct {
	// Generation proposes a new generation number. Smaller or equal
	// values are a no-op; the counter never moves backward.
	Generation *int64

	// ClientState rotates the client-state token, creating a new
	// record. Values already in the anti-reuse window are rejected.
	ClientState *string
}

// UpdateUser applies the versioning protocol to an identity and
// mutates user to reflect the resulting state.
//
// Without a client-state change the uid is stable and only the
// generation may advance. With one, a fresh record is inserted carrying
// the same node binding, and every older unreplaced record is marked
// replaced, healing stray duplicates left by earlier races.
func (s *Store) UpdateUser(ctx context.Context, service string, user *User, upd UserUpdate) error {
	if upd.ClientState == nil {
		if upd.Generation == nil {
			return nil
		}
		return s.bumpGeneration(ctx, service, user, *upd.Generation)
	}
	return s.rotateClientState(ctx, service, user, *upd.ClientState, upd.Generation)
}

// bumpGeneration conditionally advances the active record's generation.
// The update applies only while the proposed value is larger and the
// record is still unreplaced, so it can never roll back or resurrect.
func (s *Store) bumpGeneration(ctx context.Context, service string, user *User, generation int64) error {
	email := normalizeEmail(user.Email)
	svc, err := s.serviceID(ctx, service)
	if err != nil {
		return err
	}

	_, err = s.exec(ctx, `
		UPDATE users SET generation = ?
		WHERE service = ? AND email = ?
		  AND generation < ? AND replaced_at IS NULL
	`, generation, svc, email, generation)
	if err != nil {
		return err
	}

	if generation > user.Generation {
		user.Generation = generation
	}
	return nil
}

// rotateClientState inserts a new record carrying the rotated token.
func (s *Store) rotateClientState(ctx context.Context, service string, user *User, clientState string, generation *int64) error {
	if clientState == user.ClientState || user.OldClientStates[clientState] {
		return clientStateReusedError(service)
	}

	email := normalizeEmail(user.Email)
	svc, err := s.serviceID(ctx, service)
	if err != nil {
		return err
	}

	gen := user.Generation
	if generation != nil && *generation > gen {
		gen = *generation
	}

	// The chain is ordered by created_at; a rotation in the same
	// millisecond as the active record must still sort (and mark) as
	// strictly newer.
	now := s.timestamp()
	if now <= user.CreatedAt {
		now = user.CreatedAt + 1
	}

	uid, created, err := s.insertUserRecord(ctx, svc, email, user.Node, gen, clientState, now)
	if err != nil {
		return err
	}
	if created {
		user.OldClientStates[user.ClientState] = true
		user.UID = uid
		user.Generation = gen
		user.ClientState = clientState
		user.CreatedAt = now
	} else {
		// A concurrent writer claimed this slot in the chain; adopt
		// the state it left behind.
		fresh, err := s.GetUser(ctx, service, email)
		if err != nil {
			return err
		}
		if fresh != nil {
			*user = *fresh
		}
	}

	// Mark all older records as replaced. A crash before this point
	// leaves them unmarked and merely delays garbage collection; the
	// active state is undamaged.
	_, err = s.exec(ctx, `
		UPDATE users SET replaced_at = ?
		WHERE service = ? AND email = ?
		  AND replaced_at IS NULL AND created_at < ?
	`, now, svc, email, now)
	return err
}

// insertUserRecord appends one record to an identity's chain. The
// returned created flag is false when the per-(service, email,
// created_at) uniqueness key was already claimed by a concurrent
// writer; callers re-read instead of treating that as a failure.
func (s *Store) insertUserRecord(ctx context.Context, svc int64, email, node string, generation int64, clientState string, createdAt int64) (uid int64, created bool, err error) {
	res, err := s.exec(ctx, s.dialect.insertIgnore(`users
		(service, email, node, generation, client_state, created_at, replaced_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)`),
		svc, email, node, generation, clientState, createdAt)
	if err != nil {
		return 0, false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, backendError("insert user record", err)
	}
	if affected == 0 {
		return 0, false, nil
	}

	uid, err = res.LastInsertId()
	if err != nil {
		return 0, false, backendError("insert user record", err)
	}
	return uid, true, nil
}

// RetireUser marks every active record for an identity as replaced and
// pins the generation to the maximum representable value, permanently
// blocking logins under the old bindings.
//
// Retirement is keyed by identity alone and therefore sweeps all
// services reachable on this store's physical database; it cannot be
// routed by a service-derived shard key.
func (s *Store) RetireUser(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	_, err := s.exec(ctx, `
		UPDATE users SET replaced_at = ?, generation = ?
		WHERE email = ? AND replaced_at IS NULL
	`, s.timestamp(), int64(retiredGeneration), email)
	return err
}

// GetUserRecords returns an identity's full version chain for a
// service, oldest first, replaced records included.
func (s *Store) GetUserRecords(ctx context.Context, service, email string) ([]UserRecord, error) {
	email = normalizeEmail(email)
	svc, err := s.serviceID(ctx, service)
	if err != nil {
		return nil, err
	}

	rows, cancel, err := s.query(ctx, `
		SELECT uid, node, generation, client_state, created_at, replaced_at
		FROM users
		WHERE email = ? AND service = ?
		ORDER BY created_at ASC, uid DESC
	`, email, svc)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer rows.Close()

	return scanUserRecords(rows)
}

// GetOldUserRecords returns records superseded before the grace period,
// most recently replaced first, bounded by limit. This is the feed for
// garbage collection. A negative grace selects the one-week default; a
// non-positive limit selects the default of 100.
func (s *Store) GetOldUserRecords(ctx context.Context, service string, grace time.Duration, limit int) ([]UserRecord, error) {
	svc, err := s.serviceID(ctx, service)
	if err != nil {
		return nil, err
	}

	if grace < 0 {
		grace = defaultGracePeriod
	}
	if limit <= 0 {
		limit = 100
	}
	cutoff := s.timestamp() - grace.Milliseconds()

	rows, cancel, err := s.query(ctx, `
		SELECT uid, node, generation, client_state, created_at, replaced_at
		FROM users
		WHERE service = ?
		  AND replaced_at IS NOT NULL AND replaced_at < ?
		ORDER BY replaced_at DESC, uid DESC
		LIMIT ?
	`, svc, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer rows.Close()

	return scanUserRecords(rows)
}

// DeleteUserRecord physically deletes one record by primary key. No
// cascading effects; node bookkeeping is left untouched.
func (s *Store) DeleteUserRecord(ctx context.Context, service string, uid int64) error {
	svc, err := s.serviceID(ctx, service)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, "DELETE FROM users WHERE service = ? AND uid = ?", svc, uid)
	return err
}

func scanUserRecords(rows *sql.Rows) ([]UserRecord, error) {
	var records []UserRecord
	for rows.Next() {
		var (
			rec        UserRecord
			replacedAt sql.NullInt64
		)
		err := rows.Scan(&rec.UID, &rec.Node, &rec.Generation,
			&rec.ClientState, &rec.CreatedAt, &replacedAt)
		if err != nil {
			return nil, backendError("scan user record", err)
		}
		if replacedAt.Valid {
			rec.ReplacedAt = replacedAt.Int64
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, backendError("iterate user records", err)
	}
	return records, nil
}
