package store

import (
	"context"
	"database/sql"
	"errors"
)

// AddService registers a new service name and URL pattern, returning
// the assigned id. Registering an existing name fails with
// ErrCodeDuplicateService.
func (s *Store) AddService(ctx context.Context, service, pattern string) (int64, error) {
	res, err := s.exec(ctx,
		s.dialect.insertIgnore("services (service, pattern) VALUES (?, ?)"),
		service, pattern)
	if err != nil {
		return 0, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, backendError("add service", err)
	}
	if affected == 0 {
		return 0, duplicateServiceError(service)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, backendError("add service", err)
	}
	s.serviceIDs.Store(service, id)
	return id, nil
}

// serviceID resolves a service name to its id through the read-through
// cache. A miss queries the catalog; an absent row is
// ErrCodeUnknownService.
func (s *Store) serviceID(ctx context.Context, service string) (int64, error) {
	if id, ok := s.serviceIDs.Load(service); ok {
		return id, nil
	}

	qctx, cancel := context.WithTimeout(ctx, s.stmtTimeout)
	defer cancel()

	var id int64
	err := s.db.QueryRowContext(qctx,
		"SELECT id FROM services WHERE service = ?", service).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, unknownServiceError(service)
	}
	if err != nil {
		return 0, backendError("resolve service", err)
	}

	s.serviceIDs.Store(service, id)
	return id, nil
}

// GetPatterns returns every (id, service, pattern) row of the catalog,
// warming the id cache with each row as a side effect.
func (s *Store) GetPatterns(ctx context.Context) ([]ServicePattern, error) {
	rows, cancel, err := s.query(ctx, "SELECT id, service, pattern FROM services")
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer rows.Close()

	var patterns []ServicePattern
	for rows.Next() {
		var p ServicePattern
		if err := rows.Scan(&p.ID, &p.Service, &p.Pattern); err != nil {
			return nil, backendError("scan pattern", err)
		}
		s.serviceIDs.Store(p.Service, p.ID)
		patterns = append(patterns, p)
	}
	if err := rows.Err(); err != nil {
		return nil, backendError("iterate patterns", err)
	}

	if patterns == nil {
		patterns = []ServicePattern{}
	}
	return patterns, nil
}

// forgetService drops a cache entry. Test hook for exercising cache
// misses without reopening the store.
func (s *Store) forgetService(service string) {
	s.serviceIDs.Delete(service)
}
