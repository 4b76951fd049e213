package store

import "time"

// Clock supplies the current time. Injectable so tests can control
// record timestamps and grace-period cutoffs deterministically.
type Clock func() time.Time

// timestamp returns the store's current time in epoch milliseconds,
// the unit every created_at/replaced_at column is stored in.
func (s *Store) timestamp() int64 {
	return s.clock().UnixMilli()
}
