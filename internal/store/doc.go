// Package store implements the single-database metadata service for
// node assignment: a service catalog, a per-service node registry with
// least-loaded allocation, and a versioned log of identity-to-node
// bindings.
//
// # Consistency model
//
// The datastore offers only per-statement atomicity. The store never
// opens multi-statement transactions; instead every write that can race
// is either a conditional UPDATE (applied only if the observed state
// still holds) or an insert-ignore whose outcome is inspected via
// RowsAffected. A lost race means "someone else already did this" and
// is resolved by re-reading, never surfaced as an error.
//
// # User record chains
//
// An identity may own several records for one service. They form a
// version chain ordered by (created_at DESC, uid DESC); the newest
// unreplaced record is the active one. The chain carries:
//
//   - a generation counter that never moves backward, and
//   - a client-state token that is never reused within the visible
//     window of the chain (the last 20 records).
//
// Superseded records keep their replaced_at timestamp until garbage
// collection deletes them after a grace period.
package store
