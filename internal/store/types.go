package store

// User is the composite view of an identity on one service: the active
// record of its version chain plus the set of client-state values seen
// in the anti-reuse window.
//
// UpdateUser mutates the receiver's User in place so a caller holding
// the struct across several round trips always sees its own writes.
type User struct {
	// UID is the primary key of the active record.
	UID int64

	// Email is the identity, NFC-normalized.
	Email string

	// Node is the backend storage node the identity is bound to.
	Node string

	// Generation is the monotonic counter of the active record.
	Generation int64

	// ClientState is the current client-state token.
	ClientState string

	// CreatedAt is the active record's creation time in epoch
	// milliseconds.
	CreatedAt int64

	// OldClientStates holds every client-state value seen in the last
	// windowSize records other than the active one.
	OldClientStates map[string]bool
}

// UserRecord is one row of an identity's version chain, as returned by
// the history and garbage-collection queries.
type UserRecord struct {
	UID         int64
	Node        string
	Generation  int64
	ClientState string

	// CreatedAt is epoch milliseconds.
	CreatedAt int64

	// ReplacedAt is epoch milliseconds; zero means the record is still
	// active.
	ReplacedAt int64
}

// ServicePattern is one row of the service catalog.
type ServicePattern struct {
	ID      int64
	Service string
	Pattern string
}

// NodeOptions carries the optional initial fields of AddNode. The zero
// value gives a node its full capacity in available slots and no load.
type NodeOptions struct {
	// Available is the initial available-slot count. Nil defaults to
	// the node's capacity.
	Available *int

	// CurrentLoad is the initial load. Defaults to zero.
	CurrentLoad int

	// Downed marks the node ineligible for allocation.
	Downed bool

	// Backoff marks the node as backing off.
	Backoff bool
}

// windowSize bounds the anti-reuse window: the number of most recent
// records whose client-state values may never be reused.
const windowSize = 20
