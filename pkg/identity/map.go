// Package identity provides a per-connection identity map: a cache
// guaranteeing that at most one in-memory instance exists for any
// persisted record, reference-counted through Handle values.
//
// A Map is created per connection per base type, injected wherever it is
// needed, and torn down with the connection. It must outlive every
// Handle created from it. Like the connection it wraps, a Map is not
// safe for concurrent use from multiple goroutines.
package identity

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/sqlid/pkg/store"
)

// ID is a record identifier: positive, unique within a table family,
// assigned once by the backing store's autoincrement mechanism.
type ID = int64

// Lifecycle tracks how a cached record relates to the backing store.
type Lifecycle uint8

const (
	// StateNew marks a record not yet persisted.
	StateNew Lifecycle = iota
	// StateLoaded marks a record that mirrors a persisted row.
	StateLoaded
	// StatePendingDelete marks a record awaiting deletion; it stays
	// cached until its last handle is released.
	StatePendingDelete
)

// Error kinds reported by this package.
var (
	// ErrUnboundHandle marks dereference of a handle with no record.
	ErrUnboundHandle = errors.New("unbound handle")

	// ErrOverflow marks a counter (reference count, transient-key
	// counter) that would exceed its representable range. Never wrapped
	// around silently.
	ErrOverflow = errors.New("counter overflow")

	// ErrBadIdentifier marks a checked lookup for an id with no
	// persisted row.
	ErrBadIdentifier = errors.New("no persisted record with this id")

	// ErrDuplicateIdentity marks an id assignment colliding with an id
	// already cached; it indicates a bug in id allocation upstream.
	ErrDuplicateIdentity = errors.New("identity already cached")

	// ErrTypeMismatch marks a polymorphic access whose concrete runtime
	// type is not the requested one.
	ErrTypeMismatch = errors.New("concrete type mismatch")
)

// Traits describes how values of type T map onto their backing table.
// For a type hierarchy sharing one table family, instantiate the Map
// with the base type's traits (typically T is an interface); Load reads
// the stored discriminator and returns the concrete type, and ValueAs
// performs the runtime check that substitutes for a downcast.
type Traits[T any] struct {
	// Table is the primary table, the one holding the autoincrement
	// primary key for T and everything derived from it.
	Table string

	// PrimaryKey is the primary-key column in Table.
	PrimaryKey string

	// New returns a fresh value for a record that has not been
	// persisted yet.
	New func(c *store.Conn) (T, error)

	// Load materializes the value persisted under id. It may trust that
	// the id exists; the Map verifies existence first for checked
	// lookups.
	Load func(c *store.Conn, id ID) (T, error)
}

// record pairs a cached value with its reference count and lifecycle.
// It is owned by exactly one Map and reachable only through Handle.
type record[T any] struct {
	value T

	// key is the cache key: the persisted id once assigned, a negative
	// transient key before.
	key ID

	// id is the persisted identifier, 0 while transient. Set exactly
	// once.
	id ID

	refs  uint32
	state Lifecycle
}

// Map is the identity map for one base type on one connection.
type Map[T any] struct {
	conn   *store.Conn
	traits Traits[T]
	byKey  map[ID]*record[T]

	// nextTransient counts down from -1; negative keys never collide
	// with store-assigned ids.
	nextTransient ID
}

// NewMap creates the identity map for T on conn.
func NewMap[T any](conn *store.Conn, traits Traits[T]) *Map[T] {
	return &Map[T]{
		conn:          conn,
		traits:        traits,
		byKey:         make(map[ID]*record[T]),
		nextTransient: -1,
	}
}

// Create caches a fresh, not-yet-persisted record under a transient key
// and returns the sole handle to it. The record becomes permanent only
// after NotifyPersisted.
func (m *Map[T]) Create() (Handle[T], error) {
	if m.nextTransient == math.MinInt64 {
		return Handle[T]{}, fmt.Errorf("allocate transient key: %w", ErrOverflow)
	}

	value, err := m.traits.New(m.conn)
	if err != nil {
		return Handle[T]{}, fmt.Errorf("create %s record: %w", m.traits.Table, err)
	}

	rec := &record[T]{value: value, key: m.nextTransient, state: StateNew}
	m.byKey[rec.key] = rec
	m.nextTransient--
	return m.retain(rec)
}

// Get returns a handle to the record with id, verifying against the
// backing store that the id exists before loading it. A cached id is
// returned without touching the store. Fails with ErrBadIdentifier when
// no such row exists.
func (m *Map[T]) Get(id ID) (Handle[T], error) {
	// Non-positive ids can never name a persisted row; rejecting them
	// here also keeps transient cache keys unreachable by lookup.
	if id <= 0 {
		return Handle[T]{}, fmt.Errorf("%s id %d: %w", m.traits.Table, id, ErrBadIdentifier)
	}
	if rec, ok := m.byKey[id]; ok {
		return m.retain(rec)
	}

	ok, err := m.exists(id)
	if err != nil {
		return Handle[T]{}, err
	}
	if !ok {
		return Handle[T]{}, fmt.Errorf("%s id %d: %w", m.traits.Table, id, ErrBadIdentifier)
	}
	return m.load(id)
}

// GetUnchecked is Get without the existence probe. The caller must know
// the id is valid, e.g. because it was just read from a result-set
// cursor over the same table; passing a nonexistent id is a contract
// violation with unspecified (not safety-critical) results.
func (m *Map[T]) GetUnchecked(id ID) (Handle[T], error) {
	if id <= 0 {
		return Handle[T]{}, fmt.Errorf("%s id %d: %w", m.traits.Table, id, ErrBadIdentifier)
	}
	if rec, ok := m.byKey[id]; ok {
		return m.retain(rec)
	}
	return m.load(id)
}

// NotifyPersisted re-keys a new record from its transient key to the id
// the backing store assigned on first save, and marks it Loaded. Called
// exactly once per record, typically right after an insert using
// Conn.LastInsertID.
func (m *Map[T]) NotifyPersisted(h Handle[T], assignedID ID) error {
	rec := h.rec
	if rec == nil {
		return fmt.Errorf("notify persisted: %w", ErrUnboundHandle)
	}
	if h.m != m {
		return errors.New("notify persisted: handle belongs to a different map")
	}
	if rec.state != StateNew {
		return fmt.Errorf("notify persisted: record already has id %d", rec.id)
	}
	if assignedID <= 0 {
		return fmt.Errorf("notify persisted: assigned id %d is not a valid identifier", assignedID)
	}
	if _, exists := m.byKey[assignedID]; exists {
		return fmt.Errorf("notify persisted: id %d: %w", assignedID, ErrDuplicateIdentity)
	}

	delete(m.byKey, rec.key)
	rec.key = assignedID
	rec.id = assignedID
	rec.state = StateLoaded
	m.byKey[assignedID] = rec
	return nil
}

// MarkDeleted flags the record behind h for deletion. The entry stays
// cached until the last handle is released, so live aliases are never
// invalidated; deleting the row itself is the caller's statement to run.
func (m *Map[T]) MarkDeleted(h Handle[T]) error {
	if h.rec == nil {
		return fmt.Errorf("mark deleted: %w", ErrUnboundHandle)
	}
	if h.m != m {
		return errors.New("mark deleted: handle belongs to a different map")
	}
	h.rec.state = StatePendingDelete
	return nil
}

// Len reports how many records are currently cached.
func (m *Map[T]) Len() int {
	return len(m.byKey)
}

// exists probes the primary-key column for id through the statement
// pool.
func (m *Map[T]) exists(id ID) (bool, error) {
	text := "select " + m.traits.PrimaryKey +
		" from " + m.traits.Table +
		" where " + m.traits.PrimaryKey + " = :id"

	st, err := m.conn.Statement(text)
	if err != nil {
		return false, err
	}
	defer st.Close()

	if err := st.Bind(":id", id); err != nil {
		return false, err
	}
	return st.Step()
}

// load materializes id via the traits and caches it as Loaded.
func (m *Map[T]) load(id ID) (Handle[T], error) {
	value, err := m.traits.Load(m.conn, id)
	if err != nil {
		return Handle[T]{}, fmt.Errorf("load %s id %d: %w", m.traits.Table, id, err)
	}

	rec := &record[T]{value: value, key: id, id: id, state: StateLoaded}
	m.byKey[id] = rec
	return m.retain(rec)
}

// retain increments the record's reference count and wraps it in a
// handle. On overflow the count is left unchanged and no handle is
// produced.
func (m *Map[T]) retain(rec *record[T]) (Handle[T], error) {
	if rec.refs == math.MaxUint32 {
		return Handle[T]{}, fmt.Errorf("retain %s record: %w", m.traits.Table, ErrOverflow)
	}
	rec.refs++
	return Handle[T]{m: m, rec: rec, done: new(bool)}, nil
}

// releaseRecord is the counterpart to retain; at zero references the
// entry is evicted immediately. Eviction never happens while any handle
// is outstanding.
func (m *Map[T]) releaseRecord(rec *record[T]) {
	if rec.refs == 0 {
		return
	}
	rec.refs--
	if rec.refs > 0 {
		return
	}

	delete(m.byKey, rec.key)
	log.Debug().
		Str("table", m.traits.Table).
		Int64("key", rec.key).
		Msg("cached record evicted")
}
