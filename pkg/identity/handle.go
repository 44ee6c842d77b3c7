package identity

import "fmt"

// Handle is a reference-counted accessor to one cached record. It is the
// only way client code touches a record owned by a Map. The zero value
// is unbound and fails ErrUnboundHandle on dereference.
//
// Ownership rules:
//
//   - Every acquisition (Map.Create, Map.Get, Map.GetUnchecked,
//     Handle.Clone, Iterator.Handle) must be paired with exactly one
//     Release. Release runs on every exit route, typically via defer.
//   - Plain assignment of a Handle is a transfer, not a copy: the
//     reference count is untouched, so release the value once, not per
//     variable. Use Clone to create an independently-released alias.
//
// Multiple handles may alias the same record; mutations through one are
// visible through all. The cache guarantees single-instance identity
// only, not any higher-level write-conflict discipline.
type Handle[T any] struct {
	m   *Map[T]
	rec *record[T]

	// done is shared by every value copy of one acquisition, so a stale
	// copy of a released handle cannot decrement the count again.
	done *bool
}

// Bound reports whether the handle references a record.
func (h Handle[T]) Bound() bool {
	return h.rec != nil
}

// Value returns the cached value. The pointer stays valid while any
// handle to the record is outstanding.
func (h Handle[T]) Value() (*T, error) {
	if h.rec == nil {
		return nil, ErrUnboundHandle
	}
	return &h.rec.value, nil
}

// Clone returns a new handle aliasing the same record, incrementing its
// reference count. On ErrOverflow nothing changes on either side.
// Cloning an unbound handle, or a stale copy of a released one, yields
// an unbound handle.
func (h Handle[T]) Clone() (Handle[T], error) {
	if h.rec == nil || *h.done {
		return Handle[T]{}, nil
	}
	return h.m.retain(h.rec)
}

// Release drops this handle's claim on the record. It never fails and is
// safe to call on an unbound or already-released handle, including a
// stale value copy of one. When the last claim drops, the record becomes
// eligible for eviction.
func (h *Handle[T]) Release() {
	if h.rec == nil || *h.done {
		return
	}
	*h.done = true
	h.m.releaseRecord(h.rec)
	h.rec = nil
	h.m = nil
}

// Same reports whether both handles reference the identical cached
// record. Identity, not value, comparison; two unbound handles compare
// equal.
func (h Handle[T]) Same(other Handle[T]) bool {
	return h.rec == other.rec
}

// ID returns the persisted identifier, or false while the record is
// transient or the handle unbound.
func (h Handle[T]) ID() (ID, bool) {
	if h.rec == nil || h.rec.id == 0 {
		return 0, false
	}
	return h.rec.id, true
}

// State returns the record's lifecycle stage.
func (h Handle[T]) State() (Lifecycle, error) {
	if h.rec == nil {
		return StateNew, ErrUnboundHandle
	}
	return h.rec.state, nil
}

// ValueAs returns the record's value as concrete type D. Intended for
// maps over a base interface type: the runtime check stands in for a
// downcast, failing with ErrTypeMismatch when the stored concrete type
// is not D.
func ValueAs[D any, T any](h Handle[T]) (D, error) {
	var zero D
	v, err := h.Value()
	if err != nil {
		return zero, err
	}
	d, ok := any(*v).(D)
	if !ok {
		return zero, fmt.Errorf("stored value is %T: %w", *v, ErrTypeMismatch)
	}
	return d, nil
}
