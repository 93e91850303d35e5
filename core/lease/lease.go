// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package lease implements the in-memory lease subsystem of a
// consensus-replicated key-value store: lease records, the expiry
// priority queue, and the authoritative collection that indexes both.
//
// Everything in this package is a pure, synchronous data structure; it
// has no knowledge of consensus, persistence, or the network. Those
// concerns live in state/lease (the store backend) and worker/lease
// (the dispatcher and expiration driver) respectively.
package lease

import (
	"time"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

// ID identifies a lease. The zero ID is reserved and never assigned to
// a real lease; it is the sentinel "no lease" value returned by
// Collection.GetLease for an unattached key.
type ID int64

// NoLease is the sentinel ID meaning "this key is not attached to any
// lease".
const NoLease = ID(0)

const (
	// MinTTL is the smallest ttl a lease may be granted with. Grants
	// with a smaller (or zero) ttl are silently clamped up to this
	// value.
	MinTTL = time.Second

	// MaxTTL is the largest ttl a lease may be granted with. Grants
	// exceeding it are rejected outright, never clamped.
	MaxTTL = 9_000_000_000 * time.Second
)

// The zero time.Time is used as the sentinel expiry meaning "this
// lease never expires". It is used on followers and demoted leaders,
// where expiry must not be tracked locally: every replica must agree
// on the fact that a lease exists, but expiry timing is leader-local.

// Record is the in-memory representation of a single lease: its id,
// granted ttl, current expiry (or "never"), and the set of keys
// currently attached to it.
//
// A Record is never safe for concurrent use by itself; callers
// coordinate access through Collection's lock.
type Record struct {
	id           ID
	ttl          time.Duration
	remainingTTL time.Duration
	expiry       time.Time
	keys         set.Strings
}

// NewRecord returns a lease record for id with the given ttl and no
// expiry (expiry = never). The ttl is not clamped here; callers that
// need MinTTL/MaxTTL enforcement do so at grant time (see
// Collection.Grant).
func NewRecord(id ID, ttl time.Duration) *Record {
	return &Record{
		id:           id,
		ttl:          ttl,
		remainingTTL: ttl,
		keys:         set.NewStrings(),
	}
}

// ID returns the lease's id.
func (r *Record) ID() ID { return r.id }

// TTL returns the lease's granted ttl.
func (r *Record) TTL() time.Duration { return r.ttl }

// RemainingTTL returns the value mirrored into the persisted lease
// record's remaining_ttl field. It normally equals TTL; it only
// diverges right after a decode that set it explicitly (see
// SetRemainingTTL), and a single Refresh resets it back to TTL.
func (r *Record) RemainingTTL() time.Duration { return r.remainingTTL }

// SetRemainingTTL overrides the value mirrored into the persisted
// record's remaining_ttl field, without touching TTL or expiry. Used
// by wire decoding to round-trip whatever value was last persisted.
func (r *Record) SetRemainingTTL(d time.Duration) { r.remainingTTL = d }

// Refresh sets the lease's expiry to now + ttl + extend, and returns
// the new expiry. A zero extend is used for ordinary grants and
// renewals; a positive extend is the grace period applied across a
// leadership promotion. Refresh always resets RemainingTTL to TTL,
// since by definition the lease has just been refreshed for a full
// term.
func (r *Record) Refresh(now time.Time, extend time.Duration) time.Time {
	r.expiry = now.Add(r.ttl + extend)
	r.remainingTTL = r.ttl
	return r.expiry
}

// Forever clears the lease's expiry, marking it as never expiring.
// Used on followers (grant) and on demotion.
func (r *Record) Forever() {
	r.expiry = time.Time{}
}

// Expiry returns the lease's current expiry instant, or the zero
// time.Time if it never expires.
func (r *Record) Expiry() time.Time { return r.expiry }

// HasExpiry reports whether the lease has a finite expiry, i.e. is
// being tracked for expiration (true only on a leader).
func (r *Record) HasExpiry() bool { return !r.expiry.IsZero() }

// Remaining returns the duration until expiry, or the maximum
// representable duration if the lease never expires.
func (r *Record) Remaining(now time.Time) time.Duration {
	if !r.HasExpiry() {
		return time.Duration(1<<63 - 1)
	}
	if d := r.expiry.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Expired reports whether the lease has a finite expiry that has
// already passed.
func (r *Record) Expired(now time.Time) bool {
	return r.HasExpiry() && !r.expiry.After(now)
}

// InsertKey attaches key to the lease.
func (r *Record) InsertKey(key string) {
	r.keys.Add(key)
}

// RemoveKey detaches key from the lease. It is a no-op if the key was
// not attached.
func (r *Record) RemoveKey(key string) {
	r.keys.Remove(key)
}

// Keys returns a snapshot of the keys currently attached to the
// lease, in ascending key order. The order in which keys were
// attached is not recorded.
func (r *Record) Keys() []string {
	return r.keys.SortedValues()
}

// clone returns a deep copy of the record, safe to hand to a caller
// that must not observe subsequent mutation (e.g. Collection.Leases).
func (r *Record) clone() *Record {
	cp := *r
	cp.keys = set.NewStrings(r.keys.Values()...)
	return &cp
}

// validateKey rejects empty keys up front, matching the original
// source's ValidateString check on lease names and holders; an empty
// key can never usefully be attached or looked up.
func validateKey(key string) error {
	if key == "" {
		return errors.NotValidf("empty key")
	}
	return nil
}
