// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package lease

import (
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("raftlease.lease")

// Collection is the authoritative in-memory index of every active
// lease: the id->record map, the reverse key->id map, and the expiry
// priority queue. It enforces the invariants that tie the three
// together (see SPEC_FULL.md §3).
//
// Collection is safe for concurrent use: reads (LookUp, GetLease,
// GetKeys, Leases, ContainsLease) may run concurrently with each
// other; writes (Grant, Revoke, Attach, Detach, Renew, Demote,
// Promote, FindExpiredLeases) are mutually exclusive.
// FindExpiredLeases holds the write lock for its whole peek-and-pop
// loop.
type Collection struct {
	clock clock.Clock

	mu       sync.RWMutex
	leases   map[ID]*Record
	items    map[string]ID
	expiries *expiryQueue
}

// NewCollection returns an empty Collection that reads the current
// time from clk.
func NewCollection(clk clock.Clock) *Collection {
	return &Collection{
		clock:    clk,
		leases:   make(map[ID]*Record),
		items:    make(map[string]ID),
		expiries: newExpiryQueue(),
	}
}

// Grant creates (or replaces) the lease record for id with the given
// ttl, clamped up to at least MinTTL. ttl is never rejected here —
// rejection of an oversized ttl or a zero id happens one layer up,
// in the store backend's execute phase (SPEC_FULL.md §4.D) — Grant
// always succeeds, overwriting any previous record for id (recovery
// depends on this).
//
// If isLeader, the new lease is refreshed with zero extension and
// tracked in the expiry queue; otherwise it is marked Forever and the
// queue is untouched.
func (c *Collection) Grant(id ID, ttl time.Duration, isLeader bool) *Record {
	if ttl < MinTTL {
		ttl = MinTTL
	}
	record := NewRecord(id, ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if isLeader {
		expiry := record.Refresh(c.clock.Now(), 0)
		c.expiries.Insert(id, expiry)
	} else {
		record.Forever()
	}
	c.leases[id] = record
	logger.Debugf("granted lease %d ttl=%s leader=%v", id, ttl, isLeader)
	return record.clone()
}

// Revoke removes only the lease record for id from the collection; it
// returns the removed record, or nil if id was absent. It
// deliberately does NOT touch item_map: detaching the lease's keys is
// the caller's responsibility, because the cascading delete of those
// keys from the KV store must happen first (SPEC_FULL.md §4.D).
func (c *Collection) Revoke(id ID) *Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.leases[id]
	if !ok {
		return nil
	}
	delete(c.leases, id)
	c.expiries.Remove(id)
	logger.Debugf("revoked lease %d", id)
	return record
}

// Renew refreshes the lease's expiry to now+ttl and returns the ttl in
// seconds. It fails with a *NotFoundError if id is absent, or a
// *ExpiredError if the lease's current expiry has already passed.
// Renew is meaningless on a follower (every lease there has no
// expiry, so Expired never trips) — callers gate on leadership one
// layer up via KeepAlive (SPEC_FULL.md §4.D).
func (c *Collection) Renew(id ID) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.leases[id]
	if !ok {
		return 0, NotFound(id)
	}
	now := c.clock.Now()
	if record.Expired(now) {
		return 0, Expired(id)
	}
	expiry := record.Refresh(now, 0)
	c.expiries.Update(id, expiry)
	return int64(record.TTL() / time.Second), nil
}

// Attach associates key with lease id. It fails with a *NotFoundError
// if id is absent.
func (c *Collection) Attach(id ID, key string) error {
	if err := validateKey(key); err != nil {
		return errors.Trace(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.leases[id]
	if !ok {
		return NotFound(id)
	}
	record.InsertKey(key)
	c.items[key] = id
	return nil
}

// Detach disassociates key from lease id. It fails with a
// *NotFoundError if id is absent. Matching the original source, it
// does not verify that key was actually attached to id before
// removing it from item_map — the cascading-delete caller in
// state/lease always looks the owning lease up via GetLease first.
func (c *Collection) Detach(id ID, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.leases[id]
	if !ok {
		return NotFound(id)
	}
	record.RemoveKey(key)
	delete(c.items, key)
	return nil
}

// ContainsLease reports whether id names an active lease.
func (c *Collection) ContainsLease(id ID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.leases[id]
	return ok
}

// LookUp returns a snapshot of the lease record for id, or nil if
// absent.
func (c *Collection) LookUp(id ID) *Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	record, ok := c.leases[id]
	if !ok {
		return nil
	}
	return record.clone()
}

// GetLease returns the id of the lease that owns key, or NoLease if
// key is unattached.
func (c *Collection) GetLease(key string) ID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.items[key]
}

// RestoreRemainingTTL overwrites the remaining_ttl mirror of the
// stored lease record for id, without touching its expiry. Used only
// by recovery, to round-trip the value last persisted for a lease
// before any key re-attachment happens. It is a no-op if id is
// absent.
func (c *Collection) RestoreRemainingTTL(id ID, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if record, ok := c.leases[id]; ok {
		record.SetRemainingTTL(d)
	}
}

// GetKeys returns a snapshot of the keys attached to id, or nil if id
// is absent. It is distinct from LookUp for callers that only need
// the key set, matching the original source's get_keys accessor
// (SPEC_FULL.md, supplemented features).
func (c *Collection) GetKeys(id ID) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	record, ok := c.leases[id]
	if !ok {
		return nil
	}
	return record.Keys()
}

// Leases returns a snapshot of every active lease, ordered by
// ascending remaining time and, as a tie-break for deterministic
// iteration, ascending id.
func (c *Collection) Leases() []*Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.clock.Now()
	out := make([]*Record, 0, len(c.leases))
	for _, record := range c.leases {
		out = append(out, record.clone())
	}
	sortByRemaining(out, now)
	return out
}

func sortByRemaining(records []*Record, now time.Time) {
	// Insertion sort: lease counts are small (bounded by the number
	// of outstanding client grants) and this keeps the comparator
	// trivial to reason about; swap to sort.Slice if that stops
	// being true.
	for i := 1; i < len(records); i++ {
		for j := i; j > 0 && less(records[j], records[j-1], now); j-- {
			records[j], records[j-1] = records[j-1], records[j]
		}
	}
}

func less(a, b *Record, now time.Time) bool {
	ra, rb := a.Remaining(now), b.Remaining(now)
	if ra != rb {
		return ra < rb
	}
	return a.ID() < b.ID()
}

// FindExpiredLeases drains the head of the expiry queue while its
// earliest entry is due, returning the ids of leases that are still
// present in the collection (an id popped from the queue but already
// absent from lease_map — e.g. already revoked — is discarded
// silently). Calling it twice in immediate succession returns the
// same set the first time and nothing the second, because the queue
// only holds each id once.
func (c *Collection) FindExpiredLeases() []ID {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	var expired []ID
	for {
		peek, ok := c.expiries.Peek()
		if !ok || peek.After(now) {
			break
		}
		id, _ := c.expiries.Pop()
		if _, ok := c.leases[id]; ok {
			expired = append(expired, id)
		}
	}
	return expired
}

// Demote forces every lease to never expire and empties the expiry
// queue. Called when this replica loses leadership: a demoted replica
// must not independently decide that a lease has expired.
func (c *Collection) Demote() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, record := range c.leases {
		record.Forever()
	}
	c.expiries.Clear()
	logger.Infof("demoted: cleared %d lease timers", len(c.leases))
}

// Promote refreshes every lease with the given grace extension and
// (re)inserts it into the expiry queue. Called when this replica
// becomes leader: extend should be one election timeout, so that
// keepalives that were in flight during the election are not
// immediately treated as expired.
func (c *Collection) Promote(extend time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	for id, record := range c.leases {
		expiry := record.Refresh(now, extend)
		c.expiries.Insert(id, expiry)
	}
	logger.Infof("promoted: armed %d lease timers with %s grace", len(c.leases), extend)
}
