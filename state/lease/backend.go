// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package lease

import (
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	corelease "github.com/canonical/raftlease/core/lease"
	"github.com/canonical/raftlease/core/lease/wire"
	"github.com/canonical/raftlease/internal/metrics"
)

var logger = loggo.GetLogger("raftlease.state.lease")

// secondsUnit converts between the wire/request second-granularity
// ttls and the nanosecond-precision durations core/lease works in.
const secondsUnit = time.Second

// Config holds everything a Store needs to glue the in-memory lease
// collection to the rest of the replicated store.
type Config struct {
	Clock    clock.Clock
	Storage  PersistentStorage
	Index    Index
	Revision RevisionService
	Headers  HeaderGenerator
	Watcher  WatcherChannel
	State    LeaderState
	// Metrics is optional; when set, grants and revokes update its
	// counters and gauge.
	Metrics *metrics.Metrics
}

func (config Config) validate() error {
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Storage == nil {
		return errors.NotValidf("nil Storage")
	}
	if config.Index == nil {
		return errors.NotValidf("nil Index")
	}
	if config.Revision == nil {
		return errors.NotValidf("nil Revision")
	}
	if config.Headers == nil {
		return errors.NotValidf("nil Headers")
	}
	if config.Watcher == nil {
		return errors.NotValidf("nil Watcher")
	}
	if config.State == nil {
		return errors.NotValidf("nil State")
	}
	return nil
}

const (
	leaseTable = "lease"
	kvTable    = "kv"
)

// Store implements the execute/after-sync split for LeaseGrant and
// LeaseRevoke (SPEC_FULL.md §4.D), backed by an in-memory
// corelease.Collection, and also serves the direct, non-consensus
// operations (attach/detach/look_up/get_lease/keep_alive/leases) that
// the request dispatcher (worker/lease) forwards to it.
type Store struct {
	config     Config
	collection *corelease.Collection
}

// NewStore returns a Store with an empty lease collection, ready for
// Recover to populate it from persistent storage.
func NewStore(config Config) (*Store, error) {
	if err := config.validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Store{
		config:     config,
		collection: corelease.NewCollection(config.Clock),
	}, nil
}

// ExecuteGrant validates a LeaseGrant request before it is proposed to
// consensus. It never mutates the collection.
func (s *Store) ExecuteGrant(req GrantRequest) (GrantResponse, error) {
	if req.ID == corelease.NoLease {
		return GrantResponse{}, corelease.NotFound(req.ID)
	}
	if req.TTL > int64(corelease.MaxTTL/secondsUnit) {
		return GrantResponse{}, corelease.TTLTooLarge(req.TTL)
	}
	if s.collection.ContainsLease(req.ID) {
		return GrantResponse{}, corelease.AlreadyExists(req.ID)
	}
	return GrantResponse{
		Header: s.config.Headers.Header(),
		ID:     req.ID,
		// The response echoes the original, unclamped ttl even though
		// after-sync will clamp it up to MinTTL; see SPEC_FULL.md §9.
		TTL: req.TTL,
	}, nil
}

// AfterSyncGrant is the deterministic apply step for LeaseGrant,
// invoked on every replica once consensus commits the proposal. It
// never advances the revision.
func (s *Store) AfterSyncGrant(ctx ProposalContext, req GrantRequest) (Header, error) {
	ttl := secondsUnit * time.Duration(req.TTL)
	record := s.collection.Grant(req.ID, ttl, ctx.IsLeader)

	encoded := wire.Marshal(wire.Record{
		ID:            int64(record.ID()),
		TTLSeconds:    int64(record.TTL() / secondsUnit),
		RemainingSecs: int64(record.RemainingTTL() / secondsUnit),
	})
	s.config.Storage.BufferOp(ctx.ProposalID, WriteOp{
		PutLease: &PutLease{ID: record.ID(), Encoded: encoded},
	})
	if m := s.config.Metrics; m != nil {
		m.Granted.Inc()
		m.ActiveLeases.Inc()
	}
	logger.Debugf("after-sync granted lease %d", req.ID)
	return s.config.Headers.HeaderWithRevision(s.config.Revision.Revision()), nil
}

// ExecuteRevoke validates a LeaseRevoke request before it is proposed
// to consensus.
func (s *Store) ExecuteRevoke(req RevokeRequest) (RevokeResponse, error) {
	if !s.collection.ContainsLease(req.ID) {
		return RevokeResponse{}, corelease.NotFound(req.ID)
	}
	return RevokeResponse{Header: s.config.Headers.Header()}, nil
}

// AfterSyncRevoke is the deterministic apply step for LeaseRevoke: the
// cascading delete of every key attached to the lease, all under one
// freshly allocated revision, followed by removal of the lease record
// itself (SPEC_FULL.md §4.D, §9).
func (s *Store) AfterSyncRevoke(ctx ProposalContext, req RevokeRequest) (Header, error) {
	s.config.Storage.BufferOp(ctx.ProposalID, WriteOp{
		DeleteLease: &DeleteLease{ID: req.ID},
	})

	keys := s.collection.GetKeys(req.ID)
	if keys == nil {
		return Header{}, corelease.NotFound(req.ID)
	}
	if len(keys) == 0 {
		s.collection.Revoke(req.ID)
		if m := s.config.Metrics; m != nil {
			m.Revoked.Inc()
			m.ActiveLeases.Dec()
		}
		return s.config.Headers.Header(), nil
	}

	revision := s.config.Revision.Next()

	type deletion struct {
		key    string
		result DeleteResult
	}
	deletions := make([]deletion, len(keys))
	keyBytes := make([][]byte, len(keys))
	for i, key := range keys {
		keyBytes[i] = []byte(key)
		results := s.config.Index.Delete([]byte(key), nil, revision, i)
		if len(results) == 0 {
			return Header{}, errors.Errorf("index returned no delete result for key %q", key)
		}
		deletions[i] = deletion{key: key, result: results[0]}
	}

	priorValues, err := s.config.Storage.GetValues(kvTable, keyStrings(keyBytes))
	if err != nil {
		return Header{}, errors.Annotate(err, "reading prior values for revoke cascade")
	}
	found := 0
	for _, v := range priorValues {
		if v != nil {
			found++
		}
	}
	if len(priorValues) != len(keys) || found != len(keys) {
		logger.Criticalf("revoke cascade count mismatch: %d keys, %d prior values found", len(keys), found)
		return Header{}, errors.Errorf("fatal: revoke cascade count mismatch for lease %d", req.ID)
	}

	events := make([]Event, 0, len(keys))
	for i, d := range deletions {
		ownerID := s.collection.GetLease(d.key)
		if ownerID != corelease.NoLease {
			if err := s.collection.Detach(ownerID, d.key); err != nil {
				logger.Criticalf("fatal: detach %q from lease %d during revoke cascade: %v", d.key, ownerID, err)
				return Header{}, errors.Trace(err)
			}
		}

		tombstone := priorValues[i]
		s.config.Storage.BufferOp(ctx.ProposalID, WriteOp{
			PutKeyValue: &PutKeyValue{
				Revision: d.result.DeleteRevision,
				Key:      keyBytes[i],
				Encoded:  nil, // tombstone: empty value
			},
		})

		var prevKV *KV
		if tombstone != nil {
			prevKV = &KV{Key: keyBytes[i], Value: tombstone, ModRevision: d.result.PrevRevision}
		}
		events = append(events, Event{
			Type: EventDelete,
			KV: KV{
				Key:         keyBytes[i],
				ModRevision: revision,
			},
			PrevKV: prevKV,
		})
	}

	s.collection.Revoke(req.ID)
	if m := s.config.Metrics; m != nil {
		m.Revoked.Inc()
		m.ActiveLeases.Dec()
	}

	if err := s.config.Watcher.Publish(revision, events); err != nil {
		logger.Criticalf("fatal: watcher channel closed publishing revoke of lease %d: %v", req.ID, err)
		return Header{}, errors.Annotate(err, "fatal: watcher channel closed")
	}

	logger.Infof("revoked lease %d: deleted %d keys at revision %d", req.ID, len(keys), revision)
	return s.config.Headers.HeaderWithRevision(revision), nil
}

func keyStrings(keys [][]byte) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}

// Attach associates key with the lease id. Served directly by the
// request dispatcher, outside consensus.
func (s *Store) Attach(id corelease.ID, key string) error {
	return errors.Trace(s.collection.Attach(id, key))
}

// Detach disassociates key from the lease id.
func (s *Store) Detach(id corelease.ID, key string) error {
	return errors.Trace(s.collection.Detach(id, key))
}

// LookUp returns a snapshot of the lease record for id, or nil.
func (s *Store) LookUp(id corelease.ID) *corelease.Record {
	return s.collection.LookUp(id)
}

// GetLease returns the id of the lease owning key, or NoLease.
func (s *Store) GetLease(key string) corelease.ID {
	return s.collection.GetLease(key)
}

// GetKeys returns the keys attached to id, or nil if id is absent.
func (s *Store) GetKeys(id corelease.ID) []string {
	return s.collection.GetKeys(id)
}

// KeepAlive renews id if this replica is leader, returning the new
// ttl in seconds; it is rejected with corelease.ErrNotLeader on a
// follower (SPEC_FULL.md §4.D).
func (s *Store) KeepAlive(id corelease.ID) (int64, error) {
	if !s.config.State.IsLeader() {
		return 0, corelease.ErrNotLeader
	}
	ttl, err := s.collection.Renew(id)
	return ttl, errors.Trace(err)
}

// Leases returns a snapshot of every active lease, ordered by
// ascending remaining time.
func (s *Store) Leases() []*corelease.Record {
	return s.collection.Leases()
}

// Demote and Promote forward leadership transitions to the
// collection (SPEC_FULL.md §4.F); they are invoked by the expiration
// driver, not through consensus.
func (s *Store) Demote() {
	s.collection.Demote()
}

func (s *Store) Promote(grace time.Duration) {
	s.collection.Promote(grace)
}

// FindExpiredLeases is forwarded to the collection for the expiration
// driver to poll.
func (s *Store) FindExpiredLeases() []corelease.ID {
	return s.collection.FindExpiredLeases()
}
