// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package boltstore implements state/lease.PersistentStorage on top of
// a local bbolt database: one bucket per table ("lease" and "kv",
// SPEC_FULL.md §6), with writes buffered per proposal id and flushed
// in a single bbolt transaction when the owning proposal commits.
package boltstore

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/retry"
	bolt "go.etcd.io/bbolt"

	statelease "github.com/canonical/raftlease/state/lease"
)

var logger = loggo.GetLogger("raftlease.storage.boltstore")

const (
	leaseTable = "lease"
	kvTable    = "kv"
)

var tables = []string{leaseTable, kvTable}

// Config holds a Store's dependencies.
type Config struct {
	// Path is the filesystem path of the bbolt database file.
	Path string
	// RetryAttempts bounds transient-error retries on Flush; defaults
	// to 3 if zero.
	RetryAttempts int
}

func (config Config) validate() error {
	if config.Path == "" {
		return errors.NotValidf("empty Path")
	}
	return nil
}

// Store is a bbolt-backed implementation of state/lease.PersistentStorage.
type Store struct {
	config Config
	db     *bolt.DB

	mu      sync.Mutex
	buffers map[string][]statelease.WriteOp
}

// Open opens (creating if necessary) the bbolt database at
// config.Path and ensures the lease and kv buckets exist.
func Open(config Config) (*Store, error) {
	if err := config.validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.RetryAttempts == 0 {
		config.RetryAttempts = 3
	}
	db, err := bolt.Open(config.Path, 0600, nil)
	if err != nil {
		return nil, errors.Annotate(err, "opening bbolt database")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, table := range tables {
			if _, err := tx.CreateBucketIfNotExists([]byte(table)); err != nil {
				return errors.Annotatef(err, "creating bucket %q", table)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Trace(err)
	}
	return &Store{
		config:  config,
		db:      db,
		buffers: make(map[string][]statelease.WriteOp),
	}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetValue is part of state/lease.PersistentStorage.
func (s *Store) GetValue(table, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(table))
		if bucket == nil {
			return errors.NotFoundf("bucket %q", table)
		}
		if v := bucket.Get([]byte(key)); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	return value, errors.Trace(err)
}

// GetValues is part of state/lease.PersistentStorage.
func (s *Store) GetValues(table string, keys []string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(table))
		if bucket == nil {
			return errors.NotFoundf("bucket %q", table)
		}
		for i, key := range keys {
			if v := bucket.Get([]byte(key)); v != nil {
				out[i] = append([]byte(nil), v...)
			}
		}
		return nil
	})
	return out, errors.Trace(err)
}

// GetAll is part of state/lease.PersistentStorage.
func (s *Store) GetAll(table string) ([][]byte, error) {
	var out [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(table))
		if bucket == nil {
			return errors.NotFoundf("bucket %q", table)
		}
		return bucket.ForEach(func(_, v []byte) error {
			out = append(out, append([]byte(nil), v...))
			return nil
		})
	})
	return out, errors.Trace(err)
}

// BufferOp is part of state/lease.PersistentStorage. The write is not
// durable until Flush(proposalID) succeeds.
func (s *Store) BufferOp(proposalID string, op statelease.WriteOp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffers[proposalID] = append(s.buffers[proposalID], op)
}

// Reset is part of state/lease.PersistentStorage: it discards the
// write buffer for proposalID without applying it, used when a
// proposal is abandoned before it commits.
func (s *Store) Reset(proposalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, proposalID)
}

// Flush is part of state/lease.PersistentStorage: it applies every
// buffered write for proposalID in a single bbolt transaction and
// discards the buffer, retrying on transient storage errors.
func (s *Store) Flush(proposalID string) error {
	s.mu.Lock()
	ops := s.buffers[proposalID]
	delete(s.buffers, proposalID)
	s.mu.Unlock()

	if len(ops) == 0 {
		return nil
	}

	// flushID tags this transaction for tracing across retries; it is
	// not persisted, only logged.
	flushID := uuid.NewString()

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			return s.db.Update(func(tx *bolt.Tx) error {
				return applyOps(tx, ops)
			})
		},
		Attempts: s.config.RetryAttempts,
		Delay:    50 * time.Millisecond,
		Clock:    clock.WallClock,
		NotifyFunc: func(lastErr error, attempt int) {
			logger.Warningf("flush %s attempt %d for proposal %q failed: %v", flushID, attempt, proposalID, lastErr)
		},
	})
	if err != nil {
		return errors.Annotatef(err, "flushing proposal %q", proposalID)
	}
	logger.Tracef("flush %s applied %d ops for proposal %q", flushID, len(ops), proposalID)
	return nil
}

func applyOps(tx *bolt.Tx, ops []statelease.WriteOp) error {
	leaseBucket := tx.Bucket([]byte(leaseTable))
	kvBucket := tx.Bucket([]byte(kvTable))

	for _, op := range ops {
		switch {
		case op.PutLease != nil:
			key := strconv.FormatInt(int64(op.PutLease.ID), 10)
			if err := leaseBucket.Put([]byte(key), op.PutLease.Encoded); err != nil {
				return errors.Trace(err)
			}
		case op.DeleteLease != nil:
			key := strconv.FormatInt(int64(op.DeleteLease.ID), 10)
			if err := leaseBucket.Delete([]byte(key)); err != nil {
				return errors.Trace(err)
			}
		case op.PutKeyValue != nil:
			if err := kvBucket.Put(op.PutKeyValue.Key, op.PutKeyValue.Encoded); err != nil {
				return errors.Trace(err)
			}
		default:
			return errors.Errorf("write op has no variant set")
		}
	}
	return nil
}
