// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package lease glues the in-memory lease collection (core/lease) to
// the rest of the store: persistence, the key index, the revision
// counter, header generation, and the watcher event bus. It implements
// the execute/after-sync split used by every consensus-replicated
// request in this tree (SPEC_FULL.md §4.D).
package lease

import (
	corelease "github.com/canonical/raftlease/core/lease"
)

// WriteOp is a single write buffered against a proposal id, flushed
// atomically by the consensus layer once the proposal commits.
//
// Exactly one of the fields is populated, mirroring the three
// WriteOp variants this subsystem emits (SPEC_FULL.md §6).
type WriteOp struct {
	PutLease    *PutLease
	DeleteLease *DeleteLease
	PutKeyValue *PutKeyValue
}

// PutLease persists the wire encoding of a granted lease record.
type PutLease struct {
	ID      corelease.ID
	Encoded []byte
}

// DeleteLease removes a lease record from the persistent lease table.
type DeleteLease struct {
	ID corelease.ID
}

// PutKeyValue persists a tombstone (or any other KV mutation) at a
// specific revision.
type PutKeyValue struct {
	Revision int64
	Key      []byte
	Encoded  []byte
}

// PersistentStorage is the storage collaborator: a per-proposal write
// buffer flushed atomically by the consensus layer, plus point and
// range reads against the current committed state. Tables touched by
// this subsystem are "lease" and "kv" (SPEC_FULL.md §6).
type PersistentStorage interface {
	GetValue(table, key string) ([]byte, error)
	GetValues(table string, keys []string) ([][]byte, error)
	GetAll(table string) ([][]byte, error)
	BufferOp(proposalID string, op WriteOp)
	Flush(proposalID string) error
	Reset(proposalID string)
}

// KeyValue is the minimal shape of a KV record this subsystem needs
// to read back when cascading a revoke: its key, its encoded value,
// and the revision it was last written at.
type KeyValue struct {
	Key         []byte
	Encoded     []byte
	ModRevision int64
}

// DeleteResult is what Index.Delete returns for one deleted key: the
// revision the key was previously written at, and the revision the
// delete itself is recorded under.
type DeleteResult struct {
	PrevRevision   int64
	DeleteRevision int64
}

// Index maps user keys to revision chains. This subsystem calls
// Delete only during the revoke cascade, always with an empty range
// end (a single-key delete, never a range).
type Index interface {
	Delete(key []byte, rangeEnd []byte, revision int64, subRevision int) []DeleteResult
}

// RevisionService is the atomic, process-wide revision counter.
type RevisionService interface {
	Revision() int64
	Next() int64
}

// Header is the structural response header carried by every request
// body in §6; a zero Revision means "no revision attached".
type Header struct {
	Revision int64
}

// HeaderGenerator produces response headers with and without the
// current revision attached.
type HeaderGenerator interface {
	Header() Header
	HeaderWithRevision(revision int64) Header
}

// EventType distinguishes watcher event kinds. This subsystem only
// ever emits Delete events, via the revoke cascade.
type EventType int

const (
	// EventDelete marks a key as removed at Revision.
	EventDelete EventType = iota
)

// KV is a key/value pair as it appears inside a watcher Event.
type KV struct {
	Key         []byte
	Value       []byte
	ModRevision int64
}

// Event is one change notification pushed to the watcher channel.
type Event struct {
	Type   EventType
	KV     KV
	PrevKV *KV
}

// WatcherChannel is the bounded, asynchronous sink for committed
// change batches; a send must always succeed; a closed receiver is a
// fatal invariant violation (SPEC_FULL.md §4.D, §9).
type WatcherChannel interface {
	Publish(revision int64, events []Event) error
}

// LeaderState exposes the single predicate the expiration driver and
// the store backend need: whether this replica currently holds
// leadership.
type LeaderState interface {
	IsLeader() bool
}

// ProposalContext carries the identifiers an after-sync call needs to
// buffer writes and is supplied once per consensus-committed proposal.
type ProposalContext struct {
	ProposalID string
	IsLeader   bool
}
