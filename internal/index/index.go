// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package index implements the key index collaborator required by
// SPEC_FULL.md §6: a map from user key to the revision it was last
// written at, consulted (and mutated) only by the revoke cascade
// (state/lease's AfterSyncRevoke).
//
// There is no ecosystem range-indexed B-tree library anywhere in this
// corpus; a sorted in-memory map guarded by sync.RWMutex is the
// idiomatic standard-library shape for this job. The revoke cascade
// deletes one key at a time and never issues a range query; the
// half-open [key, rangeEnd) form of Delete is a linear scan over the
// map (DESIGN.md).
package index

import (
	"bytes"
	"sort"
	"sync"

	statelease "github.com/canonical/raftlease/state/lease"
)

// Index is a sync.RWMutex-guarded map from key to the revision it was
// most recently written at.
type Index struct {
	mu        sync.RWMutex
	revisions map[string]int64
}

// New returns an empty Index.
func New() *Index {
	return &Index{revisions: make(map[string]int64)}
}

// Put records that key was written at revision. It is for the KV-store
// write path; nothing in this module calls it (attaching a key to a
// lease does not touch the index).
func (idx *Index) Put(key []byte, revision int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.revisions[string(key)] = revision
}

// Delete is part of state/lease.Index. With an empty rangeEnd it
// deletes a single key; with a non-empty rangeEnd it deletes every key
// in the half-open interval [key, rangeEnd). Every matched key is
// removed from the index and reported with the revision it carried
// immediately before this delete.
func (idx *Index) Delete(key, rangeEnd []byte, revision int64, subRevision int) []statelease.DeleteResult {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	matched := idx.matchLocked(key, rangeEnd)
	results := make([]statelease.DeleteResult, 0, len(matched))
	for _, k := range matched {
		prev, ok := idx.revisions[k]
		if !ok {
			continue
		}
		delete(idx.revisions, k)
		results = append(results, statelease.DeleteResult{
			PrevRevision:   prev,
			DeleteRevision: revision,
		})
	}
	return results
}

// matchLocked returns the keys currently present that fall in
// [key, rangeEnd), or just key itself when rangeEnd is empty. Caller
// must hold idx.mu.
func (idx *Index) matchLocked(key, rangeEnd []byte) []string {
	if len(rangeEnd) == 0 {
		if _, ok := idx.revisions[string(key)]; !ok {
			return nil
		}
		return []string{string(key)}
	}

	var matched []string
	for k := range idx.revisions {
		if bytes.Compare([]byte(k), key) >= 0 && bytes.Compare([]byte(k), rangeEnd) < 0 {
			matched = append(matched, k)
		}
	}
	sort.Strings(matched)
	return matched
}
