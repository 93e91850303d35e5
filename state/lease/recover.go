// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package lease

import (
	"time"

	"github.com/juju/errors"

	corelease "github.com/canonical/raftlease/core/lease"
	"github.com/canonical/raftlease/core/lease/wire"
)

// Recover reads every record from the persistent lease table, decodes
// it, and grants it into the collection with is_leader = false, so
// every lease starts with expiry = never regardless of this
// replica's role at the time Recover runs. Attached keys are
// deliberately not restored: the KV-store recovery path, which runs
// afterwards, re-invokes Attach for every live key-value that names a
// lease (SPEC_FULL.md §4.G).
//
// A decode failure here is fatal: it means the persisted lease table
// is corrupt, and continuing would silently diverge from every other
// replica.
func (s *Store) Recover() error {
	raw, err := s.config.Storage.GetAll(leaseTable)
	if err != nil {
		return errors.Annotate(err, "reading lease table")
	}

	for _, data := range raw {
		record, err := wire.Unmarshal(data)
		if err != nil {
			logger.Criticalf("fatal: corrupt lease record during recovery: %v", err)
			return errors.Annotate(err, "fatal: corrupt lease record")
		}
		ttl := secondsUnit * time.Duration(record.TTLSeconds)
		s.collection.Grant(corelease.ID(record.ID), ttl, false)
		s.collection.RestoreRemainingTTL(corelease.ID(record.ID), secondsUnit*time.Duration(record.RemainingSecs))
	}
	logger.Infof("recovered %d lease records", len(raw))
	return nil
}
