// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package lease_test

import (
	"time"

	"github.com/juju/clock/testclock"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	corelease "github.com/canonical/raftlease/core/lease"
)

type CollectionSuite struct {
	clock *testclock.Clock
	col   *corelease.Collection
}

var _ = gc.Suite(&CollectionSuite{})

func (s *CollectionSuite) SetUpTest(c *gc.C) {
	s.clock = testclock.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s.col = corelease.NewCollection(s.clock)
}

// Scenario 1: grant then look up.
func (s *CollectionSuite) TestGrantThenLookUp(c *gc.C) {
	s.col.Grant(1, 10*time.Second, true)

	record := s.col.LookUp(1)
	c.Assert(record, gc.NotNil)
	c.Assert(record.TTL(), gc.Equals, 10*time.Second)
	c.Assert(s.col.Leases(), gc.HasLen, 1)
}

// Scenario 2: attach/detach and get_lease.
func (s *CollectionSuite) TestAttachDetach(c *gc.C) {
	s.col.Grant(1, 10*time.Second, true)

	err := s.col.Attach(0, "key")
	c.Assert(err, gc.NotNil)
	_, ok := corelease.AsNotFound(err)
	c.Assert(ok, jc.IsTrue)

	err = s.col.Attach(1, "key")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.col.GetLease("key"), gc.Equals, corelease.ID(1))

	err = s.col.Detach(1, "key")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.col.GetLease("key"), gc.Equals, corelease.NoLease)
}

// Scenario 3: grant then revoke removes the lease record; the key
// index is left for the caller to purge.
func (s *CollectionSuite) TestGrantRevokeRemovesLeaseRecord(c *gc.C) {
	s.col.Grant(1, 10*time.Second, true)
	c.Assert(s.col.Attach(1, "a"), jc.ErrorIsNil)

	removed := s.col.Revoke(1)
	c.Assert(removed, gc.NotNil)
	c.Assert(removed.Keys(), gc.DeepEquals, []string{"a"})

	c.Assert(s.col.LookUp(1), gc.IsNil)
	c.Assert(s.col.Leases(), gc.HasLen, 0)

	// Revoke does not purge item_map; that is the caller's job
	// (SPEC_FULL.md §4.D). The key is still "owned" by 1 until the
	// caller detaches it explicitly.
	c.Assert(s.col.GetLease("a"), gc.Equals, corelease.ID(1))
}

func (s *CollectionSuite) TestGrantClampsTTL(c *gc.C) {
	record := s.col.Grant(1, 0, true)
	c.Assert(record.TTL(), gc.Equals, corelease.MinTTL)
}

func (s *CollectionSuite) TestRenewNotFound(c *gc.C) {
	_, err := s.col.Renew(42)
	_, ok := corelease.AsNotFound(err)
	c.Assert(ok, jc.IsTrue)
}

func (s *CollectionSuite) TestRenewExpired(c *gc.C) {
	s.col.Grant(1, time.Second, true)
	s.clock.Advance(2 * time.Second)

	_, err := s.col.Renew(1)
	_, ok := corelease.AsExpired(err)
	c.Assert(ok, jc.IsTrue)
}

func (s *CollectionSuite) TestRenewRefreshesExpiry(c *gc.C) {
	s.col.Grant(1, 10*time.Second, true)
	s.clock.Advance(5 * time.Second)

	ttl, err := s.col.Renew(1)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ttl, gc.Equals, int64(10))

	expired := s.col.FindExpiredLeases()
	c.Assert(expired, gc.HasLen, 0)
}

// Property 4 (SPEC_FULL.md §8): a second find_expired_leases at the
// same instant returns nothing.
func (s *CollectionSuite) TestFindExpiredLeasesIdempotentAtSameInstant(c *gc.C) {
	s.col.Grant(1, time.Second, true)
	s.clock.Advance(2 * time.Second)

	first := s.col.FindExpiredLeases()
	c.Assert(first, gc.DeepEquals, []corelease.ID{1})

	second := s.col.FindExpiredLeases()
	c.Assert(second, gc.HasLen, 0)
}

func (s *CollectionSuite) TestFindExpiredLeasesSkipsAlreadyRevoked(c *gc.C) {
	s.col.Grant(1, time.Second, true)
	s.col.Grant(2, time.Second, true)
	s.col.Revoke(1)
	s.clock.Advance(2 * time.Second)

	expired := s.col.FindExpiredLeases()
	c.Assert(expired, gc.DeepEquals, []corelease.ID{2})
}

func (s *CollectionSuite) TestFollowerNeverExpires(c *gc.C) {
	s.col.Grant(1, time.Second, false)
	s.clock.Advance(time.Hour)

	c.Assert(s.col.FindExpiredLeases(), gc.HasLen, 0)
}

// Scenario 6: a lease granted on a follower has no timer until
// Promote arms it.
func (s *CollectionSuite) TestPromoteArmsFollowerLease(c *gc.C) {
	s.col.Grant(1, time.Second, false)

	s.col.Promote(0)
	s.clock.Advance(2 * time.Second)
	c.Assert(s.col.FindExpiredLeases(), gc.DeepEquals, []corelease.ID{1})
}

func (s *CollectionSuite) TestPromoteGraceDelaysExpiry(c *gc.C) {
	s.col.Grant(1, time.Second, true)

	s.col.Demote()
	c.Assert(s.col.FindExpiredLeases(), gc.HasLen, 0)

	s.col.Promote(5 * time.Second)
	s.clock.Advance(2 * time.Second)
	c.Assert(s.col.FindExpiredLeases(), gc.HasLen, 0)

	s.clock.Advance(4 * time.Second)
	c.Assert(s.col.FindExpiredLeases(), gc.DeepEquals, []corelease.ID{1})
}

func (s *CollectionSuite) TestLeasesSortedByRemaining(c *gc.C) {
	s.col.Grant(2, 20*time.Second, true)
	s.col.Grant(1, 10*time.Second, true)
	s.col.Grant(3, 30*time.Second, true)

	leases := s.col.Leases()
	var ids []corelease.ID
	for _, l := range leases {
		ids = append(ids, l.ID())
	}
	c.Assert(ids, gc.DeepEquals, []corelease.ID{1, 2, 3})
}

func (s *CollectionSuite) TestGetKeys(c *gc.C) {
	s.col.Grant(1, 10*time.Second, true)
	c.Assert(s.col.Attach(1, "a"), jc.ErrorIsNil)
	c.Assert(s.col.Attach(1, "b"), jc.ErrorIsNil)

	c.Assert(s.col.GetKeys(1), gc.DeepEquals, []string{"a", "b"})
	c.Assert(s.col.GetKeys(99), gc.IsNil)
}
