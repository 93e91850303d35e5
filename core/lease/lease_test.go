// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package lease_test

import (
	"time"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	corelease "github.com/canonical/raftlease/core/lease"
)

type RecordSuite struct{}

var _ = gc.Suite(&RecordSuite{})

func (s *RecordSuite) TestNewRecordNeverExpires(c *gc.C) {
	r := corelease.NewRecord(1, 10*time.Second)
	c.Assert(r.HasExpiry(), jc.IsFalse)
	c.Assert(r.Remaining(time.Now()), gc.Equals, time.Duration(1<<63-1))
}

func (s *RecordSuite) TestRefreshSetsFiniteExpiry(c *gc.C) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := corelease.NewRecord(1, 10*time.Second)

	expiry := r.Refresh(now, 0)
	c.Assert(expiry, gc.Equals, now.Add(10*time.Second))
	c.Assert(r.HasExpiry(), jc.IsTrue)
	c.Assert(r.Expired(now), jc.IsFalse)
	c.Assert(r.Expired(now.Add(11*time.Second)), jc.IsTrue)
}

func (s *RecordSuite) TestForeverClearsExpiry(c *gc.C) {
	now := time.Now()
	r := corelease.NewRecord(1, time.Second)
	r.Refresh(now, 0)
	r.Forever()
	c.Assert(r.HasExpiry(), jc.IsFalse)
	c.Assert(r.Expired(now.Add(time.Hour)), jc.IsFalse)
}

func (s *RecordSuite) TestInsertRemoveKey(c *gc.C) {
	r := corelease.NewRecord(1, time.Second)
	r.InsertKey("a")
	r.InsertKey("b")
	c.Assert(r.Keys(), gc.DeepEquals, []string{"a", "b"})

	r.RemoveKey("a")
	c.Assert(r.Keys(), gc.DeepEquals, []string{"b"})

	// Removing an absent key is a no-op.
	r.RemoveKey("zzz")
	c.Assert(r.Keys(), gc.DeepEquals, []string{"b"})
}

func (s *RecordSuite) TestRemainingUsesPromoteGrace(c *gc.C) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := corelease.NewRecord(1, time.Second)
	r.Refresh(now, 10*time.Second)
	c.Assert(r.Expiry(), gc.Equals, now.Add(11*time.Second))
	c.Assert(r.Remaining(now), gc.Equals, 11*time.Second)

	// The grace only applies once; a subsequent refresh uses ttl
	// again.
	later := now.Add(time.Minute)
	r.Refresh(later, 0)
	c.Assert(r.Expiry(), gc.Equals, later.Add(time.Second))
}

func (s *RecordSuite) TestSetRemainingTTLMirrorsUntilNextRefresh(c *gc.C) {
	r := corelease.NewRecord(1, 10*time.Second)
	c.Assert(r.RemainingTTL(), gc.Equals, 10*time.Second)

	r.SetRemainingTTL(4 * time.Second)
	c.Assert(r.RemainingTTL(), gc.Equals, 4*time.Second)

	r.Refresh(time.Now(), 0)
	c.Assert(r.RemainingTTL(), gc.Equals, 10*time.Second)
}
