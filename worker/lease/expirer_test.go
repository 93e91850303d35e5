// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package lease_test

import (
	"sync"
	"time"

	"github.com/juju/clock/testclock"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	corelease "github.com/canonical/raftlease/core/lease"
	workerlease "github.com/canonical/raftlease/worker/lease"
)

type fakeExpiryStore struct {
	mu       sync.Mutex
	expired  []corelease.ID
	promoted []time.Duration
	demotes  int
}

func (f *fakeExpiryStore) FindExpiredLeases() []corelease.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.expired
	f.expired = nil
	return out
}

func (f *fakeExpiryStore) Demote() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.demotes++
}

func (f *fakeExpiryStore) Promote(grace time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.promoted = append(f.promoted, grace)
}

func (f *fakeExpiryStore) setExpired(ids ...corelease.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = ids
}

type fakeProposer struct {
	mu       sync.Mutex
	proposed []corelease.ID
}

func (f *fakeProposer) ProposeRevoke(id corelease.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proposed = append(f.proposed, id)
	return nil
}

func (f *fakeProposer) seen() []corelease.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]corelease.ID, len(f.proposed))
	copy(out, f.proposed)
	return out
}

type ExpirerSuite struct{}

var _ = gc.Suite(&ExpirerSuite{})

func (s *ExpirerSuite) TestIgnoresExpiryWhileNotLeader(c *gc.C) {
	clk := testclock.NewClock(time.Now())
	store := &fakeExpiryStore{}
	proposer := &fakeProposer{}
	store.setExpired(1, 2)

	expirer, err := workerlease.NewExpirer(workerlease.ExpirerConfig{
		Clock:    clk,
		Store:    store,
		Proposer: proposer,
		Interval: time.Second,
	})
	c.Assert(err, jc.ErrorIsNil)
	defer stopExpirer(c, expirer)

	clk.WaitAdvance(time.Second, time.Second, 1)
	time.Sleep(10 * time.Millisecond)
	c.Assert(proposer.seen(), gc.HasLen, 0)
}

func (s *ExpirerSuite) TestProposesRevokeOfExpiredLeasesWhileLeader(c *gc.C) {
	clk := testclock.NewClock(time.Now())
	store := &fakeExpiryStore{}
	proposer := &fakeProposer{}
	transitions := make(chan bool, 1)

	expirer, err := workerlease.NewExpirer(workerlease.ExpirerConfig{
		Clock:       clk,
		Store:       store,
		Proposer:    proposer,
		Transitions: transitions,
		Interval:    time.Second,
		Grace:       5 * time.Second,
	})
	c.Assert(err, jc.ErrorIsNil)
	defer stopExpirer(c, expirer)

	transitions <- true
	time.Sleep(10 * time.Millisecond)

	store.setExpired(1, 2)
	clk.WaitAdvance(time.Second, time.Second, 1)
	time.Sleep(10 * time.Millisecond)

	c.Assert(proposer.seen(), gc.DeepEquals, []corelease.ID{1, 2})

	store.mu.Lock()
	c.Assert(store.promoted, gc.DeepEquals, []time.Duration{5 * time.Second})
	store.mu.Unlock()
}

func (s *ExpirerSuite) TestDemoteOnLeadershipLoss(c *gc.C) {
	clk := testclock.NewClock(time.Now())
	store := &fakeExpiryStore{}
	proposer := &fakeProposer{}
	transitions := make(chan bool, 1)

	expirer, err := workerlease.NewExpirer(workerlease.ExpirerConfig{
		Clock:       clk,
		Store:       store,
		Proposer:    proposer,
		Transitions: transitions,
		Interval:    time.Second,
	})
	c.Assert(err, jc.ErrorIsNil)
	defer stopExpirer(c, expirer)

	transitions <- true
	time.Sleep(10 * time.Millisecond)
	transitions <- false
	time.Sleep(10 * time.Millisecond)

	store.mu.Lock()
	c.Assert(store.demotes, gc.Equals, 1)
	store.mu.Unlock()
}

func stopExpirer(c *gc.C, expirer *workerlease.Expirer) {
	expirer.Kill()
	c.Assert(expirer.Wait(), jc.ErrorIsNil)
}
