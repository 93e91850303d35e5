// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package leaderflag implements the State collaborator required by
// SPEC_FULL.md §6: a worker that tracks whether this replica currently
// holds raft leadership, and notifies subscribers on every change so
// they can drive their own promote/demote transitions (the expiration
// driver in worker/lease is the only subscriber today).
package leaderflag

import (
	"sync/atomic"

	"github.com/hashicorp/raft"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"
)

var logger = loggo.GetLogger("raftlease.leaderflag")

// Config holds a Flag's dependencies.
type Config struct {
	Raft *raft.Raft
}

// Validate returns an error if the config cannot be expected to run a
// Flag worker.
func (config Config) Validate() error {
	if config.Raft == nil {
		return errors.NotValidf("nil Raft")
	}
	return nil
}

// Flag implements worker.Worker and state/lease.LeaderState, reporting
// whether this replica currently holds raft leadership. The validity
// of a Flag's reported state is tied to its own lifetime: once it has
// stopped, IsLeader should not be consulted.
type Flag struct {
	catacomb    catacomb.Catacomb
	config      Config
	observer    *raft.Observer
	leaderCh    chan raft.Observation
	isLeader    atomic.Bool
	transitions chan bool
}

// NewFlag starts a Flag tracking config.Raft's leadership state.
func NewFlag(config Config) (*Flag, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	// config.Raft.LeaderCh() is unbuffered and the sender does not
	// block, so we register our own buffered observer instead.
	leaderCh := make(chan raft.Observation, 1)
	o := raft.NewObserver(leaderCh, false, func(o *raft.Observation) bool {
		_, ok := o.Data.(raft.LeaderObservation)
		return ok
	})
	config.Raft.RegisterObserver(o)

	// Read the initial state *after* registering the observer, so we
	// don't miss a transition that happens in between.
	isLeader := config.Raft.State() == raft.Leader

	flag := &Flag{
		config:      config,
		observer:    o,
		leaderCh:    leaderCh,
		transitions: make(chan bool, 1),
	}
	flag.isLeader.Store(isLeader)
	err := catacomb.Invoke(catacomb.Plan{
		Site: &flag.catacomb,
		Work: flag.run,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return flag, nil
}

// Kill is part of the worker.Worker interface.
func (f *Flag) Kill() {
	f.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (f *Flag) Wait() error {
	return f.catacomb.Wait()
}

// IsLeader is part of state/lease.LeaderState. It is safe to call
// concurrently with run(), which is why the flag is stored atomically.
func (f *Flag) IsLeader() bool {
	return f.isLeader.Load()
}

// Transitions returns a channel that receives the new leadership
// state every time it changes. It is closed when the Flag stops.
func (f *Flag) Transitions() <-chan bool {
	return f.transitions
}

func (f *Flag) run() error {
	defer close(f.transitions)
	defer f.config.Raft.DeregisterObserver(f.observer)
	logger.Debugf("watching for leadership changes (currently leader: %v)", f.isLeader.Load())
	for {
		select {
		case <-f.catacomb.Dying():
			return f.catacomb.ErrDying()
		case <-f.leaderCh:
			now := f.config.Raft.State() == raft.Leader
			if now == f.isLeader.Load() {
				// Stale event for the state we already observed: can
				// happen if leadership changed again between
				// registering the observer and reading the initial
				// state.
				continue
			}
			f.isLeader.Store(now)
			logger.Infof("leadership changed: now leader=%v", now)
			select {
			case f.transitions <- now:
			case <-f.catacomb.Dying():
				return f.catacomb.ErrDying()
			}
		}
	}
}

var _ worker.Worker = (*Flag)(nil)
