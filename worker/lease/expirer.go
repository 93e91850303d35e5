// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package lease

import (
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"

	corelease "github.com/canonical/raftlease/core/lease"
	"github.com/canonical/raftlease/internal/metrics"
)

// DefaultExpiryInterval is how often the expirer polls for expired
// leases while it believes itself to be leader (SPEC_FULL.md §4.F).
const DefaultExpiryInterval = 500 * time.Millisecond

// expiryStore is the subset of *statelease.Store the expirer needs.
type expiryStore interface {
	FindExpiredLeases() []corelease.ID
	Demote()
	Promote(grace time.Duration)
}

// Proposer proposes a LeaseRevoke for id through consensus. The
// expirer does not wait for the proposal to commit: after-sync will
// call Revoke when (and if) it does.
type Proposer interface {
	ProposeRevoke(id corelease.ID) error
}

// ExpirerConfig holds an Expirer's dependencies.
type ExpirerConfig struct {
	Clock    clock.Clock
	Store    expiryStore
	Proposer Proposer
	// Transitions receives true when this replica becomes leader and
	// false when it stops being leader. It may be nil, in which case
	// the expirer assumes it is never leader (useful for a
	// single-node or test deployment with no raft observer wired up).
	Transitions <-chan bool
	// Interval is how often to poll for expired leases while leader.
	// Defaults to DefaultExpiryInterval if zero.
	Interval time.Duration
	// Grace is the promotion grace period applied across a
	// leadership transition; design default is one election timeout.
	Grace time.Duration
	// Metrics is optional; when set, each polled expiry is counted.
	Metrics *metrics.Metrics
}

func (config ExpirerConfig) validate() error {
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Store == nil {
		return errors.NotValidf("nil Store")
	}
	if config.Proposer == nil {
		return errors.NotValidf("nil Proposer")
	}
	return nil
}

// Expirer is the expiration driver: on the leader, at a configured
// interval, it polls the store for expired leases and proposes a
// revoke for each; it is otherwise idle, and reacts to leadership
// transitions by demoting or promoting the store's timers.
type Expirer struct {
	catacomb catacomb.Catacomb
	config   ExpirerConfig
}

// NewExpirer starts an Expirer.
func NewExpirer(config ExpirerConfig) (*Expirer, error) {
	if err := config.validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.Interval == 0 {
		config.Interval = DefaultExpiryInterval
	}
	e := &Expirer{config: config}
	err := catacomb.Invoke(catacomb.Plan{
		Site: &e.catacomb,
		Work: e.loop,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return e, nil
}

// Kill is part of the worker.Worker interface.
func (e *Expirer) Kill() {
	e.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (e *Expirer) Wait() error {
	return e.catacomb.Wait()
}

func (e *Expirer) loop() error {
	isLeader := false
	timer := e.config.Clock.NewTimer(e.config.Interval)
	defer timer.Stop()

	for {
		select {
		case <-e.catacomb.Dying():
			return e.catacomb.ErrDying()

		case leading, ok := <-e.config.Transitions:
			if !ok {
				// The leadership flag died; treat as fatal, matching
				// the fatal-on-closed-channel rule applied to every
				// other channel this subsystem owns.
				return errors.New("fatal: leadership transition channel closed")
			}
			isLeader = leading
			if isLeader {
				e.config.Store.Promote(e.config.Grace)
			} else {
				e.config.Store.Demote()
			}

		case <-timer.Chan():
			timer.Reset(e.config.Interval)
			if !isLeader {
				continue
			}
			for _, id := range e.config.Store.FindExpiredLeases() {
				if m := e.config.Metrics; m != nil {
					m.Expired.Inc()
				}
				if err := e.config.Proposer.ProposeRevoke(id); err != nil {
					return errors.Annotatef(err, "proposing revoke of expired lease %d", id)
				}
			}
		}
	}
}

var _ worker.Worker = (*Expirer)(nil)
