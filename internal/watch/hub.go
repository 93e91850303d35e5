// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package watch implements the watcher channel collaborator required
// by SPEC_FULL.md §6 on top of a juju/pubsub/v2 structured hub: a
// bounded, asynchronous fan-out from the one committed change batch
// per revision to however many subscribers are currently watching.
package watch

import (
	"github.com/juju/errors"
	"github.com/juju/pubsub/v2"

	statelease "github.com/canonical/raftlease/state/lease"
)

// changesTopic is the single topic this subsystem publishes change
// batches on; watchers for individual keys filter the batch
// themselves once delivered (the hub only fans out, it does not
// understand lease semantics).
const changesTopic = "lease.changes"

// Batch is the payload published on changesTopic.
type Batch struct {
	Revision int64
	Events   []statelease.Event
}

// Hub adapts a *pubsub.StructuredHub to state/lease.WatcherChannel.
type Hub struct {
	hub *pubsub.StructuredHub
}

// New wraps hub as a state/lease.WatcherChannel.
func New(hub *pubsub.StructuredHub) *Hub {
	return &Hub{hub: hub}
}

// Publish is part of state/lease.WatcherChannel. It blocks until every
// subscriber callback has at least been scheduled; a publish error
// here is the "closed receiver" case the caller must treat as fatal.
func (h *Hub) Publish(revision int64, events []statelease.Event) error {
	done, err := h.hub.Publish(changesTopic, Batch{Revision: revision, Events: events})
	if err != nil {
		return errors.Annotate(err, "publishing lease change batch")
	}
	select {
	case <-done:
	}
	return nil
}

// Subscribe registers handler to be called with every published
// Batch, and returns a function that cancels the subscription.
func (h *Hub) Subscribe(handler func(Batch)) (func(), error) {
	sub, err := h.hub.Subscribe(changesTopic, func(_ string, batch Batch) {
		handler(batch)
	})
	if err != nil {
		return nil, errors.Annotate(err, "subscribing to lease change batches")
	}
	return sub.Unsubscribe, nil
}
