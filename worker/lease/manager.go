// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package lease runs the request dispatcher (component E of
// SPEC_FULL.md): a single long-running worker that serializes every
// cross-subsystem lease query — attach, detach, look_up, get_lease,
// get_keys — through one message channel, removing any lock-ordering
// risk between the lease collection and the rest of the store.
package lease

import (
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"

	corelease "github.com/canonical/raftlease/core/lease"
	statelease "github.com/canonical/raftlease/state/lease"
)

var logger = loggo.GetLogger("raftlease.worker.lease")

// store is the subset of *statelease.Store the dispatcher needs; kept
// narrow so it can be faked in tests without constructing a real
// Store and its collaborators.
type store interface {
	Attach(id corelease.ID, key string) error
	Detach(id corelease.ID, key string) error
	LookUp(id corelease.ID) *corelease.Record
	GetLease(key string) corelease.ID
	GetKeys(id corelease.ID) []string
}

// Config holds a Manager's dependencies.
type Config struct {
	Store store
}

func (config Config) validate() error {
	if config.Store == nil {
		return errors.NotValidf("nil Store")
	}
	return nil
}

type attachMsg struct {
	id    corelease.ID
	key   string
	reply chan<- error
}

type detachMsg struct {
	id    corelease.ID
	key   string
	reply chan<- error
}

type lookUpMsg struct {
	id    corelease.ID
	reply chan<- *corelease.Record
}

type getLeaseMsg struct {
	key   string
	reply chan<- corelease.ID
}

type getKeysMsg struct {
	id    corelease.ID
	reply chan<- []string
}

// Manager is the request dispatcher: it owns the store's consistency
// and processes exactly one message at a time.
type Manager struct {
	catacomb catacomb.Catacomb
	config   Config

	attach   chan attachMsg
	detach   chan detachMsg
	lookUp   chan lookUpMsg
	getLease chan getLeaseMsg
	getKeys  chan getKeysMsg
}

// NewManager starts a Manager dispatching requests against config.Store.
func NewManager(config Config) (*Manager, error) {
	if err := config.validate(); err != nil {
		return nil, errors.Trace(err)
	}
	m := &Manager{
		config:   config,
		attach:   make(chan attachMsg),
		detach:   make(chan detachMsg),
		lookUp:   make(chan lookUpMsg),
		getLease: make(chan getLeaseMsg),
		getKeys:  make(chan getKeysMsg),
	}
	err := catacomb.Invoke(catacomb.Plan{
		Site: &m.catacomb,
		Work: m.loop,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return m, nil
}

// Kill is part of the worker.Worker interface.
func (m *Manager) Kill() {
	m.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (m *Manager) Wait() error {
	return m.catacomb.Wait()
}

// Attach associates key with the lease id, serialized through the
// dispatcher.
//
// Every reply channel in this file is buffered by one: if the caller
// gives up waiting (catacomb died between send and reply), loop's send
// must still complete without a reader, or the dispatcher wedges.
func (m *Manager) Attach(id corelease.ID, key string) error {
	reply := make(chan error, 1)
	select {
	case <-m.catacomb.Dying():
		return m.catacomb.ErrDying()
	case m.attach <- attachMsg{id: id, key: key, reply: reply}:
	}
	return m.waitForError(reply)
}

// Detach disassociates key from the lease id.
func (m *Manager) Detach(id corelease.ID, key string) error {
	reply := make(chan error, 1)
	select {
	case <-m.catacomb.Dying():
		return m.catacomb.ErrDying()
	case m.detach <- detachMsg{id: id, key: key, reply: reply}:
	}
	return m.waitForError(reply)
}

// LookUp returns a snapshot of the lease record for id, or nil.
func (m *Manager) LookUp(id corelease.ID) (*corelease.Record, error) {
	reply := make(chan *corelease.Record, 1)
	select {
	case <-m.catacomb.Dying():
		return nil, m.catacomb.ErrDying()
	case m.lookUp <- lookUpMsg{id: id, reply: reply}:
	}
	select {
	case <-m.catacomb.Dying():
		return nil, m.catacomb.ErrDying()
	case record, ok := <-reply:
		if !ok {
			logger.Criticalf("fatal: lease dispatcher reply channel closed")
			return nil, errors.New("fatal: lease dispatcher reply channel closed")
		}
		return record, nil
	}
}

// GetLease returns the id of the lease owning key, or corelease.NoLease.
func (m *Manager) GetLease(key string) (corelease.ID, error) {
	reply := make(chan corelease.ID, 1)
	select {
	case <-m.catacomb.Dying():
		return corelease.NoLease, m.catacomb.ErrDying()
	case m.getLease <- getLeaseMsg{key: key, reply: reply}:
	}
	select {
	case <-m.catacomb.Dying():
		return corelease.NoLease, m.catacomb.ErrDying()
	case id, ok := <-reply:
		if !ok {
			logger.Criticalf("fatal: lease dispatcher reply channel closed")
			return corelease.NoLease, errors.New("fatal: lease dispatcher reply channel closed")
		}
		return id, nil
	}
}

// GetKeys returns the keys attached to id, or nil if id is absent.
func (m *Manager) GetKeys(id corelease.ID) ([]string, error) {
	reply := make(chan []string, 1)
	select {
	case <-m.catacomb.Dying():
		return nil, m.catacomb.ErrDying()
	case m.getKeys <- getKeysMsg{id: id, reply: reply}:
	}
	select {
	case <-m.catacomb.Dying():
		return nil, m.catacomb.ErrDying()
	case keys, ok := <-reply:
		if !ok {
			logger.Criticalf("fatal: lease dispatcher reply channel closed")
			return nil, errors.New("fatal: lease dispatcher reply channel closed")
		}
		return keys, nil
	}
}

func (m *Manager) waitForError(reply <-chan error) error {
	select {
	case <-m.catacomb.Dying():
		return m.catacomb.ErrDying()
	case err, ok := <-reply:
		if !ok {
			// A closed reply channel means the caller was cancelled
			// while holding a borrow on the store's consistency,
			// which should never happen (SPEC_FULL.md §4.E).
			logger.Criticalf("fatal: lease dispatcher reply channel closed")
			return errors.New("fatal: lease dispatcher reply channel closed")
		}
		return err
	}
}

// loop is the dispatcher's single consumer: it processes exactly one
// message at a time, so the lease collection never needs its own
// cross-subsystem lock-ordering story.
func (m *Manager) loop() error {
	for {
		select {
		case <-m.catacomb.Dying():
			return m.catacomb.ErrDying()
		case msg := <-m.attach:
			msg.reply <- m.config.Store.Attach(msg.id, msg.key)
		case msg := <-m.detach:
			msg.reply <- m.config.Store.Detach(msg.id, msg.key)
		case msg := <-m.lookUp:
			msg.reply <- m.config.Store.LookUp(msg.id)
		case msg := <-m.getLease:
			msg.reply <- m.config.Store.GetLease(msg.key)
		case msg := <-m.getKeys:
			msg.reply <- m.config.Store.GetKeys(msg.id)
		}
	}
}

var _ worker.Worker = (*Manager)(nil)
