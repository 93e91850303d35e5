// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package lease

import (
	"fmt"

	"github.com/juju/errors"
)

// NotFoundError reports that a lease id is absent at lookup, revoke,
// attach, detach, or renew.
type NotFoundError struct {
	ID ID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("lease %d not found", e.ID)
}

// NotFound returns a traced *NotFoundError for id, recoverable via
// AsNotFound.
func NotFound(id ID) error {
	return errors.Trace(&NotFoundError{ID: id})
}

// AsNotFound reports whether err is (or wraps) a *NotFoundError, and
// returns it if so.
func AsNotFound(err error) (*NotFoundError, bool) {
	nf, ok := errors.Cause(err).(*NotFoundError)
	return nf, ok
}

// AlreadyExistsError reports that a lease id was already present at
// grant time.
type AlreadyExistsError struct {
	ID ID
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("lease %d already exists", e.ID)
}

// AlreadyExists returns an error for a grant of an id that is already
// held.
func AlreadyExists(id ID) error {
	return errors.Trace(&AlreadyExistsError{ID: id})
}

// AsAlreadyExists reports whether err is (or wraps) an
// *AlreadyExistsError.
func AsAlreadyExists(err error) (*AlreadyExistsError, bool) {
	ae, ok := errors.Cause(err).(*AlreadyExistsError)
	return ae, ok
}

// ExpiredError reports that renew was called on a lease whose expiry
// has already passed.
type ExpiredError struct {
	ID ID
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("lease %d expired", e.ID)
}

// Expired returns an error for a renew of an id whose expiry has
// passed.
func Expired(id ID) error {
	return errors.Trace(&ExpiredError{ID: id})
}

// AsExpired reports whether err is (or wraps) an *ExpiredError.
func AsExpired(err error) (*ExpiredError, bool) {
	ee, ok := errors.Cause(err).(*ExpiredError)
	return ee, ok
}

// TTLTooLargeError reports a grant request with ttl > MaxTTL.
type TTLTooLargeError struct {
	TTL int64 // seconds, as advertised in the rejected request
}

func (e *TTLTooLargeError) Error() string {
	return fmt.Sprintf("lease ttl %ds exceeds maximum", e.TTL)
}

// TTLTooLarge returns an error for a grant whose requested ttl (in
// seconds) exceeds MaxTTL.
func TTLTooLarge(ttlSeconds int64) error {
	return errors.Trace(&TTLTooLargeError{TTL: ttlSeconds})
}

// ErrNotLeader is returned by KeepAlive when invoked on a follower;
// renewals never cross consensus, so they are only meaningful where
// the expiry queue is actually live.
var ErrNotLeader = errors.New("lease keep-alive rejected: not leader")
