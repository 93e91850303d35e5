// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package lease

import corelease "github.com/canonical/raftlease/core/lease"

// GrantRequest is the user-facing body of a LeaseGrant request.
type GrantRequest struct {
	ID  corelease.ID
	TTL int64 // seconds
}

// GrantResponse echoes the granted id and the *original*, unclamped
// ttl (SPEC_FULL.md §9 Open Question: the source advertises the
// requested ttl, not the clamped one, and this preserves that).
type GrantResponse struct {
	Header Header
	ID     corelease.ID
	TTL    int64
}

// RevokeRequest is the user-facing body of a LeaseRevoke request.
type RevokeRequest struct {
	ID corelease.ID
}

// RevokeResponse carries only a header: a successful revoke has
// nothing else to report.
type RevokeResponse struct {
	Header Header
}
