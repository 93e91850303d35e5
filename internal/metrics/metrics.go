// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package metrics exposes the lease subsystem's prometheus
// instrumentation: an active-lease gauge and granted/revoked/expired
// counters, registered by whoever wires up the store backend and the
// expiration driver (SPEC_FULL.md DOMAIN STACK).
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "raftlease"

// Metrics bundles the lease subsystem's prometheus collectors. The
// zero value is not usable; construct with New.
type Metrics struct {
	ActiveLeases prometheus.Gauge
	Granted      prometheus.Counter
	Revoked      prometheus.Counter
	Expired      prometheus.Counter
}

// New constructs a Metrics and registers every collector with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveLeases: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_leases",
			Help:      "Number of leases currently held in the collection.",
		}),
		Granted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leases_granted_total",
			Help:      "Total number of leases granted.",
		}),
		Revoked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leases_revoked_total",
			Help:      "Total number of leases revoked, explicitly or by expiry.",
		}),
		Expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leases_expired_total",
			Help:      "Total number of leases found expired by the expiration driver.",
		}),
	}
	reg.MustRegister(m.ActiveLeases, m.Granted, m.Revoked, m.Expired)
	return m
}
