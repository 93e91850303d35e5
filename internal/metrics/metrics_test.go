// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package metrics_test

import (
	"testing"

	jc "github.com/juju/testing/checkers"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	gc "gopkg.in/check.v1"

	"github.com/canonical/raftlease/internal/metrics"
)

func Test(t *testing.T) { gc.TestingT(t) }

type MetricsSuite struct{}

var _ = gc.Suite(&MetricsSuite{})

func (s *MetricsSuite) TestGrantedCounterIncrements(c *gc.C) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.Granted.Inc()
	m.Granted.Inc()

	var out dto.Metric
	c.Assert(m.Granted.Write(&out), jc.ErrorIsNil)
	c.Assert(out.GetCounter().GetValue(), gc.Equals, float64(2))
}

func (s *MetricsSuite) TestActiveLeasesGaugeSetAndDec(c *gc.C) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ActiveLeases.Set(3)
	m.ActiveLeases.Dec()

	var out dto.Metric
	c.Assert(m.ActiveLeases.Write(&out), jc.ErrorIsNil)
	c.Assert(out.GetGauge().GetValue(), gc.Equals, float64(2))
}
