package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	c.IntersectionBuilt("square")
	c.IntersectionBuilt("square")
	c.AddPeriods(8)
	c.IntersectionPruned()
	c.TopologyDefect("missing_leftmost_point")
	c.LaneChange("normal")
	c.LaneChangeBlocked()
	c.Yield("reactive")
	c.MarchOverrun()
	c.SetActive(12, 3)
	c.ObserveStep(20 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.IntersectionsBuilt.WithLabelValues("square")))
	assert.Equal(t, 8.0, testutil.ToFloat64(c.PeriodsSynthesized))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.IntersectionsPruned))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.TopologyDefects.WithLabelValues("missing_leftmost_point")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.LaneChanges.WithLabelValues("normal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.LaneChangesBlocked))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.YieldDecisions.WithLabelValues("reactive")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.MarchOverruns))
	assert.Equal(t, 12.0, testutil.ToFloat64(c.VehiclesActive))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.PedestriansActive))
}

func TestCollectorReRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewCollector(reg)
	require.NoError(t, err)
	b, err := NewCollector(reg)
	require.NoError(t, err)

	a.MarchOverrun()
	assert.Equal(t, 1.0, testutil.ToFloat64(b.MarchOverruns))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.IntersectionBuilt("t_shape")
		c.AddPeriods(3)
		c.MarchOverrun()
		c.SetActive(1, 1)
		c.ObserveStep(time.Second)
	})
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)
	c.AddPeriods(2)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "traffic_periods_synthesized_total 2"))
}
