package prom

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/tiercache/cache"
)

// Memory tier signals land in per-tier series.
func TestAdapter_MemoryTiers(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	a := New(reg, "tiercache", "test", nil)

	m := cache.NewMemory[string, string](cache.Options[string, string]{MaxSize: 1, Metrics: a})
	m.Set("a", "1")
	m.Set("b", "2") // a -> overflow
	m.Get("b")      // strong hit
	m.Get("a")      // overflow hit, b demoted
	m.Get("zz")     // miss in both

	assert.InDelta(t, 1, testutil.ToFloat64(a.hits.WithLabelValues("strong")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(a.hits.WithLabelValues("overflow")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(a.misses.WithLabelValues("overflow")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(a.evicts.WithLabelValues("strong", "capacity")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(a.sizeEnt.WithLabelValues("overflow")), 0)
}

func TestAdapter_Conditions(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	a := New(reg, "tiercache", "", prometheus.Labels{"app": "test"})
	a.Condition(cache.TierDisk, cache.ConditionLowSpace)
	a.Condition(cache.TierDisk, cache.ConditionLowSpace)

	expected := `
# HELP tiercache_conditions_total Degraded conditions observed by a tier
# TYPE tiercache_conditions_total counter
tiercache_conditions_total{app="test",condition="low_space",tier="disk"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "tiercache_conditions_total"))
}
