package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

const minimalYaml = `
input:
  uri: ""
  map:
    db: srt
    col: map_test
control:
  step:
    start: 0
    total: 100
    interval: 1
`

func TestRuntimeConfigDefaults(t *testing.T) {
	var c Config
	require.NoError(t, yaml.UnmarshalStrict([]byte(minimalYaml), &c))
	rc := NewRuntimeConfig(c)

	assert.Equal(t, int32(1), rc.C.Step.Subloop)
	assert.Equal(t, LightPolicyFixed, rc.C.LightPolicy)
	assert.Equal(t, DefaultTraffic(), rc.T)
	assert.Equal(t, 80.0, rc.T.Intersection.HiddenSideAngleDeg)
	assert.Equal(t, 200, rc.T.Lane.MarchLimit)
}

func TestTrafficOverrides(t *testing.T) {
	const overrides = `
input:
  map:
    file: map.pb
control:
  step: {start: 0, total: 10, interval: 0.5, subloop: 2}
  light_policy: max_pressure
traffic:
  intersection:
    standard_go_seconds: 30
  lane_change:
    min_distance_range: {min: 2, max: 6}
    priority_filters:
      truck:
        - all: [trunk]
        - not: [freeway]
    trunk_only_classes: [truck]
  yield:
    resume_fractions: {left: 0.5, right: 0.5, straight: 0.5}
`
	var c Config
	require.NoError(t, yaml.UnmarshalStrict([]byte(overrides), &c))
	rc := NewRuntimeConfig(c)

	assert.Equal(t, int32(2), rc.C.Step.Subloop)
	assert.Equal(t, LightPolicyMaxPressure, rc.C.LightPolicy)
	assert.Equal(t, 30.0, rc.T.Intersection.StandardGoSeconds)
	assert.Equal(t, 5.0, rc.T.Intersection.MinimumGoSeconds)
	assert.Equal(t, Range{Min: 2, Max: 6}, rc.T.LaneChange.MinDistanceRange)
	assert.Len(t, rc.T.LaneChange.PriorityFilters["truck"], 2)
	assert.Equal(t, []string{"trunk"}, rc.T.LaneChange.PriorityFilters["truck"][0].All)
	assert.Equal(t, TurnFractions{Left: 0.5, Right: 0.5, Straight: 0.5}, rc.T.Yield.ResumeFractions)
	assert.Equal(t, DefaultTraffic().Yield.CutoffFractions, rc.T.Yield.CutoffFractions)
}

func TestUnknownLightPolicyPanics(t *testing.T) {
	c := Config{Control: Control{LightPolicy: "adaptive"}}
	assert.Panics(t, func() { NewRuntimeConfig(c) })
}

func TestRangeLerp(t *testing.T) {
	r := Range{Min: 1, Max: 3}
	assert.Equal(t, 1.0, r.Lerp(0))
	assert.Equal(t, 2.0, r.Lerp(0.5))
	assert.Equal(t, 3.0, r.Lerp(1))
}

func TestInputPathCachePath(t *testing.T) {
	assert.Equal(t, "srt.map.pb", InputPath{DB: "srt", Col: "map"}.GetCachePath())
	assert.Equal(t, "x.pb", InputPath{DB: "srt", Col: "map", Cache: "x.pb"}.GetCachePath())
}
