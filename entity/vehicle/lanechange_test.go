package vehicle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity/lane/lanetest"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/config"
)

// splitLanes 一条车道分为两条并排车道，两条车道都标记为横向相邻
func splitLanes(ctx *lanetest.Context) (left, right entity.ILane) {
	b := lanetest.NewBuilder()
	p := b.Driving(10, 3, [2]float64{0, 0}, [2]float64{50, 0})
	l := b.Driving(10, 3, [2]float64{50, 3}, [2]float64{250, 3})
	r := b.Driving(10, 3, [2]float64{50, 0}, [2]float64{250, 0})
	b.Sides(l, r)
	b.Connect(p, l)
	b.Connect(p, r)
	m := b.Build(ctx)
	return m.Get(l.Id), m.Get(r.Id)
}

func TestTransverseLaneChange(t *testing.T) {
	cases := []struct {
		name   string
		s      float64
		chosen bool
		level  Level
	}{
		// 随机比例0.5时变道位置不早于车道长度的0.25
		{"past spread position", 120, true, TransversingLaneChange},
		{"before spread position", 40, false, RetrySoon},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ctx := lanetest.NewContext(config.Traffic{})
			left, right := splitLanes(ctx)
			require.True(t, right.HasTransverseLaneAdjacency())
			require.True(t, left.HasTransverseLaneAdjacency())
			require.Empty(t, right.SplittingLanes())
			crowd(right, 100)
			v := newTestVehicle(ctx, 1, right, c.s, 10)
			v.randomFraction = .5
			settle(ctx, v)
			require.Less(t, left.DownstreamFlowDensity(), right.DownstreamFlowDensity())

			var rec Recommendation
			v.chooseLane(right, c.s-v.length/2, &rec)
			assert.Equal(t, c.level, rec.Level)
			if c.chosen {
				assert.Equal(t, left, rec.Chosen)
				assert.True(t, rec.ChoseLeft)
				assert.False(t, rec.ChoseRight)
			} else {
				assert.Nil(t, rec.Chosen)
			}
		})
	}
}

func TestTransverseRetrySoon(t *testing.T) {
	ctx := lanetest.NewContext(config.Traffic{})
	_, right := splitLanes(ctx)
	crowd(right, 100)
	v := newTestVehicle(ctx, 1, right, 40, 10)
	v.randomFraction = .5
	settle(ctx, v)

	ac := v.planLaneChange()
	assert.Nil(t, ac.LCTarget)
	assert.Equal(t, RetrySoon, v.runtime.Recommendation.Level)
	cfg := &ctx.Config.T.LaneChange
	assert.InDelta(t, ctx.C.T+cfg.RetrySoonSeconds, v.runtime.NextLCAttemptT, 1e-9)
	assert.Less(t, cfg.RetrySoonSeconds, cfg.RetrySeconds)
}

func TestChooseLaneDropsStaleChoice(t *testing.T) {
	ctx := lanetest.NewContext(config.Traffic{})
	left, mid, _ := threeLanes(ctx)
	crowd(mid, 100)
	v := newTestVehicle(ctx, 1, mid, 50, 10)
	v.priorityFilters = []entity.LaneTagFilter{{All: entity.TagTrunk}}
	settle(ctx, v)

	var rec Recommendation
	v.chooseLane(mid, 47.5, &rec)
	require.Equal(t, left, rec.Chosen)

	// 选定车道变得更拥挤后放弃建议，不改选另一侧
	crowd(left, 200, 20, 40, 60, 80, 100, 120, 140, 160)
	settle(ctx, v)
	require.GreaterOrEqual(t, left.DownstreamFlowDensity(), mid.DownstreamFlowDensity())
	v.chooseLane(mid, 47.5, &rec)
	assert.Equal(t, Recommendation{}, rec)
}

func TestChooseLaneTieFollowsChosenSide(t *testing.T) {
	ctx := lanetest.NewContext(config.Traffic{})
	left, mid, right := threeLanes(ctx)
	v := newTestVehicle(ctx, 1, mid, 50, 10)
	settle(ctx, v)
	require.Equal(t, left.DownstreamFlowDensity(), right.DownstreamFlowDensity())

	seen := map[bool]bool{}
	for i := 0; i < 32; i++ {
		var rec Recommendation
		v.chooseLane(mid, 47.5, &rec)
		require.NotNil(t, rec.Chosen)
		assert.NotEqual(t, rec.ChoseLeft, rec.ChoseRight)
		if rec.ChoseLeft {
			assert.Equal(t, left, rec.Chosen)
		} else {
			assert.Equal(t, right, rec.Chosen)
		}
		seen[rec.ChoseLeft] = true
	}
	// 两侧都会被选到
	assert.Len(t, seen, 2)
}
