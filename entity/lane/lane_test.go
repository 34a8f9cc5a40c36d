package lane_test

import (
	"math"
	"testing"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity/lane/lanetest"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/config"
)

func ids(lanes []entity.ILane) []int32 {
	return lo.Map(lanes, func(l entity.ILane, _ int) int32 { return l.ID() })
}

var fourWay = []float64{0, math.Pi / 2, math.Pi, 3 * math.Pi / 2}

func TestTagsAndTurns(t *testing.T) {
	ctx := lanetest.NewContext(config.Traffic{})
	b := lanetest.NewBuilder()
	arms, internal := b.Cross(100, fourWay, 10, 50, true)
	fast := b.Driving(25, 3.5, [2]float64{0, 100}, [2]float64{100, 100})
	m := b.Build(ctx)

	in := m.Get(arms[0].In.Id)
	assert.Equal(t, entity.TagVehicle, in.Tags())
	assert.False(t, in.IsIntersection())
	assert.Len(t, in.Successors(), 3)

	straight := m.Get(internal[0][2].Id)
	assert.Equal(t, entity.TagVehicle|entity.TagIntersection, straight.Tags())
	assert.Equal(t, mapv2.LaneTurn_LANE_TURN_STRAIGHT, straight.Turn())
	assert.False(t, straight.TurnsLeft())

	right := m.Get(internal[0][1].Id)
	assert.True(t, right.TurnsRight())
	left := m.Get(internal[0][3].Id)
	assert.True(t, left.TurnsLeft())

	cw := m.Get(arms[0].Crosswalk.Id)
	assert.True(t, cw.IsCrosswalk())
	assert.True(t, cw.Tags().Has(entity.TagPedestrian|entity.TagIntersection))
	assert.False(t, m.Get(arms[0].Sidewalk.Id).IsCrosswalk())

	f := m.Get(fast.Id)
	assert.True(t, f.IsTrunk())
	assert.True(t, f.Tags().Has(entity.TagFreeway))

	for i, l := range m.Lanes() {
		assert.Equal(t, entity.LaneIndex(i), l.Index())
		assert.Equal(t, l, m.At(l.Index()))
	}
	_, err := m.GetOrError(-5)
	assert.Error(t, err)
	assert.Panics(t, func() { m.Get(-5) })
}

func TestMergingSplittingAndTransverse(t *testing.T) {
	ctx := lanetest.NewContext(config.Traffic{})
	b := lanetest.NewBuilder()
	// a、c汇入d
	a := b.Driving(10, 3, [2]float64{0, 0}, [2]float64{50, 0})
	c := b.Driving(10, 3, [2]float64{0, 10}, [2]float64{50, 3})
	d := b.Driving(10, 3, [2]float64{50, 0}, [2]float64{100, 0})
	b.Connect(a, d)
	b.Connect(c, d)
	// d分出为e、f
	e := b.Driving(10, 3, [2]float64{100, 0}, [2]float64{150, 0})
	f := b.Driving(10, 3, [2]float64{100, 0}, [2]float64{150, -10})
	b.Connect(d, e)
	b.Connect(d, f)
	// g、h相邻且都汇入k
	g := b.Driving(10, 3, [2]float64{0, 50}, [2]float64{50, 50})
	h := b.Driving(10, 3, [2]float64{0, 47}, [2]float64{50, 47})
	k := b.Driving(10, 3, [2]float64{50, 50}, [2]float64{100, 50})
	b.Sides(g, h)
	b.Connect(g, k)
	b.Connect(h, k)
	m := b.Build(ctx)

	assert.Equal(t, []int32{c.Id}, ids(m.Get(a.Id).MergingLanes()))
	assert.Equal(t, []int32{a.Id}, ids(m.Get(c.Id).MergingLanes()))
	assert.Equal(t, []int32{a.Id}, ids(m.Get(c.Id).ConflictLanes()))
	assert.Equal(t, []int32{f.Id}, ids(m.Get(e.Id).SplittingLanes()))
	assert.Empty(t, m.Get(d.Id).MergingLanes())
	assert.Empty(t, m.Get(d.Id).SplittingLanes())

	lg := m.Get(g.Id)
	assert.True(t, lg.HasTransverseLaneAdjacency())
	assert.Empty(t, lg.MergingLanes())
	assert.Equal(t, h.Id, lg.RightLane().ID())
	assert.Nil(t, lg.LeftLane())
	assert.Equal(t, []int32{h.Id}, ids(lg.LinkedLanes(entity.LinkAdjacent, entity.LinkRight, 0)))
	assert.Equal(t, k.Id, lg.FirstLinkedLane(entity.LinkOutgoing, 0, 0).ID())
	assert.False(t, m.Get(a.Id).HasTransverseLaneAdjacency())
}

func TestConflictsAndCrossedCrosswalks(t *testing.T) {
	ctx := lanetest.NewContext(config.Traffic{})
	b := lanetest.NewBuilder()
	arms, internal := b.Cross(100, fourWay, 10, 50, true)
	b.Overlap(internal[0][2], internal[1][3])
	m := b.Build(ctx)

	straight := m.Get(internal[0][2].Id)
	assert.ElementsMatch(t,
		[]int32{internal[1][3].Id, internal[1][2].Id, internal[3][2].Id},
		ids(straight.ConflictLanes()),
	)
	assert.ElementsMatch(t,
		[]int32{internal[1][2].Id, internal[3][2].Id},
		ids(straight.MergingLanes()),
	)
	assert.ElementsMatch(t,
		[]int32{arms[0].Crosswalk.Id, arms[2].Crosswalk.Id},
		ids(straight.CrossedCrosswalks()),
	)
}

func TestEnterAndExitDistances(t *testing.T) {
	ctx := lanetest.NewContext(config.Traffic{})
	b := lanetest.NewBuilder()
	q := b.Driving(10, 3, [2]float64{0, -10}, [2]float64{0, 10})
	o := b.Driving(10, 4, [2]float64{-10, 0}, [2]float64{10, 0})
	p := b.Driving(10, 3, [2]float64{5, -10}, [2]float64{5, 10})
	m := b.Build(ctx)

	enter, exit, ok := m.Get(q.Id).EnterAndExitDistances(m.Get(o.Id))
	require.True(t, ok)
	assert.InDelta(t, 8, enter, 1e-6)
	assert.InDelta(t, 12, exit, 1e-6)
	assert.Less(t, enter, exit)

	// 缓存结果一致
	enter2, exit2, ok2 := m.Get(q.Id).EnterAndExitDistances(m.Get(o.Id))
	assert.True(t, ok2)
	assert.Equal(t, enter, enter2)
	assert.Equal(t, exit, exit2)

	_, _, ok = m.Get(q.Id).EnterAndExitDistances(m.Get(p.Id))
	assert.False(t, ok)
}

func TestLiveCounters(t *testing.T) {
	ctx := lanetest.NewContext(config.Traffic{})
	b := lanetest.NewBuilder()
	a := b.Driving(10, 3, [2]float64{0, 0}, [2]float64{100, 0})
	next := b.Driving(10, 3, [2]float64{100, 0}, [2]float64{200, 0})
	side := b.Driving(10, 3, [2]float64{0, 3}, [2]float64{100, 3})
	b.Connect(a, next)
	m := b.Build(ctx)
	la, ln, ls := m.Get(a.Id), m.Get(next.Id), m.Get(side.Id)

	lanetest.Put(&lanetest.Vehicle{Id: 1, L: la, Pos: 10, Len: 5, Gap: 1})
	lanetest.Put(&lanetest.Vehicle{Id: 2, L: la, Pos: 50, Len: 5, Gap: 1, Yielding: true})
	lanetest.Put(&lanetest.Vehicle{Id: 3, L: la, Pos: 95, Len: 5, Gap: 1, Next: ln, Source: ls})
	m.Prepare()

	assert.Equal(t, 3, la.VehicleCount())
	assert.InDelta(t, 82, la.SpaceAvailable(), 1e-9)
	assert.InDelta(t, 0.18, la.FunctionalDensity(), 1e-9)
	assert.InDelta(t, 0.09, la.DownstreamFlowDensity(), 1e-9)
	assert.Equal(t, 1, la.YieldingVehicleCount())
	assert.Equal(t, 1, la.LaneChangingOnCount())
	assert.Equal(t, 1, ls.LaneChangingOffCount())
	assert.Equal(t, 0, la.LaneChangingOffCount())
	assert.True(t, la.IsReadyToUse())
	assert.True(t, ln.IsReadyToUse())
	assert.False(t, ls.IsReadyToUse())
	assert.Equal(t, 0.0, ln.FunctionalDensity())

	// 重复Prepare不会重复累加
	m.Prepare()
	assert.Equal(t, 1, ls.LaneChangingOffCount())
}

func TestCrosswalkYieldingSet(t *testing.T) {
	ctx := lanetest.NewContext(config.Traffic{})
	b := lanetest.NewBuilder()
	arms, internal := b.Cross(100, fourWay, 10, 50, true)
	m := b.Build(ctx)
	cw := m.Get(arms[0].Crosswalk.Id)
	straight := m.Get(internal[0][2].Id)
	other := m.Get(internal[1][3].Id)

	lanetest.PutPedestrian(&lanetest.Pedestrian{Id: 1, L: cw, Pos: 2, Speed: 1.3, R: 0.3, Forward: true, Yield: straight})
	m.Prepare()
	assert.True(t, cw.IsYieldingToLane(straight))
	assert.False(t, cw.IsYieldingToLane(other))
	assert.Equal(t, 1, cw.Pedestrians().Len())
}

func TestFindNearbyVehicles(t *testing.T) {
	ctx := lanetest.NewContext(config.Traffic{})
	b := lanetest.NewBuilder()
	a := b.Driving(10, 3, [2]float64{0, 0}, [2]float64{100, 0})
	long := b.Driving(10, 3, [2]float64{0, 5}, [2]float64{200, 5})
	m := b.Build(ctx)
	la, ll := m.Get(a.Id), m.Get(long.Id)

	n1 := lanetest.Put(&lanetest.Vehicle{Id: 1, L: la, Pos: 10, Len: 5})
	n2 := lanetest.Put(&lanetest.Vehicle{Id: 2, L: la, Pos: 30, Len: 5})
	n3 := lanetest.Put(&lanetest.Vehicle{Id: 3, L: la, Pos: 50, Len: 5})
	m.Prepare()

	behind, ahead, ok := la.FindNearbyVehiclesRelativeToDistance(30)
	require.True(t, ok)
	assert.Same(t, n2, behind)
	assert.Same(t, n3, ahead)

	behind, ahead, ok = la.FindNearbyVehiclesRelativeToDistance(5)
	require.True(t, ok)
	assert.Nil(t, behind)
	assert.Same(t, n1, ahead)

	behind, ahead, ok = la.FindNearbyVehiclesRelativeToVehicle(n2)
	require.True(t, ok)
	assert.Same(t, n1, behind)
	assert.Same(t, n3, ahead)

	// 其他车道上的车辆按长度比例换算：200米车道上的80米对应本车道40米
	outside := &entity.VehicleNode{S: 80, Value: &lanetest.Vehicle{Id: 4, L: ll, Pos: 80, Len: 5}}
	behind, ahead, ok = la.FindNearbyVehiclesRelativeToVehicle(outside)
	require.True(t, ok)
	assert.Same(t, n2, behind)
	assert.Same(t, n3, ahead)

	count := 0
	assert.True(t, la.MarchVehicles(n1, true, func(*entity.VehicleNode) bool {
		count++
		return true
	}))
	assert.Equal(t, 2, count)
}

func TestMarchOverrunFailsSafe(t *testing.T) {
	ctx := lanetest.NewContext(config.Traffic{Lane: config.Lane{MarchLimit: 3}})
	b := lanetest.NewBuilder()
	a := b.Driving(10, 3, [2]float64{0, 0}, [2]float64{100, 0})
	m := b.Build(ctx)
	la := m.Get(a.Id)
	var first *entity.VehicleNode
	for i := 0; i < 5; i++ {
		n := lanetest.Put(&lanetest.Vehicle{Id: int32(i), L: la, Pos: float64(10 * (i + 1)), Len: 5})
		if i == 0 {
			first = n
		}
	}
	m.Prepare()

	behind, ahead, ok := la.FindNearbyVehiclesRelativeToDistance(100)
	assert.False(t, ok)
	assert.Nil(t, behind)
	assert.Nil(t, ahead)
	assert.Equal(t, 1.0, testutil.ToFloat64(ctx.M.MarchOverruns))

	assert.False(t, la.MarchVehicles(first, true, func(*entity.VehicleNode) bool { return true }))
	assert.Equal(t, 2.0, testutil.ToFloat64(ctx.M.MarchOverruns))
}

func TestMidpointGridAndAnnotate(t *testing.T) {
	ctx := lanetest.NewContext(config.Traffic{})
	b := lanetest.NewBuilder()
	arms, internal := b.Cross(100, fourWay, 10, 50, true)
	m := b.Build(ctx)

	grid := m.MidpointGrid(entity.LaneTagFilter{All: entity.TagCrosswalk}, 20)
	assert.Equal(t, 4, grid.Len())
	eastCrosswalk := m.Get(arms[0].Crosswalk.Id)
	found := grid.QueryRadius(eastCrosswalk.Midpoint(), 1)
	assert.Equal(t, []entity.LaneIndex{eastCrosswalk.Index()}, found)

	in := m.Get(arms[0].In.Id)
	_, ok := in.IntersectionSign()
	assert.False(t, ok)
	assert.False(t, in.IsTrafficLightControlled())
	in.AnnotateIntersection(100, entity.SignYield)
	sign, ok := in.IntersectionSign()
	assert.True(t, ok)
	assert.Equal(t, entity.SignYield, sign)

	l := m.Get(internal[0][2].Id)
	assert.True(t, l.IsOpen())
	l.AnnotateTrafficLight(3)
	assert.True(t, l.IsTrafficLightControlled())
	assert.Equal(t, int32(3), l.TrafficLightIndex())
	l.SetLight(mapv2.LightState_LIGHT_STATE_RED, 30, 10)
	assert.False(t, l.IsOpen())
}
