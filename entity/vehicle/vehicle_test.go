package vehicle

import (
	"context"
	"math"
	"testing"

	"connectrpc.com/connect"
	geov2 "git.fiblab.net/sim/protos/v2/go/city/geo/v2"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity/lane/lanetest"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/config"
)

var fourWay = []float64{0, math.Pi / 2, math.Pi, 3 * math.Pi / 2}

func newTestVehicle(ctx *lanetest.Context, id int32, lane entity.ILane, s, speed float64) *Vehicle {
	v := newVehicle(ctx, nil, &personv2.Person{Id: id}, lane, s)
	v.runtime.V = speed
	return v
}

// settle 更新快照后让车道链表与统计生效
func settle(ctx *lanetest.Context, vs ...*Vehicle) {
	for _, v := range vs {
		v.prepare()
	}
	ctx.LM.Prepare()
}

func TestCheckFit(t *testing.T) {
	base := fitInput{center: 20, laneLength: 100, delta: 10, v: 10, radius: 2.5, minDistance: 2}
	assert.True(t, checkFit(base).IsClear())

	stopped := base
	stopped.v = 0
	assert.Equal(t, FitReport{}, checkFit(stopped))

	behind := base
	behind.hasBehind, behind.behindCenter, behind.behindRadius = true, 18, 2.5
	r := checkFit(behind)
	assert.False(t, r.ClearOfVehicleBehind)
	assert.True(t, r.ClearOfLaneStart)
	assert.True(t, r.ClearOfVehicleAhead)
	assert.True(t, r.ClearOfLaneEnd)

	// 当前有空间，但前车静止，变道完成时会追上
	ahead := base
	ahead.hasAhead, ahead.aheadCenter, ahead.aheadRadius, ahead.aheadV = true, 30, 2.5, 0
	r = checkFit(ahead)
	assert.False(t, r.ClearOfVehicleAhead)
	assert.True(t, r.ClearOfVehicleBehind)
	ahead.aheadV = 10
	assert.True(t, checkFit(ahead).IsClear())

	start := base
	start.center = 3
	r = checkFit(start)
	assert.False(t, r.ClearOfLaneStart)
	assert.True(t, r.ClearOfLaneEnd)

	end := base
	end.laneLength = 25
	r = checkFit(end)
	assert.False(t, r.ClearOfLaneEnd)
	assert.True(t, r.ClearOfLaneStart)
}

func TestModel(t *testing.T) {
	m := model{usualBrakingA: -4.5, maxBrakingA: -10, maxA: 3, maxV: 15, minGap: 1, headway: 1.5}
	assert.InDelta(t, 3, m.free(0, 20), 1e-9)
	assert.Less(t, m.free(15, 20), 0.1)
	// 车道限速低于车辆最大速度时按车道限速
	assert.Less(t, m.free(12, 10), 0.)
	assert.Equal(t, -10., m.stop(10, 0, 20, .1))
	assert.Less(t, m.follow(10, 0, 50, 20), m.follow(10, 10, 50, 20))

	v, ds := computeVAndDistance(1, -10, 1)
	assert.Equal(t, 0., v)
	assert.InDelta(t, .05, ds, 1e-9)
	v, ds = computeVAndDistance(10, 2, .5)
	assert.InDelta(t, 11, v, 1e-9)
	assert.InDelta(t, 5.25, ds, 1e-9)
}

// threeLanes 同一道路上从左到右三条车道，左侧为主干道
func threeLanes(ctx *lanetest.Context) (left, mid, right entity.ILane) {
	b := lanetest.NewBuilder()
	l := b.Driving(20, 3, [2]float64{0, 6}, [2]float64{200, 6})
	m := b.Driving(10, 3, [2]float64{0, 3}, [2]float64{200, 3})
	r := b.Driving(10, 3, [2]float64{0, 0}, [2]float64{200, 0})
	b.Sides(l, m, r)
	lm := b.Build(ctx)
	return lm.Get(l.Id), lm.Get(m.Id), lm.Get(r.Id)
}

// crowd 在车道前方放置车辆，ID从base开始
func crowd(lane entity.ILane, base int32, positions ...float64) {
	if len(positions) == 0 {
		positions = []float64{150, 170, 190}
	}
	for i, s := range positions {
		lanetest.Put(&lanetest.Vehicle{Id: base + int32(i), L: lane, Pos: s, Speed: 10, Len: 5, Gap: 1})
	}
}

func TestChooseLaneByDensityAndPriority(t *testing.T) {
	ctx := lanetest.NewContext(config.Traffic{})
	left, mid, right := threeLanes(ctx)
	crowd(mid, 100)
	v := newTestVehicle(ctx, 1, mid, 50, 10)
	settle(ctx, v)
	require.Less(t, left.DownstreamFlowDensity(), mid.DownstreamFlowDensity())

	var rec Recommendation
	v.chooseLane(mid, 47.5, &rec)
	require.NotNil(t, rec.Chosen)
	assert.Equal(t, NormalLaneChange, rec.Level)
	assert.NotEqual(t, rec.ChoseLeft, rec.ChoseRight)
	if rec.ChoseLeft {
		assert.Equal(t, left, rec.Chosen)
	} else {
		assert.Equal(t, right, rec.Chosen)
	}

	// 只有主干道通过优先级过滤器
	v.priorityFilters = []entity.LaneTagFilter{{All: entity.TagTrunk}}
	rec = Recommendation{}
	v.chooseLane(mid, 47.5, &rec)
	assert.Equal(t, left, rec.Chosen)
	assert.True(t, rec.ChoseLeft)

	// 已有选定车道时只重新评估该侧
	v.chooseLane(mid, 47.5, &rec)
	assert.Equal(t, left, rec.Chosen)
	assert.Equal(t, TurningLaneChange, rec.Level)

	v.priorityFilters = nil
	v.trunkOnly = true
	rec = Recommendation{}
	v.chooseLane(mid, 47.5, &rec)
	assert.Equal(t, left, rec.Chosen)
}

func TestChooseLaneStaysWhenNotLessDense(t *testing.T) {
	ctx := lanetest.NewContext(config.Traffic{})
	left, mid, right := threeLanes(ctx)
	crowd(left, 100, 50, 150, 170, 190)
	crowd(right, 200, 50, 150, 170, 190)
	crowd(mid, 300)
	v := newTestVehicle(ctx, 1, mid, 50, 10)
	settle(ctx, v)
	require.Equal(t, left.DownstreamFlowDensity(), mid.DownstreamFlowDensity())

	var rec Recommendation
	v.chooseLane(mid, 47.5, &rec)
	assert.Nil(t, rec.Chosen)
	assert.Equal(t, StayOnCurrentLane, rec.Level)
}

func TestPlanLaneChangeBlockedAtZeroSpeed(t *testing.T) {
	ctx := lanetest.NewContext(config.Traffic{})
	_, mid, _ := threeLanes(ctx)
	crowd(mid, 100)
	v := newTestVehicle(ctx, 1, mid, 50, 0)
	settle(ctx, v)

	ac := v.planLaneChange()
	assert.Nil(t, ac.LCTarget)
	assert.Equal(t, 1., testutil.ToFloat64(ctx.M.LaneChangesBlocked))
	assert.InDelta(t, ctx.C.T+ctx.Config.T.LaneChange.RetrySeconds, v.runtime.NextLCAttemptT, 1e-9)

	// 未到重试时刻不再尝试
	v.runtime.V = 10
	ac = v.planLaneChange()
	assert.Nil(t, ac.LCTarget)
	assert.Equal(t, 1., testutil.ToFloat64(ctx.M.LaneChangesBlocked))
}

func TestUpdateExecutesLaneChange(t *testing.T) {
	ctx := lanetest.NewContext(config.Traffic{})
	_, mid, _ := threeLanes(ctx)
	crowd(mid, 100)
	v := newTestVehicle(ctx, 1, mid, 50, 10)
	settle(ctx, v)

	ds := v.update(ctx.C.DT)
	assert.Greater(t, ds, 0.)
	assert.NotEqual(t, mid, v.runtime.Lane)
	assert.Equal(t, mid, v.runtime.LC.Source)
	assert.Greater(t, v.runtime.LC.Remaining, 0.)
	assert.Equal(t, 1., testutil.ToFloat64(ctx.M.LaneChanges.WithLabelValues("normal")))

	// 节点移动到目标车道，原车道统计变道驶出
	require.False(t, v.prepareNode())
	settle(ctx, v)
	assert.Equal(t, 1, v.runtime.Lane.LaneChangingOnCount())
	assert.Equal(t, 1, mid.LaneChangingOffCount())
	assert.Equal(t, 3, mid.VehicleCount())

	// 变道计时结束后清除
	for i := 0; i < 50; i++ {
		v.update(ctx.C.DT)
	}
	assert.Nil(t, v.runtime.LC.Source)
}

// crossing 四向路口，0号方向直行与1号方向直行交叉
type crossing struct {
	ctx      *lanetest.Context
	arms     []*lanetest.Arm
	internal [][]*mapv2.Lane
}

func newCrossing(t *testing.T, crosswalks bool) *crossing {
	ctx := lanetest.NewContext(config.Traffic{})
	b := lanetest.NewBuilder()
	arms, internal := b.Cross(100, fourWay, 10, 50, crosswalks)
	b.Overlap(internal[0][2], internal[1][3])
	b.Build(ctx)
	c := &crossing{ctx: ctx, arms: arms, internal: internal}
	require.Contains(t, c.lane(internal[0][2]).ConflictLanes(), c.lane(internal[1][3]))
	return c
}

func (c *crossing) lane(pb *mapv2.Lane) entity.ILane {
	return c.ctx.LM.Get(pb.Id)
}

// approach 车辆在进口车道上驶向路口车道next
func (c *crossing) approach(id int32, arm int, next *mapv2.Lane, s, speed float64) *Vehicle {
	v := newTestVehicle(c.ctx, id, c.lane(c.arms[arm].In), s, speed)
	v.runtime.Next = c.lane(next)
	return v
}

func TestEligibleToMerge(t *testing.T) {
	c := newCrossing(t, false)
	desired := c.lane(c.internal[0][2])
	far := c.approach(1, 0, c.internal[0][2], 10, 10)
	near := c.approach(2, 0, c.internal[0][2], 49, 0)
	settle(c.ctx, far, near)

	// 无控制
	assert.True(t, far.eligibleToMerge(far.self(), desired))

	desired.AnnotateIntersection(100, entity.SignStop)
	assert.False(t, far.eligibleToMerge(far.self(), desired))
	// 停车让行需要先完成停车
	assert.False(t, near.eligibleToMerge(near.self(), desired))
	near.runtime.StopSignLane = desired
	assert.True(t, near.eligibleToMerge(near.self(), desired))

	desired.AnnotateIntersection(100, entity.SignYield)
	assert.False(t, far.eligibleToMerge(far.self(), desired))
	assert.True(t, near.eligibleToMerge(near.self(), desired))
}

func TestShouldMergeWithConflictInBuffer(t *testing.T) {
	c := newCrossing(t, false)
	desired := c.lane(c.internal[0][2])
	conflict := c.lane(c.internal[1][3])
	v := c.approach(1, 0, c.internal[0][2], 45, 10)
	other := &lanetest.Vehicle{Id: 2, L: conflict, Pos: 3, Speed: 10, Len: 5, Gap: 1}
	lanetest.Put(other)
	settle(c.ctx, v)

	assert.False(t, v.shouldMerge(v.self(), desired))

	// 冲突车辆静止时不会到达冲突区域
	other.Speed = 0
	assert.True(t, v.shouldMerge(v.self(), desired))
}

func TestMergeMutualExclusion(t *testing.T) {
	c := newCrossing(t, false)
	a := c.approach(1, 0, c.internal[0][2], 45, 10)
	b := c.approach(2, 1, c.internal[1][3], 45, 10)
	settle(c.ctx, a, b)

	aMerge := a.shouldMerge(a.self(), c.lane(c.internal[0][2]))
	bMerge := b.shouldMerge(b.self(), c.lane(c.internal[1][3]))
	// 恰有一辆车让行
	assert.NotEqual(t, aMerge, bMerge)
	assert.True(t, bMerge)
}

func TestCrosswalkYield(t *testing.T) {
	c := newCrossing(t, true)
	intersection := c.lane(c.internal[0][2])
	crosswalk := c.lane(c.arms[0].Crosswalk)
	require.Contains(t, intersection.CrossedCrosswalks(), crosswalk)

	v := c.approach(1, 0, c.internal[0][2], 48, 5)
	p := &lanetest.Pedestrian{Id: 10, L: crosswalk, Pos: 1, Speed: 1.34, R: .3, Forward: true}
	lanetest.PutPedestrian(p)
	settle(c.ctx, v)

	yield, give, kind := v.shouldReactivelyYield(v.self())
	assert.True(t, yield)
	assert.False(t, give)
	assert.Equal(t, yieldCrosswalk, kind)

	assert.True(t, v.updateYield(c.ctx.C.DT))
	assert.Equal(t, 1., testutil.ToFloat64(c.ctx.M.YieldDecisions.WithLabelValues(yieldCrosswalk)))
	// 持续让行不重复计数
	v.updateYield(c.ctx.C.DT)
	assert.Equal(t, 1., testutil.ToFloat64(c.ctx.M.YieldDecisions.WithLabelValues(yieldCrosswalk)))

	// 行人让行的是其他车道时仍需等待行人
	p.Yield = intersection
	settle(c.ctx, v)
	yield, _, kind = v.shouldReactivelyYield(v.self())
	assert.True(t, yield)
	assert.Equal(t, yieldCrosswalk, kind)

	// 行人正在为本车所在车道让行时不再等待行人
	p.Yield = c.lane(c.arms[0].In)
	settle(c.ctx, v)
	yield, _, _ = v.shouldReactivelyYield(v.self())
	assert.False(t, yield)
}

// opportunityLanes 左侧车道直行、右侧车道左转，两条路口车道没有冲突关系
func opportunityLanes(ctx *lanetest.Context) (left, straight, turn entity.ILane) {
	b := lanetest.NewBuilder()
	l := b.Driving(10, 3, [2]float64{0, 3}, [2]float64{50, 3})
	r := b.Driving(10, 3, [2]float64{0, 0}, [2]float64{50, 0})
	b.Sides(l, r)
	s := b.Driving(10, 3, [2]float64{50, 3}, [2]float64{70, 3})
	u := b.Driving(10, 3, [2]float64{50, 0}, [2]float64{60, 10})
	u.Turn = mapv2.LaneTurn_LANE_TURN_LEFT
	so := b.Driving(10, 3, [2]float64{70, 3}, [2]float64{120, 3})
	uo := b.Driving(10, 3, [2]float64{60, 10}, [2]float64{60, 60})
	b.Connect(l, s)
	b.Connect(r, u)
	b.Connect(s, so)
	b.Connect(u, uo)
	b.Junction(7, s, u)
	m := b.Build(ctx)
	return m.Get(l.Id), m.Get(s.Id), m.Get(u.Id)
}

func TestStraightVehicleGivesOpportunityFirst(t *testing.T) {
	ctx := lanetest.NewContext(config.Traffic{})
	before, straight, turn := opportunityLanes(ctx)
	lanetest.Put(&lanetest.Vehicle{Id: 2, L: turn, Pos: 3, Speed: 5, Len: 5, Gap: 1})
	v := newTestVehicle(ctx, 1, straight, 3, 5)
	v.runtime.Prev = before
	settle(ctx, v)

	assert.False(t, v.updateYield(ctx.C.DT))
	assert.True(t, v.runtime.Yield.HasGivenOpportunity)

	assert.True(t, v.updateYield(ctx.C.DT))
	assert.Equal(t, yieldIntersection, v.runtime.Yield.Kind)
	assert.Equal(t, 1., testutil.ToFloat64(ctx.M.YieldDecisions.WithLabelValues(yieldIntersection)))
}

func TestCheckStopLine(t *testing.T) {
	c := newCrossing(t, false)
	next := c.lane(c.internal[0][2])
	v := c.approach(1, 0, c.internal[0][2], 30, 10)
	settle(c.ctx, v)
	dt := c.ctx.C.DT

	assert.False(t, v.checkStopLine(dt).stop)

	next.SetLight(mapv2.LightState_LIGHT_STATE_RED, 30, 30)
	assert.True(t, v.checkStopLine(dt).stop)

	// 黄灯剩余时间内必然越线时继续行驶
	next.SetLight(mapv2.LightState_LIGHT_STATE_YELLOW, 3, 1)
	assert.True(t, v.checkStopLine(dt).stop)
	v.runtime.S = 45
	assert.False(t, v.checkStopLine(dt).stop)
	assert.True(t, v.runtime.CantStopAtLaneExit)
	// 已决定驶入后即使变为红灯也不停车
	next.SetLight(mapv2.LightState_LIGHT_STATE_RED, 30, 30)
	assert.False(t, v.checkStopLine(dt).stop)
}

func TestStopSignCompletion(t *testing.T) {
	c := newCrossing(t, false)
	next := c.lane(c.internal[0][2])
	next.AnnotateIntersection(100, entity.SignStop)
	v := c.approach(1, 0, c.internal[0][2], 30, 0)
	settle(c.ctx, v)
	dt := c.ctx.C.DT

	// 未到达停车线
	assert.True(t, v.checkStopLine(dt).stop)
	assert.Zero(t, v.runtime.StoppedT)

	v.runtime.S = 48
	wait := c.ctx.Config.T.Merge.StopSignWaitSeconds
	steps := 0
	for v.runtime.StopSignLane != next && steps < 100 {
		require.True(t, v.checkStopLine(dt).stop)
		steps++
	}
	assert.InDelta(t, wait/dt, steps, 1)
	// 完成停车后不受标志约束
	assert.False(t, v.checkStopLine(dt).stop)
	assert.False(t, v.runtime.resting())
}

func TestDeadEndLeavesNetwork(t *testing.T) {
	ctx := lanetest.NewContext(config.Traffic{})
	b := lanetest.NewBuilder()
	road := b.Driving(15, 3, [2]float64{0, 0}, [2]float64{100, 0})
	b.Build(ctx)
	m := NewManager(ctx)
	m.Init([]*personv2.Person{{
		Id: 5,
		Home: &geov2.Position{LanePosition: &geov2.LanePosition{LaneId: road.Id, S: 10}},
	}}, ctx.LM)
	require.Equal(t, 1, m.Count())
	v, err := m.GetOrError(5)
	require.NoError(t, err)
	_, err = m.GetOrError(6)
	assert.Error(t, err)
	assert.Panics(t, func() { m.Get(6) })

	for i := 0; i < 500; i++ {
		m.PrepareNode()
		m.Prepare()
		ctx.LM.Prepare()
		if m.Count() == 0 {
			break
		}
		m.Update(ctx.C.DT)
		ctx.C.Tick()
	}
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, personv2.Status_STATUS_SLEEP, v.(*Vehicle).runtime.Status)
	assert.Zero(t, ctx.LM.Get(road.Id).VehicleCount())

	res, err := m.GetGlobalStatistics(context.Background(), connect.NewRequest(&personv2.GetGlobalStatisticsRequest{}))
	require.NoError(t, err)
	assert.Equal(t, int32(1), res.Msg.NumCompletedTrips)
	// 最后一步越过车道终点的距离也计入
	assert.GreaterOrEqual(t, res.Msg.RunningTotalTravelDistance, 90.)
	assert.Less(t, res.Msg.RunningTotalTravelDistance, 92.)
	assert.Greater(t, res.Msg.RunningTotalTravelTime, 0.)

	_, err = m.GetPerson(context.Background(), connect.NewRequest(&personv2.GetPersonRequest{PersonId: 6}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = m.GetPersons(context.Background(), connect.NewRequest(&personv2.GetPersonsRequest{PersonIds: []int32{5, 6}}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
	persons, err := m.GetPersons(context.Background(), connect.NewRequest(&personv2.GetPersonsRequest{PersonIds: []int32{5}}))
	require.NoError(t, err)
	require.Len(t, persons.Msg.Persons, 1)
	assert.Equal(t, int32(5), persons.Msg.Persons[0].Motion.Id)
}

func TestRandomVehiclesDoNotOverlap(t *testing.T) {
	ctx := lanetest.NewContext(config.Traffic{Vehicle: config.Vehicle{RandomCount: 10}})
	b := lanetest.NewBuilder()
	b.Driving(15, 3, [2]float64{0, 0}, [2]float64{200, 0})
	b.Driving(15, 3, [2]float64{0, 10}, [2]float64{200, 10})
	b.Build(ctx)
	m := NewManager(ctx)
	m.Init([]*personv2.Person{{Id: 41}}, ctx.LM)
	assert.Equal(t, 10, m.Count())
	for _, v := range m.vehicles.Data() {
		assert.Greater(t, v.id, int32(41))
	}
	m.PrepareNode()
	m.Prepare()
	ctx.LM.Prepare()
	for _, l := range ctx.LM.Lanes() {
		for node := l.Vehicles().First(); node != nil && node.Next() != nil; node = node.Next() {
			assert.GreaterOrEqual(t, node.Next().S-node.S, ctx.Config.T.Vehicle.Length)
		}
	}
}
