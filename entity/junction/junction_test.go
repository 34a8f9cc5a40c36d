package junction

import (
	"context"
	"math"
	"testing"

	"connectrpc.com/connect"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity/lane/lanetest"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/config"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/input"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/randengine"
)

// 各方向整体偏转0.1弧度，避免进口方向恰好落在±π上
var (
	fourWay  = []float64{0.1, 0.1 + math.Pi/2, 0.1 + math.Pi, 0.1 + 3*math.Pi/2}
	threeWay = []float64{0.1, 0.1 + math.Pi/2, 0.1 + math.Pi}
	straight = []float64{0.1, 0.1 + math.Pi}
)

type fixture struct {
	ctx     *lanetest.Context
	b       *lanetest.Builder
	env     *buildEnv
	details []*Detail
}

// build 建立车道管理器，聚合并Build全部路口
func build(t *testing.T, b *lanetest.Builder, c *input.Controllers) *fixture {
	t.Helper()
	ctx := lanetest.NewContext(config.Traffic{})
	lm := b.Build(ctx)
	cfg := ctx.Config.T.Intersection
	ci := newControllerIndex(c, cfg.GridCellSize)
	env := &buildEnv{
		lanes:       lm,
		crosswalks:  lm.MidpointGrid(entity.LaneTagFilter{All: entity.TagCrosswalk}, cfg.GridCellSize),
		controllers: ci,
		rng:         randengine.New(1),
		metrics:     ctx.M,
	}
	details := sortedDetails(Aggregate(lm.Lanes(), cfg, ci.roadCrosswalks(), ctx.Config.T.Lane.MarchLimit))
	for _, d := range details {
		d.Build(env)
	}
	require.NotEmpty(t, details)
	return &fixture{ctx: ctx, b: b, env: env, details: details}
}

func (f *fixture) index(lanes ...*mapv2.Lane) []entity.LaneIndex {
	return lo.Map(lanes, func(l *mapv2.Lane, _ int) entity.LaneIndex { return f.ctx.LM.Get(l.Id).Index() })
}

func (f *fixture) generate() (kept, pruned []*Plan) {
	return Generate(f.details, f.env.rng, f.ctx.M)
}

// entrance 进口车道终点，即进口边中点
func entrance(a *lanetest.Arm) input.Point {
	nodes := a.In.CenterLine.Nodes
	p := nodes[len(nodes)-1]
	return input.Point{X: p.X, Y: p.Y}
}

// lightsOn 在每个方向上布设一个信号灯
func lightsOn(arms []*lanetest.Arm) *input.Controllers {
	c := &input.Controllers{LightTypes: []input.LightType{{Name: "standard"}}}
	for _, a := range arms {
		c.Lights = append(c.Lights, input.LightInstance{Position: entrance(a), ControlledSideMidpoint: entrance(a)})
	}
	return c
}

func sideOf(d *Detail, lane entity.LaneIndex) *Side {
	for _, s := range d.Sides {
		for _, l := range s.VehicleLanes() {
			if l.Index() == lane {
				return s
			}
		}
	}
	return nil
}

func TestTwoSided(t *testing.T) {
	b := lanetest.NewBuilder()
	arms, internal := b.Cross(1, straight, 10, 50, true)
	f := build(t, b, nil)
	d := f.details[0]

	require.Len(t, d.Sides, 2)
	assert.False(t, d.HasHiddenSides())
	for _, s := range d.Sides {
		assert.Len(t, s.VehicleLanes(), 1)
		assert.Equal(t, 1, s.Crosswalks.Len())
		assert.Equal(t, 1, s.WaitingLanes.Len())
		assert.Equal(t, entity.SignStop, s.Sign)
	}
	assert.Equal(t, TwoSided, ClassifyTopology(d, d.IsAllWayStop()))

	kept, pruned := f.generate()
	assert.Empty(t, pruned)
	require.Len(t, kept, 1)
	periods := kept[0].Periods
	require.Len(t, periods, 2)
	assert.ElementsMatch(t, f.index(internal[0][1], internal[1][0]), periods[0].VehicleLanes())
	assert.Empty(t, periods[0].Crosswalks())
	assert.Empty(t, periods[1].VehicleLanes())
	assert.ElementsMatch(t, f.index(arms[0].Crosswalk, arms[1].Crosswalk), periods[1].Crosswalks())
	assert.ElementsMatch(t, f.index(arms[0].Sidewalk, arms[1].Sidewalk), periods[1].WaitingLanes())
	assert.ElementsMatch(t, periods[0].VehicleLanes(), periods[0].ClosedInNextPeriod)
}

func TestClockwiseOrder(t *testing.T) {
	b := lanetest.NewBuilder()
	arms, _ := b.Cross(1, fourWay, 10, 50, true)
	f := build(t, b, nil)
	d := f.details[0]

	require.Len(t, d.Sides, 4)
	assert.True(t, d.Clockwise)
	for i := 0; i+1 < len(d.Sides); i++ {
		assert.LessOrEqual(t, clockwiseAngle(d.Sides[i].Direction), clockwiseAngle(d.Sides[i+1].Direction))
	}
	// 顺时针排列时各进口边按方位角递减
	for i, s := range d.Sides {
		arm := arms[len(arms)-1-i]
		assert.True(t, s.HasLane(f.ctx.LM.Get(arm.In.Successors[0].Id)))
		assert.InDelta(t, 1, vec(s.Direction).Norm(), 1e-9)
	}
	assert.True(t, d.IsMostlySquare())
	assert.InDelta(t, 0, d.Center[0], 1e-6)
	assert.InDelta(t, 0, d.Center[1], 1e-6)
}

func TestClockwiseAngle(t *testing.T) {
	cases := []struct {
		dir  orb.Point
		want float64
	}{
		{orb.Point{1, 0}, 0},
		{orb.Point{0, -1}, math.Pi / 2},
		{orb.Point{0, 1}, -math.Pi / 2},
		{orb.Point{-1, -1e-9}, math.Pi},
	}
	for _, c := range cases {
		assert.InDelta(t, c.want, clockwiseAngle(c.dir), 1e-6, "dir %v", c.dir)
	}
	assert.Equal(t, orb.Point{}, point(average(nil).Normalize()))
	assert.Equal(t, orb.Point{2, 1}, point(average([]orb.Point{{1, 0}, {3, 2}})))
}

func TestLeftmostPoint(t *testing.T) {
	cases := []struct {
		name      string
		locations []orb.Point
		midpoint  orb.Point
		want      orb.Point
	}{
		{"right side excluded", []orb.Point{{0, -3}, {0, 0}, {0, 3}}, orb.Point{0, 0}, orb.Point{0, 3}},
		{"farthest on left", []orb.Point{{0, -3}, {0, -6}}, orb.Point{0, -4.5}, orb.Point{0, -3}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			side := newSide()
			for _, p := range c.locations {
				side.lanes = append(side.lanes, SideLane{Location: p, Direction: orb.Point{1, 0}})
			}
			side.Midpoint, side.Direction = c.midpoint, orb.Point{1, 0}
			p, ok := leftmostPoint(side)
			require.True(t, ok)
			assert.Equal(t, c.want, p)
		})
	}
}

func TestSquareWithLights(t *testing.T) {
	b := lanetest.NewBuilder()
	arms, _ := b.Cross(1, fourWay, 10, 50, true)
	f := build(t, b, lightsOn(arms))
	d := f.details[0]

	require.True(t, d.HasTrafficLights)
	require.Len(t, d.Lights, 4)
	assert.Equal(t, Square, ClassifyTopology(d, d.IsAllWayStop()))

	kept, _ := f.generate()
	require.Len(t, kept, 1)
	plan := kept[0]
	require.Len(t, plan.Periods, 8)
	cfg := f.ctx.Config.T.Intersection
	for i, p := range plan.Periods {
		if i%2 == 0 {
			require.Len(t, p.Lights, 1)
			assert.Equal(t, VehicleGo|VehicleGoProtectedLeft, p.Lights[0].Flags)
			assert.Len(t, p.VehicleLanes(), 3)
			assert.Empty(t, p.Crosswalks())
			assert.Equal(t, cfg.UnidirectionalGoSeconds, p.Duration)
		} else {
			require.Len(t, p.Lights, 2)
			for _, c := range p.Lights {
				assert.Equal(t, VehicleGo|PedestrianGo, c.Flags)
			}
			assert.Len(t, p.VehicleLanes(), 4)
			assert.Len(t, p.Crosswalks(), 2)
			assert.Equal(t, cfg.StandardGoSeconds, p.Duration)
		}
	}

	// 每条放行车道都有唯一的信号灯，且为其进口边的信号灯
	for _, p := range plan.Periods {
		for _, idx := range p.VehicleLanes() {
			light, ok := plan.LaneLights[idx]
			require.True(t, ok)
			assert.NotEqual(t, entity.NoLight, light)
			s := sideOf(d, idx)
			require.NotNil(t, s)
			assert.Equal(t, s.LightIndex, light)
		}
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(f.ctx.M.IntersectionsBuilt.WithLabelValues("square")))
	assert.Equal(t, 8.0, testutil.ToFloat64(f.ctx.M.PeriodsSynthesized))
}

func TestSquareAllWayStop(t *testing.T) {
	b := lanetest.NewBuilder()
	b.Cross(1, fourWay, 10, 50, true)
	f := build(t, b, nil)
	d := f.details[0]

	assert.True(t, d.IsAllWayStop())
	kept, _ := f.generate()
	require.Len(t, kept, 1)
	require.Len(t, kept[0].Periods, 12)
	for _, p := range kept[0].Periods {
		assert.Equal(t, f.ctx.Config.T.Intersection.MinimumGoSeconds, p.Duration)
		assert.Empty(t, p.Lights)
	}
}

func TestTShapeStop(t *testing.T) {
	b := lanetest.NewBuilder()
	_, internal := b.Cross(1, threeWay, 10, 50, true)
	f := build(t, b, nil)
	d := f.details[0]

	require.Len(t, d.Sides, 3)
	assert.False(t, d.HasTrafficLights)
	assert.Equal(t, TShape, ClassifyTopology(d, d.IsAllWayStop()))

	kept, _ := f.generate()
	require.Len(t, kept, 1)
	periods := kept[0].Periods
	require.Len(t, periods, 3)
	for _, p := range periods {
		assert.Equal(t, f.ctx.Config.T.Intersection.MinimumGoSeconds, p.Duration)
		assert.Empty(t, p.Lights)
	}
	// 另外两条进口边正对的方向1为底边，第一个相位放行底边
	assert.ElementsMatch(t, f.index(internal[1][0], internal[1][2]), periods[0].VehicleLanes())
	// 最后一个相位放行左边全部车道与右边驶向左边道路的车道
	assert.Len(t, periods[2].VehicleLanes(), 3)
}

func TestTShapeWithLights(t *testing.T) {
	b := lanetest.NewBuilder()
	arms, _ := b.Cross(1, threeWay, 10, 50, true)
	f := build(t, b, lightsOn(arms))

	kept, _ := f.generate()
	require.Len(t, kept, 1)
	periods := kept[0].Periods
	require.Len(t, periods, 5)
	assert.Empty(t, periods[0].VehicleLanes())
	assert.Len(t, periods[0].Crosswalks(), 2)
	assert.Len(t, periods[1].VehicleLanes(), 2)
	assert.Empty(t, periods[2].VehicleLanes())
	assert.Len(t, periods[3].VehicleLanes(), 2)
	require.Len(t, periods[3].Lights, 2)
	assert.Equal(t, VehicleGo|VehicleGoProtectedLeft|PedestrianGo, periods[3].Lights[1].Flags)
	assert.Len(t, periods[4].VehicleLanes(), 3)
}

func TestHiddenSide(t *testing.T) {
	b := lanetest.NewBuilder()
	in := b.Driving(15, 3.5, [2]float64{40, 1.75}, [2]float64{10, 1.75})
	turn := b.Driving(10, 3.5, [2]float64{10, 1.75}, [2]float64{1.75, 10})
	out := b.Driving(15, 3.5, [2]float64{1.75, 10}, [2]float64{1.75, 40})
	b.Connect(in, turn)
	b.Connect(turn, out)
	cwEast := b.Walking(3, [2]float64{8, 4.5}, [2]float64{8, -4.5})
	cwNorth := b.Walking(3, [2]float64{-4.5, 8}, [2]float64{4.5, 8})
	walkEast := b.Walking(2, [2]float64{8, 40}, [2]float64{8, 4.5})
	walkNorth := b.Walking(2, [2]float64{-40, 8}, [2]float64{-4.5, 8})
	b.Connect(walkEast, cwEast)
	b.Connect(walkNorth, cwNorth)
	b.Junction(7, turn, cwEast, cwNorth)
	f := build(t, b, nil)
	d := f.details[0]

	require.Len(t, d.Sides, 1)
	assert.True(t, d.HasHiddenSides())
	assert.ElementsMatch(t, f.index(cwEast), lo.Map(d.Sides[0].Crosswalks.Lanes(), func(l entity.ILane, _ int) entity.LaneIndex { return l.Index() }))
	assert.Equal(t, GeneralStopControlled, ClassifyTopology(d, d.IsAllWayStop()))

	kept, pruned := f.generate()
	assert.Empty(t, pruned)
	require.Len(t, kept, 1)
	periods := kept[0].Periods
	require.Len(t, periods, 2)
	all := periods[len(periods)-1].Crosswalks()
	assert.ElementsMatch(t, f.index(cwEast, cwNorth), all)
	assert.Greater(t, len(all), d.Sides[0].Crosswalks.Len())
	assert.ElementsMatch(t, f.index(walkEast, walkNorth), periods[len(periods)-1].WaitingLanes())
}

func TestPruneTwoSidedWithoutCrosswalks(t *testing.T) {
	b := lanetest.NewBuilder()
	arms, _ := b.Cross(1, straight, 10, 50, false)
	c := lightsOn(arms)
	ctx := lanetest.NewContext(config.Traffic{})
	lm := b.Build(ctx)
	jm := NewManager(ctx)
	ctx.JM = jm
	jm.Init(b.Junctions(), lm, c)

	require.Len(t, jm.Pruned(), 1)
	assert.Len(t, jm.Pruned()[0].Detail.Lights, 2)
	j := jm.Get(1)
	assert.Equal(t, 0, j.PeriodCount())
	assert.False(t, j.HasTrafficLight())
	for _, id := range b.Junctions()[0].LaneIds {
		assert.False(t, lm.Get(id).IsTrafficLightControlled())
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(ctx.M.IntersectionsPruned))
}

func TestRandomInitialPeriod(t *testing.T) {
	b := lanetest.NewBuilder()
	const n = 24
	for id := int32(1); id <= n; id++ {
		b.Cross(id, straight, 10, 50, true)
	}
	f := build(t, b, nil)
	require.Len(t, f.details, n)

	kept, _ := f.generate()
	require.Len(t, kept, n)
	seen := make(map[int]struct{})
	for _, p := range kept {
		require.Len(t, p.Periods, 2)
		seen[p.CurrentPeriod] = struct{}{}
		assert.GreaterOrEqual(t, p.Remaining, 0.0)
		assert.Less(t, p.Remaining, p.Periods[p.CurrentPeriod].Duration)
	}
	assert.Len(t, seen, 2)
}

func TestStaleLightType(t *testing.T) {
	b := lanetest.NewBuilder()
	arms, _ := b.Cross(1, straight, 10, 50, true)
	c := lightsOn(arms)
	for i := range c.Lights {
		c.Lights[i].TypeIndex = 9
	}
	f := build(t, b, c)
	d := f.details[0]

	assert.True(t, d.HasTrafficLights)
	for _, l := range d.Lights {
		assert.Equal(t, 0, l.TypeIndex)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(f.ctx.M.TopologyDefects.WithLabelValues("stale_light_type")))

	// 没有与单车道进口兼容的型号时不设信号灯
	b = lanetest.NewBuilder()
	arms, _ = b.Cross(1, straight, 10, 50, true)
	c = lightsOn(arms)
	c.LightTypes = []input.LightType{{Name: "wide", NumLanes: 4}}
	for i := range c.Lights {
		c.Lights[i].TypeIndex = 9
	}
	f = build(t, b, c)
	d = f.details[0]
	assert.False(t, d.HasTrafficLights)
	for _, s := range d.Sides {
		assert.Equal(t, entity.NoLight, s.LightIndex)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(f.ctx.M.TopologyDefects.WithLabelValues("no_light_type")))
}

func TestRoadCrosswalkYields(t *testing.T) {
	b := lanetest.NewBuilder()
	arms, internal := b.Cross(1, straight, 10, 50, true)
	c := lightsOn(arms)
	c.RoadCrosswalks = []int32{1}
	f := build(t, b, c)
	d := f.details[0]

	assert.True(t, d.IsRoadCrosswalk)
	assert.False(t, d.HasTrafficLights)
	for _, s := range d.Sides {
		assert.Equal(t, entity.SignYield, s.Sign)
		assert.Equal(t, entity.NoLight, s.LightIndex)
		require.Len(t, s.Lanes(), 1)
		// 停车线位于进口侧人行横道之前
		assert.Greater(t, s.Lanes()[0].Distance, 0.0)
		assert.Less(t, s.Lanes()[0].Distance, 2.0)
	}
	assert.Equal(t, SignControlled, ClassifyTopology(d, d.IsAllWayStop()))

	kept, pruned := f.generate()
	assert.Empty(t, pruned)
	require.Len(t, kept, 1)
	assert.Empty(t, kept[0].Periods)
	kept[0].Annotate(f.ctx.LM)
	sign, ok := f.ctx.LM.Get(internal[0][1].Id).IntersectionSign()
	assert.True(t, ok)
	assert.Equal(t, entity.SignYield, sign)
}

func TestSignControlled(t *testing.T) {
	b := lanetest.NewBuilder()
	arms, internal := b.Cross(1, fourWay, 10, 50, true)
	c := &input.Controllers{}
	for i, a := range arms {
		typ := input.SignYield
		if i%2 == 0 {
			typ = input.SignStop
		}
		c.Signs = append(c.Signs, input.SignInstance{Position: entrance(a), ControlledSideMidpoint: entrance(a), Type: typ})
	}
	f := build(t, b, c)
	d := f.details[0]

	assert.False(t, d.IsAllWayStop())
	assert.Equal(t, SignControlled, ClassifyTopology(d, false))
	kept, _ := f.generate()
	require.Len(t, kept, 1)
	assert.Empty(t, kept[0].Periods)
	kept[0].Annotate(f.ctx.LM)
	sign, _ := f.ctx.LM.Get(internal[1][0].Id).IntersectionSign()
	assert.Equal(t, entity.SignYield, sign)
	sign, _ = f.ctx.LM.Get(internal[0][1].Id).IntersectionSign()
	assert.Equal(t, entity.SignStop, sign)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.ctx.M.IntersectionsBuilt.WithLabelValues("sign")))
}

func TestProgram(t *testing.T) {
	b := lanetest.NewBuilder()
	arms, internal := b.Cross(1, straight, 10, 50, true)
	f := build(t, b, nil)
	kept, _ := f.generate()
	require.Len(t, kept, 1)

	lanes := lo.Map(b.Junctions()[0].LaneIds, func(id int32, _ int) entity.ILane { return f.ctx.LM.Get(id) })
	tl := kept[0].Program(lanes)
	require.NotNil(t, tl)
	assert.Equal(t, int32(1), tl.JunctionId)
	require.Len(t, tl.Phases, 2)
	stateOf := func(phase int, l *mapv2.Lane) mapv2.LightState {
		i := lo.IndexOf(b.Junctions()[0].LaneIds, l.Id)
		require.GreaterOrEqual(t, i, 0)
		return tl.Phases[phase].States[i]
	}
	assert.Equal(t, mapv2.LightState_LIGHT_STATE_GREEN, stateOf(0, internal[0][1]))
	assert.Equal(t, mapv2.LightState_LIGHT_STATE_RED, stateOf(0, arms[0].Crosswalk))
	assert.Equal(t, mapv2.LightState_LIGHT_STATE_RED, stateOf(1, internal[1][0]))
	assert.Equal(t, mapv2.LightState_LIGHT_STATE_GREEN, stateOf(1, arms[1].Crosswalk))
}

func TestManagerRunsGeneratedProgram(t *testing.T) {
	b := lanetest.NewBuilder()
	arms, internal := b.Cross(1, fourWay, 10, 50, true)
	ctx := lanetest.NewContext(config.Traffic{})
	lm := b.Build(ctx)
	jm := NewManager(ctx)
	ctx.JM = jm
	jm.Init(b.Junctions(), lm, lightsOn(arms))

	j := jm.Get(1)
	assert.Equal(t, 8, j.PeriodCount())
	assert.True(t, j.HasTrafficLight())
	for _, row := range internal {
		for _, l := range row {
			if l != nil {
				assert.True(t, lm.Get(l.Id).IsTrafficLightControlled())
			}
		}
	}

	jm.Prepare()
	jm.Update(0)
	jm.Prepare()
	junction := j.(*Junction)
	step := junction.trafficLight.Step()
	period := junction.Plan().Periods[step]
	for _, l := range junction.orderedLanes {
		state, _, _ := l.Light()
		if period.Opens(l.Index()) {
			assert.NotEqual(t, mapv2.LightState_LIGHT_STATE_RED, state, "lane %v", l)
		} else {
			assert.Equal(t, mapv2.LightState_LIGHT_STATE_RED, state, "lane %v", l)
		}
	}

	res, err := jm.GetTrafficLight(context.Background(), connect.NewRequest(&mapv2.GetTrafficLightRequest{JunctionId: 1}))
	require.NoError(t, err)
	assert.Len(t, res.Msg.TrafficLight.Phases, 8)
	assert.Equal(t, step, res.Msg.PhaseIndex)

	_, err = jm.GetTrafficLight(context.Background(), connect.NewRequest(&mapv2.GetTrafficLightRequest{JunctionId: 2}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
	_, err = jm.GetOrError(2)
	assert.Error(t, err)
}
