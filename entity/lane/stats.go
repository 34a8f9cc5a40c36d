package lane

import (
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
)

// laneStats 每步在Prepare阶段计算的实时统计，Update阶段只读
type laneStats struct {
	vehicleCount                int
	spaceAvailable              float64
	functionalDensity           float64
	downstreamDensity           float64
	approachingFromIntersection int
	laneChangingOn              int
	yielding                    int
	readyToUse                  bool
	yieldingTo                  map[entity.LaneIndex]struct{} // 人行横道：行人正在为之让行的行车道
}

// prepare 第一阶段：链表生效并计算只依赖本车道的统计
func (l *Lane) prepare() {
	l.vehicles.prepare()
	l.pedestrians.prepare()
	l.laneChangingOff.Store(0)

	st := &l.stats
	st.vehicleCount = l.vehicles.list.Len()
	st.laneChangingOn = 0
	st.yielding = 0
	occupied := 0.0
	for node := l.vehicles.list.First(); node != nil; node = node.Next() {
		v := node.Value
		occupied += v.Length() + v.MinGap()
		if v.LaneChangeSource() != nil {
			st.laneChangingOn++
		}
		if v.IsYielding() {
			st.yielding++
		}
	}
	st.spaceAvailable = l.length - occupied
	if l.length > 0 {
		st.functionalDensity = lo.Clamp(occupied/l.length, 0, 1)
	} else {
		st.functionalDensity = 1
	}

	clear(st.yieldingTo)
	for node := l.pedestrians.list.First(); node != nil; node = node.Next() {
		if to := node.Value.YieldingToLane(); to != nil {
			if st.yieldingTo == nil {
				st.yieldingTo = make(map[entity.LaneIndex]struct{})
			}
			st.yieldingTo[to.Index()] = struct{}{}
		}
	}
}

// prepare2 第二阶段：计算依赖相邻车道第一阶段结果的统计
func (l *Lane) prepare2() {
	st := &l.stats

	// 下游流密度：本车道与后继平均密度的中点
	if len(l.successors) == 0 {
		st.downstreamDensity = st.functionalDensity
	} else {
		mean := lo.SumBy(l.successors, func(o entity.ILane) float64 { return o.FunctionalDensity() }) / float64(len(l.successors))
		st.downstreamDensity = (st.functionalDensity + mean) / 2
	}

	st.approachingFromIntersection = 0
	readyDistance := l.ctx.RuntimeConfig().T.Lane.ReadyToUseDistance
	st.readyToUse = st.vehicleCount > 0
	for _, prev := range l.predecessors {
		if prev.IsIntersection() {
			st.approachingFromIntersection += prev.VehicleCount()
		}
		if st.readyToUse {
			continue
		}
		for node := prev.Vehicles().Last(); node != nil; node = node.Prev() {
			if prev.Length()-node.S > readyDistance {
				break
			}
			if next := node.Value.NextLane(); next != nil && next.Index() == l.index {
				st.readyToUse = true
				break
			}
		}
	}

	for node := l.vehicles.list.First(); node != nil; node = node.Next() {
		if src := node.Value.LaneChangeSource(); src != nil {
			if srcLane, ok := src.(*Lane); ok {
				srcLane.laneChangingOff.Add(1)
			}
		}
	}
}

func (l *Lane) VehicleCount() int {
	return l.stats.vehicleCount
}

// SpaceAvailable 车道长度减去全部车辆的车长与最小间距，可能为负
func (l *Lane) SpaceAvailable() float64 {
	return l.stats.spaceAvailable
}

func (l *Lane) FunctionalDensity() float64 {
	return l.stats.functionalDensity
}

func (l *Lane) DownstreamFlowDensity() float64 {
	return l.stats.downstreamDensity
}

func (l *Lane) NumVehiclesApproachingFromIntersection() int {
	return l.stats.approachingFromIntersection
}

func (l *Lane) LaneChangingOnCount() int {
	return l.stats.laneChangingOn
}

func (l *Lane) LaneChangingOffCount() int {
	return int(l.laneChangingOff.Load())
}

func (l *Lane) YieldingVehicleCount() int {
	return l.stats.yielding
}

func (l *Lane) IsReadyToUse() bool {
	return l.stats.readyToUse
}

// IsYieldingToLane 人行横道上是否有行人正在为vehicleLane让行
func (l *Lane) IsYieldingToLane(vehicleLane entity.ILane) bool {
	_, ok := l.stats.yieldingTo[vehicleLane.Index()]
	return ok
}

// GetPressure 车道压力
// 功能：用于最大压力信控，计算路口内车道上游与下游的车辆密度差
// 返回：上游车道密度 - 下游车道密度，非路口车道或缺少上下游时为0
func (l *Lane) GetPressure() float64 {
	if !l.IsIntersection() || l.IsWalkLane() || len(l.predecessors) == 0 || len(l.successors) == 0 {
		return 0
	}
	density := func(o entity.ILane) float64 {
		if o.Length() <= 0 {
			return 0
		}
		return float64(o.VehicleCount()) / o.Length()
	}
	in := lo.SumBy(l.predecessors, density)
	out := lo.SumBy(l.successors, density)
	// 上游车道的车辆分摊到其全部后继
	if n := len(l.predecessors[0].Successors()); n > 1 {
		in /= float64(n)
	}
	return in - out
}
