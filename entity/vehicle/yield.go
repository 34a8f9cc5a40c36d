package vehicle

import (
	"math"

	"git.fiblab.net/general/common/v2/mathutil"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
)

// 让行原因
const (
	yieldMerge        = "merge"
	yieldCrosswalk    = "crosswalk"
	yieldIntersection = "intersection"
	yieldPreemptive   = "preemptive"
)

// intersectionAhead 车辆正在驶向或所在的路口车道，以及驶入路口前的车道
func (v *Vehicle) intersectionAhead() (intersection, before entity.ILane) {
	rt := &v.runtime
	if rt.Next != nil && rt.Next.IsIntersection() {
		return rt.Next, rt.Lane
	}
	if rt.Lane.IsIntersection() {
		return rt.Lane, rt.Prev
	}
	return nil, nil
}

// shouldYieldInternal 按转向检查路口内其他方向的车道是否需要让行
// 参数：intersection-路口车道，before-驶入路口前的车道，clear-判断车道是否畅通，considerStraight-直行车辆是否检查
// 算法说明：
// 1. 路口内车道没有左右相邻关系，因此从before出发向左或向右遍历，检查这些车道的后继
// 2. 左转：检查左侧不左转的后继；右转：检查右侧不右转的后继
// 3. 直行：检查左侧右转与右侧左转的后继
// 4. 已有车辆在让行的车道跳过，避免互相等待
func shouldYieldInternal(intersection, before entity.ILane, clear func(entity.ILane) bool, considerStraight bool) bool {
	if !intersection.IsIntersection() {
		return false
	}
	walk := func(side int, test func(entity.ILane) bool) bool {
		for lane := before.NeighborLane(side); lane != nil; lane = lane.NeighborLane(side) {
			for _, next := range lane.Successors() {
				if !test(next) || next.YieldingVehicleCount() > 0 {
					continue
				}
				if !clear(next) {
					return true
				}
			}
		}
		return false
	}
	switch {
	case intersection.TurnsLeft():
		return walk(entity.LEFT, func(l entity.ILane) bool { return !l.TurnsLeft() })
	case intersection.TurnsRight():
		return walk(entity.RIGHT, func(l entity.ILane) bool { return !l.TurnsRight() })
	case considerStraight:
		return walk(entity.LEFT, func(l entity.ILane) bool { return l.TurnsRight() }) ||
			walk(entity.RIGHT, func(l entity.ILane) bool { return l.TurnsLeft() })
	}
	return false
}

// tailFraction 车道上最后驶入的车辆（S最小）的中心位置占车道长度的比例
func tailFraction(lane entity.ILane) (float64, bool) {
	tail := lane.Vehicles().First()
	if tail == nil || lane.Length() <= 0 {
		return 0, false
	}
	return (tail.S - tail.L()/2) / lane.Length(), true
}

// shouldPreemptivelyYield 转向车辆在驶入路口前预先为直行车辆让行
// 返回：yield-是否让行，entered-等待期间是否已有车辆驶入相关车道
// 说明：只能在驶入路口前开始；开始后先无条件等待，再计时等待，最后按车道畅通与否结束
func (v *Vehicle) shouldPreemptivelyYield() (yield, entered bool) {
	rt := &v.runtime
	cfg := &v.ctx.RuntimeConfig().T.Yield
	intersection, before := v.intersectionAhead()
	if intersection == nil || before == nil {
		return false, false
	}
	if rt.Lane == intersection && !rt.Yield.Preemptive {
		return false, false
	}
	if !rt.Yield.Preemptive && intersection == rt.Next {
		if rt.Lane.Length()-rt.S > cfg.MaxPreemptiveDistance {
			return false, false
		}
	}
	clear := func(test entity.ILane) bool {
		if !rt.Yield.Preemptive {
			// 有车辆即将使用该车道时开始预先让行
			return !(rt.Lane == before && test.IsReadyToUse())
		}
		if test.VehicleCount() > 0 {
			f, ok := tailFraction(test)
			if !ok {
				return true
			}
			if f < turnFraction(test, cfg.ResumeFractions) {
				return false
			}
		}
		return true
	}
	should := shouldYieldInternal(intersection, before, clear, false)
	if rt.Yield.Preemptive {
		if !rt.Yield.rolledOut(cfg.PreemptiveRollOutSeconds) {
			return true, false
		}
		if !rt.Yield.waitFinished(cfg.PreemptiveRollOutSeconds, cfg.PreemptiveWaitSeconds) {
			return true, should
		}
	}
	return should, false
}

// pedestrianDistances 行人驶入与驶出车辆路口车道的距离，按行人行走方向计算
func pedestrianDistances(p entity.IPedestrian, crosswalk, intersection entity.ILane) (distances, bool) {
	enter, exit, ok := crosswalk.EnterAndExitDistances(intersection)
	if !ok {
		return distances{}, false
	}
	s, r := p.S(), p.Radius()
	if p.IsForward() {
		return distances{enter - s - r, exit - s + r}, true
	}
	return distances{s - exit - r, s - enter + r}, true
}

// crosswalkClear 从本车角度判断人行横道是否畅通
// 算法说明：
// 1. 本车已驶入或驶过人行横道、或到达时间超出视野时畅通
// 2. 停车让行进口在完成停车前不考虑人行横道
// 3. 行人时间窗取所有行人最早的进入与最晚的离开
// 4. 时间窗在缓冲内重叠，或行人已在车道内且本车距离过近时不畅通
func (v *Vehicle) crosswalkClear(self peer, intersection, crosswalk entity.ILane) bool {
	cfg := &v.ctx.RuntimeConfig().T.Yield
	if crosswalk.Pedestrians().Len() == 0 {
		return true
	}
	d, ok := crossingDistances(intersection, crosswalk, alongQuery(self.lane, self.center, intersection), self.r)
	if !ok {
		return false
	}
	w := self.window(d)
	if d.enter < 0 {
		return true
	}
	if w.enter > cfg.CrosswalkLookAhead {
		return true
	}
	if controlOf(intersection) == controlStop && self.lane != intersection && self.stopSignLane != intersection {
		return true
	}
	pd := distances{mathutil.INF, -mathutil.INF}
	pw := window{mathutil.INF, -mathutil.INF}
	for node := crosswalk.Pedestrians().First(); node != nil; node = node.Next() {
		p := node.Value
		dd, ok := pedestrianDistances(p, crosswalk, intersection)
		if !ok {
			return false
		}
		ww := dd.byV(p.V())
		pd.enter = math.Min(pd.enter, dd.enter)
		pd.exit = math.Max(pd.exit, dd.exit)
		pw.enter = math.Min(pw.enter, ww.enter)
		pw.exit = math.Max(pw.exit, ww.exit)
	}
	inLane := pd.inRegion()
	timeConflict := w.conflicts(pw, cfg.CrosswalkTimeBuffer)
	distanceConflict := inLane && d.enter < cfg.PedestrianBufferDistance && d.enter > 0
	return !(timeConflict || distanceConflict)
}

// shouldYieldToCrosswalks 路口车道穿过的人行横道中是否有不畅通的
// 说明：已有行人在为本车所在车道让行的人行横道跳过，避免人车互相等待
func (v *Vehicle) shouldYieldToCrosswalks(self peer, intersection entity.ILane) bool {
	for _, crosswalk := range intersection.CrossedCrosswalks() {
		if crosswalk.IsYieldingToLane(self.lane) {
			continue
		}
		if !v.crosswalkClear(self, intersection, crosswalk) {
			return true
		}
	}
	return false
}

// shouldReactivelyYield 反应式让行
// 返回：yield-是否让行，giveOpportunity-直行车辆本步先把让行机会留给转向车辆，kind-让行原因
// 算法说明：
// 1. 可以尝试驶入路口车道时，先检查汇入冲突，需要让行则直接让行
// 2. 检查路口车道穿过的人行横道
// 3. 在路口车道内时按转向检查其他方向的车辆
// 4. 直行车辆首次需要让行时先返回不让行，下一步条件仍成立时才让行
func (v *Vehicle) shouldReactivelyYield(self peer) (yield, giveOpportunity bool, kind string) {
	rt := &v.runtime
	cfg := &v.ctx.RuntimeConfig().T.Yield
	intersection, before := v.intersectionAhead()
	if intersection == nil || before == nil {
		return false, false, ""
	}
	if v.eligibleToMerge(self, intersection) && !v.shouldMerge(self, intersection) {
		return true, false, yieldMerge
	}
	if v.shouldYieldToCrosswalks(self, intersection) {
		return true, false, yieldCrosswalk
	}
	cur := rt.Lane
	clear := func(test entity.ILane) bool {
		if test.VehicleCount() > 0 {
			f, ok := tailFraction(test)
			if !ok {
				return true
			}
			progress := (self.center - self.r) / cur.Length()
			if progress < turnFraction(test, cfg.CutoffFractions) && f < turnFraction(test, cfg.ResumeFractions) {
				return false
			}
		}
		return true
	}
	should := rt.Prev != nil && shouldYieldInternal(cur, rt.Prev, clear, true)
	if !rt.Yield.Reactive && isStraight(cur) && should && !rt.Yield.HasGivenOpportunity {
		return false, true, ""
	}
	return should, false, yieldIntersection
}

// updateYield 更新让行状态
// 返回：本步是否让行
func (v *Vehicle) updateYield(dt float64) bool {
	rt := &v.runtime
	self := v.self()
	wasYielding := rt.IsYielding()

	preemptive, entered := v.shouldPreemptivelyYield()
	switch {
	case !preemptive:
		rt.Yield.Preemptive = false
		rt.Yield.PreemptiveT = 0
		rt.Yield.WaitFinished = false
	case !rt.Yield.Preemptive:
		rt.Yield.Preemptive = true
		rt.Yield.PreemptiveT = 0
		rt.Yield.WaitFinished = false
	default:
		rt.Yield.PreemptiveT += dt
		if entered {
			rt.Yield.WaitFinished = true
		}
	}

	reactive, give, kind := v.shouldReactivelyYield(self)
	rt.Yield.HasGivenOpportunity = give
	rt.Yield.Reactive = reactive
	switch {
	case reactive:
		rt.Yield.Kind = kind
	case preemptive:
		rt.Yield.Kind = yieldPreemptive
	default:
		rt.Yield.Kind = ""
	}
	yielding := rt.IsYielding()
	if yielding && !wasYielding {
		v.ctx.Metrics().Yield(rt.Yield.Kind)
	}
	return yielding
}
