package vehicle

import (
	"math"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
)

// stopReport 停车线检查结果
type stopReport struct {
	stop             bool // 需要在本车道终点前停车
	requestDifferent bool // 下一车道无空间，尽早改选其他后继
	beyond           bool // 车头已越过车道终点
}

// checkStopLine 检查是否需要在本车道终点的停车线前停车
// 算法说明：
// 1. 没有可行驶的下一车道时停车
// 2. 下一车道是路口车道且路口出口车道没有足够空间时停车，避免滞留在路口内
// 3. 停车让行：驶近停车线并停稳一段时间后才完成停车，完成前停车
// 4. 红灯或黄灯：无法及时停车（已越线，黄灯时剩余时间内必然越线）时继续行驶，否则停车
func (v *Vehicle) checkStopLine(dt float64) (r stopReport) {
	rt := &v.runtime
	cfg := &v.ctx.RuntimeConfig().T.Merge
	cur, next := rt.Lane, rt.Next
	radius := v.length / 2
	center := rt.S - radius
	left := cur.Length() - rt.S
	r.beyond = left < 0

	if next == nil {
		// 没有后继的车道在终点处驶离路网
		r.stop = len(cur.Successors()) > 0
		return
	}
	if next.IsIntersection() {
		if len(next.Successors()) == 0 {
			r.stop = true
			return
		}
		taken := math.Max(next.Length()-next.SpaceAvailable(), 0)
		post := next.Successors()[0]
		if post.SpaceAvailable()-taken < v.spaceTaken() {
			r.requestDifferent = center < cur.Length()-3*radius
			r.stop = true
			return
		}
	}
	if rt.CantStopAtLaneExit {
		return
	}
	if controlOf(next) == controlStop && rt.StopSignLane != next {
		if !nearStopLine(center, cur.Length(), radius, v.randomFraction, cfg) {
			r.stop = true
			return
		}
		if rt.V < cfg.StopSpeedThreshold {
			rt.StoppedT += dt
		}
		if rt.StoppedT >= cfg.StopSignWaitSeconds {
			rt.StopSignLane = next
		}
		r.stop = true
		return
	}
	if !next.IsOpen() {
		state, _, remaining := next.Light()
		cantStop := r.beyond
		if state == mapv2.LightState_LIGHT_STATE_YELLOW {
			cantStop = cantStop || rt.V*remaining > left
		}
		rt.CantStopAtLaneExit = rt.CantStopAtLaneExit || cantStop
		r.stop = !rt.CantStopAtLaneExit
	}
	return
}

// stopDistance 车头到停车位置的距离
func (v *Vehicle) stopDistance() float64 {
	rt := &v.runtime
	return rt.Lane.Length() - rt.S - v.ctx.RuntimeConfig().T.Merge.StoppingDistanceRange.Lerp(v.randomFraction)
}
