package crowd

import (
	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
)

// pickNext 行走方向上的下一条车道，正向取后继，反向取前驱
// 返回：下一车道及进入后是否正向行走，没有时返回nil
func (p *Pedestrian) pickNext(lane entity.ILane, forward bool) (entity.ILane, bool) {
	candidates := lane.Successors()
	if !forward {
		candidates = lane.Predecessors()
	}
	if len(candidates) == 0 {
		return nil, forward
	}
	return candidates[p.generator.Intn(len(candidates))], forward
}

// crossingDistances 行人进入与离开行车道的距离，按行走方向计算
func crossingDistances(crosswalk, vehicleLane entity.ILane, s, r float64, forward bool) (enter, exit float64, ok bool) {
	e, x, ok := crosswalk.EnterAndExitDistances(vehicleLane)
	if !ok {
		return 0, 0, false
	}
	if forward {
		return e - s - r, x - s + r, true
	}
	return s - x - r, s - e + r, true
}

// vehicleInCrosswalk 车辆是否已经进入人行横道所在区域
// 参数：vehicleLane-穿过人行横道的路口车道，o-该车道或其前驱上的车辆
func vehicleInCrosswalk(vehicleLane, crosswalk entity.ILane, o entity.IVehicle) bool {
	enter, exit, ok := vehicleLane.EnterAndExitDistances(crosswalk)
	if !ok {
		return false
	}
	r := o.Length() / 2
	center := o.S() - r
	if o.Lane() != vehicleLane {
		center -= o.Lane().Length()
	}
	return enter-center-r <= 0 && exit-center+r > 0
}

// yieldTarget 人行横道上需要为之让行的行车道，即挡路车辆所在的车道
// 算法说明：
// 1. 检查穿过人行横道的每条路口车道及驶向它的前驱车道上的车辆
// 2. 只有车辆已经处于人行横道区域内、且行人即将走入该车道（距离在缓冲内）时让行
// 说明：行人只在车辆挡路时让行，其余情况行人优先
func (p *Pedestrian) yieldTarget() entity.ILane {
	rt := &p.runtime
	crosswalk := rt.Lane
	buffer := p.ctx.RuntimeConfig().T.Yield.PedestrianBufferDistance
	for _, vehicleLane := range p.m.vehicleLanesOf(crosswalk) {
		enter, _, ok := crossingDistances(crosswalk, vehicleLane, rt.S, p.radius, rt.Forward)
		if !ok || enter <= 0 || enter >= buffer {
			continue
		}
		test := func(lane entity.ILane) bool {
			for node := lane.Vehicles().First(); node != nil; node = node.Next() {
				o := node.Value
				if lane != vehicleLane && o.NextLane() != vehicleLane {
					continue
				}
				if vehicleInCrosswalk(vehicleLane, crosswalk, o) {
					return true
				}
			}
			return false
		}
		if test(vehicleLane) {
			return vehicleLane
		}
		for _, pred := range vehicleLane.Predecessors() {
			if test(pred) {
				return pred
			}
		}
	}
	return nil
}

// update 行人一步的更新
// 算法说明：
// 1. 在人行横道上先检查是否需要为车辆让行，让行时原地等待
// 2. 沿行走方向前进，越过车道端点时进入下一车道
// 3. 下一车道是非绿灯的人行横道时在端点等待
// 4. 没有下一车道时离开路网
// 返回：本步行走距离
func (p *Pedestrian) update(dt float64) float64 {
	rt := &p.runtime
	if rt.Status != personv2.Status_STATUS_WALKING {
		return 0
	}
	rt.Yield = nil
	if rt.Lane.IsCrosswalk() {
		if rt.Yield = p.yieldTarget(); rt.Yield != nil {
			rt.V = 0
			return 0
		}
	}
	rt.V = p.speed
	remaining := p.speed * dt
	moved := 0.
	for {
		var left float64
		if rt.Forward {
			left = rt.Lane.Length() - rt.S
		} else {
			left = rt.S
		}
		if remaining <= left {
			if rt.Forward {
				rt.S += remaining
			} else {
				rt.S -= remaining
			}
			return moved + remaining
		}
		next, forward := rt.Next, rt.NextForward
		if next == nil {
			p.finish()
			return moved + left
		}
		if next.IsCrosswalk() && !next.IsOpen() {
			// 人行横道入口等待绿灯
			if rt.Forward {
				rt.S = rt.Lane.Length()
			} else {
				rt.S = 0
			}
			if moved+left == 0 {
				rt.V = 0
			}
			return moved + left
		}
		moved += left
		remaining -= left
		rt.Lane, rt.Forward = next, forward
		if forward {
			rt.S = 0
		} else {
			rt.S = next.Length()
		}
		rt.Next, rt.NextForward = p.pickNext(next, forward)
	}
}

// finish 在没有后续车道的端点离开路网
func (p *Pedestrian) finish() {
	log.Debugf("%v: leave the network at %v", p, p.runtime.Lane)
	p.runtime.Status = personv2.Status_STATUS_SLEEP
	if p.m != nil {
		p.m.recordTripEnd()
	}
}
