package vehicle

import (
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
)

// peer 冲突判断所需的车辆状态，位置为车辆中心
type peer struct {
	id             int32
	lane           entity.ILane // 所在车道
	next           entity.ILane // 下一条车道
	center, r, v   float64
	yielding       bool
	acc            float64      // 起步加速度估计
	randomFraction float64      // 随机分数
	stopSignLane   entity.ILane // 最近一次完成停车让行的路口车道
	resting        bool         // 正在停车让行标志前等待
}

// self 本车状态，读取runtime
func (v *Vehicle) self() peer {
	rt := &v.runtime
	r := v.length / 2
	return peer{
		id:             v.id,
		lane:           rt.Lane,
		next:           rt.Next,
		center:         rt.S - r,
		r:              r,
		v:              rt.V,
		yielding:       rt.IsYielding(),
		acc:            v.usualA,
		randomFraction: v.randomFraction,
		stopSignLane:   rt.StopSignLane,
		resting:        rt.resting(),
	}
}

// peerOf 其他车辆的状态，读取snapshot
// 说明：非本包实现的车辆使用默认的加速度与随机分数
func (v *Vehicle) peerOf(o entity.IVehicle) peer {
	r := o.Length() / 2
	p := peer{
		id:             o.ID(),
		lane:           o.Lane(),
		next:           o.NextLane(),
		center:         o.S() - r,
		r:              r,
		v:              o.V(),
		yielding:       o.IsYielding(),
		acc:            v.ctx.RuntimeConfig().T.Vehicle.UsualAcceleration,
		randomFraction: .5,
	}
	if ov, ok := o.(*Vehicle); ok {
		p.acc = ov.usualA
		p.randomFraction = ov.randomFraction
		p.stopSignLane = ov.snapshot.StopSignLane
		p.resting = ov.snapshot.resting()
	}
	return p
}

// effectiveV 让行中的车辆按静止处理
func (p *peer) effectiveV() float64 {
	if p.yielding {
		return 0
	}
	return p.v
}

// window 按当前速度（让行中则按起步加速度）计算时间窗
func (p *peer) window(d distances) window {
	if p.yielding {
		return d.byA(p.acc)
	}
	return d.byV(p.effectiveV())
}

// inRegion 已处于冲突区域内
func (d distances) inRegion() bool {
	return d.enter <= 0 && d.exit > 0
}

func isStraight(lane entity.ILane) bool {
	return !lane.TurnsLeft() && !lane.TurnsRight()
}

// eachVehicle 按S升序遍历车道上的车辆，fn返回false时停止
func eachVehicle(lane entity.ILane, fn func(*entity.VehicleNode) bool) {
	first := lane.Vehicles().First()
	if first == nil || !fn(first) {
		return
	}
	lane.MarchVehicles(first, true, fn)
}

// eligibleToMerge 车辆是否已经可以尝试驶入路口车道desired
// 说明：受控进口需要先到达停车线附近，停车让行还需完成停车，信号灯需为绿灯
func (v *Vehicle) eligibleToMerge(self peer, desired entity.ILane) bool {
	if self.lane == desired {
		return true
	}
	cfg := &v.ctx.RuntimeConfig().T.Merge
	near := nearStopLine(self.center, self.lane.Length(), self.r, self.randomFraction, cfg)
	switch controlOf(desired) {
	case controlStop:
		return near && self.stopSignLane == desired
	case controlYield:
		return near
	case controlLight:
		return near && desired.IsOpen()
	}
	return true
}

// shouldMerge 驶入路口车道desired是否安全
// 功能：检查desired的全部冲突车道及其前驱车道上的车辆，任一车辆需要本车让行时返回false
// 说明：无法判断时返回true以保持交通流动
func (v *Vehicle) shouldMerge(self peer, desired entity.ILane) bool {
	cfg := &v.ctx.RuntimeConfig().T.Merge
	cur := self.lane
	mySign := hasSign(desired)
	toIntersection := intersectionDistances(cur, self.center, self.r, desired)
	if self.window(toIntersection).enter > cfg.LookAheadSeconds {
		return true
	}

	// shouldYieldToVehicle 本车是否需要为test车道上驶向conflict车道的车辆t让行
	shouldYieldToVehicle := func(conflict entity.ILane, t peer, d distances, w window, waitClear bool) bool {
		testSign := hasSign(conflict)
		onConflict := t.lane == conflict
		if !onConflict {
			near := nearStopLine(t.center, t.lane.Length(), t.r, t.randomFraction, cfg)
			switch controlOf(conflict) {
			case controlStop:
				if !near || t.stopSignLane != conflict {
					return false
				}
			case controlYield:
				if !near {
					return false
				}
			case controlLight:
				if !near || !conflict.IsOpen() {
					return false
				}
			}
		}
		var td distances
		if waitClear {
			td = intersectionDistances(t.lane, t.center, t.r, conflict)
		} else {
			var ok bool
			td, ok = crossingDistances(conflict, desired, alongQuery(t.lane, t.center, conflict), t.r)
			if !ok {
				return false
			}
		}
		tw := t.window(td)
		if !onConflict && tw.enter > cfg.TestHorizonSeconds {
			return false
		}
		if t.yielding {
			// 让行中的车辆只在已经占据冲突区域时需要等待其离开
			return onConflict && !d.inRegion() && td.inRegion()
		}
		inConflict := w.conflicts(tw, cfg.TimeBufferSeconds)
		// 有让行标志的进口需要等无标志进口的车辆完全驶离
		if mySign && cur != desired && inConflict && !testSign {
			return true
		}
		if testSign && !onConflict {
			return false
		}
		if !inConflict {
			return false
		}
		// 时间冲突时依次比较优先级
		rel := w.enter - tw.enter
		switch {
		case rel < -cfg.EnterTimeEpsilon:
			return false
		case rel > cfg.EnterTimeEpsilon:
			return true
		}
		switch meIn, tIn := d.inRegion(), td.inRegion(); {
		case meIn && !tIn:
			return false
		case !meIn && tIn:
			return true
		}
		switch {
		case (desired.TurnsRight() || !desired.TurnsLeft()) && conflict.TurnsLeft():
			return false
		case desired.TurnsLeft() && (conflict.TurnsRight() || !conflict.TurnsLeft()):
			return true
		}
		switch {
		case desired.TurnsRight() && isStraight(conflict):
			return false
		case isStraight(desired) && conflict.TurnsRight():
			return true
		}
		switch {
		case !mySign && testSign:
			return false
		case mySign && !testSign:
			return true
		}
		switch {
		case self.randomFraction < t.randomFraction:
			return false
		case self.randomFraction > t.randomFraction:
			return true
		}
		// ID唯一，保证两车不会互相让行
		return self.id > t.id
	}

	shouldYieldToLane := func(test, conflict entity.ILane) bool {
		if test.VehicleCount() == 0 {
			return false
		}
		waitClear := mySign && !hasSign(conflict) && cur != desired
		var d distances
		if waitClear {
			d = toIntersection
		} else {
			var ok bool
			d, ok = crossingDistances(desired, conflict, alongQuery(cur, self.center, desired), self.r)
			if !ok {
				return false
			}
		}
		w := self.window(d)
		yield := false
		eachVehicle(test, func(node *entity.VehicleNode) bool {
			o := node.Value
			if o.ID() == self.id {
				return true
			}
			t := v.peerOf(o)
			if test != conflict {
				// 只考虑驶向冲突车道且不在停车让行等待中的车辆
				if t.resting || t.next != conflict {
					return true
				}
			}
			if shouldYieldToVehicle(conflict, t, d, w, waitClear) {
				yield = true
				return false
			}
			return true
		})
		return yield
	}

	for _, conflict := range desired.ConflictLanes() {
		if !conflict.IsIntersection() {
			continue
		}
		if shouldYieldToLane(conflict, conflict) {
			return false
		}
		for _, pred := range conflict.Predecessors() {
			if shouldYieldToLane(pred, conflict) {
				return false
			}
		}
	}
	return true
}
