package vehicle

import (
	"math"

	"git.fiblab.net/general/common/v2/mathutil"
	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
)

const (
	// maxNoiseA 加速度随机扰动最大值
	// 功能：为车辆加速度添加随机扰动，模拟真实驾驶的不确定性
	maxNoiseA = .5

	// zeroAThreshold 加速度零值判定阈值
	// 功能：当加速度绝对值小于此值时认为加速度为零
	zeroAThreshold = .1
)

// 决定加速度的策略
const (
	reasonFree   = "free"
	reasonFollow = "follow"
	reasonStop   = "stop"
	reasonYield  = "yield"
)

// pickNext 在车道的后继中随机选择下一车道，没有后继时返回nil
func (v *Vehicle) pickNext(lane entity.ILane) entity.ILane {
	successors := lane.Successors()
	if len(successors) == 0 {
		return nil
	}
	return successors[v.generator.Intn(len(successors))]
}

// pickOther 下一车道没有空间时改选其他后继，只有一个后继时保持不变
func (v *Vehicle) pickOther(lane, cur entity.ILane) entity.ILane {
	others := lo.Without(lane.Successors(), cur)
	if len(others) == 0 {
		return cur
	}
	return others[v.generator.Intn(len(others))]
}

// lcDuration 变道过程时长，按随机分数在区间内取值
func (v *Vehicle) lcDuration() float64 {
	cfg := &v.ctx.RuntimeConfig().T.LaneChange
	return cfg.MinDurationSeconds + (cfg.MaxDurationSeconds-cfg.MinDurationSeconds)*v.randomFraction
}

// planLaneChange 横向决策：选择目标车道并检查空间
// 算法说明：
// 1. 变道过程中或未到重试时刻时不变道
// 2. 选择目标车道，没有选择时按建议等级设置重试时刻
// 3. 按变道时长内的纵向行驶距离检查目标车道空间，空间不足时记录并设置重试时刻
func (v *Vehicle) planLaneChange() (ac Action) {
	rt := &v.runtime
	cfg := &v.ctx.RuntimeConfig().T.LaneChange
	now := v.ctx.Clock().T
	ac.A = mathutil.INF
	if rt.LC.Source != nil || now < rt.NextLCAttemptT {
		return
	}
	rec := &rt.Recommendation
	v.chooseLane(rt.Lane, rt.S-v.length/2, rec)
	retry := func() {
		if rec.Level == RetrySoon || rec.Level == TransversingLaneChange {
			rt.NextLCAttemptT = now + cfg.RetrySoonSeconds
		} else {
			rt.NextLCAttemptT = now + cfg.RetrySeconds
		}
	}
	if rec.Chosen == nil {
		retry()
		return
	}
	report := v.fitOnLane(rt.Lane, rec.Chosen, rt.S, rt.V, rt.V*v.lcDuration())
	if !report.IsClear() {
		log.Debugf("%v: lane change to %v blocked: %+v", v, rec.Chosen, report)
		v.ctx.Metrics().LaneChangeBlocked()
		retry()
		return
	}
	ac.LCTarget = rec.Chosen
	ac.Level = rec.Level
	return
}

// changeLane 执行变道：车辆立即移动到目标车道，原车道记录在变道状态中直到计时结束
func (v *Vehicle) changeLane(target entity.ILane, level Level) {
	rt := &v.runtime
	cur := rt.Lane
	rt.S = target.ProjectFromLane(cur, rt.S)
	rt.Lane = target
	rt.LC = lcRuntime{Source: cur, Remaining: v.lcDuration()}
	rt.Recommendation = Recommendation{}
	rt.CantStopAtLaneExit = false
	rt.StoppedT = 0
	rt.Next = v.pickNext(target)
	v.ctx.Metrics().LaneChange(level.String())
}

// leader 前车节点与车距，先找本车道，再找下一车道的最后一辆车
func (v *Vehicle) leader() (*entity.VehicleNode, float64) {
	rt := &v.runtime
	var ahead *entity.VehicleNode
	if v.node.Parent() == rt.Lane.Vehicles() {
		ahead = v.node.Next()
	} else {
		// 本步刚变道或刚出生，节点尚未进入本车道链表
		var ok bool
		if _, ahead, ok = rt.Lane.FindNearbyVehiclesRelativeToDistance(rt.S); !ok {
			ahead = nil
		}
	}
	if ahead != nil {
		return ahead, ahead.S - ahead.L() - rt.S
	}
	if rt.Next != nil {
		if tail := rt.Next.Vehicles().First(); tail != nil {
			return tail, rt.Lane.Length() - rt.S + tail.S - tail.L()
		}
	}
	return nil, mathutil.INF
}

// longitudinal 纵向决策（加速度）
func (v *Vehicle) longitudinal(report stopReport, yielding bool, dt float64) (ac Action) {
	rt := &v.runtime
	laneMaxV := rt.Lane.MaxV()
	ac = Action{A: v.model.free(rt.V, laneMaxV), Reason: reasonFree}
	if ahead, distance := v.leader(); ahead != nil {
		ac.Update(Action{A: v.model.follow(rt.V, ahead.V(), distance, laneMaxV), Reason: reasonFollow})
	}
	inIntersection := rt.Lane.IsIntersection()
	if report.stop || (yielding && !inIntersection) {
		ac.Update(Action{A: v.model.stop(rt.V, v.stopDistance(), laneMaxV, dt), Reason: reasonStop})
	}
	if yielding && inIntersection {
		// 路口内无法按停车线停车，以常用制动减速直到停止
		ac.Update(Action{A: math.Max(v.model.usualBrakingA, -rt.V/dt), Reason: reasonYield})
	}
	ac.A = lo.Clamp(ac.A, v.model.maxBrakingA, v.model.maxA)
	if ac.Reason == reasonFree || ac.Reason == reasonFollow {
		noise := maxNoiseA * lo.Clamp(.5*v.generator.NormFloat64(), -1, 1)
		// 过小的加速度不扰动，扰动不改变加速度符号
		if math.Abs(ac.A) >= zeroAThreshold && math.Signbit(ac.A) == math.Signbit(ac.A+noise) {
			ac.A = lo.Clamp(ac.A+noise, v.model.maxBrakingA, v.model.maxA)
		}
	}
	return
}

// update 车辆一步的更新
// 算法说明：
// 1. 变道计时
// 2. 横向决策，可以变道时立即移动到目标车道
// 3. 路口让行与停车线检查
// 4. 纵向决策与运动，越过车道终点时驶入下一车道
// 返回：本步行驶距离
// 说明：只修改本车的runtime，其他车辆与车道只读取Prepare阶段的数据
func (v *Vehicle) update(dt float64) float64 {
	rt := &v.runtime
	if rt.Status != personv2.Status_STATUS_DRIVING {
		return 0
	}
	if rt.LC.Source != nil {
		rt.LC.Remaining -= dt
		if rt.LC.Remaining <= 0 {
			rt.clearLaneChange()
		}
	}

	lc := v.planLaneChange()
	if lc.LCTarget != nil {
		v.changeLane(lc.LCTarget, lc.Level)
	}

	yielding := v.updateYield(dt)
	report := v.checkStopLine(dt)
	if report.requestDifferent {
		rt.Next = v.pickOther(rt.Lane, rt.Next)
	}
	cfg := &v.ctx.RuntimeConfig().T.Merge
	if report.stop || (rt.V < cfg.StopSpeedThreshold && !report.beyond) {
		// 已停在停车线前，可以重新等待信号
		rt.CantStopAtLaneExit = false
	}

	ac := v.longitudinal(report, yielding, dt)
	newV, ds := computeVAndDistance(rt.V, ac.A, dt)
	rt.V, rt.A = newV, ac.A
	s := rt.S + ds
	if report.stop && s > rt.Lane.Length() {
		// 停车时不越过车道终点
		s = math.Max(rt.S, rt.Lane.Length())
		rt.V = 0
	}
	moved := s - rt.S
	v.advance(s)
	return moved
}

// advance 移动到车道位置s，越过车道终点时依次驶入下一车道
func (v *Vehicle) advance(s float64) {
	rt := &v.runtime
	for s > rt.Lane.Length() {
		if rt.Next == nil {
			if len(rt.Lane.Successors()) == 0 {
				v.finish()
				return
			}
			rt.Next = v.pickNext(rt.Lane)
		}
		s -= rt.Lane.Length()
		rt.enterLane(rt.Lane, rt.Next)
		rt.Next = v.pickNext(rt.Lane)
	}
	rt.S = s
}

// finish 在没有后继的车道终点驶离路网
func (v *Vehicle) finish() {
	log.Debugf("%v: leave the network at %v", v, v.runtime.Lane)
	v.runtime.Status = personv2.Status_STATUS_SLEEP
	if v.m != nil {
		v.m.recordTripEnd()
	}
}
