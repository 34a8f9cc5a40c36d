package vehicle

import (
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
)

// FitReport 变道空间检查结果，四项互相独立
type FitReport struct {
	ClearOfVehicleBehind bool // 与目标车道后车之间有空间
	ClearOfLaneStart     bool // 距目标车道起点有空间
	ClearOfVehicleAhead  bool // 与目标车道前车之间现在与变道完成时都有空间
	ClearOfLaneEnd       bool // 变道完成时不超过目标车道终点
}

func (r *FitReport) clearAll() {
	*r = FitReport{true, true, true, true}
}

func (r *FitReport) blockAll() {
	*r = FitReport{}
}

// IsClear 四项检查是否全部通过
func (r FitReport) IsClear() bool {
	return r.ClearOfVehicleBehind && r.ClearOfLaneStart && r.ClearOfVehicleAhead && r.ClearOfLaneEnd
}

// fitInput 变道空间检查的输入，位置均为车辆中心在目标车道上的位置
type fitInput struct {
	center      float64 // 本车中心
	laneLength  float64 // 目标车道长度
	delta       float64 // 变道过程的纵向行驶距离
	v           float64 // 本车速度
	radius      float64 // 本车半长
	minDistance float64 // 随机化的最小跟车距离

	hasBehind    bool
	behindCenter float64
	behindRadius float64

	hasAhead    bool
	aheadCenter float64
	aheadRadius float64
	aheadV      float64
}

// checkFit 检查车辆能否变道到目标车道
// 说明：速度为0时无法估计变道时长，直接全部阻塞
func checkFit(in fitInput) (r FitReport) {
	r.clearAll()
	if in.v == 0 {
		r.blockAll()
		return
	}
	duration := in.delta / in.v

	// 后车会减速让行，只要求当前不重叠
	if in.hasBehind {
		if in.center-in.behindCenter-in.radius-in.behindRadius < 0 {
			r.ClearOfVehicleBehind = false
		}
	}
	// 车道起点可能随时有车从路口驶出，以最小跟车距离作为虚拟障碍物
	if in.center-2*in.radius-in.minDistance < 0 {
		r.ClearOfLaneStart = false
	}
	if in.hasAhead {
		now := in.aheadCenter - in.center - in.radius - in.aheadRadius - in.minDistance
		completion := now + (in.aheadV-in.v)*duration
		if now < 0 || completion < 0 {
			r.ClearOfVehicleAhead = false
		}
	}
	if in.laneLength-in.center-in.radius-in.delta < 0 {
		r.ClearOfLaneEnd = false
	}
	return
}

// fitOnLane 收集目标车道上的前后车并检查变道空间
// 说明：链表遍历超过上限时按阻塞处理
func (v *Vehicle) fitOnLane(cur, chosen entity.ILane, s, speed, delta float64) FitReport {
	r := v.length / 2
	chosenS := chosen.ProjectFromLane(cur, s)
	in := fitInput{
		center:      chosenS - r,
		laneLength:  chosen.Length(),
		delta:       delta,
		v:           speed,
		radius:      r,
		minDistance: v.minDistance(),
	}
	behind, ahead, ok := chosen.FindNearbyVehiclesRelativeToDistance(chosenS)
	if !ok {
		return FitReport{}
	}
	if behind != nil {
		in.hasBehind = true
		in.behindRadius = behind.L() / 2
		in.behindCenter = behind.S - in.behindRadius
	}
	if ahead != nil {
		in.hasAhead = true
		in.aheadRadius = ahead.L() / 2
		in.aheadCenter = ahead.S - in.aheadRadius
		in.aheadV = ahead.V()
	}
	return checkFit(in)
}
