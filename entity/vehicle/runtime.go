package vehicle

import (
	geov2 "git.fiblab.net/sim/protos/v2/go/city/geo/v2"
	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
)

// lcRuntime 变道运行时数据
// 说明：变道开始时车辆立即移动到目标车道，Source记录原车道直到变道计时结束
type lcRuntime struct {
	Source    entity.ILane // 变道前所在车道，不在变道时为nil
	Remaining float64      // 剩余变道时长（秒）
}

// yieldRuntime 路口让行运行时数据
type yieldRuntime struct {
	Preemptive   bool    // 正在预先让行
	PreemptiveT  float64 // 预先让行已持续的时长
	WaitFinished bool    // 预先让行的计时等待已被提前结束
	Reactive     bool    // 正在反应式让行
	Kind         string  // 让行原因（merge/crosswalk/intersection/preemptive）

	// 直行车辆已经把先行让行的机会留给转向车辆
	HasGivenOpportunity bool
}

// rolledOut 预先让行是否已度过无条件等待阶段
func (y *yieldRuntime) rolledOut(holdSeconds float64) bool {
	return y.PreemptiveT >= holdSeconds
}

// waitFinished 预先让行的计时等待是否结束
func (y *yieldRuntime) waitFinished(holdSeconds, waitSeconds float64) bool {
	return y.WaitFinished || y.PreemptiveT >= holdSeconds+waitSeconds
}

// runtime 车辆运行时数据
// 说明：该数据结构需要可以被直接复制，不应产生浅拷贝带来的副作用
type runtime struct {
	Status personv2.Status

	Lane entity.ILane // 所在车道
	S    float64      // 车头在车道上的位置
	V    float64      // 速度
	A    float64      // 上一步的加速度

	Prev entity.ILane // 上一条车道（驶入当前车道前），可能为nil
	Next entity.ILane // 已选定的下一条车道，车道无后继时为nil

	LC    lcRuntime
	Yield yieldRuntime

	StopSignLane       entity.ILane // 最近一次完成停车让行的路口车道
	StoppedT           float64      // 在停车让行标志前已停稳的时长
	CantStopAtLaneExit bool         // 已无法在车道终点前停车（黄灯或已越线），必须驶入下一车道

	Recommendation Recommendation // 变道建议，驶入新车道时清空
	NextLCAttemptT float64        // 下一次尝试变道的时刻
}

// IsYielding 是否正在让行
func (rt *runtime) IsYielding() bool {
	return rt.Yield.Preemptive || rt.Yield.Reactive
}

// resting 是否正在停车让行标志前等待
func (rt *runtime) resting() bool {
	return rt.StoppedT > 0 && rt.Next != nil && rt.StopSignLane != rt.Next && controlOf(rt.Next) == controlStop
}

// clearLaneChange 清除变道状态
func (rt *runtime) clearLaneChange() {
	rt.LC = lcRuntime{}
}

// enterLane 车头驶入新车道时重置与车道相关的状态
func (rt *runtime) enterLane(prev, lane entity.ILane) {
	rt.Prev = prev
	rt.Lane = lane
	rt.clearLaneChange()
	rt.CantStopAtLaneExit = false
	rt.StoppedT = 0
	rt.Recommendation = Recommendation{}
}

// toPbPosition 转换为protobuf位置
func (rt *runtime) toPbPosition() *geov2.Position {
	position := &geov2.Position{}
	if rt.Lane != nil {
		xyz := rt.Lane.GetPositionByS(rt.S)
		z := xyz.Z
		position.XyPosition = &geov2.XYPosition{X: xyz.X, Y: xyz.Y, Z: &z}
		position.LanePosition = &geov2.LanePosition{LaneId: rt.Lane.ID(), S: rt.S}
	}
	return position
}
