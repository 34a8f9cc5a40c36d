package vehicle

import (
	"math"

	"git.fiblab.net/general/common/v2/mathutil"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/config"
)

// window 驶入与驶出冲突区域的时间（秒），无法到达时为INF
type window struct {
	enter, exit float64
}

// distances 驶入与驶出冲突区域的距离
type distances struct {
	enter, exit float64
}

// byV 按匀速计算时间窗
func (d distances) byV(v float64) window {
	if v <= 0 {
		return window{mathutil.INF, mathutil.INF}
	}
	return window{d.enter / v, d.exit / v}
}

// byA 按从静止以加速度a起步估计时间窗，已经越过的距离得到负的时间
func (d distances) byA(a float64) window {
	t := func(x float64) float64 {
		if a <= 0 {
			return mathutil.INF
		}
		return math.Copysign(math.Sqrt(math.Abs(2*x/a)), x)
	}
	return window{t(d.enter), t(d.exit)}
}

// conflicts 两个时间窗在缓冲时间内是否重叠
// 说明：任一方已经驶出或无法到达时不冲突
func (w window) conflicts(o window, buffer float64) bool {
	if w.exit < 0 || o.exit < 0 {
		return false
	}
	if w.enter >= mathutil.INF || o.enter >= mathutil.INF {
		return false
	}
	return w.enter <= o.exit+buffer && o.enter <= w.exit+buffer
}

// intersectionDistances 车辆驶入与驶出路口车道的距离
// 参数：cur-车辆所在车道，center-车辆中心位置，r-车辆半长，intersection-路口车道（cur本身或其后继）
func intersectionDistances(cur entity.ILane, center, r float64, intersection entity.ILane) distances {
	var toLane float64
	if cur != intersection {
		toLane = cur.Length() - center
	} else {
		toLane = -center
	}
	enter := toLane - r
	return distances{enter, enter + intersection.Length() + r}
}

// crossingDistances 沿query车道行驶的实体驶入与驶出crossing车道的距离
// 参数：dq-实体中心沿query车道的位置（尚未驶入query车道时为负），r-实体半长
func crossingDistances(query, crossing entity.ILane, dq, r float64) (distances, bool) {
	enter, exit, ok := query.EnterAndExitDistances(crossing)
	if !ok {
		return distances{}, false
	}
	return distances{enter - dq - r, exit - dq + r}, true
}

// alongQuery 车辆中心沿query车道的位置，cur为query的前驱时为负
func alongQuery(cur entity.ILane, center float64, query entity.ILane) float64 {
	if cur != query {
		return -(cur.Length() - center)
	}
	return center
}

// control 路口车道的控制方式
type control uint8

const (
	controlNone  control = iota // 不受控制
	controlLight                // 信号灯
	controlStop                 // 停车让行
	controlYield                // 减速让行
)

// controlOf 判断车辆驶入路口车道lane时需要遵守的控制方式
func controlOf(lane entity.ILane) control {
	if lane == nil || !lane.IsIntersection() {
		return controlNone
	}
	if lane.IsTrafficLightControlled() {
		return controlLight
	}
	sign, ok := lane.IntersectionSign()
	if !ok {
		return controlNone
	}
	switch {
	case sign == entity.SignYield:
		return controlYield
	case sign.RequiresStop():
		return controlStop
	}
	return controlNone
}

// hasSign 路口车道进口是否有停车或减速让行标志
func hasSign(lane entity.ILane) bool {
	c := controlOf(lane)
	return c == controlStop || c == controlYield
}

// stopAt 车辆中心停在停车线前的位置
func stopAt(laneLength, r, randomFraction float64, cfg *config.Merge) float64 {
	return laneLength - r - cfg.StoppingDistanceRange.Lerp(randomFraction)
}

// nearStopLine 车辆中心是否已到达停车线附近
func nearStopLine(center, laneLength, r, randomFraction float64, cfg *config.Merge) bool {
	return center >= stopAt(laneLength, r, randomFraction, cfg)-cfg.StopLineTolerance
}

// turnFraction 按路口车道的转向取比例
func turnFraction(lane entity.ILane, f config.TurnFractions) float64 {
	switch {
	case lane.TurnsLeft():
		return f.Left
	case lane.TurnsRight():
		return f.Right
	}
	return f.Straight
}
