package vehicle

import (
	"math"

	"git.fiblab.net/general/common/v2/mathutil"
	"github.com/samber/lo"
)

const (
	idmTheta = 4 // IDM模型中速度项的指数
)

// model 车辆纵向运动模型参数
type model struct {
	usualBrakingA float64 // 常用制动加速度（负数）
	maxBrakingA   float64 // 最大制动加速度（负数）
	maxA          float64 // 最大加速度
	maxV          float64 // 最大速度
	minGap        float64 // 最小车距
	headway       float64 // 安全车头时距
}

// followImpl 跟车模型核心实现
// 功能：实现智能驾驶模型(IDM)的跟车逻辑
// 参数：selfV-本车速度，targetV-目标速度，aheadV-前车速度，distance-车距，minGap-最小车距，headway-安全车头时距
// 返回：计算得到的加速度（米/秒²）
// 算法说明：
// 1. 距离小于等于0时视为已经碰撞，紧急制动
// 2. 期望车距：s_star = minGap + max(0, v*headway + v*(v-v_ahead)/(2*sqrt(a*b)))
// 3. 加速度：a = maxA * (1 - (v/targetV)^4 - (s_star/distance)^2)
// 4. 限制在制动和加速范围内
func (m *model) followImpl(
	selfV, targetV, aheadV, distance, minGap, headway float64,
) float64 {
	var acc float64
	if distance <= 0 {
		acc = -mathutil.INF
	} else {
		// https://en.wikipedia.org/wiki/Intelligent_driver_model
		sStar := minGap + math.Max(
			0,
			selfV*headway+selfV*(selfV-aheadV)/2/math.Sqrt(-m.usualBrakingA*m.maxA),
		)
		acc = m.maxA * (1 - math.Pow(selfV/targetV, idmTheta) - math.Pow(sStar/distance, 2))
	}
	return lo.Clamp(acc, m.maxBrakingA, m.maxA)
}

// follow 以车道限速与车辆最大速度中的较小值为目标速度跟随前车
func (m *model) follow(selfV, aheadV, distance, laneMaxV float64) float64 {
	return m.followImpl(selfV, math.Min(m.maxV, laneMaxV), aheadV, distance, m.minGap, m.headway)
}

// free 前方无障碍时的加速度
func (m *model) free(selfV, laneMaxV float64) float64 {
	return m.follow(selfV, 0, mathutil.INF, laneMaxV)
}

// stop 在指定距离内刹停
// 说明：停车只需预判dt时间，不按跟车的headway计算
func (m *model) stop(selfV, distance, laneMaxV, dt float64) float64 {
	return m.followImpl(selfV, math.Min(m.maxV, laneMaxV), 0, distance, 0, dt)
}

// computeVAndDistance 计算本时刻的速度与移动距离
// v(t)=v(t-1)+acc*dt, ds=v(t-1)*dt+acc*dt*dt/2
func computeVAndDistance(v, a, dt float64) (float64, float64) {
	dv := a * dt
	if v+dv < 0 {
		// 刹车到停止
		return 0, v * v / 2 / -a
	}
	return v + dv, (v + dv/2) * dt
}
