package vehicle

import (
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
)

// Action 车辆一步的控制动作
type Action struct {
	A        float64      // 加速度（米/秒²）
	LCTarget entity.ILane // 变道目标车道
	Level    Level        // 变道建议等级
	Reason   string       // 决定加速度的策略，用于调试
}

// Update 采用取最小的方式合并加速度，变道目标只允许一个
func (a *Action) Update(others ...Action) {
	for _, o := range others {
		if o.A < a.A {
			a.A = o.A
			a.Reason = o.Reason
		}
		if o.LCTarget != nil {
			if a.LCTarget != nil {
				log.Error("start lane change conflict")
			}
			a.LCTarget = o.LCTarget
			a.Level = o.Level
		}
	}
}
