package junction

import (
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
)

// Program 将相位序列转换为信号灯程序
// 参数：lanes-路口内车道，顺序与程序中各相位的States一致
// 返回：每个相位对应一个Phase，相位放行的车道为绿灯，其余为红灯；任何相位都不放行的车道始终为绿灯
func (p *Plan) Program(lanes []entity.ILane) *mapv2.TrafficLight {
	if len(p.Periods) == 0 {
		return nil
	}
	controlled := make([]bool, len(lanes))
	for i, l := range lanes {
		for _, period := range p.Periods {
			if period.Opens(l.Index()) {
				controlled[i] = true
				break
			}
		}
	}
	tl := &mapv2.TrafficLight{JunctionId: p.Detail.JunctionID}
	for _, period := range p.Periods {
		states := make([]mapv2.LightState, len(lanes))
		for i, l := range lanes {
			if !controlled[i] || period.Opens(l.Index()) {
				states[i] = mapv2.LightState_LIGHT_STATE_GREEN
			} else {
				states[i] = mapv2.LightState_LIGHT_STATE_RED
			}
		}
		tl.Phases = append(tl.Phases, &mapv2.Phase{Duration: period.Duration, States: states})
	}
	return tl
}

// PhaseStates 各相位的车道信号状态，供最大压力信控选择
func (p *Plan) PhaseStates(lanes []entity.ILane) [][]mapv2.LightState {
	tl := p.Program(lanes)
	if tl == nil {
		return nil
	}
	states := make([][]mapv2.LightState, len(tl.Phases))
	for i, phase := range tl.Phases {
		states[i] = phase.States
	}
	return states
}
