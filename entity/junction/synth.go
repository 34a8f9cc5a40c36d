package junction

import (
	"math"

	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/config"
)

// synthesizer 单个路口的相位生成过程
type synthesizer struct {
	d       *Detail
	cfg     config.Intersection
	periods []*Period
	lights  laneLights
}

// Synthesize 按路口类别生成相位序列与车道信号灯映射
// 说明：不生成相位的类别返回空序列
func Synthesize(d *Detail, topology Topology) ([]*Period, map[entity.LaneIndex]int32) {
	s := &synthesizer{d: d, cfg: d.cfg, lights: make(laneLights)}
	switch topology {
	case TwoSided:
		s.twoSided()
	case Square:
		if d.HasTrafficLights {
			s.squareWithLights()
		} else {
			s.squareAllWayStop()
		}
	case TShape:
		if d.HasTrafficLights {
			s.tWithLights()
		} else {
			s.tAllWayStop()
		}
	case GeneralWithLights:
		s.general(true)
	case GeneralStopControlled:
		s.general(false)
	default:
		return nil, nil
	}
	finalize(s.periods, s.lights)
	return s.periods, s.lights
}

func (s *synthesizer) period(duration float64) *Period {
	p := newPeriod(duration)
	s.periods = append(s.periods, p)
	return p
}

// scaled 任一进口边有快速路驶入车道时延长放行时长
func (s *synthesizer) scaled(seconds float64, sides ...*Side) float64 {
	for _, side := range sides {
		if side.FromFreeway {
			return seconds * s.cfg.FreewayGoScale
		}
	}
	return seconds
}

func (s *synthesizer) side(i int) *Side {
	n := len(s.d.Sides)
	return s.d.Sides[((i%n)+n)%n]
}

// release 在相位p放行车道lanes，并记录其由进口边side的信号灯控制
func (s *synthesizer) release(p *Period, side *Side, lanes []entity.ILane) {
	p.addVehicleLanes(lanes)
	s.lights.set(lanes, side.LightIndex)
}

func (s *synthesizer) connecting(from, to int) []entity.ILane {
	n := len(s.d.Sides)
	return s.d.ConnectingLanes(((from%n)+n)%n, ((to%n)+n)%n)
}

func (s *synthesizer) twoSided() {
	a, b := s.d.Sides[0], s.d.Sides[1]
	duration := s.cfg.MinimumGoSeconds
	if s.d.HasTrafficLights {
		duration = s.scaled(s.cfg.StandardGoSeconds, a, b)
	}
	p := s.period(duration)
	s.release(p, a, a.VehicleLanes())
	s.release(p, b, b.VehicleLanes())
	p.AddLight(a.LightIndex, VehicleGo)
	p.AddLight(b.LightIndex, VehicleGo)

	p = s.period(s.cfg.CrosswalkGoSeconds)
	p.addSideCrosswalks(a)
	p.addSideCrosswalks(b)
	p.AddLight(a.LightIndex, PedestrianGo)
	p.AddLight(b.LightIndex, PedestrianGo)
}

// squareWithLights 十字路口，每条进口边依次：本边独占（保护左转），本边与对边双向通行且左右两边行人通行
func (s *synthesizer) squareWithLights() {
	for i := range s.d.Sides {
		this, left, opposite, right := s.side(i), s.side(i+1), s.side(i+2), s.side(i+3)

		p := s.period(s.scaled(s.cfg.UnidirectionalGoSeconds, this))
		s.release(p, this, this.VehicleLanes())
		p.AddLight(this.LightIndex, VehicleGo|VehicleGoProtectedLeft)

		p = s.period(s.cfg.StandardGoSeconds)
		s.release(p, this, s.connecting(i, i+2))
		s.release(p, this, s.connecting(i, i+3))
		s.release(p, opposite, s.connecting(i+2, i))
		s.release(p, opposite, s.connecting(i+2, i+1))
		p.addSideCrosswalks(left)
		p.addSideCrosswalks(right)
		p.AddLight(this.LightIndex, VehicleGo|PedestrianGo)
		p.AddLight(opposite.LightIndex, VehicleGo|PedestrianGo)
	}
}

// squareAllWayStop 全向停车的十字路口，每条进口边三个最短相位，行人通行交替出现
func (s *synthesizer) squareAllWayStop() {
	for i := range s.d.Sides {
		this, left, opposite, right := s.side(i), s.side(i+1), s.side(i+2), s.side(i+3)

		p := s.period(s.cfg.MinimumGoSeconds)
		s.release(p, this, this.VehicleLanes())

		p = s.period(s.cfg.MinimumGoSeconds)
		s.release(p, left, s.connecting(i+1, i+3))
		s.release(p, left, s.connecting(i+1, i))
		s.release(p, right, s.connecting(i+3, i+1))
		s.release(p, right, s.connecting(i+3, i+2))
		p.addSideCrosswalks(this)
		p.addSideCrosswalks(opposite)

		p = s.period(s.cfg.MinimumGoSeconds)
		s.release(p, this, s.connecting(i, i+2))
		s.release(p, this, s.connecting(i, i+3))
		s.release(p, opposite, s.connecting(i+2, i))
		s.release(p, opposite, s.connecting(i+2, i+1))
		p.addSideCrosswalks(left)
		p.addSideCrosswalks(right)
	}
}

// tBase 丁字路口的底边：另外两条进口边的驶入方向最接近相反
func (s *synthesizer) tBase() int {
	base, best := 0, math.Inf(1)
	for i := range s.d.Sides {
		if v := vec(s.side(i+1).Direction).Dot(vec(s.side(i+2).Direction)); v < best {
			base, best = i, v
		}
	}
	return base
}

func (s *synthesizer) tWithLights() {
	b := s.tBase()
	base, left, right := s.side(b), s.side(b+1), s.side(b+2)
	rightToOpposite := s.connecting(b+2, b+1)

	p := s.period(s.cfg.CrosswalkHeadStartSeconds)
	p.addSideCrosswalks(left)
	p.addSideCrosswalks(right)
	p.AddLight(base.LightIndex, PedestrianGo)

	p = s.period(s.cfg.StandardGoSeconds)
	s.release(p, base, base.VehicleLanes())
	p.addSideCrosswalks(left)
	p.addSideCrosswalks(right)
	p.AddLight(base.LightIndex, VehicleGo|PedestrianGo)

	p = s.period(s.cfg.CrosswalkHeadStartSeconds)
	p.addSideCrosswalks(base)
	p.AddLight(left.LightIndex, PedestrianGo)
	p.AddLight(right.LightIndex, PedestrianGo)

	p = s.period(s.cfg.UnidirectionalGoSeconds)
	s.release(p, right, right.VehicleLanes())
	p.addSideCrosswalks(base)
	p.AddLight(left.LightIndex, PedestrianGo)
	p.AddLight(right.LightIndex, VehicleGo|VehicleGoProtectedLeft|PedestrianGo)

	p = s.period(s.cfg.StandardGoSeconds)
	s.release(p, left, left.VehicleLanes())
	s.release(p, right, rightToOpposite)
	p.addSideCrosswalks(base)
	p.AddLight(left.LightIndex, VehicleGo|PedestrianGo)
	p.AddLight(right.LightIndex, VehicleGo|PedestrianGo)
}

func (s *synthesizer) tAllWayStop() {
	b := s.tBase()
	base, left, right := s.side(b), s.side(b+1), s.side(b+2)

	p := s.period(s.cfg.MinimumGoSeconds)
	s.release(p, base, base.VehicleLanes())
	p.addSideCrosswalks(left)
	p.addSideCrosswalks(right)

	p = s.period(s.cfg.MinimumGoSeconds)
	s.release(p, right, right.VehicleLanes())
	p.addSideCrosswalks(base)

	p = s.period(s.cfg.MinimumGoSeconds)
	s.release(p, left, left.VehicleLanes())
	s.release(p, right, s.connecting(b+2, b+1))
	p.addSideCrosswalks(base)
}

// general 每条进口边一个车辆相位，最后一个相位放行全部人行横道（含隐藏出口边的人行横道）
func (s *synthesizer) general(withLights bool) {
	for _, side := range s.d.Sides {
		duration := s.cfg.MinimumGoSeconds
		if withLights {
			duration = s.scaled(s.cfg.StandardGoSeconds, side)
		}
		p := s.period(duration)
		s.release(p, side, side.VehicleLanes())
		p.AddLight(side.LightIndex, VehicleGo)
	}

	p := s.period(s.cfg.CrosswalkGoSeconds)
	for _, side := range s.d.Sides {
		p.addSideCrosswalks(side)
	}
	p.addCrosswalks(&s.d.Hidden.Crosswalks, &s.d.Hidden.WaitingLanes)
	for _, side := range s.d.Sides {
		p.AddLight(side.LightIndex, PedestrianGo)
	}
}
