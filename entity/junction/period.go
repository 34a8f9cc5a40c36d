package junction

import (
	"strings"

	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
)

// LightFlags 一个相位内信号灯显示的通行许可
type LightFlags uint8

const (
	VehicleGo              LightFlags = 1 << iota // 车辆通行
	VehicleGoProtectedLeft                        // 保护左转
	PedestrianGo                                  // 行人通行
)

func (f LightFlags) String() string {
	var names []string
	if f&VehicleGo != 0 {
		names = append(names, "vehicle_go")
	}
	if f&VehicleGoProtectedLeft != 0 {
		names = append(names, "protected_left")
	}
	if f&PedestrianGo != 0 {
		names = append(names, "pedestrian_go")
	}
	return strings.Join(names, "|")
}

// LightControl 相位内一个信号灯的状态
type LightControl struct {
	Light int32
	Flags LightFlags
	// 该灯控制的车辆车道在下一相位是否全部关闭
	AllVehicleLanesCloseNext bool
}

// indexSet 保持插入顺序的车道下标集合
type indexSet struct {
	items []entity.LaneIndex
	seen  map[entity.LaneIndex]struct{}
}

func (s *indexSet) add(lanes ...entity.ILane) {
	if s.seen == nil {
		s.seen = make(map[entity.LaneIndex]struct{})
	}
	for _, l := range lanes {
		if _, ok := s.seen[l.Index()]; ok {
			continue
		}
		s.seen[l.Index()] = struct{}{}
		s.items = append(s.items, l.Index())
	}
}

func (s *indexSet) has(idx entity.LaneIndex) bool {
	_, ok := s.seen[idx]
	return ok
}

// Period 路口信控的一个相位
type Period struct {
	Duration float64 // 时长（秒）

	vehicleLanes indexSet // 放行的车辆车道
	crosswalks   indexSet // 放行的人行横道
	waitingLanes indexSet // 放行的行人等待区

	Lights []LightControl

	// 本相位放行、下一相位不再放行的车辆车道
	ClosedInNextPeriod []entity.LaneIndex
}

func newPeriod(duration float64) *Period {
	return &Period{Duration: duration}
}

func (p *Period) VehicleLanes() []entity.LaneIndex {
	return p.vehicleLanes.items
}

func (p *Period) Crosswalks() []entity.LaneIndex {
	return p.crosswalks.items
}

func (p *Period) WaitingLanes() []entity.LaneIndex {
	return p.waitingLanes.items
}

// HasVehicleLane 本相位是否放行车辆车道idx
func (p *Period) HasVehicleLane(idx entity.LaneIndex) bool {
	return p.vehicleLanes.has(idx)
}

// Opens 本相位是否放行车道idx（车辆车道、人行横道或行人等待区）
func (p *Period) Opens(idx entity.LaneIndex) bool {
	return p.vehicleLanes.has(idx) || p.crosswalks.has(idx) || p.waitingLanes.has(idx)
}

func (p *Period) addVehicleLanes(lanes []entity.ILane) {
	p.vehicleLanes.add(lanes...)
}

// addCrosswalks 放行人行横道及其等待区
func (p *Period) addCrosswalks(crosswalks, waiting *laneSet) {
	p.crosswalks.add(crosswalks.Lanes()...)
	p.waitingLanes.add(waiting.Lanes()...)
}

func (p *Period) addSideCrosswalks(s *Side) {
	p.addCrosswalks(&s.Crosswalks, &s.WaitingLanes)
}

// AddLight 设置信号灯在本相位的显示，无信号灯时忽略
// 返回：同一信号灯重复加入时返回false
func (p *Period) AddLight(light int32, flags LightFlags) bool {
	if light == entity.NoLight {
		return true
	}
	for _, c := range p.Lights {
		if c.Light == light {
			log.Errorf("light %d is already controlled in this period", light)
			return false
		}
	}
	p.Lights = append(p.Lights, LightControl{Light: light, Flags: flags, AllVehicleLanesCloseNext: true})
	return true
}

func (p *Period) control(light int32) *LightControl {
	for i := range p.Lights {
		if p.Lights[i].Light == light {
			return &p.Lights[i]
		}
	}
	return nil
}

// laneLights 车辆车道 -> 控制该车道的信号灯
type laneLights map[entity.LaneIndex]int32

func (m laneLights) set(lanes []entity.ILane, light int32) {
	if light == entity.NoLight {
		return
	}
	for _, l := range lanes {
		if old, ok := m[l.Index()]; ok && old != light {
			log.Warnf("lane %v is controlled by light %d and %d, keep %d", l, old, light, old)
			continue
		}
		m[l.Index()] = light
	}
}

// finalize 根据下一相位补全各相位的关闭信息
// 说明：下一相位仍放行的车道使其信号灯的AllVehicleLanesCloseNext为false，否则记入ClosedInNextPeriod
func finalize(periods []*Period, lights laneLights) {
	for i, p := range periods {
		next := periods[(i+1)%len(periods)]
		p.ClosedInNextPeriod = p.ClosedInNextPeriod[:0]
		for _, idx := range p.VehicleLanes() {
			if !next.HasVehicleLane(idx) {
				p.ClosedInNextPeriod = append(p.ClosedInNextPeriod, idx)
				continue
			}
			if light, ok := lights[idx]; ok {
				if c := p.control(light); c != nil {
					c.AllVehicleLanesCloseNext = false
				}
			}
		}
	}
}
