package junction

import (
	"github.com/paulmach/orb"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/config"
)

// laneSet 保持插入顺序、按车道下标去重的车道集合
type laneSet struct {
	lanes []entity.ILane
	seen  map[entity.LaneIndex]struct{}
}

func (s *laneSet) Add(l entity.ILane) bool {
	if s.seen == nil {
		s.seen = make(map[entity.LaneIndex]struct{})
	}
	if _, ok := s.seen[l.Index()]; ok {
		return false
	}
	s.seen[l.Index()] = struct{}{}
	s.lanes = append(s.lanes, l)
	return true
}

func (s *laneSet) AddAll(lanes []entity.ILane) {
	for _, l := range lanes {
		s.Add(l)
	}
}

func (s *laneSet) Has(l entity.ILane) bool {
	_, ok := s.seen[l.Index()]
	return ok
}

func (s *laneSet) Lanes() []entity.ILane {
	return s.lanes
}

func (s *laneSet) Len() int {
	return len(s.lanes)
}

// SideLane 进口边上的一条车辆车道及其控制点
type SideLane struct {
	Lane      entity.ILane
	Distance  float64   // 控制点（停车线）沿车道的距离
	Location  orb.Point // 控制点位置
	Direction orb.Point // 控制点处的单位切向
}

// Side 路口的一条进口边
// 说明：车道按发现顺序保存，Build后Midpoint与Direction有效
type Side struct {
	lanes   []SideLane
	laneSet laneSet

	Crosswalks   laneSet // 跨越该进口边的人行横道
	WaitingLanes laneSet // 通往上述人行横道的人行道（行人等待区）

	Midpoint    orb.Point // 各车道控制点的平均位置
	Direction   orb.Point // 驶入路口的单位方向
	FromFreeway bool      // 是否有来自快速路（主干道）的驶入车道

	Sign       entity.SignType // 进口边标志
	LightIndex int32           // 控制该进口边的路口内信号灯编号，无则为entity.NoLight
}

func newSide() *Side {
	return &Side{LightIndex: entity.NoLight}
}

// AddLane 加入车辆车道，已存在时忽略
func (s *Side) AddLane(l entity.ILane, distance float64, location, direction orb.Point) {
	if s.laneSet.Add(l) {
		s.lanes = append(s.lanes, SideLane{Lane: l, Distance: distance, Location: location, Direction: direction})
	}
}

// addEntrance 以车道起点为控制点加入车道
func (s *Side) addEntrance(l entity.ILane) {
	s.AddLane(l, 0, l.StartPoint(), l.StartDirection())
}

func (s *Side) Lanes() []SideLane {
	return s.lanes
}

// VehicleLanes 进口边上的全部车辆车道
func (s *Side) VehicleLanes() []entity.ILane {
	return lo.Map(s.lanes, func(sl SideLane, _ int) entity.ILane { return sl.Lane })
}

func (s *Side) HasLane(l entity.ILane) bool {
	return s.laneSet.Has(l)
}

// HiddenHints 只有驶出车道、没有对应进口边的方向（隐藏出口边）
type HiddenHints struct {
	Points     []orb.Point // 驶出车道终点
	Directions []orb.Point // 驶出车道终点处切向的反方向

	Crosswalks   laneSet
	WaitingLanes laneSet
}

// Light 分配给路口的信号灯
type Light struct {
	Instance  int       // 信控设施中的信号灯实例下标
	TypeIndex int       // 信号灯型号下标
	Position  orb.Point // 安装位置
}

// Detail 一个路口的构建结果
// 说明：Build之后Sides按顺时针排列且不再变化，各谓词均由Sides派生
type Detail struct {
	JunctionID int32
	Sides      []*Side
	Center     orb.Point
	Clockwise  bool

	HasTrafficLights bool
	IsRoadCrosswalk  bool
	Hidden           HiddenHints
	Lights           []Light

	cfg config.Intersection
}

func newDetail(junctionID int32, cfg config.Intersection) *Detail {
	return &Detail{JunctionID: junctionID, cfg: cfg}
}

func (d *Detail) addSide() *Side {
	s := newSide()
	d.Sides = append(d.Sides, s)
	return s
}

// IsMostlySquare 四条进口边且相邻进口方向近似垂直
func (d *Detail) IsMostlySquare() bool {
	if len(d.Sides) != 4 || !d.Clockwise {
		return false
	}
	threshold := cosDeg(d.cfg.SquareAngleDeg)
	for i, s := range d.Sides {
		next := d.Sides[(i+1)%4]
		if v := vec(s.Direction).Dot(vec(next.Direction)); v > threshold || v < -threshold {
			return false
		}
	}
	return true
}

func (d *Detail) HasHiddenSides() bool {
	return len(d.Hidden.Points) > 0
}

func (d *Detail) HasSideWithInboundLanesFromFreeway() bool {
	return lo.SomeBy(d.Sides, func(s *Side) bool { return s.FromFreeway })
}

// IsAllWayStop 无信号灯且每条进口边都是停车让行
func (d *Detail) IsAllWayStop() bool {
	if d.HasTrafficLights || len(d.Sides) == 0 {
		return false
	}
	return lo.EveryBy(d.Sides, func(s *Side) bool { return s.Sign == entity.SignStop })
}

// CrosswalkCount 全部进口边上的人行横道数
func (d *Detail) CrosswalkCount() int {
	return lo.SumBy(d.Sides, func(s *Side) int { return s.Crosswalks.Len() })
}

// ConnectingLanes 从进口边from驶向进口边to所在道路的车辆车道
// 说明：车道终点相对to中点的方向与to驶入方向的夹角不小于连接角阈值时认为到达to，
// 下标越界时返回空
func (d *Detail) ConnectingLanes(from, to int) []entity.ILane {
	if from < 0 || from >= len(d.Sides) || to < 0 || to >= len(d.Sides) {
		return nil
	}
	end := d.Sides[to]
	threshold := cosDeg(d.cfg.ConnectionAngleDeg)
	var lanes []entity.ILane
	for _, sl := range d.Sides[from].lanes {
		dir := vec(sl.Lane.EndPoint()).Sub(vec(end.Midpoint)).Normalize()
		if vec(end.Direction).Dot(dir) <= threshold {
			lanes = append(lanes, sl.Lane)
		}
	}
	return lanes
}
