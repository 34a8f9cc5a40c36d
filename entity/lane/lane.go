package lane

import (
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"git.fiblab.net/general/common/v2/geometry"
	"git.fiblab.net/general/common/v2/mathutil"
	geov2 "git.fiblab.net/sim/protos/v2/go/city/geo/v2"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/paulmach/orb"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
)

// Lane 车道实体
// 功能：车道的静态拓扑与几何、路口构建写入的标注、车辆/行人链表与每步的实时统计
type Lane struct {
	ctx     entity.ITaskContext
	manager *LaneManager

	index entity.LaneIndex
	id    int32

	// 初始化临时变量

	initPredecessors []*mapv2.LaneConnection
	initSuccessors   []*mapv2.LaneConnection
	initLeftLaneIDs  []int32
	initRightLaneIDs []int32
	initOverlaps     []*mapv2.LaneOverlap

	typ      mapv2.LaneType
	turn     mapv2.LaneTurn
	maxV     float64
	width    float64
	parentID int32
	junction int32 // 所在路口ID，不在路口内时为-1
	tags     entity.LaneTag

	links             []entity.Link
	predecessors      []entity.ILane
	successors        []entity.ILane
	sideLanes         [2][]entity.ILane // 左/右侧车道（按距离从近到远排序）
	overlapLanes      []entity.ILane    // 地图给出的交叠车道
	transverse        bool              // 本应属于汇入/分出组但有横向相邻车道
	conflictLanes     []entity.ILane
	crossedCrosswalks []entity.ILane

	line           []geometry.Point
	lineLengths    []float64
	lineDirections []geometry.PolylineDirection
	length         float64
	bound          orb.Bound

	// 路口构建写入的标注
	annotated  bool
	junctionID int32
	sign       entity.SignType
	lightIndex int32

	pedestrians laneList[entity.IPedestrian, struct{}]
	vehicles    laneList[entity.IVehicle, struct{}]

	stats           laneStats
	laneChangingOff atomic.Int32 // 其他车道在prepare2中累加

	lightState              mapv2.LightState
	lightStateTotalTime     float64
	lightStateRemainingTime float64
}

// newLane 创建车道
// 参数：ctx-任务上下文，base-车道数据，junctionID-所在路口ID（不在路口内时为-1）
// 说明：中心线少于2个点的车道无法计算几何，直接panic
func newLane(ctx entity.ITaskContext, base *mapv2.Lane, junctionID int32) *Lane {
	l := &Lane{
		ctx:                     ctx,
		id:                      base.Id,
		initPredecessors:        base.Predecessors,
		initSuccessors:          base.Successors,
		initLeftLaneIDs:         base.LeftLaneIds,
		initRightLaneIDs:        base.RightLaneIds,
		initOverlaps:            base.Overlaps,
		typ:                     base.Type,
		turn:                    base.Turn,
		maxV:                    base.MaxSpeed,
		width:                   base.Width,
		parentID:                base.ParentId,
		junction:                junctionID,
		junctionID:              -1,
		lightIndex:              entity.NoLight,
		lightState:              mapv2.LightState_LIGHT_STATE_GREEN,
		lightStateTotalTime:     mathutil.INF,
		lightStateRemainingTime: mathutil.INF,
	}
	nodes := base.GetCenterLine().GetNodes()
	if len(nodes) < 2 {
		log.Panicf("lane %d has less than 2 center line nodes", l.id)
	}
	l.line = lo.Map(nodes, func(node *geov2.XYPosition, _ int) geometry.Point {
		return geometry.NewPointFromPb(node)
	})
	l.lineLengths = geometry.GetPolylineLengths2D(l.line)
	l.length = l.lineLengths[len(l.lineLengths)-1]
	l.lineDirections = geometry.GetPolylineDirections(l.line)
	l.bound = orb.Bound{Min: toOrb(l.line[0]), Max: toOrb(l.line[0])}
	for _, p := range l.line[1:] {
		l.bound = l.bound.Extend(toOrb(p))
	}

	lc := ctx.RuntimeConfig().T.Lane
	switch l.typ {
	case mapv2.LaneType_LANE_TYPE_DRIVING:
		l.tags |= entity.TagVehicle
		if l.maxV >= lc.TrunkSpeed {
			l.tags |= entity.TagTrunk
		}
		if l.maxV >= lc.FreewaySpeed {
			l.tags |= entity.TagFreeway
		}
	case mapv2.LaneType_LANE_TYPE_WALKING:
		l.tags |= entity.TagPedestrian
	case mapv2.LaneType_LANE_TYPE_RAIL_TRANSIT:
	default:
		log.Panicf("bad type %v for lane %d", l.typ, l.id)
	}
	if junctionID >= 0 {
		l.tags |= entity.TagIntersection
		if l.typ == mapv2.LaneType_LANE_TYPE_WALKING {
			l.tags |= entity.TagCrosswalk
		}
	}
	l.vehicles = newLaneList[entity.IVehicle, struct{}](fmt.Sprintf("lane %d vehicles", l.id))
	l.pedestrians = newLaneList[entity.IPedestrian, struct{}](fmt.Sprintf("lane %d pedestrians", l.id))
	return l
}

// initWithManager 建立前驱、后继、侧车道与交叠关系
func (l *Lane) initWithManager(m *LaneManager) {
	l.manager = m
	for _, conn := range l.initPredecessors {
		lane := m.Get(conn.Id)
		l.predecessors = append(l.predecessors, lane)
		l.links = append(l.links, entity.Link{Type: entity.LinkIncoming, Lane: lane})
	}
	for _, conn := range l.initSuccessors {
		lane := m.Get(conn.Id)
		l.successors = append(l.successors, lane)
		l.links = append(l.links, entity.Link{Type: entity.LinkOutgoing, Lane: lane})
	}
	for _, id := range l.initLeftLaneIDs {
		l.sideLanes[entity.LEFT] = append(l.sideLanes[entity.LEFT], m.Get(id))
	}
	for _, id := range l.initRightLaneIDs {
		l.sideLanes[entity.RIGHT] = append(l.sideLanes[entity.RIGHT], m.Get(id))
	}
	if left := l.LeftLane(); left != nil {
		l.links = append(l.links, entity.Link{Type: entity.LinkAdjacent, Flags: entity.LinkLeft, Lane: left})
	}
	if right := l.RightLane(); right != nil {
		l.links = append(l.links, entity.Link{Type: entity.LinkAdjacent, Flags: entity.LinkRight, Lane: right})
	}
	for _, overlap := range l.initOverlaps {
		other := m.Get(overlap.Other.LaneId)
		if !lo.Contains(l.overlapLanes, other) {
			l.overlapLanes = append(l.overlapLanes, other)
		}
	}
	l.initPredecessors = nil
	l.initSuccessors = nil
	l.initLeftLaneIDs = nil
	l.initRightLaneIDs = nil
	l.initOverlaps = nil
}

func toOrb(p geometry.Point) orb.Point {
	return orb.Point{p.X, p.Y}
}

func unit(direction float64) orb.Point {
	return orb.Point{math.Cos(direction), math.Sin(direction)}
}

// 静态数据

func (l *Lane) String() string {
	return fmt.Sprintf("Lane %d", l.id)
}

func (l *Lane) Index() entity.LaneIndex {
	return l.index
}

// 获取Lane ID
func (l *Lane) ID() int32 {
	if l == nil {
		return -1
	}
	return l.id
}

func (l *Lane) Length() float64 {
	return l.length
}

func (l *Lane) Width() float64 {
	return l.width
}

func (l *Lane) Type() mapv2.LaneType {
	return l.typ
}

func (l *Lane) Turn() mapv2.LaneTurn {
	return l.turn
}

func (l *Lane) MaxV() float64 {
	return l.maxV
}

// 获取Lane的父对象(road/junction)的ID
func (l *Lane) ParentID() int32 {
	return l.parentID
}

func (l *Lane) Tags() entity.LaneTag {
	return l.tags
}

func (l *Lane) IsIntersection() bool {
	return l.tags.Has(entity.TagIntersection)
}

func (l *Lane) IsCrosswalk() bool {
	return l.tags.Has(entity.TagCrosswalk)
}

func (l *Lane) IsTrunk() bool {
	return l.tags.Has(entity.TagTrunk)
}

// TurnsLeft 左转或掉头
func (l *Lane) TurnsLeft() bool {
	return l.turn == mapv2.LaneTurn_LANE_TURN_LEFT || l.turn == mapv2.LaneTurn_LANE_TURN_AROUND
}

func (l *Lane) TurnsRight() bool {
	return l.turn == mapv2.LaneTurn_LANE_TURN_RIGHT
}

// 检查是否是人行道
func (l *Lane) IsWalkLane() bool {
	return l.typ == mapv2.LaneType_LANE_TYPE_WALKING
}

// 拓扑

func (l *Lane) Links() []entity.Link {
	return l.links
}

// LinkedLanes 按连接类型筛选车道
// 参数：typ-连接类型，include-必须含有的标记，exclude-不能含有的标记
func (l *Lane) LinkedLanes(typ entity.LinkType, include, exclude entity.LinkFlag) []entity.ILane {
	res := make([]entity.ILane, 0, 2)
	for _, link := range l.links {
		if link.Type == typ && link.Flags&include == include && link.Flags&exclude == 0 {
			res = append(res, link.Lane)
		}
	}
	return res
}

// FirstLinkedLane 第一条满足条件的连接车道，无则为nil
func (l *Lane) FirstLinkedLane(typ entity.LinkType, include, exclude entity.LinkFlag) entity.ILane {
	for _, link := range l.links {
		if link.Type == typ && link.Flags&include == include && link.Flags&exclude == 0 {
			return link.Lane
		}
	}
	return nil
}

func (l *Lane) Successors() []entity.ILane {
	return l.successors
}

func (l *Lane) Predecessors() []entity.ILane {
	return l.predecessors
}

func (l *Lane) LeftLane() entity.ILane {
	return l.NeighborLane(entity.LEFT)
}

func (l *Lane) RightLane() entity.ILane {
	return l.NeighborLane(entity.RIGHT)
}

// 根据side获取左(side=0)/右(side=1)侧的Lane
func (l *Lane) NeighborLane(side int) entity.ILane {
	if len(l.sideLanes[side]) == 0 {
		return nil
	}
	return l.sideLanes[side][0]
}

func (l *Lane) MergingLanes() []entity.ILane {
	return l.LinkedLanes(entity.LinkAdjacent, entity.LinkMerging, 0)
}

func (l *Lane) SplittingLanes() []entity.ILane {
	return l.LinkedLanes(entity.LinkAdjacent, entity.LinkSplitting, 0)
}

func (l *Lane) HasTransverseLaneAdjacency() bool {
	return l.transverse
}

func (l *Lane) ConflictLanes() []entity.ILane {
	return l.conflictLanes
}

func (l *Lane) CrossedCrosswalks() []entity.ILane {
	return l.crossedCrosswalks
}

// 几何

func (l *Lane) Line() []geometry.Point {
	return l.line
}

func (l *Lane) StartPoint() orb.Point {
	return toOrb(l.line[0])
}

func (l *Lane) EndPoint() orb.Point {
	return toOrb(l.line[len(l.line)-1])
}

// Midpoint 按长度计算的中点
func (l *Lane) Midpoint() orb.Point {
	return toOrb(l.GetPositionByS(l.length / 2))
}

func (l *Lane) StartDirection() orb.Point {
	return unit(l.lineDirections[0].Direction)
}

func (l *Lane) EndDirection() orb.Point {
	return unit(l.lineDirections[len(l.lineDirections)-1].Direction)
}

func (l *Lane) Bound() orb.Bound {
	return l.bound
}

// 根据本车道s坐标计算切向角度
func (l *Lane) GetDirectionByS(s float64) (direction geometry.PolylineDirection) {
	s = lo.Clamp(s, l.lineLengths[0], l.lineLengths[len(l.lineLengths)-1])
	if i := sort.SearchFloat64s(l.lineLengths, s); i == 0 {
		direction = l.lineDirections[0]
	} else {
		direction = l.lineDirections[i-1]
	}
	return
}

// 将当前车道s坐标转换为xy(z)坐标，越界时截断
func (l *Lane) GetPositionByS(s float64) (pos geometry.Point) {
	s = lo.Clamp(s, l.lineLengths[0], l.lineLengths[len(l.lineLengths)-1])
	if i := sort.SearchFloat64s(l.lineLengths, s); i == 0 {
		pos = l.line[0]
	} else {
		sHigh, sLow := l.lineLengths[i], l.lineLengths[i-1]
		k := (s - sLow) / (sHigh - sLow)
		pos = geometry.Blend(l.line[i-1], l.line[i], k)
	}
	return
}

// GetOffsetPositionByS 沿行进方向向右平移offset（负数向左）
func (l *Lane) GetOffsetPositionByS(s, offset float64) (pos geometry.Point) {
	originalPos := l.GetPositionByS(s)
	direction := l.GetDirectionByS(s)
	unitNormal := geometry.Point{X: math.Cos(direction.Direction - math.Pi/2), Y: math.Sin(direction.Direction - math.Pi/2)}
	return geometry.Point{X: originalPos.X + unitNormal.X*offset, Y: originalPos.Y + unitNormal.Y*offset, Z: originalPos.Z}
}

// 将xyz坐标投影到车道折线上，计算出对应的s坐标
func (l *Lane) ProjectToLane(pos geometry.Point) float64 {
	s := geometry.GetClosestPolylineSToPoint2D(l.line, l.lineLengths, pos)
	return lo.Clamp(s, 0, l.length)
}

// ProjectFromLane 按长度比例将other上的otherS换算到本车道
func (l *Lane) ProjectFromLane(other entity.ILane, otherS float64) float64 {
	return lo.Clamp(otherS/other.Length()*l.length, 0, l.length)
}

// 标注

// AnnotateIntersection 标记车道属于路口junctionID的一条进口边，sign为该进口边的标志
func (l *Lane) AnnotateIntersection(junctionID int32, sign entity.SignType) {
	l.annotated = true
	l.junctionID = junctionID
	l.sign = sign
}

// AnnotateTrafficLight 标记控制车道的信号灯
func (l *Lane) AnnotateTrafficLight(lightIndex int32) {
	l.lightIndex = lightIndex
}

func (l *Lane) IntersectionSign() (entity.SignType, bool) {
	return l.sign, l.annotated
}

func (l *Lane) TrafficLightIndex() int32 {
	return l.lightIndex
}

func (l *Lane) IsTrafficLightControlled() bool {
	return l.lightIndex != entity.NoLight
}

// 信号灯

func (l *Lane) Light() (mapv2.LightState, float64, float64) {
	return l.lightState, l.lightStateTotalTime, l.lightStateRemainingTime
}

// SetLight 由路口在Prepare阶段写入
func (l *Lane) SetLight(state mapv2.LightState, totalTime float64, remainingTime float64) {
	l.lightState = state
	l.lightStateTotalTime = totalTime
	l.lightStateRemainingTime = remainingTime
}

// IsOpen 是否为绿灯（不受控的车道始终为绿灯）
func (l *Lane) IsOpen() bool {
	return l.lightState == mapv2.LightState_LIGHT_STATE_GREEN
}

// 人车链表

func (l *Lane) Vehicles() *entity.VehicleList {
	return l.vehicles.list
}

func (l *Lane) Pedestrians() *entity.PedestrianList {
	return l.pedestrians.list
}

// 向Lane链表中添加行人（Prepare后生效）
func (l *Lane) AddPedestrian(node *entity.PedestrianNode) {
	l.pedestrians.add(node)
}

// 从Lane链表中移除行人（Prepare后生效）
func (l *Lane) RemovePedestrian(node *entity.PedestrianNode) {
	l.pedestrians.remove(node)
}

// 向Lane链表中添加车辆（Prepare后生效）
func (l *Lane) AddVehicle(node *entity.VehicleNode) {
	l.vehicles.add(node)
}

// 从Lane链表中移除车辆（Prepare后生效）
func (l *Lane) RemoveVehicle(node *entity.VehicleNode) {
	l.vehicles.remove(node)
}
