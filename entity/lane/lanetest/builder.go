// 测试用地图构建工具：在内存中构造mapv2车道与路口并生成车道管理器
package lanetest

import (
	"fmt"
	"math"

	geov2 "git.fiblab.net/sim/protos/v2/go/city/geo/v2"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/clock"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity/lane"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/config"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/metrics"
)

// Context 测试用任务上下文，各管理器按需设置
type Context struct {
	C        *clock.Clock
	Config   *config.RuntimeConfig
	Registry *prometheus.Registry
	M        *metrics.Collector

	LM entity.ILaneManager
	JM entity.IJunctionManager
	VM entity.IVehicleManager
	CM entity.ICrowdManager
}

// NewContext 以默认交通参数（叠加traffic中的非零字段）创建上下文
func NewContext(traffic config.Traffic) *Context {
	rc := config.NewRuntimeConfig(config.Config{
		Control: config.Control{
			Step: config.ControlStep{Start: 0, Total: 3600, Interval: 0.1},
			Seed: 1,
		},
		Traffic: traffic,
	})
	reg := prometheus.NewRegistry()
	m, err := metrics.NewCollector(reg)
	if err != nil {
		panic(err)
	}
	return &Context{
		C:        clock.New(rc.C.Step),
		Config:   rc,
		Registry: reg,
		M:        m,
	}
}

func (c *Context) Clock() *clock.Clock                      { return c.C }
func (c *Context) LaneManager() entity.ILaneManager         { return c.LM }
func (c *Context) JunctionManager() entity.IJunctionManager { return c.JM }
func (c *Context) VehicleManager() entity.IVehicleManager   { return c.VM }
func (c *Context) CrowdManager() entity.ICrowdManager       { return c.CM }
func (c *Context) RuntimeConfig() *config.RuntimeConfig     { return c.Config }
func (c *Context) Metrics() *metrics.Collector              { return c.M }

// Builder 地图构建器，车道ID从1开始自增
type Builder struct {
	lanes     []*mapv2.Lane
	junctions []*mapv2.Junction
	byID      map[int32]*mapv2.Junction
	nextID    int32
}

func NewBuilder() *Builder {
	return &Builder{byID: make(map[int32]*mapv2.Junction), nextID: 1}
}

func (b *Builder) add(typ mapv2.LaneType, maxV, width float64, pts [][2]float64) *mapv2.Lane {
	if len(pts) < 2 {
		panic("lane needs at least 2 points")
	}
	nodes := make([]*geov2.XYPosition, len(pts))
	for i, p := range pts {
		nodes[i] = &geov2.XYPosition{X: p[0], Y: p[1]}
	}
	l := &mapv2.Lane{
		Id:         b.nextID,
		Type:       typ,
		Turn:       mapv2.LaneTurn_LANE_TURN_STRAIGHT,
		MaxSpeed:   maxV,
		Width:      width,
		ParentId:   -1,
		CenterLine: &mapv2.Polyline{Nodes: nodes},
	}
	b.nextID++
	b.lanes = append(b.lanes, l)
	return l
}

// Driving 添加行车道
func (b *Builder) Driving(maxV, width float64, pts ...[2]float64) *mapv2.Lane {
	return b.add(mapv2.LaneType_LANE_TYPE_DRIVING, maxV, width, pts)
}

// Walking 添加人行道
func (b *Builder) Walking(width float64, pts ...[2]float64) *mapv2.Lane {
	return b.add(mapv2.LaneType_LANE_TYPE_WALKING, 2, width, pts)
}

// Connect 建立from -> to的前驱后继关系
func (b *Builder) Connect(from, to *mapv2.Lane) {
	from.Successors = append(from.Successors, &mapv2.LaneConnection{Id: to.Id})
	to.Predecessors = append(to.Predecessors, &mapv2.LaneConnection{Id: from.Id})
}

// Sides 按从左到右的顺序设置同一道路上的相邻车道
func (b *Builder) Sides(lanes ...*mapv2.Lane) {
	for i, l := range lanes {
		l.LeftLaneIds = nil
		l.RightLaneIds = nil
		for j := i - 1; j >= 0; j-- {
			l.LeftLaneIds = append(l.LeftLaneIds, lanes[j].Id)
		}
		for j := i + 1; j < len(lanes); j++ {
			l.RightLaneIds = append(l.RightLaneIds, lanes[j].Id)
		}
	}
}

// Overlap 添加双向交叠关系
func (b *Builder) Overlap(x, y *mapv2.Lane) {
	x.Overlaps = append(x.Overlaps, &mapv2.LaneOverlap{
		Self:  &geov2.LanePosition{LaneId: x.Id},
		Other: &geov2.LanePosition{LaneId: y.Id},
	})
	y.Overlaps = append(y.Overlaps, &mapv2.LaneOverlap{
		Self:  &geov2.LanePosition{LaneId: y.Id},
		Other: &geov2.LanePosition{LaneId: x.Id},
	})
}

// Junction 将车道加入路口id（不存在则创建）
func (b *Builder) Junction(id int32, lanes ...*mapv2.Lane) *mapv2.Junction {
	j, ok := b.byID[id]
	if !ok {
		j = &mapv2.Junction{Id: id}
		b.byID[id] = j
		b.junctions = append(b.junctions, j)
	}
	for _, l := range lanes {
		l.ParentId = id
		j.LaneIds = append(j.LaneIds, l.Id)
	}
	return j
}

func (b *Builder) Lanes() []*mapv2.Lane {
	return b.lanes
}

func (b *Builder) Junctions() []*mapv2.Junction {
	return b.junctions
}

// Map 组装为mapv2.Map
func (b *Builder) Map() *mapv2.Map {
	return &mapv2.Map{Lanes: b.lanes, Junctions: b.junctions}
}

// Build 创建车道管理器并写入ctx
func (b *Builder) Build(ctx *Context) *lane.LaneManager {
	m := lane.NewManager(ctx)
	m.Init(b.lanes, b.junctions)
	ctx.LM = m
	return m
}

// Arm 路口的一个方向
type Arm struct {
	In, Out   *mapv2.Lane // 驶入、驶出路口的道路车道
	Crosswalk *mapv2.Lane // 跨越该方向的人行横道，无则为nil
	Sidewalk  *mapv2.Lane // 通往人行横道的人行道（等待区）
}

// Cross 以原点为中心构建一个多方向路口
// 参数：junctionID-路口ID，headings-各方向由中心指向外侧的角度（弧度），
// radius-路口半径，length-道路车道长度，crosswalks-是否在每个方向上添加人行横道
// 说明：每个方向一条驶入与一条驶出车道（右侧通行），驶入车道连接到其他每个方向的驶出车道，
// 路口车道的转向按角度判定
func (b *Builder) Cross(junctionID int32, headings []float64, radius, length float64, crosswalks bool) ([]*Arm, [][]*mapv2.Lane) {
	const width = 3.5
	arms := make([]*Arm, len(headings))
	inEnd := make([][2]float64, len(headings))
	outStart := make([][2]float64, len(headings))
	for k, h := range headings {
		ux, uy := math.Cos(h), math.Sin(h)
		// 驶入车道行进方向为-u，其右侧为(-uy, ux)
		lx, ly := -uy*width/2, ux*width/2
		inEnd[k] = [2]float64{ux*radius + lx, uy*radius + ly}
		in := b.Driving(15, width, [2]float64{ux*(radius+length) + lx, uy*(radius+length) + ly}, inEnd[k])
		outStart[k] = [2]float64{ux*radius - lx, uy*radius - ly}
		out := b.Driving(15, width, outStart[k], [2]float64{ux*(radius+length) - lx, uy*(radius+length) - ly})
		arms[k] = &Arm{In: in, Out: out}
		if crosswalks {
			d := radius - 2
			half := width + 1
			cw := b.Walking(3,
				[2]float64{ux*d - uy*half, uy*d + ux*half},
				[2]float64{ux*d + uy*half, uy*d - ux*half},
			)
			side := b.Walking(2,
				[2]float64{ux*(radius+length) - uy*half, uy*(radius+length) + ux*half},
				[2]float64{ux*d - uy*half, uy*d + ux*half},
			)
			b.Connect(side, cw)
			b.Junction(junctionID, cw)
			arms[k].Crosswalk = cw
			arms[k].Sidewalk = side
		}
	}
	internal := make([][]*mapv2.Lane, len(headings))
	for i := range headings {
		internal[i] = make([]*mapv2.Lane, len(headings))
		for j := range headings {
			if i == j {
				continue
			}
			l := b.Driving(10, width, inEnd[i], outStart[j])
			l.Turn = turnOf(headings[i], headings[j])
			b.Connect(arms[i].In, l)
			b.Connect(l, arms[j].Out)
			b.Junction(junctionID, l)
			internal[i][j] = l
		}
	}
	return arms, internal
}

// turnOf 由驶入方向（进口朝外角度from）与驶出方向（出口朝外角度to）判断转向
func turnOf(from, to float64) mapv2.LaneTurn {
	inX, inY := -math.Cos(from), -math.Sin(from)
	outX, outY := math.Cos(to), math.Sin(to)
	angle := math.Atan2(inX*outY-inY*outX, inX*outX+inY*outY)
	switch {
	case math.Abs(angle) < math.Pi/6:
		return mapv2.LaneTurn_LANE_TURN_STRAIGHT
	case angle > 0:
		return mapv2.LaneTurn_LANE_TURN_LEFT
	default:
		return mapv2.LaneTurn_LANE_TURN_RIGHT
	}
}

// Vehicle 测试用车辆，字段即IVehicle的返回值
type Vehicle struct {
	Id       int32
	L        entity.ILane
	Pos      float64
	Speed    float64
	Len      float64
	Gap      float64
	Yielding bool
	Source   entity.ILane
	Next     entity.ILane
}

func (v *Vehicle) ID() int32                      { return v.Id }
func (v *Vehicle) String() string                 { return fmt.Sprintf("Vehicle %d", v.Id) }
func (v *Vehicle) Lane() entity.ILane             { return v.L }
func (v *Vehicle) S() float64                     { return v.Pos }
func (v *Vehicle) V() float64                     { return v.Speed }
func (v *Vehicle) Length() float64                { return v.Len }
func (v *Vehicle) MinGap() float64                { return v.Gap }
func (v *Vehicle) IsYielding() bool               { return v.Yielding }
func (v *Vehicle) LaneChangeSource() entity.ILane { return v.Source }
func (v *Vehicle) NextLane() entity.ILane         { return v.Next }

// Put 将车辆加入其车道（Prepare后生效）并返回链表节点
func Put(v *Vehicle) *entity.VehicleNode {
	node := &entity.VehicleNode{S: v.Pos, Value: v}
	v.L.AddVehicle(node)
	return node
}

// Pedestrian 测试用行人
type Pedestrian struct {
	Id      int32
	L       entity.ILane
	Pos     float64
	Speed   float64
	R       float64
	Forward bool
	Yield   entity.ILane
}

func (p *Pedestrian) ID() int32                    { return p.Id }
func (p *Pedestrian) String() string               { return fmt.Sprintf("Pedestrian %d", p.Id) }
func (p *Pedestrian) Lane() entity.ILane           { return p.L }
func (p *Pedestrian) S() float64                   { return p.Pos }
func (p *Pedestrian) V() float64                   { return p.Speed }
func (p *Pedestrian) Length() float64              { return 2 * p.R }
func (p *Pedestrian) Radius() float64              { return p.R }
func (p *Pedestrian) IsForward() bool              { return p.Forward }
func (p *Pedestrian) YieldingToLane() entity.ILane { return p.Yield }

// PutPedestrian 将行人加入其车道（Prepare后生效）
func PutPedestrian(p *Pedestrian) *entity.PedestrianNode {
	node := &entity.PedestrianNode{S: p.Pos, Value: p}
	p.L.AddPedestrian(node)
	return node
}
