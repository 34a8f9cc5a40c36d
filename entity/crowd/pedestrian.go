package crowd

import (
	"fmt"
	"math"

	geov2 "git.fiblab.net/sim/protos/v2/go/city/geo/v2"
	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/container"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/randengine"
)

const (
	minWalkV  = .5 // 最小步行速度（米/秒）
	maxVNoise = .5 // 速度随机扰动最大值（米/秒）
)

// runtime 行人运行时数据
// 说明：该数据结构需要可以被直接复制
type runtime struct {
	Status  personv2.Status
	Lane    entity.ILane
	S       float64
	V       float64
	Forward bool // 是否沿车道正方向行走

	Next        entity.ILane // 已选定的下一条车道，没有时为nil
	NextForward bool         // 进入下一条车道后是否正向行走

	Yield entity.ILane // 在人行横道上正在为之让行的行车道
}

// Pedestrian 行人实体
// 功能：沿人行道与人行横道行走，人行横道非绿灯时在入口等待，在人行横道上为已驶入的车辆让行
type Pedestrian struct {
	container.IncrementalItemBase
	ctx entity.ITaskContext
	m   *Manager

	base   *personv2.Person
	id     int32
	radius float64
	speed  float64 // 期望步行速度

	generator *randengine.Engine

	node *entity.PedestrianNode

	runtime  runtime
	snapshot runtime
}

func newPedestrian(ctx entity.ITaskContext, m *Manager, base *personv2.Person, lane entity.ILane, s float64, forward bool) *Pedestrian {
	d := ctx.RuntimeConfig().T.Pedestrian
	p := &Pedestrian{
		ctx:       ctx,
		m:         m,
		base:      base,
		id:        base.Id,
		radius:    d.Radius,
		generator: randengine.New(uint64(base.Id)),
	}
	speed := d.Speed
	if attr := base.GetPedestrianAttribute(); attr != nil && attr.Speed > 0 {
		speed = attr.Speed
	}
	p.speed = math.Max(speed+maxVNoise*lo.Clamp(.5*p.generator.NormFloat64(), -1, 1), minWalkV)
	p.runtime = runtime{
		Status:  personv2.Status_STATUS_WALKING,
		Lane:    lane,
		S:       s,
		Forward: forward,
	}
	p.runtime.Next, p.runtime.NextForward = p.pickNext(lane, forward)
	p.node = &entity.PedestrianNode{S: s, Value: p}
	lane.AddPedestrian(p.node)
	return p
}

// prepareNode 维护车道链表节点
// 返回：行人是否已离开路网
func (p *Pedestrian) prepareNode() (finished bool) {
	rt, sn := &p.runtime, &p.snapshot
	if rt.Status != personv2.Status_STATUS_WALKING {
		if sn.Lane != nil {
			sn.Lane.RemovePedestrian(p.node)
		}
		return true
	}
	if sn.Lane != nil && sn.Lane != rt.Lane {
		sn.Lane.RemovePedestrian(p.node)
		p.node = &entity.PedestrianNode{S: rt.S, Value: p}
		rt.Lane.AddPedestrian(p.node)
	}
	p.node.S = rt.S
	return false
}

func (p *Pedestrian) prepare() {
	p.snapshot = p.runtime
}

// IPedestrian

func (p *Pedestrian) ID() int32 {
	return p.id
}

func (p *Pedestrian) String() string {
	return fmt.Sprintf("Pedestrian %d", p.id)
}

func (p *Pedestrian) Lane() entity.ILane {
	return p.snapshot.Lane
}

func (p *Pedestrian) S() float64 {
	return p.snapshot.S
}

func (p *Pedestrian) V() float64 {
	return p.snapshot.V
}

func (p *Pedestrian) Length() float64 {
	return 2 * p.radius
}

func (p *Pedestrian) Radius() float64 {
	return p.radius
}

func (p *Pedestrian) IsForward() bool {
	return p.snapshot.Forward
}

func (p *Pedestrian) YieldingToLane() entity.ILane {
	return p.snapshot.Yield
}

// Status 快照中的状态
func (p *Pedestrian) Status() personv2.Status {
	return p.snapshot.Status
}

// ToMotionPb 产生行人的运行时Protobuf
func (p *Pedestrian) ToMotionPb() *personv2.PersonMotion {
	sn := &p.snapshot
	pb := &personv2.PersonMotion{
		Id:     p.id,
		Status: sn.Status,
		V:      sn.V,
		L:      p.Length(),
	}
	if sn.Lane != nil {
		xyz := sn.Lane.GetPositionByS(sn.S)
		z := xyz.Z
		pb.Position = &geov2.Position{
			XyPosition:   &geov2.XYPosition{X: xyz.X, Y: xyz.Y, Z: &z},
			LanePosition: &geov2.LanePosition{LaneId: sn.Lane.ID(), S: sn.S},
		}
	}
	return pb
}
