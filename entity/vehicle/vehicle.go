package vehicle

import (
	"fmt"
	"math"

	"git.fiblab.net/general/common/v2/protoutil"
	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/config"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/container"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/randengine"
)

const (
	maxVehicleVNoise = 5  // 车辆速度随机扰动最大值
	maxVehicleANoise = .5 // 车辆加速度随机扰动最大值

	classLabel = "class" // 车辆类别标签，选择车道优先级过滤器与主干道限制
)

// Vehicle 车辆实体
// 功能：沿车道链表行驶，按跟车模型决定加速度，在路口前按让行规则决定是否停车，在道路上按车道密度变道
type Vehicle struct {
	container.IncrementalItemBase
	ctx entity.ITaskContext
	m   *Manager

	// 静态属性
	base   *personv2.Person
	id     int32
	class  string
	length float64
	width  float64
	model  model
	usualA float64 // 常用加速度，用于估计起步时间

	// 随机分数[0,1)，决定停车距离、变道距离、变道时长与汇入的优先次序
	randomFraction float64

	priorityFilters []entity.LaneTagFilter // 车道优先级过滤器，越靠前优先级越高
	trunkOnly       bool                   // 只能在主干道上行驶

	generator *randengine.Engine // 随机数生成器，以ID为seed

	node *entity.VehicleNode // 所在车道链表中的节点

	runtime  runtime // 运行时数据
	snapshot runtime // 快照，其他车辆与车道在Update阶段只读取快照
}

// orDefault 输入为0时取默认值
func orDefault(v, d float64) float64 {
	if v == 0 {
		return d
	}
	return v
}

// newVehicle 创建并初始化车辆
// 参数：ctx-任务上下文，m-车辆管理器，base-基础Person数据，lane/s-出生位置
// 说明：缺失的车辆属性使用配置中的默认值，最大速度与最大制动加速度添加随机扰动
func newVehicle(ctx entity.ITaskContext, m *Manager, base *personv2.Person, lane entity.ILane, s float64) *Vehicle {
	d := ctx.RuntimeConfig().T.Vehicle
	attr := &personv2.VehicleAttribute{}
	if base.VehicleAttribute != nil {
		attr = protoutil.Clone(base.VehicleAttribute)
	}
	attr.Length = orDefault(attr.Length, d.Length)
	attr.Width = orDefault(attr.Width, d.Width)
	attr.MaxSpeed = orDefault(attr.MaxSpeed, d.MaxSpeed)
	attr.MaxAcceleration = orDefault(attr.MaxAcceleration, d.MaxAcceleration)
	attr.MaxBrakingAcceleration = orDefault(attr.MaxBrakingAcceleration, d.MaxBrakingAcceleration)
	attr.UsualAcceleration = orDefault(attr.UsualAcceleration, d.UsualAcceleration)
	attr.UsualBrakingAcceleration = orDefault(attr.UsualBrakingAcceleration, d.UsualBrakingAcceleration)
	attr.Headway = orDefault(attr.Headway, d.Headway)
	attr.MinGap = orDefault(attr.MinGap, d.MinGap)
	validate(base.Id, attr)

	v := &Vehicle{
		ctx:       ctx,
		m:         m,
		base:      base,
		id:        base.Id,
		class:     base.Labels[classLabel],
		length:    attr.Length,
		width:     attr.Width,
		usualA:    attr.UsualAcceleration,
		generator: randengine.New(uint64(base.Id)),
	}
	v.randomFraction = v.generator.Float64()
	// 为车辆属性添加随机扰动
	maxV := math.Max(attr.MaxSpeed+maxVehicleVNoise*lo.Clamp(.5*v.generator.NormFloat64(), -1, 1), .1)
	maxBrakingA := math.Min(attr.MaxBrakingAcceleration+maxVehicleANoise*lo.Clamp(.5*v.generator.NormFloat64(), -1, 1), -.1)
	v.model = model{
		usualBrakingA: attr.UsualBrakingAcceleration,
		maxBrakingA:   maxBrakingA,
		maxA:          attr.MaxAcceleration,
		maxV:          maxV,
		minGap:        attr.MinGap,
		headway:       attr.Headway,
	}
	if m != nil {
		v.priorityFilters = m.priorityFilters[v.class]
		_, v.trunkOnly = m.trunkOnly[v.class]
	}

	v.runtime = runtime{
		Status:         personv2.Status_STATUS_DRIVING,
		Lane:           lane,
		S:              s,
		NextLCAttemptT: ctx.Clock().T,
	}
	v.runtime.Next = v.pickNext(lane)
	v.node = &entity.VehicleNode{S: s, Value: v}
	lane.AddVehicle(v.node)
	return v
}

// validate 属性检查，数据错误时退出
func validate(id int32, attr *personv2.VehicleAttribute) {
	if attr.MaxSpeed <= 0 {
		log.Fatalf("vehicle %d (vehicle_attr=%v) max speed is less than 0, please check the data", id, attr)
	}
	if attr.MaxAcceleration <= 0 {
		log.Fatalf("vehicle %d (vehicle_attr=%v) max acceleration is less than 0, please check the data", id, attr)
	}
	if attr.MaxBrakingAcceleration >= 0 {
		log.Fatalf("vehicle %d (vehicle_attr=%v) max braking acceleration is greater than 0, please check the data", id, attr)
	}
	if attr.UsualAcceleration <= 0 {
		log.Fatalf("vehicle %d (vehicle_attr=%v) usual acceleration is less than 0, please check the data", id, attr)
	}
	if attr.UsualBrakingAcceleration >= 0 {
		log.Fatalf("vehicle %d (vehicle_attr=%v) usual braking acceleration is greater than 0, please check the data", id, attr)
	}
	if attr.Length <= 0 {
		log.Fatalf("vehicle %d (vehicle_attr=%v) length is less than 0, please check the data", id, attr)
	}
	if attr.Width <= 0 {
		log.Fatalf("vehicle %d (vehicle_attr=%v) width is less than 0, please check the data", id, attr)
	}
	if attr.MinGap < 0 {
		log.Fatalf("vehicle %d (vehicle_attr=%v) min gap is less than 0, please check the data", id, attr)
	}
	if attr.Headway < 0 {
		log.Fatalf("vehicle %d (vehicle_attr=%v) headway is less than 0, please check the data", id, attr)
	}
}

// minDistance 随机化的最小跟车距离
func (v *Vehicle) minDistance() float64 {
	return v.ctx.RuntimeConfig().T.LaneChange.MinDistanceRange.Lerp(v.randomFraction)
}

// spaceTaken 车辆在车道上占用的空间
func (v *Vehicle) spaceTaken() float64 {
	return v.length + v.minDistance()
}

// prepareNode 维护车道链表节点
// 返回：车辆是否已驶离路网
func (v *Vehicle) prepareNode() (finished bool) {
	rt, sn := &v.runtime, &v.snapshot
	if rt.Status != personv2.Status_STATUS_DRIVING {
		if sn.Lane != nil {
			sn.Lane.RemoveVehicle(v.node)
		}
		return true
	}
	if sn.Lane != nil && sn.Lane != rt.Lane {
		sn.Lane.RemoveVehicle(v.node)
		// 换一个新的node来避免remove操作和add操作处理同一个对象需要保证先后顺序
		v.node = &entity.VehicleNode{S: rt.S, Value: v}
		rt.Lane.AddVehicle(v.node)
	}
	v.node.S = rt.S
	return false
}

// prepare 更新快照
func (v *Vehicle) prepare() {
	v.snapshot = v.runtime
}

// IVehicle

func (v *Vehicle) ID() int32 {
	return v.id
}

func (v *Vehicle) String() string {
	return fmt.Sprintf("Vehicle %d", v.id)
}

func (v *Vehicle) Lane() entity.ILane {
	return v.snapshot.Lane
}

func (v *Vehicle) S() float64 {
	return v.snapshot.S
}

func (v *Vehicle) V() float64 {
	return v.snapshot.V
}

func (v *Vehicle) Length() float64 {
	return v.length
}

func (v *Vehicle) MinGap() float64 {
	return v.model.minGap
}

func (v *Vehicle) IsYielding() bool {
	return v.snapshot.IsYielding()
}

func (v *Vehicle) LaneChangeSource() entity.ILane {
	return v.snapshot.LC.Source
}

func (v *Vehicle) NextLane() entity.ILane {
	return v.snapshot.Next
}

// Status 快照中的状态
func (v *Vehicle) Status() personv2.Status {
	return v.snapshot.Status
}

// ToMotionPb 产生车辆的运行时Protobuf
func (v *Vehicle) ToMotionPb() *personv2.PersonMotion {
	sn := &v.snapshot
	return &personv2.PersonMotion{
		Id:       v.id,
		Status:   sn.Status,
		Position: sn.toPbPosition(),
		V:        sn.V,
		A:        sn.A,
		L:        v.length,
	}
}

// ToPersonRuntimePb 产生车辆的全量运行时Protobuf
func (v *Vehicle) ToPersonRuntimePb(returnBase bool) *personv2.PersonRuntime {
	pb := &personv2.PersonRuntime{Motion: v.ToMotionPb()}
	if returnBase {
		pb.Base = protoutil.Clone(v.base)
	}
	return pb
}

// parseClassFilters 将配置中按类别的车道优先级过滤器转换为位集合形式
func parseClassFilters(cfg config.LaneChange) (map[string][]entity.LaneTagFilter, error) {
	filters := make(map[string][]entity.LaneTagFilter, len(cfg.PriorityFilters))
	for class, fs := range cfg.PriorityFilters {
		for _, c := range fs {
			f, err := entity.ParseLaneTagFilter(c)
			if err != nil {
				return nil, fmt.Errorf("lane priority filter of class %q: %w", class, err)
			}
			filters[class] = append(filters[class], f)
		}
	}
	return filters, nil
}
