package vehicle

import (
	"fmt"
	"sync"

	"git.fiblab.net/general/common/v2/parallel"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	"git.fiblab.net/sim/protos/v2/go/city/person/v2/personv2connect"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/container"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/randengine"
)

// randomSpawnAttempts 随机生成车辆时寻找空闲位置的最大尝试次数
const randomSpawnAttempts = 20

// GlobalRuntime 全局运行时数据结构
// 功能：管理全局运行时数据，包括驶离路网的车辆数、总行驶时间、总行驶距离
type GlobalRuntime struct {
	NumCompletedTrips int32   // 已驶离路网的车辆数
	TravelTime        float64 // 总行驶时间
	TravelDistance    float64 // 总行驶距离
}

// Manager 车辆管理器
// 功能：管理所有车辆实体，提供创建、查找、更新与PersonService查询
type Manager struct {
	personv2connect.UnimplementedPersonServiceHandler

	ctx entity.ITaskContext

	data map[int32]*Vehicle

	// 在途车辆
	vehicles *container.IncrementalArray[*Vehicle]

	priorityFilters map[string][]entity.LaneTagFilter // 按类别的车道优先级过滤器
	trunkOnly       map[string]struct{}               // 只能行驶在主干道上的类别

	snapshot, runtime GlobalRuntime
	runtimeMtx        sync.Mutex
}

// NewManager 创建车辆管理器
// 说明：车道优先级过滤器配置错误时退出
func NewManager(ctx entity.ITaskContext) *Manager {
	cfg := ctx.RuntimeConfig().T.LaneChange
	filters, err := parseClassFilters(cfg)
	if err != nil {
		log.Fatalf("invalid lane change config: %v", err)
	}
	return &Manager{
		ctx:             ctx,
		data:            make(map[int32]*Vehicle),
		vehicles:        container.NewIncrementalArray[*Vehicle](),
		priorityFilters: filters,
		trunkOnly: lo.SliceToMap(cfg.TrunkOnlyClasses, func(c string) (string, struct{}) {
			return c, struct{}{}
		}),
	}
}

// isDriving 车道是否可以放置车辆
func isDriving(lane entity.ILane) bool {
	return lane.Type() == mapv2.LaneType_LANE_TYPE_DRIVING
}

// Init 初始化所有车辆
// 功能：家庭位置在行车道上的Person生成车辆，再在非路口行车道上随机生成车辆
// 说明：随机车辆的ID从输入Person的最大ID之后开始分配
func (m *Manager) Init(pbs []*personv2.Person, laneManager entity.ILaneManager) {
	m.vehicles = container.NewIncrementalArray[*Vehicle]()
	inputs := lo.Filter(pbs, func(pb *personv2.Person, _ int) bool {
		pos := pb.GetHome().GetLanePosition()
		if pos == nil {
			return false
		}
		lane, err := laneManager.GetOrError(pos.LaneId)
		if err != nil {
			log.Warnf("person %d: %v", pb.Id, err)
			return false
		}
		return isDriving(lane)
	})
	vehicles := parallel.GoMap(inputs, func(pb *personv2.Person) *Vehicle {
		pos := pb.Home.LanePosition
		lane := laneManager.Get(pos.LaneId)
		return newVehicle(m.ctx, m, pb, lane, lo.Clamp(pos.S, 0, lane.Length()))
	})
	nextID := int32(0)
	if len(pbs) > 0 {
		nextID = lo.MaxBy(pbs, func(a, b *personv2.Person) bool { return a.Id > b.Id }).Id + 1
	}
	vehicles = append(vehicles, m.spawnRandom(laneManager, nextID)...)
	for _, v := range vehicles {
		m.vehicles.Add(v)
	}
	m.vehicles.Prepare()
	m.data = lo.SliceToMap(vehicles, func(v *Vehicle) (int32, *Vehicle) {
		return v.id, v
	})
	log.Infof("vehicle: init %d vehicles (%d from input)", len(vehicles), len(inputs))
}

// spawnRandom 在非路口行车道上随机生成车辆，同一车道上的车辆互不重叠
func (m *Manager) spawnRandom(laneManager entity.ILaneManager, nextID int32) []*Vehicle {
	cfg := m.ctx.RuntimeConfig()
	count := cfg.T.Vehicle.RandomCount
	lanes := lo.Filter(laneManager.Lanes(), func(l entity.ILane, _ int) bool {
		return isDriving(l) && !l.IsIntersection() && l.Length() > cfg.T.Vehicle.Length
	})
	if count <= 0 || len(lanes) == 0 {
		return nil
	}
	e := randengine.New(cfg.C.Seed)
	occupied := make(map[entity.LaneIndex][]float64)
	gap := cfg.T.Vehicle.Length + cfg.T.Vehicle.MinGap
	vehicles := make([]*Vehicle, 0, count)
	for i := 0; i < count; i++ {
		for j := 0; j < randomSpawnAttempts; j++ {
			lane := lanes[e.Intn(len(lanes))]
			s := e.Range(cfg.T.Vehicle.Length, lane.Length())
			if lo.ContainsBy(occupied[lane.Index()], func(o float64) bool { return o-gap < s && s < o+gap }) {
				continue
			}
			occupied[lane.Index()] = append(occupied[lane.Index()], s)
			pb := &personv2.Person{Id: nextID}
			nextID++
			vehicles = append(vehicles, newVehicle(m.ctx, m, pb, lane, s))
			break
		}
	}
	if len(vehicles) < count {
		log.Warnf("vehicle: only %d of %d random vehicles placed", len(vehicles), count)
	}
	return vehicles
}

// Get 根据ID获取车辆，如果不存在则panic
func (m *Manager) Get(id int32) entity.IVehicle {
	if v, ok := m.data[id]; !ok {
		log.Panicf("no id %d in vehicle data", id)
		return nil
	} else {
		return v
	}
}

// GetOrError 根据ID获取车辆，如果不存在则返回错误
func (m *Manager) GetOrError(id int32) (entity.IVehicle, error) {
	if v, ok := m.data[id]; !ok {
		return nil, fmt.Errorf("no id %d in vehicle data", id)
	} else {
		return v, nil
	}
}

// Count 在途车辆数
func (m *Manager) Count() int {
	return m.vehicles.Len()
}

// 准备阶段：链表节点更新，驶离路网的车辆从在途列表中删除
func (m *Manager) PrepareNode() {
	parallel.GoFor(m.vehicles.Data(), func(v *Vehicle) {
		if v.prepareNode() {
			m.vehicles.Remove(v)
		}
	})
	m.vehicles.Prepare()
}

// 准备阶段：snapshot更新
func (m *Manager) Prepare() {
	parallel.GoFor(m.vehicles.Data(), func(v *Vehicle) {
		v.prepare()
	})
	m.snapshot = m.runtime
	log.Debug("vehicle manager: prepare done")
}

// 更新阶段
func (m *Manager) Update(dt float64) {
	parallel.GoFor(m.vehicles.Data(), func(v *Vehicle) {
		if ds := v.update(dt); ds > 0 {
			m.recordRunning(dt, ds)
		}
	})
}

// recordRunning 记录在路上的车辆
func (m *Manager) recordRunning(dt float64, ds float64) {
	m.runtimeMtx.Lock()
	defer m.runtimeMtx.Unlock()
	m.runtime.TravelTime += dt
	m.runtime.TravelDistance += ds
}

// recordTripEnd 记录驶离路网
func (m *Manager) recordTripEnd() {
	m.runtimeMtx.Lock()
	defer m.runtimeMtx.Unlock()
	m.runtime.NumCompletedTrips++
}
