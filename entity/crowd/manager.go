package crowd

import (
	"fmt"
	"sync"

	"git.fiblab.net/general/common/v2/parallel"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/container"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/randengine"
)

// GlobalRuntime 行人全局统计
type GlobalRuntime struct {
	NumCompletedTrips int32   // 已离开路网的行人数
	TravelTime        float64 // 总行走时间
	TravelDistance    float64 // 总行走距离
}

// Manager 行人管理器
type Manager struct {
	ctx entity.ITaskContext

	data        map[int32]*Pedestrian
	pedestrians *container.IncrementalArray[*Pedestrian]

	// 人行横道 -> 穿过它的路口行车道
	crossings map[entity.LaneIndex][]entity.ILane

	snapshot, runtime GlobalRuntime
	runtimeMtx        sync.Mutex
}

func NewManager(ctx entity.ITaskContext) *Manager {
	return &Manager{
		ctx:         ctx,
		data:        make(map[int32]*Pedestrian),
		pedestrians: container.NewIncrementalArray[*Pedestrian](),
		crossings:   make(map[entity.LaneIndex][]entity.ILane),
	}
}

func isWalking(lane entity.ILane) bool {
	return lane.Type() == mapv2.LaneType_LANE_TYPE_WALKING
}

// Init 初始化所有行人
// 功能：建立人行横道到路口行车道的反向索引，家庭位置在人行车道上的Person生成行人，再在人行道上随机生成行人
// 说明：随机行人的ID从输入Person的最大ID与随机车辆数之后开始分配，避免与随机车辆冲突
func (m *Manager) Init(pbs []*personv2.Person, laneManager entity.ILaneManager) {
	m.crossings = make(map[entity.LaneIndex][]entity.ILane)
	for _, l := range laneManager.Lanes() {
		for _, cw := range l.CrossedCrosswalks() {
			m.crossings[cw.Index()] = append(m.crossings[cw.Index()], l)
		}
	}

	m.pedestrians = container.NewIncrementalArray[*Pedestrian]()
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
		return isWalking(lane)
	})
	pedestrians := parallel.GoMap(inputs, func(pb *personv2.Person) *Pedestrian {
		pos := pb.Home.LanePosition
		lane := laneManager.Get(pos.LaneId)
		return newPedestrian(m.ctx, m, pb, lane, lo.Clamp(pos.S, 0, lane.Length()), true)
	})
	nextID := int32(0)
	if len(pbs) > 0 {
		nextID = lo.MaxBy(pbs, func(a, b *personv2.Person) bool { return a.Id > b.Id }).Id + 1
	}
	nextID += int32(m.ctx.RuntimeConfig().T.Vehicle.RandomCount)
	pedestrians = append(pedestrians, m.spawnRandom(laneManager, nextID)...)
	for _, p := range pedestrians {
		m.pedestrians.Add(p)
	}
	m.pedestrians.Prepare()
	m.data = lo.SliceToMap(pedestrians, func(p *Pedestrian) (int32, *Pedestrian) {
		return p.id, p
	})
	log.Infof("crowd: init %d pedestrians (%d from input), %d crosswalks crossed by vehicle lanes", len(pedestrians), len(inputs), len(m.crossings))
}

// spawnRandom 在人行道（非人行横道）上随机生成行人，行走方向随机
func (m *Manager) spawnRandom(laneManager entity.ILaneManager, nextID int32) []*Pedestrian {
	cfg := m.ctx.RuntimeConfig()
	count := cfg.T.Pedestrian.RandomCount
	lanes := lo.Filter(laneManager.Lanes(), func(l entity.ILane, _ int) bool {
		return isWalking(l) && !l.IsCrosswalk() && l.Length() > 0
	})
	if count <= 0 || len(lanes) == 0 {
		return nil
	}
	e := randengine.New(cfg.C.Seed + 1)
	pedestrians := make([]*Pedestrian, 0, count)
	for i := 0; i < count; i++ {
		lane := lanes[e.Intn(len(lanes))]
		pb := &personv2.Person{Id: nextID}
		nextID++
		pedestrians = append(pedestrians, newPedestrian(m.ctx, m, pb, lane, e.Range(0, lane.Length()), e.Float64() < .5))
	}
	return pedestrians
}

// vehicleLanesOf 穿过人行横道的路口行车道
func (m *Manager) vehicleLanesOf(crosswalk entity.ILane) []entity.ILane {
	return m.crossings[crosswalk.Index()]
}

// Get 根据ID获取行人，如果不存在则panic
func (m *Manager) Get(id int32) entity.IPedestrian {
	if p, ok := m.data[id]; !ok {
		log.Panicf("no id %d in pedestrian data", id)
		return nil
	} else {
		return p
	}
}

// GetOrError 根据ID获取行人，如果不存在则返回错误
func (m *Manager) GetOrError(id int32) (entity.IPedestrian, error) {
	if p, ok := m.data[id]; !ok {
		return nil, fmt.Errorf("no id %d in pedestrian data", id)
	} else {
		return p, nil
	}
}

// Count 在途行人数
func (m *Manager) Count() int {
	return m.pedestrians.Len()
}

// Statistics 最近一次Prepare时的全局统计
func (m *Manager) Statistics() GlobalRuntime {
	return m.snapshot
}

// 准备阶段：链表节点更新
func (m *Manager) PrepareNode() {
	parallel.GoFor(m.pedestrians.Data(), func(p *Pedestrian) {
		if p.prepareNode() {
			m.pedestrians.Remove(p)
		}
	})
	m.pedestrians.Prepare()
}

// 准备阶段：snapshot更新
func (m *Manager) Prepare() {
	parallel.GoFor(m.pedestrians.Data(), func(p *Pedestrian) {
		p.prepare()
	})
	m.snapshot = m.runtime
}

// 更新阶段
func (m *Manager) Update(dt float64) {
	parallel.GoFor(m.pedestrians.Data(), func(p *Pedestrian) {
		if ds := p.update(dt); ds > 0 {
			m.recordRunning(dt, ds)
		}
	})
}

func (m *Manager) recordRunning(dt float64, ds float64) {
	m.runtimeMtx.Lock()
	defer m.runtimeMtx.Unlock()
	m.runtime.TravelTime += dt
	m.runtime.TravelDistance += ds
}

func (m *Manager) recordTripEnd() {
	m.runtimeMtx.Lock()
	defer m.runtimeMtx.Unlock()
	m.runtime.NumCompletedTrips++
}
