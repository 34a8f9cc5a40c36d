package lane

import (
	"fmt"

	"git.fiblab.net/general/common/v2/parallel"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/hgrid"
)

// LaneManager Lane管理器
// 功能：管理所有Lane实体，车道下标即其在lanes中的位置，构建完成后不再变化
type LaneManager struct {
	ctx entity.ITaskContext

	data          map[int32]*Lane
	lanes         []*Lane
	ilanes        []entity.ILane
	junctionLanes map[int32][]*Lane // 路口ID -> 路口内车道

	crossings *xsync.MapOf[crossingKey, crossing]
}

func NewManager(ctx entity.ITaskContext) *LaneManager {
	return &LaneManager{
		ctx:           ctx,
		data:          make(map[int32]*Lane),
		junctionLanes: make(map[int32][]*Lane),
		crossings:     xsync.NewMapOf[crossingKey, crossing](),
	}
}

// Init 初始化所有Lane
// 参数：pbs-车道数据，junctions-路口数据（用于确定路口内车道）
// 算法说明：
// 1. 并行创建车道对象，按输入顺序分配下标
// 2. 并行建立前驱、后继、侧车道与交叠关系
// 3. 并行建立汇入组与分出组（依赖全部车道的前驱后继）
// 4. 并行计算冲突车道与穿过的人行横道（依赖汇入组）
func (m *LaneManager) Init(pbs []*mapv2.Lane, junctions []*mapv2.Junction) {
	junctionOf := make(map[int32]int32)
	for _, j := range junctions {
		for _, id := range j.LaneIds {
			junctionOf[id] = j.Id
		}
	}
	m.lanes = parallel.GoMap(pbs, func(pb *mapv2.Lane) *Lane {
		junctionID, ok := junctionOf[pb.Id]
		if !ok {
			junctionID = -1
		}
		return newLane(m.ctx, pb, junctionID)
	})
	for i, l := range m.lanes {
		l.index = entity.LaneIndex(i)
		if l.junction >= 0 {
			m.junctionLanes[l.junction] = append(m.junctionLanes[l.junction], l)
		}
	}
	m.data = lo.SliceToMap(m.lanes, func(l *Lane) (int32, *Lane) {
		return l.id, l
	})
	if len(m.data) != len(m.lanes) {
		log.Panicf("duplicate lane id in map data")
	}
	m.ilanes = lo.Map(m.lanes, func(l *Lane, _ int) entity.ILane { return l })
	parallel.GoFor(m.lanes, func(l *Lane) { l.initWithManager(m) })
	parallel.GoFor(m.lanes, func(l *Lane) { l.initGroups() })
	parallel.GoFor(m.lanes, func(l *Lane) { l.initConflicts(m) })
	log.Infof("init %d lanes", len(m.lanes))
}

// Get 根据ID获取Lane，不存在则panic
func (m *LaneManager) Get(id int32) entity.ILane {
	if lane, ok := m.data[id]; !ok {
		log.Panicf("no id %d in lane data", id)
		return nil
	} else {
		return lane
	}
}

// GetOrError 根据ID获取Lane，不存在则返回错误
func (m *LaneManager) GetOrError(id int32) (entity.ILane, error) {
	if lane, ok := m.data[id]; !ok {
		return nil, fmt.Errorf("no id %d in lane data", id)
	} else {
		return lane, nil
	}
}

// At 根据下标获取Lane，越界则panic
func (m *LaneManager) At(index entity.LaneIndex) entity.ILane {
	if !index.Valid() || int(index) >= len(m.lanes) {
		log.Panicf("lane index %d out of range [0, %d)", index, len(m.lanes))
	}
	return m.lanes[index]
}

func (m *LaneManager) Lanes() []entity.ILane {
	return m.ilanes
}

// MidpointGrid 以满足filter的车道中点建立空间索引
func (m *LaneManager) MidpointGrid(filter entity.LaneTagFilter, cellSize float64) *hgrid.Grid[entity.LaneIndex] {
	grid := hgrid.New[entity.LaneIndex](cellSize)
	for _, l := range m.lanes {
		if filter.Pass(l.tags) {
			grid.Insert(l.index, l.Midpoint().Bound())
		}
	}
	return grid
}

// Prepare 准备阶段
// 说明：第一阶段处理链表缓冲区与本车道统计，第二阶段计算依赖相邻车道的统计
func (m *LaneManager) Prepare() {
	parallel.GoFor(m.lanes, func(l *Lane) { l.prepare() })
	parallel.GoFor(m.lanes, func(l *Lane) { l.prepare2() })
}
