package junction

import (
	"fmt"

	"git.fiblab.net/general/common/v2/parallel"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	mapv2connect "git.fiblab.net/sim/protos/v2/go/city/map/v2/mapv2connect"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/input"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/randengine"
)

// Junction管理器
type JunctionManager struct {
	mapv2connect.UnimplementedTrafficLightServiceHandler
	mapv2connect.UnimplementedJunctionServiceHandler

	ctx entity.ITaskContext

	data      map[int32]*Junction
	junctions []*Junction
	pruned    []*Plan // 被裁剪的信控方案
}

func NewManager(ctx entity.ITaskContext) *JunctionManager {
	return &JunctionManager{
		ctx:  ctx,
		data: make(map[int32]*Junction),
	}
}

// Init 构建路口并生成信控
// 参数：pbs-路口数据，laneManager-车道管理器（已Init），controllers-信号灯与标志牌布设（可为nil）
// 算法说明：
// 1. 聚合进口边，按路口ID升序逐个Build（单线程，随机数序列可复现）
// 2. 判定类别、生成相位、裁剪无需信控的路口并随机初始相位
// 3. 将进口边标志与信号灯编号写入车道
// 4. 并行创建路口对象并选择信号灯实现
func (m *JunctionManager) Init(pbs []*mapv2.Junction, laneManager entity.ILaneManager, controllers *input.Controllers) {
	rc := m.ctx.RuntimeConfig()
	cfg := rc.T.Intersection
	ci := newControllerIndex(controllers, cfg.GridCellSize)
	env := &buildEnv{
		lanes:       laneManager,
		crosswalks:  laneManager.MidpointGrid(entity.LaneTagFilter{All: entity.TagCrosswalk}, cfg.GridCellSize),
		controllers: ci,
		rng:         randengine.New(rc.C.Seed),
		metrics:     m.ctx.Metrics(),
	}

	details := sortedDetails(Aggregate(laneManager.Lanes(), cfg, ci.roadCrosswalks(), rc.T.Lane.MarchLimit))
	for _, d := range details {
		d.Build(env)
	}
	kept, pruned := Generate(details, env.rng, env.metrics)
	m.pruned = pruned

	plans := make(map[int32]*Plan, len(kept))
	for _, p := range kept {
		p.Annotate(laneManager)
		plans[p.Detail.JunctionID] = p
	}
	known := lo.SliceToMap(pbs, func(pb *mapv2.Junction) (int32, struct{}) { return pb.Id, struct{}{} })
	for id := range plans {
		if _, ok := known[id]; !ok {
			log.Errorf("junction %d: lanes refer to a junction missing in map data", id)
		}
	}

	m.junctions = parallel.GoMap(pbs, func(pb *mapv2.Junction) *Junction {
		return newJunction(m.ctx, pb, laneManager, plans[pb.Id])
	})
	m.data = lo.SliceToMap(m.junctions, func(j *Junction) (int32, *Junction) {
		return j.id, j
	})
	log.Infof("init %d junctions, %d with generated periods, %d pruned",
		len(m.junctions), lo.CountBy(kept, func(p *Plan) bool { return len(p.Periods) > 0 }), len(pruned))
}

// Get 根据ID获取路口，不存在则panic
func (m *JunctionManager) Get(id int32) entity.IJunction {
	if junction, ok := m.data[id]; !ok {
		log.Panicf("no id %d in junction data", id)
		return nil
	} else {
		return junction
	}
}

// GetOrError 根据ID获取路口，不存在则返回错误
func (m *JunctionManager) GetOrError(id int32) (entity.IJunction, error) {
	if junction, ok := m.data[id]; !ok {
		return nil, fmt.Errorf("no id %d in junction data", id)
	} else {
		return junction, nil
	}
}

// Pruned 被裁剪的信控方案
func (m *JunctionManager) Pruned() []*Plan {
	return m.pruned
}

func (m *JunctionManager) Prepare() {
	parallel.GoFor(m.junctions, func(j *Junction) { j.prepare() })
}

func (m *JunctionManager) Update(dt float64) {
	parallel.GoFor(m.junctions, func(j *Junction) { j.update(dt) })
}
