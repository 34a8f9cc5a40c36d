package junction

import (
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/metrics"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/randengine"
)

// Plan 路口的信控方案
type Plan struct {
	Detail   *Detail
	Topology Topology
	Periods  []*Period

	// 车辆车道 -> 控制该车道的信号灯（路口内编号）
	LaneLights map[entity.LaneIndex]int32

	// 初始相位与其剩余时长
	CurrentPeriod int
	Remaining     float64
}

// prunable 不超过两条进口边、没有隐藏出口边也没有人行横道的路口无需信控
func prunable(d *Detail) bool {
	return len(d.Sides) <= 2 && !d.HasHiddenSides() && d.CrosswalkCount() == 0
}

// Generate 为已Build的路口生成信控方案
// 参数：details-路口（按ID升序），rng-随机数引擎，m-指标（可为nil）
// 返回：kept-保留的方案，pruned-被裁剪的方案（其信号灯被释放）
// 算法说明：
// 1. 判定类别并生成相位，无法归类的路口记录错误并保留为无相位
// 2. 有相位且满足裁剪条件的路口整体移除
// 3. 随机选取初始相位，剩余时长在[0, 相位时长)内均匀分布
func Generate(details []*Detail, rng *randengine.Engine, m *metrics.Collector) (kept, pruned []*Plan) {
	for _, d := range details {
		topology := ClassifyTopology(d, d.IsAllWayStop())
		if topology == Unclassifiable {
			log.Errorf("junction %d: unclassifiable topology with %d sides, no period is generated", d.JunctionID, len(d.Sides))
			m.TopologyDefect("unclassifiable")
		}
		plan := &Plan{Detail: d, Topology: topology}
		if topology.HasPeriods() {
			plan.Periods, plan.LaneLights = Synthesize(d, topology)
			if prunable(d) {
				if len(d.Lights) > 0 {
					log.Infof("junction %d: pruned, release lights %v", d.JunctionID,
						lo.Map(d.Lights, func(l Light, _ int) int { return l.Instance }))
				}
				m.IntersectionPruned()
				pruned = append(pruned, plan)
				continue
			}
		}
		if n := len(plan.Periods); n > 0 {
			plan.CurrentPeriod = rng.Intn(n)
			plan.Remaining = rng.Float64() * plan.Periods[plan.CurrentPeriod].Duration
		}
		m.IntersectionBuilt(topology.String())
		m.AddPeriods(len(plan.Periods))
		kept = append(kept, plan)
	}
	return
}

// Annotate 将进口边标志与信号灯编号写入车道
func (p *Plan) Annotate(lm entity.ILaneManager) {
	for _, s := range p.Detail.Sides {
		for _, l := range s.VehicleLanes() {
			l.AnnotateIntersection(p.Detail.JunctionID, s.Sign)
		}
	}
	for idx, light := range p.LaneLights {
		lm.At(idx).AnnotateTrafficLight(light)
	}
}
