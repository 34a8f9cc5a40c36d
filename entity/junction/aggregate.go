package junction

import (
	"slices"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/config"
)

// Aggregate 将驶入路口的道路车道聚合为路口进口边
// 参数：lanes-全部车道，cfg-路口构建参数，roadCrosswalks-路段人行横道所在的路口ID，marchLimit-横向遍历的最大步数
// 返回：路口ID -> 路口（只含进口边车道，尚未Build）
// 算法说明：
// 1. 每条路口内行车道所在的路口都建立一个Detail
// 2. 对每条驶入路口的最右侧道路车道新建一条进口边，从该车道开始向左逐条加入各车道在路口内的后继
// 3. 分出组中的车道没有左右关系，由组内下标最小的车道代表整个组，加入组内所有车道的后继
func Aggregate(lanes []entity.ILane, cfg config.Intersection, roadCrosswalks map[int32]struct{}, marchLimit int) map[int32]*Detail {
	details := make(map[int32]*Detail)
	detailOf := func(junctionID int32) *Detail {
		d, ok := details[junctionID]
		if !ok {
			d = newDetail(junctionID, cfg)
			_, d.IsRoadCrosswalk = roadCrosswalks[junctionID]
			details[junctionID] = d
		}
		return d
	}
	for _, l := range lanes {
		if l.IsIntersection() && l.Tags().Has(entity.TagVehicle) {
			detailOf(l.ParentID())
		}
	}

	for _, l := range lanes {
		if !l.Tags().Has(entity.TagVehicle) || l.IsIntersection() || l.RightLane() != nil {
			continue
		}
		splitting := l.SplittingLanes()
		if lo.SomeBy(splitting, func(o entity.ILane) bool { return o.Index() < l.Index() }) {
			continue
		}
		arrival, ok := lo.Find(l.Successors(), func(next entity.ILane) bool { return next.IsIntersection() })
		if !ok {
			continue
		}
		d := detailOf(arrival.ParentID())
		side := d.addSide()
		side.FromFreeway = l.IsTrunk()
		if d.IsRoadCrosswalk {
			side.Sign = entity.SignRoadCrosswalk
		}
		if len(splitting) > 0 {
			addSuccessors(side, l, d.JunctionID)
			for _, o := range splitting {
				addSuccessors(side, o, d.JunctionID)
			}
			continue
		}
		cur, steps := l, 0
		for ; cur != nil && steps < marchLimit; steps++ {
			addSuccessors(side, cur, d.JunctionID)
			cur = cur.FirstLinkedLane(entity.LinkAdjacent, entity.LinkLeft, 0)
		}
		if cur != nil {
			log.Warnf("junction %d: walking left from %v exceeds %d lanes", d.JunctionID, l, marchLimit)
		}
	}
	return details
}

// addSuccessors 将道路车道在路口junctionID内的后继加入进口边
func addSuccessors(side *Side, l entity.ILane, junctionID int32) {
	for _, next := range l.Successors() {
		if !next.IsIntersection() || next.ParentID() != junctionID {
			log.Warnf("junction %d: successor %v of %v is not inside the junction, skip", junctionID, next, l)
			continue
		}
		side.addEntrance(next)
	}
}

// sortedDetails 按路口ID升序排列
func sortedDetails(details map[int32]*Detail) []*Detail {
	ids := lo.Keys(details)
	slices.Sort(ids)
	return lo.Map(ids, func(id int32, _ int) *Detail { return details[id] })
}
