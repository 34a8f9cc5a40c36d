package lane

import (
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
)

// initGroups 建立汇入组与分出组
// 算法说明：
// 1. 若某后继有多于一条（路口属性与本车道相同的）前驱，这些前驱构成汇入组
// 2. 若某前驱有多于一条非路口后继，这些后继构成分出组
// 3. 本应加入上述组但存在左右相邻车道的车道只标记transverse，不加入组
func (l *Lane) initGroups() {
	if l.typ != mapv2.LaneType_LANE_TYPE_DRIVING {
		return
	}
	hasSide := l.LeftLane() != nil || l.RightLane() != nil
	for _, next := range l.successors {
		group := lo.Filter(next.Predecessors(), func(o entity.ILane, _ int) bool {
			return o.IsIntersection() == l.IsIntersection()
		})
		if len(group) <= 1 {
			continue
		}
		if hasSide {
			l.transverse = true
			continue
		}
		for _, o := range group {
			if o != entity.ILane(l) && !lo.Contains(l.MergingLanes(), o) {
				l.links = append(l.links, entity.Link{Type: entity.LinkAdjacent, Flags: entity.LinkMerging, Lane: o})
			}
		}
	}
	for _, prev := range l.predecessors {
		group := lo.Filter(prev.Successors(), func(o entity.ILane, _ int) bool {
			return !o.IsIntersection()
		})
		if len(group) <= 1 || !lo.Contains(group, entity.ILane(l)) {
			continue
		}
		if hasSide {
			l.transverse = true
			continue
		}
		for _, o := range group {
			if o != entity.ILane(l) && !lo.Contains(l.SplittingLanes(), o) {
				l.links = append(l.links, entity.Link{Type: entity.LinkAdjacent, Flags: entity.LinkSplitting, Lane: o})
			}
		}
	}
}

// initConflicts 计算冲突车道与穿过的人行横道
// 说明：依赖initGroups的结果
func (l *Lane) initConflicts(m *LaneManager) {
	if l.typ != mapv2.LaneType_LANE_TYPE_DRIVING {
		return
	}
	for _, o := range l.overlapLanes {
		switch {
		case o.Type() == mapv2.LaneType_LANE_TYPE_DRIVING:
			l.conflictLanes = append(l.conflictLanes, o)
		case o.IsCrosswalk():
			l.crossedCrosswalks = append(l.crossedCrosswalks, o)
		}
	}
	for _, o := range l.MergingLanes() {
		if !lo.Contains(l.conflictLanes, o) {
			l.conflictLanes = append(l.conflictLanes, o)
		}
	}
	if !l.IsIntersection() {
		return
	}
	for _, o := range m.junctionLanes[l.junction] {
		if !o.IsCrosswalk() || lo.Contains(l.crossedCrosswalks, entity.ILane(o)) {
			continue
		}
		if !l.bound.Intersects(o.bound) {
			continue
		}
		if _, ok := firstIntersection(l.line, l.lineLengths, o.line, crossingTolerance); ok {
			l.crossedCrosswalks = append(l.crossedCrosswalks, o)
		}
	}
}
