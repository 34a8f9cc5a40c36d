package junction

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/hgrid"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/metrics"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/randengine"
)

// buildEnv 路口构建共用的只读索引与随机数
type buildEnv struct {
	lanes       entity.ILaneManager
	crosswalks  *hgrid.Grid[entity.LaneIndex] // 人行横道中点索引
	controllers *controllerIndex
	rng         *randengine.Engine
	metrics     *metrics.Collector
}

// clockwiseAngle 方向dir相对参考方向(1,0)的有符号角，按该值升序即顺时针排列
func clockwiseAngle(dir orb.Point) float64 {
	ref, v := r2.Point{X: 1}, vec(dir)
	// r2.Point.Cross为a×b的z分量，v在ref左侧时为正
	return math.Atan2(-ref.Cross(v), ref.Dot(v))
}

// Build 完成路口的几何构建与信控设施分配
// 算法说明：
// 1. 丢弃没有车道的进口边，计算各进口边中点与驶入方向，再计算路口中心
// 2. 按驶入方向将进口边排为顺时针顺序
// 3. 检查每条进口车道的出口方向，不与任何其他进口边反向对应时记为隐藏出口边
// 4. 在进口边中点与隐藏出口点附近查找人行横道，并记录其前驱作为行人等待区
// 5. 路段人行横道的进口车道以人行横道为停车线
// 6. 分配信号灯与标志牌
func (d *Detail) Build(env *buildEnv) {
	d.Sides = lo.Filter(d.Sides, func(s *Side, i int) bool {
		if len(s.lanes) == 0 {
			log.Errorf("junction %d side %d: no vehicle lane, drop it", d.JunctionID, i)
			env.metrics.TopologyDefect("empty_side")
			return false
		}
		return true
	})
	for _, s := range d.Sides {
		s.Midpoint = point(average(lo.Map(s.lanes, func(sl SideLane, _ int) orb.Point { return sl.Location })))
		s.Direction = point(average(lo.Map(s.lanes, func(sl SideLane, _ int) orb.Point { return sl.Direction })).Normalize())
	}
	d.Center = point(average(lo.Map(d.Sides, func(s *Side, _ int) orb.Point { return s.Midpoint })))

	sort.SliceStable(d.Sides, func(i, j int) bool {
		return clockwiseAngle(d.Sides[i].Direction) < clockwiseAngle(d.Sides[j].Direction)
	})
	d.Clockwise = true

	d.findHiddenSides()
	d.linkCrosswalks(env)
	if d.IsRoadCrosswalk {
		d.placeStopLinesAtCrosswalks()
	}
	d.assignControllers(env)
}

func (d *Detail) findHiddenSides() {
	threshold := cosDeg(d.cfg.HiddenSideAngleDeg)
	d.Hidden.Points, d.Hidden.Directions = nil, nil
	for i, s := range d.Sides {
		for _, sl := range s.lanes {
			into := vec(sl.Lane.EndDirection()).Mul(-1)
			known := false
			for j, o := range d.Sides {
				if i != j && into.Dot(vec(o.Direction)) >= threshold {
					known = true
					break
				}
			}
			if !known {
				d.Hidden.Points = append(d.Hidden.Points, sl.Lane.EndPoint())
				d.Hidden.Directions = append(d.Hidden.Directions, point(into))
			}
		}
	}
}

// crosswalksNear 返回中心线到p的距离不超过搜索距离的人行横道
// 说明：查询半径取p到路口中心的距离，且不小于搜索距离
func (d *Detail) crosswalksNear(env *buildEnv, p orb.Point) []entity.ILane {
	var found []entity.ILane
	r := math.Max(planar.Distance(p, d.Center), d.cfg.CrosswalkSearchDistance)
	for _, idx := range env.crosswalks.QueryRadius(p, r) {
		l := env.lanes.At(idx)
		if l.ParentID() != d.JunctionID {
			continue
		}
		segment := orb.LineString{l.StartPoint(), l.EndPoint()}
		if planar.DistanceFrom(segment, p) <= d.cfg.CrosswalkSearchDistance {
			found = append(found, l)
		}
	}
	return found
}

func addWaitingLanes(crosswalks, waiting *laneSet) {
	for _, c := range crosswalks.Lanes() {
		waiting.AddAll(c.Predecessors())
	}
}

func (d *Detail) linkCrosswalks(env *buildEnv) {
	for _, p := range d.Hidden.Points {
		d.Hidden.Crosswalks.AddAll(d.crosswalksNear(env, p))
	}
	addWaitingLanes(&d.Hidden.Crosswalks, &d.Hidden.WaitingLanes)
	for _, s := range d.Sides {
		s.Crosswalks.AddAll(d.crosswalksNear(env, s.Midpoint))
		addWaitingLanes(&s.Crosswalks, &s.WaitingLanes)
	}
}

// placeStopLinesAtCrosswalks 路段人行横道的控制点取车道进入最近人行横道的位置
func (d *Detail) placeStopLinesAtCrosswalks() {
	for _, s := range d.Sides {
		crosswalks := s.Crosswalks.Lanes()
		for i := range s.lanes {
			sl := &s.lanes[i]
			best, ok := math.Inf(1), false
			for _, c := range crosswalks {
				if enter, _, hit := sl.Lane.EnterAndExitDistances(c); hit && enter < best {
					best, ok = enter, true
				}
			}
			if !ok {
				continue
			}
			sl.Distance = best
			p := sl.Lane.GetPositionByS(best)
			sl.Location = orb.Point{p.X, p.Y}
		}
	}
}
