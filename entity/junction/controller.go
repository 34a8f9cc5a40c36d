package junction

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/hgrid"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/input"
)

const (
	leftmostTolerance    = 0.01 // 与进口边中点距离小于该值的点不做左右判断
	logicalLaneTolerance = 0.5  // 起点距离在该值内的车道视为同一条逻辑车道
)

// controllerIndex 信控设施及其按所控进口边中点建立的空间索引
type controllerIndex struct {
	c      *input.Controllers
	lights *hgrid.Grid[int]
	signs  *hgrid.Grid[int]
}

func newControllerIndex(c *input.Controllers, cellSize float64) *controllerIndex {
	if c == nil {
		c = &input.Controllers{}
	}
	ci := &controllerIndex{
		c:      c,
		lights: hgrid.New[int](cellSize),
		signs:  hgrid.New[int](cellSize),
	}
	for i, l := range c.Lights {
		ci.lights.Insert(i, l.ControlledSideMidpoint.Orb().Bound())
	}
	for i, s := range c.Signs {
		ci.signs.Insert(i, s.ControlledSideMidpoint.Orb().Bound())
	}
	return ci
}

// roadCrosswalks 路段人行横道所在路口ID集合
func (ci *controllerIndex) roadCrosswalks() map[int32]struct{} {
	set := make(map[int32]struct{}, len(ci.c.RoadCrosswalks))
	for _, id := range ci.c.RoadCrosswalks {
		set[id] = struct{}{}
	}
	return set
}

// leftmostPoint 进口边上最靠近道路中心线（最左侧）的车道控制点
// 说明：位于进口方向右侧的点被排除，其余点中取离中点最远者，找不到时ok=false
func leftmostPoint(side *Side) (p orb.Point, ok bool) {
	farthest := -1.0
	for _, sl := range side.lanes {
		v := vec(sl.Location).Sub(vec(side.Midpoint))
		d := v.Norm()
		if v.Cross(vec(side.Direction)) > 0 && d > leftmostTolerance {
			continue
		}
		if d < farthest {
			continue
		}
		p, farthest, ok = sl.Location, d, true
	}
	return
}

// logicalLaneCount 进口边的逻辑车道数（起点不重合的车道数）
func logicalLaneCount(side *Side) int {
	var starts []orb.Point
	for _, sl := range side.lanes {
		p := sl.Lane.StartPoint()
		dup := false
		for _, s := range starts {
			if planar.Distance(p, s) <= logicalLaneTolerance {
				dup = true
				break
			}
		}
		if !dup {
			starts = append(starts, p)
		}
	}
	return len(starts)
}

// assignControllers 为各进口边查找信号灯与标志牌
// 算法说明：
// 1. 路段人行横道的进口边一律为减速让行，不查找信号灯
// 2. 以进口边最左侧控制点为中心，在搜索半径内取所控进口边中点最近的信号灯与标志牌
// 3. 信号灯型号下标失效时随机选取与逻辑车道数兼容的型号，没有可用型号时该进口边不设信号灯
// 4. 未找到标志牌的进口边按停车让行处理
func (d *Detail) assignControllers(env *buildEnv) {
	ci := env.controllers
	cfg := d.cfg
	for i, side := range d.Sides {
		if side.Sign == entity.SignRoadCrosswalk {
			side.Sign = entity.SignYield
			continue
		}
		p, ok := leftmostPoint(side)
		if !ok {
			log.Errorf("junction %d side %d: no left-most lane point found, skip controller assignment", d.JunctionID, i)
			env.metrics.TopologyDefect("missing_leftmost")
			continue
		}

		side.Sign = entity.SignStop
		if si, ok := ci.signs.Nearest(p, cfg.SignSearchDistance, func(k int) float64 {
			return planar.Distance(p, ci.c.Signs[k].ControlledSideMidpoint.Orb())
		}); ok && ci.c.Signs[si].Type == input.SignYield {
			side.Sign = entity.SignYield
		}

		li, ok := ci.lights.Nearest(p, cfg.LightSearchDistance, func(k int) float64 {
			return planar.Distance(p, ci.c.Lights[k].ControlledSideMidpoint.Orb())
		})
		if !ok {
			continue
		}
		instance := ci.c.Lights[li]
		typeIndex, ok := d.resolveLightType(env, instance.TypeIndex, logicalLaneCount(side))
		if !ok {
			continue
		}
		side.LightIndex = int32(len(d.Lights))
		d.Lights = append(d.Lights, Light{Instance: li, TypeIndex: typeIndex, Position: instance.Position.Orb()})
		d.HasTrafficLights = true
	}
}

// resolveLightType 校验信号灯型号下标，失效时随机选取兼容型号
func (d *Detail) resolveLightType(env *buildEnv, typeIndex, numLanes int) (int, bool) {
	types := env.controllers.c.LightTypes
	if typeIndex >= 0 {
		if typeIndex < len(types) {
			return typeIndex, true
		}
		log.Errorf("junction %d: light type index %d is out of range [0, %d), choose a random compatible type", d.JunctionID, typeIndex, len(types))
		env.metrics.TopologyDefect("stale_light_type")
	}
	var compatible []int
	for i, t := range types {
		if t.NumLanes <= 0 || t.NumLanes == numLanes {
			compatible = append(compatible, i)
		}
	}
	if len(compatible) == 0 {
		log.Errorf("junction %d: no valid traffic light type found for %d lane side", d.JunctionID, numLanes)
		env.metrics.TopologyDefect("no_light_type")
		return -1, false
	}
	return compatible[env.rng.Intn(len(compatible))], true
}
