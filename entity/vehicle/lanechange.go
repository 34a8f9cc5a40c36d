package vehicle

import (
	"math"

	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
)

// Level 变道建议等级，数值越大越优先
type Level uint8

const (
	StayOnCurrentLane Level = iota // 不变道
	RetrySoon                      // 横向相邻车道本次不满足条件，尽快重试
	NormalLaneChange               // 普通变道
	TurningLaneChange              // 已有选定车道，重新评估后继续变道
	TransversingLaneChange         // 横向相邻车道变道
)

func (l Level) String() string {
	switch l {
	case RetrySoon:
		return "retry_soon"
	case NormalLaneChange:
		return "normal"
	case TurningLaneChange:
		return "turning"
	case TransversingLaneChange:
		return "transversing"
	}
	return "stay"
}

// Recommendation 变道建议
// 说明：ChoseLeft与ChoseRight至多一个为true，Chosen非nil当且仅当其中一个为true
type Recommendation struct {
	Chosen     entity.ILane
	ChoseLeft  bool
	ChoseRight bool
	Level      Level
}

// lanePriority 按车辆的优先级过滤器计算车道优先级
// 返回：越靠前的过滤器优先级越高，没有任何过滤器通过时返回-1
func (v *Vehicle) lanePriority(lane entity.ILane) int {
	if lane == nil {
		return -1
	}
	for i, f := range v.priorityFilters {
		if f.Pass(lane.Tags()) {
			return len(v.priorityFilters) - 1 - i
		}
	}
	return -1
}

// trunkCheck 主干道限制：车道是主干道，或车辆不受主干道限制
func (v *Vehicle) trunkCheck(lane entity.ILane) bool {
	return lane != nil && (lane.IsTrunk() || !v.trunkOnly)
}

// filterLane 检查候选车道是否适合变道，不适合时返回nil
func (v *Vehicle) filterLane(candidate, cur entity.ILane, spaceTaken float64) entity.ILane {
	if candidate != nil &&
		// 候选车道更空
		candidate.DownstreamFlowDensity() < cur.DownstreamFlowDensity() &&
		candidate.SpaceAvailable() > spaceTaken &&
		!candidate.IsIntersection() &&
		!cur.IsIntersection() &&
		len(candidate.MergingLanes()) == 0 &&
		len(cur.MergingLanes()) == 0 &&
		len(candidate.SplittingLanes()) == 0 &&
		len(cur.SplittingLanes()) == 0 &&
		// 上游路口正在向车道放车时，车道空间可能突变
		candidate.NumVehiclesApproachingFromIntersection() == 0 &&
		cur.NumVehiclesApproachingFromIntersection() == 0 &&
		// 避免同一空隙被反方向的变道重复使用
		candidate.LaneChangingOffCount() == 0 &&
		cur.LaneChangingOnCount() == 0 &&
		!v.runtime.CantStopAtLaneExit &&
		v.trunkCheck(candidate) {
		return candidate
	}
	return nil
}

// chooseLane 选择变道目标车道，结果写入rec
// 参数：cur-当前车道，center-车辆中心在当前车道上的位置，rec-上一次的变道建议
// 算法说明：
// 1. 路口内车道、汇入/分出车道上不变道
// 2. 已有选定车道时只重新评估该侧
// 3. 过滤候选车道，首次选择时按优先级过滤器保留优先级更高的一侧
// 4. 横向相邻车道随机先测试一侧，均不满足时建议尽快重试
// 5. 两侧都可选时选择下游流密度更低的一侧，相等时随机
func (v *Vehicle) chooseLane(cur entity.ILane, center float64, rec *Recommendation) {
	alreadyChose := rec.Chosen != nil
	if !alreadyChose {
		*rec = Recommendation{}
	}
	if cur.IsIntersection() {
		return
	}
	if len(cur.SplittingLanes()) > 0 || len(cur.MergingLanes()) > 0 {
		return
	}

	var left, right entity.ILane
	if !alreadyChose || rec.ChoseLeft {
		left = cur.LeftLane()
	}
	if !alreadyChose || rec.ChoseRight {
		right = cur.RightLane()
	}
	densityCur := cur.DownstreamFlowDensity()
	densityLeft, densityRight := math.MaxFloat64, math.MaxFloat64
	if left != nil {
		densityLeft = left.DownstreamFlowDensity()
	}
	if right != nil {
		densityRight = right.DownstreamFlowDensity()
	}

	spaceTaken := v.spaceTaken()
	left = v.filterLane(left, cur, spaceTaken)
	right = v.filterLane(right, cur, spaceTaken)

	if !alreadyChose && len(v.priorityFilters) > 0 {
		pl, pr := v.lanePriority(left), v.lanePriority(right)
		if pl >= 0 && pr >= 0 {
			// 优先级相同时两侧都保留，交给密度比较
			if pl < pr {
				left = nil
			}
			if pr < pl {
				right = nil
			}
		} else {
			if pl < 0 {
				left = nil
			}
			if pr < 0 {
				right = nil
			}
		}
	}

	choose := func(lane entity.ILane, onLeft bool, level Level) {
		rec.Chosen = lane
		rec.ChoseLeft = onLeft
		rec.ChoseRight = !onLeft
		rec.Level = level
	}

	if cur.HasTransverseLaneAdjacency() {
		cfg := &v.ctx.RuntimeConfig().T.LaneChange
		test := func(lane entity.ILane, density float64) bool {
			if lane == nil || !lane.HasTransverseLaneAdjacency() || density >= densityCur {
				return false
			}
			// 分散变道位置，避免都在车道起点变道
			return center > v.randomFraction*cfg.TransverseSpreadFraction*cur.Length()
		}
		leftFirst := v.generator.Float64() <= .5
		first, second := right, left
		firstDensity, secondDensity := densityRight, densityLeft
		if leftFirst {
			first, second = left, right
			firstDensity, secondDensity = densityLeft, densityRight
		}
		switch {
		case test(first, firstDensity):
			choose(first, leftFirst, TransversingLaneChange)
		case test(second, secondDensity):
			choose(second, !leftFirst, TransversingLaneChange)
		default:
			rec.Level = RetrySoon
		}
		return
	}

	level := NormalLaneChange
	if alreadyChose {
		level = TurningLaneChange
	}
	switch {
	case left == nil && right == nil:
		// 已选车道不再满足条件时放弃该建议，避免按过期的建议变道
		*rec = Recommendation{}
	case right == nil:
		choose(left, true, level)
	case left == nil:
		choose(right, false, level)
	case densityLeft < densityRight:
		choose(left, true, level)
	case densityRight < densityLeft:
		choose(right, false, level)
	default:
		// 密度相等（如都为0）时随机选择
		if v.generator.Float64() < .5 {
			choose(left, true, level)
		} else {
			choose(right, false, level)
		}
	}
}
