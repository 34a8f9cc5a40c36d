package junction

import (
	"errors"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity/junction/trafficlight"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/config"
)

var (
	ErrDisabledTrafficLight = errors.New("traffic light is disabled for the junction")
)

type Junction struct {
	ctx entity.ITaskContext

	id           int32
	laneIDs      []int32
	lanes        map[int32]entity.ILane // 车道id->车道
	orderedLanes []entity.ILane         // 按laneIDs排列，与信控程序States一致
	plan         *Plan                  // 生成的信控方案，被裁剪或无车辆进口边时为nil
	fixedProgram *mapv2.TrafficLight    // 地图自带的固定程序
	phases       [][]mapv2.LightState   // 地图自带的最大压力可选相位
	trafficLight ITrafficLight          // 信号灯，无信控时为nil
}

// newJunction 创建路口并选择信号灯
// 参数：ctx-任务上下文，base-路口数据，laneManager-车道管理器，plan-生成的信控方案（可为nil）
// 算法说明（先匹配者优先）：
// 1. 优先使用地图固定程序且地图有固定程序：按固定程序循环
// 2. 生成了相位且策略为fixed：按生成的相位循环，初始相位取方案中的随机相位
// 3. 生成了相位且策略为max_pressure：在生成的相位中按最大压力选择
// 4. 地图有可选相位且策略为max_pressure：在地图相位中按最大压力选择
// 5. 其他情况不信控
func newJunction(ctx entity.ITaskContext, base *mapv2.Junction, laneManager entity.ILaneManager, plan *Plan) *Junction {
	j := &Junction{
		ctx:          ctx,
		id:           base.Id,
		laneIDs:      base.LaneIds,
		lanes:        make(map[int32]entity.ILane, len(base.LaneIds)),
		plan:         plan,
		fixedProgram: base.FixedProgram,
		phases: lo.Map(base.Phases, func(p *mapv2.AvailablePhase, _ int) []mapv2.LightState {
			return p.States
		}),
	}
	setters := make([]entity.ILaneTrafficLightSetter, 0, len(base.LaneIds))
	for _, id := range base.LaneIds {
		l := laneManager.Get(id)
		j.lanes[id] = l
		j.orderedLanes = append(j.orderedLanes, l)
		setters = append(setters, l)
	}

	rc := ctx.RuntimeConfig()
	yellow := rc.T.Intersection.YellowSeconds
	hasPeriods := plan != nil && len(plan.Periods) > 0
	switch {
	case rc.C.PreferFixedLight && j.fixedProgram != nil && len(j.fixedProgram.Phases) > 0:
		tl := trafficlight.NewLocalTrafficLight(j.id, setters, yellow)
		if err := tl.Set(j.fixedProgram); err != nil {
			log.Panicf("set fixed program error: %v", err)
		}
		j.trafficLight = tl
	case hasPeriods && rc.C.LightPolicy != config.LightPolicyMaxPressure:
		tl := trafficlight.NewLocalTrafficLight(j.id, setters, yellow)
		if err := tl.Set(plan.Program(j.orderedLanes)); err != nil {
			log.Panicf("set generated program error: %v", err)
		}
		tl.SetPhase(int32(plan.CurrentPeriod), plan.Remaining)
		j.trafficLight = tl
	case hasPeriods:
		j.trafficLight = trafficlight.NewMaxPressureTrafficLight(
			j.id, setters, plan.PhaseStates(j.orderedLanes), plan.CurrentPeriod, plan.Remaining,
		)
	case len(j.phases) > 0 && rc.C.LightPolicy == config.LightPolicyMaxPressure:
		j.trafficLight = trafficlight.NewMaxPressureTrafficLight(j.id, setters, j.phases, 0, 0)
	}
	return j
}

func (j *Junction) prepare() {
	if j.trafficLight != nil {
		j.trafficLight.Prepare()
	}
}

func (j *Junction) update(dt float64) {
	if j.trafficLight != nil {
		j.trafficLight.Update(dt)
	}
}

// ID 路口ID，j为nil时返回-1
func (j *Junction) ID() int32 {
	if j == nil {
		return -1
	}
	return j.id
}

func (j *Junction) Lanes() map[int32]entity.ILane {
	return j.lanes
}

// HasTrafficLight 是否有正常工作的信号灯
func (j *Junction) HasTrafficLight() bool {
	return j.trafficLight != nil && j.trafficLight.Ok()
}

// PeriodCount 生成的相位数
func (j *Junction) PeriodCount() int {
	if j.plan == nil {
		return 0
	}
	return len(j.plan.Periods)
}

// Plan 生成的信控方案，可能为nil
func (j *Junction) Plan() *Plan {
	return j.plan
}

// SetTrafficLight 设置信号灯程序
func (j *Junction) SetTrafficLight(tl *mapv2.TrafficLight) error {
	if j.trafficLight == nil {
		return ErrDisabledTrafficLight
	}
	return j.trafficLight.Set(tl)
}

func (j *Junction) unsetTrafficLight() error {
	if j.trafficLight == nil {
		return ErrDisabledTrafficLight
	}
	j.trafficLight.Unset()
	return nil
}

func (j *Junction) setPhase(offset int32, remainingTime float64) error {
	if j.trafficLight == nil {
		return ErrDisabledTrafficLight
	}
	j.trafficLight.SetPhase(offset, remainingTime)
	return nil
}

// setStatus 设置信控开关，false时全绿
func (j *Junction) setStatus(ok bool) error {
	if j.trafficLight == nil {
		return ErrDisabledTrafficLight
	}
	j.trafficLight.SetOk(ok)
	return nil
}
