// 最大压力信控：在路口生成的相位中，每个相位结束时选取绿灯车道压力之和最大的相位
package trafficlight

import (
	"errors"
	"flag"

	"git.fiblab.net/general/common/v2/mathutil"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/container"
)

var (
	yellowTime          = flag.Float64("tl.mp_yellow_time", 3, "最大压力法黄灯时间")
	pedestrianClearTime = flag.Float64("tl.mp_pedestrian_clear_time", 5, "最大压力法行人清空时间")
	allRedTime          = flag.Float64("tl.mp_all_red_time", 3, "最大压力法全红时间")
	phaseTime           = flag.Float64("tl.mp_phase_time", 15, "最大压力法相位时间")
	maxRepeatCount      = flag.Int("tl.mp_max_repeat_count", 6, "最大压力法每个相位最多重复的次数")
)

var (
	ErrMaxPressure = errors.New("mp: cannot set traffic light program under max pressure policy")
)

// transition 两个相位之间的过渡灯色序列（行人清空、黄灯、全红）
type transition struct {
	phases [][]mapv2.LightState
	times  []float64
}

func (t *transition) empty() bool {
	return len(t.phases) == 0
}

func (t *transition) add(phase []mapv2.LightState, time float64) {
	t.phases = append(t.phases, phase)
	t.times = append(t.times, time)
}

func (t *transition) pop() {
	t.phases, t.times = t.phases[1:], t.times[1:]
}

type mpRuntime struct {
	index       int     // 当前相位
	repeatCount int     // 当前相位连续选中的次数
	totalT      float64 // 当前（过渡）相位总时长
	remainingT  float64 // 当前（过渡）相位剩余时长
	transition  transition
	nextIndex   int // 过渡结束后的相位
}

// mpTrafficLight 最大压力信号灯
type mpTrafficLight struct {
	junctionID         int32
	lanes              []entity.ILaneTrafficLightSetter
	phases             [][]mapv2.LightState // 可选相位，少于两个时不信控
	snapshotRemainingT float64
	runtime            mpRuntime
	buffer             *mpRuntime // SetPhase的写入缓冲
	ok                 bool
	okBuffer           bool
}

// NewMaxPressureTrafficLight 创建最大压力信号灯
// 参数：junctionID-路口ID，lanes-路口内车道，phases-可选相位，initial-初始相位，remainingT-初始相位剩余时长
func NewMaxPressureTrafficLight(
	junctionID int32, lanes []entity.ILaneTrafficLightSetter, phases [][]mapv2.LightState,
	initial int, remainingT float64,
) *mpTrafficLight {
	if initial < 0 || initial >= len(phases) {
		initial = 0
	}
	return &mpTrafficLight{
		junctionID: junctionID,
		lanes:      lanes,
		phases:     phases,
		runtime:    mpRuntime{index: initial, repeatCount: 1, totalT: remainingT, remainingT: remainingT},
		ok:         true,
		okBuffer:   true,
	}
}

func (l *mpTrafficLight) Prepare() {
	l.ok = l.okBuffer
	l.snapshotRemainingT = l.runtime.remainingT
	if len(l.phases) < 2 || !l.ok {
		for _, lane := range l.lanes {
			lane.SetLight(mapv2.LightState_LIGHT_STATE_GREEN, mathutil.INF, mathutil.INF)
		}
		return
	}
	rt := &l.runtime
	if rt.transition.empty() {
		for i, lane := range l.lanes {
			lane.SetLight(l.phases[rt.index][i], rt.totalT, rt.remainingT)
		}
		return
	}
	phase := rt.transition.phases[0]
	next := l.phases[rt.nextIndex]
	if len(rt.transition.phases) > 1 {
		next = rt.transition.phases[1]
	}
	for i, lane := range l.lanes {
		// 下一灯色仍为绿灯时把下一段时长也计入
		if phase[i] == mapv2.LightState_LIGHT_STATE_GREEN && next[i] == mapv2.LightState_LIGHT_STATE_GREEN {
			lane.SetLight(phase[i], rt.totalT+*phaseTime, rt.remainingT+*phaseTime)
		} else {
			lane.SetLight(phase[i], rt.totalT, rt.remainingT)
		}
	}
}

// rankPhases 按绿灯车道压力之和从大到小排列的相位堆
func (l *mpTrafficLight) rankPhases() *container.PriorityQueue[int] {
	pressure := lo.Map(l.lanes, func(lane entity.ILaneTrafficLightSetter, _ int) float64 {
		return lane.GetPressure()
	})
	heap := container.NewPriorityQueue[int]()
	for i, phase := range l.phases {
		sum := 0.
		for j, state := range phase {
			if state == mapv2.LightState_LIGHT_STATE_GREEN {
				sum += pressure[j]
			}
		}
		heap.Push(i, -sum)
	}
	heap.Heapify()
	return heap
}

// buildTransition 从当前相位切换到next的过渡序列：行人清空 -> 黄灯 -> 车道全红
func (l *mpTrafficLight) buildTransition(from, to []mapv2.LightState) transition {
	n := len(l.lanes)
	clearPhase := make([]mapv2.LightState, n)
	yellow := make([]mapv2.LightState, n)
	allRed := make([]mapv2.LightState, n)
	copy(clearPhase, from)
	copy(yellow, from)
	copy(allRed, to)
	hasClear, hasAllRed := false, false
	for i, state := range from {
		walk := l.lanes[i].IsWalkLane()
		if state == mapv2.LightState_LIGHT_STATE_GREEN && to[i] == mapv2.LightState_LIGHT_STATE_RED {
			yellow[i] = mapv2.LightState_LIGHT_STATE_YELLOW
			if walk {
				clearPhase[i] = mapv2.LightState_LIGHT_STATE_YELLOW
				hasClear = true
			}
		}
		if state == mapv2.LightState_LIGHT_STATE_RED && to[i] == mapv2.LightState_LIGHT_STATE_GREEN && !walk {
			allRed[i] = mapv2.LightState_LIGHT_STATE_RED
			hasAllRed = true
		}
	}
	var t transition
	if hasClear {
		t.add(clearPhase, *pedestrianClearTime)
	}
	t.add(yellow, *yellowTime)
	if hasAllRed {
		t.add(allRed, *allRedTime)
	}
	return t
}

// Update 推进相位
// 算法说明：
// 1. 过渡序列未结束时进入下一段过渡，结束时进入选中的相位
// 2. 相位结束时选取压力最大的相位，与当前相位相同且未达到最大重复次数时延长当前相位，否则取压力第二大的相位
// 3. 切换到不同相位前插入过渡序列
func (l *mpTrafficLight) Update(dt float64) {
	if l.buffer != nil {
		l.runtime = *l.buffer
		l.buffer = nil
	}
	if len(l.phases) < 2 || !l.ok {
		return
	}
	rt := &l.runtime
	rt.remainingT -= dt
	if rt.remainingT > 0 {
		return
	}
	switch {
	case len(rt.transition.phases) == 1:
		rt.index = rt.nextIndex
		rt.remainingT += *phaseTime
		rt.transition = transition{}
	case len(rt.transition.phases) > 1:
		rt.transition.pop()
		rt.remainingT += rt.transition.times[0]
	default:
		heap := l.rankPhases()
		best, _ := heap.HeapPop()
		if best == rt.index {
			if rt.repeatCount >= *maxRepeatCount {
				best, _ = heap.HeapPop()
			} else {
				rt.remainingT += *phaseTime
				rt.repeatCount++
			}
		}
		if best != rt.index {
			rt.nextIndex = best
			rt.repeatCount = 1
			rt.transition = l.buildTransition(l.phases[rt.index], l.phases[best])
			rt.remainingT += rt.transition.times[0]
		}
	}
	if rt.remainingT <= 0 {
		log.Warnf("traffic light %d remaining time %f <= 0", l.junctionID, rt.remainingT)
	}
	rt.totalT = rt.remainingT
}

// Get 最大压力信控没有固定程序
func (l *mpTrafficLight) Get() *mapv2.TrafficLight {
	return nil
}

func (l *mpTrafficLight) Set(tl *mapv2.TrafficLight) error {
	return ErrMaxPressure
}

func (l *mpTrafficLight) Unset() {}

// SetPhase 切换到相位offset并放弃正在进行的过渡，下一次Update生效
func (l *mpTrafficLight) SetPhase(offset int32, remainingT float64) {
	if offset < 0 || int(offset) >= len(l.phases) {
		log.Warnf("traffic light %d: invalid phase %d", l.junctionID, offset)
		return
	}
	l.buffer = &mpRuntime{index: int(offset), repeatCount: 1, totalT: remainingT, remainingT: remainingT}
}

func (l *mpTrafficLight) SetOk(ok bool) {
	l.okBuffer = ok
}

// Step 过渡期间返回-1
func (l *mpTrafficLight) Step() int32 {
	if !l.runtime.transition.empty() {
		return -1
	}
	return int32(l.runtime.index)
}

func (l *mpTrafficLight) RemainingTime() float64 {
	return l.snapshotRemainingT
}

func (l *mpTrafficLight) Ok() bool {
	return l.ok
}
