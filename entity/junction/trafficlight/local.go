package trafficlight

import (
	"fmt"

	"git.fiblab.net/general/common/v2/mathutil"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
)

// programState 循环信控程序的运行状态
type programState struct {
	tl         *mapv2.TrafficLight
	step       int32   // 当前相位
	totalT     float64 // 当前相位总时长
	remainingT float64 // 当前相位剩余时长
}

// localTrafficLight 按相位顺序循环的信号灯
// 说明：相位结束前yellowT秒内，本相位绿灯且下一相位红灯的车道显示黄灯
type localTrafficLight struct {
	junctionID int32
	lanes      []entity.ILaneTrafficLightSetter
	yellowT    float64

	// timeBeforeChange[i][p] 车道i在相位p结束后仍保持同一灯色的时长
	timeBeforeChange [][]float64
	snapshot         programState
	runtime          programState
	buffer           *programState // 交互式接口的写入缓冲
	ok               bool
	okBuffer         bool
}

// NewLocalTrafficLight 创建循环信号灯
// 参数：junctionID-路口ID，lanes-路口内车道（与程序States顺序一致），yellowT-黄灯时长
func NewLocalTrafficLight(junctionID int32, lanes []entity.ILaneTrafficLightSetter, yellowT float64) *localTrafficLight {
	return &localTrafficLight{
		junctionID: junctionID,
		lanes:      lanes,
		yellowT:    yellowT,
		ok:         true,
		okBuffer:   true,
	}
}

// stateOf 车道i在当前快照中显示的灯色
func (l *localTrafficLight) stateOf(i int) mapv2.LightState {
	phases := l.snapshot.tl.Phases
	state := phases[l.snapshot.step].States[i]
	next := phases[(int(l.snapshot.step)+1)%len(phases)].States[i]
	if state == mapv2.LightState_LIGHT_STATE_GREEN &&
		next == mapv2.LightState_LIGHT_STATE_RED &&
		l.snapshot.remainingT <= l.yellowT {
		return mapv2.LightState_LIGHT_STATE_YELLOW
	}
	return state
}

// Prepare 写入快照并将灯色写入车道，无程序或信控关闭时全绿
func (l *localTrafficLight) Prepare() {
	l.ok = l.okBuffer
	l.snapshot = l.runtime
	if l.snapshot.tl == nil || !l.ok {
		for _, lane := range l.lanes {
			lane.SetLight(mapv2.LightState_LIGHT_STATE_GREEN, mathutil.INF, mathutil.INF)
		}
		return
	}
	for i, lane := range l.lanes {
		extra := l.timeBeforeChange[i][l.snapshot.step]
		lane.SetLight(l.stateOf(i), l.snapshot.totalT+extra, l.snapshot.remainingT+extra)
	}
}

// timeBeforeChange 计算每条车道在每个相位结束后灯色保持不变的时长
// 算法说明：
// 1. 从最后一个相位向前累加与后一相位灯色相同的相位时长
// 2. 所有相位灯色都相同的车道为无穷大
// 3. 首尾相位灯色相同时，尾部连续同色相位再加上从第一个相位起的保持时长
func timeBeforeChange(tl *mapv2.TrafficLight, numLanes int) [][]float64 {
	phases := tl.Phases
	n := len(phases)
	res := make([][]float64, numLanes)
	for i := range res {
		t := make([]float64, n)
		constant := true
		for p := n - 2; p >= 0; p-- {
			if phases[p+1].States[i] == phases[p].States[i] {
				t[p] = t[p+1] + phases[p+1].Duration
			} else {
				constant = false
			}
		}
		if constant {
			for p := range t {
				t[p] = mathutil.INF
			}
		} else if last := phases[n-1].States[i]; last == phases[0].States[i] {
			t0 := t[0] + phases[0].Duration
			for p := n - 1; p >= 0 && phases[p].States[i] == last; p-- {
				t[p] += t0
			}
		}
		res[i] = t
	}
	return res
}

// Update 处理写入缓冲并推进相位
func (l *localTrafficLight) Update(dt float64) {
	if l.buffer != nil {
		l.runtime = *l.buffer
		l.buffer = nil
		if l.runtime.tl != nil {
			l.timeBeforeChange = timeBeforeChange(l.runtime.tl, len(l.lanes))
		}
	}
	if l.runtime.tl == nil || !l.ok {
		return
	}

	l.runtime.remainingT -= dt
	if l.runtime.remainingT > 0 {
		return
	}
	l.runtime.remainingT = 0
	// 跳过时长为0的相位
	for {
		l.runtime.step = (l.runtime.step + 1) % int32(len(l.runtime.tl.Phases))
		l.runtime.remainingT += l.runtime.tl.Phases[l.runtime.step].Duration
		if l.runtime.remainingT > 0 {
			l.runtime.totalT = l.runtime.remainingT
			break
		}
	}
}

func (l *localTrafficLight) Get() *mapv2.TrafficLight {
	return l.snapshot.tl
}

// Set 设置新程序，下一次Update生效，从第一个相位开始
func (l *localTrafficLight) Set(tl *mapv2.TrafficLight) error {
	if tl.JunctionId != l.junctionID {
		return fmt.Errorf("set junction %d with wrong traffic light id %d", l.junctionID, tl.JunctionId)
	}
	if len(tl.Phases) == 0 {
		return fmt.Errorf("set junction %d with empty traffic light", l.junctionID)
	}
	for _, p := range tl.Phases {
		if len(p.States) != len(l.lanes) {
			return fmt.Errorf("number of lanes %d and traffic light states %d does not match", len(l.lanes), len(p.States))
		}
	}
	l.buffer = &programState{tl: tl, step: 0, totalT: tl.Phases[0].Duration, remainingT: tl.Phases[0].Duration}
	return nil
}

// Unset 删除程序（全绿），下一次Update生效
func (l *localTrafficLight) Unset() {
	l.buffer = &programState{}
}

// SetPhase 设置当前相位与剩余时长，下一次Update生效
func (l *localTrafficLight) SetPhase(offset int32, remainingT float64) {
	base := l.buffer
	if base == nil {
		if l.runtime.tl == nil {
			return
		}
		base = &programState{tl: l.runtime.tl}
	}
	if base.tl == nil || offset < 0 || int(offset) >= len(base.tl.Phases) {
		log.Warnf("junction %d: invalid phase %d", l.junctionID, offset)
		return
	}
	base.step = offset
	base.totalT = base.tl.Phases[offset].Duration
	base.remainingT = remainingT
	l.buffer = base
}

func (l *localTrafficLight) SetOk(ok bool) {
	l.okBuffer = ok
}

func (l *localTrafficLight) Step() int32 {
	return l.snapshot.step
}

func (l *localTrafficLight) RemainingTime() float64 {
	return l.snapshot.remainingT
}

func (l *localTrafficLight) Ok() bool {
	return l.ok
}
