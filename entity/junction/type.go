package junction

import (
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
)

// ITrafficLight 路口对信号灯的需求，由trafficlight包的固定程序与最大压力两种实现满足
// 写入类方法只写缓冲，在下一次Prepare时生效
type ITrafficLight interface {
	Prepare()          // 应用缓冲的修改，把当前相位的灯色写入车道
	Update(dt float64) // 推进相位计时

	Get() *mapv2.TrafficLight // 固定程序；按压力选择相位时为nil
	Step() int32
	RemainingTime() float64
	Ok() bool

	Set(tl *mapv2.TrafficLight) error
	Unset() // 删除程序，所有车道转为绿灯
	SetPhase(offset int32, remainingTime float64)
	SetOk(ok bool) // 关闭时所有车道为绿灯
}
