package task

import (
	"flag"
	"sync"
	"time"
)

const (
	SelfName = "traffic" // 本程序在模拟任务集群中的名字
)

var (
	heartBeatInterval = flag.Int("log.heartbeat_interval", 100, "心跳日志间隔步数")
)

// parallel 并发执行并等待全部完成
func parallel(fns ...func()) {
	var wg sync.WaitGroup
	for _, fn := range fns {
		fn := fn
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}
	wg.Wait()
}

// prepare 准备阶段，每步执行一次
// 算法说明：
// 1. 更新时钟，定期输出心跳日志
// 2. 车辆与行人维护车道链表节点，再更新快照
// 3. 车道链表生效并计算实时统计（读取车辆与行人快照）
// 4. 路口信号灯写入车道灯色
// 说明：更新阶段只读取本阶段冻结的数据
func (ctx *Context) prepare() {
	ctx.clock.Tick()

	if ctx.clock.InternalStep%int32(*heartBeatInterval) == 0 {
		hour, minute, second := ctx.clock.GetHourMinuteSecond()
		log.Infof(
			"STEP: %d(%d:%d:%.2f) vehicles: %d pedestrians: %d",
			ctx.clock.InternalStep,
			hour, minute, second,
			ctx.vehicleManager.Count(), ctx.crowdManager.Count(),
		)
	}

	parallel(ctx.vehicleManager.PrepareNode, ctx.crowdManager.PrepareNode)
	parallel(ctx.vehicleManager.Prepare, ctx.crowdManager.Prepare)
	ctx.laneManager.Prepare()
	ctx.junctionManager.Prepare()
	ctx.metrics.SetActive(ctx.vehicleManager.Count(), ctx.crowdManager.Count())
}

// update 更新阶段，每步执行一次
func (ctx *Context) update() {
	dt := ctx.clock.DT
	parallel(
		func() { ctx.vehicleManager.Update(dt) },
		func() { ctx.crowdManager.Update(dt) },
		func() { ctx.junctionManager.Update(dt) },
	)
}

// Run 运行
// 说明：每个外部步包含SUBLOOP个内部步，只在外部步上与syncer同步
func (ctx *Context) Run() {
	ctx.Init()
	// init syncer
	ctx.sidecar.Step(false)
	for {
		for i := int32(0); i < ctx.clock.SUBLOOP; i++ {
			start := time.Now()
			ctx.prepare()
			if i == 0 {
				// 通知准备阶段完成
				log.Debugf("step %d: prepare complete and call NotifyStepReady", ctx.clock.InternalStep)
				ctx.sidecar.NotifyStepReady()
			}
			ctx.update()
			ctx.metrics.ObserveStep(time.Since(start))
			log.Debugf("step %d: update complete", ctx.clock.InternalStep)
		}
		last := ctx.clock.InternalStep+1 >= ctx.clock.END_STEP
		close := ctx.sidecar.Step(last)
		if close || ctx.closed.Load() || ctx.clock.Done() {
			break
		}
	}
	log.Infof("engine complete")
	ctx.Close()
}
