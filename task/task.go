package task

import (
	"sync/atomic"

	"git.fiblab.net/sim/syncer/v3"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/clock"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity/crowd"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity/junction"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity/lane"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity/vehicle"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/config"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/input"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/metrics"
)

// Context 仿真任务上下文
// 功能：包含一次仿真任务的所有变量和状态
// 说明：管理时钟、各类管理器、配置与指标
type Context struct {
	// 任务名
	job string
	// 关闭指令
	closed atomic.Bool

	clock *clock.Clock

	// 辅助程序，处理分布式模式下与syncer、其他服务的交互
	sidecar *syncer.Sidecar
	// sidecar close channel
	sidecarCloseCh chan struct{}
	// 缓存文件夹
	cacheDir string

	laneManager     *lane.LaneManager
	junctionManager *junction.JunctionManager
	vehicleManager  *vehicle.Manager
	crowdManager    *crowd.Manager

	runtimeConfig *config.RuntimeConfig
	// 未启用指标时为nil
	metrics *metrics.Collector

	// 用于初始化的输入
	initRes *input.Input
}

// NewContext 创建新的仿真任务上下文
// 参数：
//   - job: 任务名称
//   - cacheDir: 缓存目录
//   - c: 配置对象
//   - sidecar: sidecar实例
//   - m: 指标，可以为nil
//   - startSidecarServe: 是否启动sidecar服务
//
// 算法说明：
// 1. 加载地图、人员与信控设施
// 2. 创建车道、路口、车辆、行人管理器
// 3. 注册RPC服务到sidecar并按需启动服务
func NewContext(
	job string,
	cacheDir string,
	c config.Config,
	sidecar *syncer.Sidecar,
	m *metrics.Collector,
	startSidecarServe bool,
) *Context {
	ctx := &Context{
		job:            job,
		cacheDir:       cacheDir,
		sidecar:        sidecar,
		sidecarCloseCh: make(chan struct{}),
		metrics:        m,
	}
	ctx.clock = clock.New(c.Control.Step)

	// 下载所有模拟器启动所需的数据
	ctx.initRes = input.Init(c, ctx.cacheDir)

	ctx.runtimeConfig = config.NewRuntimeConfig(c)

	ctx.laneManager = lane.NewManager(ctx)
	ctx.junctionManager = junction.NewManager(ctx)
	ctx.vehicleManager = vehicle.NewManager(ctx)
	ctx.crowdManager = crowd.NewManager(ctx)

	ctx.clock.Register(ctx.sidecar)
	ctx.junctionManager.Register(ctx.sidecar)
	ctx.vehicleManager.Register(ctx.sidecar)

	// sidecar协程，用于提供RPC服务
	if startSidecarServe {
		go func() {
			err := ctx.sidecar.Serve()
			if err != nil {
				log.Panicf("failed to serve: %v", err)
			}
			ctx.sidecarCloseCh <- struct{}{}
		}()
	}

	return ctx
}

func (ctx *Context) GetInput() *input.Input {
	return ctx.initRes
}

func (ctx *Context) Clock() *clock.Clock {
	return ctx.clock
}

func (ctx *Context) LaneManager() entity.ILaneManager {
	return ctx.laneManager
}

func (ctx *Context) JunctionManager() entity.IJunctionManager {
	return ctx.junctionManager
}

func (ctx *Context) VehicleManager() entity.IVehicleManager {
	return ctx.vehicleManager
}

func (ctx *Context) CrowdManager() entity.ICrowdManager {
	return ctx.crowdManager
}

func (ctx *Context) RuntimeConfig() *config.RuntimeConfig {
	return ctx.runtimeConfig
}

func (ctx *Context) Metrics() *metrics.Collector {
	return ctx.metrics
}

// Init 按依赖顺序初始化各管理器
// 说明：车道先于路口（路口构建写入车道标注），路口先于车辆与行人（车辆出生时读取车道后继）
func (ctx *Context) Init() {
	ctx.clock.Init()

	initRes := ctx.initRes
	mapData := initRes.Map
	persons := initRes.Persons.GetPersons()

	log.Infof("Lane: %v", len(mapData.Lanes))
	log.Infof("Junction: %v", len(mapData.Junctions))
	log.Infof("Person: %v", len(persons))

	ctx.laneManager.Init(mapData.Lanes, mapData.Junctions)
	ctx.junctionManager.Init(mapData.Junctions, ctx.laneManager, initRes.Controllers)
	ctx.vehicleManager.Init(persons, ctx.laneManager)
	ctx.crowdManager.Init(persons, ctx.laneManager)
	ctx.metrics.SetActive(ctx.vehicleManager.Count(), ctx.crowdManager.Count())
}

func (ctx *Context) Close() {
	if ctx.closed.Load() {
		return
	}
	ctx.sidecar.Close()
	// wait for graceful stop
	<-ctx.sidecarCloseCh
	ctx.closed.Store(true)
}
