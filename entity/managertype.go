package entity

import (
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	"git.fiblab.net/sim/syncer/v3"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/hgrid"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/input"
)

// Manager依赖倒置

// entity/lane/manager.go的依赖倒置
type ILaneManager interface {
	Init(lanes []*mapv2.Lane, junctions []*mapv2.Junction) // 初始化

	// 输入Lane ID，查找Lane，如果不存在则panic
	Get(id int32) ILane
	// 输入Lane ID，查找Lane，如果不存在则返回error
	GetOrError(id int32) (ILane, error)
	// 输入车道下标，查找Lane，如果不存在则panic
	At(index LaneIndex) ILane
	// 全部车道（按下标排列）
	Lanes() []ILane
	// 以满足filter的车道中点建立空间索引
	MidpointGrid(filter LaneTagFilter, cellSize float64) *hgrid.Grid[LaneIndex]

	Prepare() // 准备阶段：链表维护与实时统计
}

// entity/junction/manager.go的依赖倒置
type IJunctionManager interface {
	// 初始化：构建路口、分配信控设施、生成相位
	Init(pbs []*mapv2.Junction, laneManager ILaneManager, controllers *input.Controllers)
	Register(sidecar *syncer.Sidecar) // 注册到Sidecar

	// 输入Junction ID，查找Junction，如果不存在则panic
	Get(id int32) IJunction
	// 输入Junction ID，查找Junction，如果不存在则返回error
	GetOrError(id int32) (IJunction, error)

	Prepare()          // 准备阶段
	Update(dt float64) // 更新阶段
}

// entity/vehicle/manager.go的依赖倒置
type IVehicleManager interface {
	Init(pbs []*personv2.Person, laneManager ILaneManager)

	// 输入车辆ID，查找车辆，如果不存在则panic
	Get(id int32) IVehicle
	// 输入车辆ID，查找车辆，如果不存在则返回error
	GetOrError(id int32) (IVehicle, error)
	Count() int // 在途车辆数

	PrepareNode()      // 准备阶段：链表节点更新
	Prepare()          // 准备阶段：snapshot更新
	Update(dt float64) // 更新阶段
}

// entity/crowd/manager.go的依赖倒置
type ICrowdManager interface {
	Init(pbs []*personv2.Person, laneManager ILaneManager)

	Get(id int32) IPedestrian
	GetOrError(id int32) (IPedestrian, error)
	Count() int // 在途行人数

	PrepareNode()
	Prepare()
	Update(dt float64)
}
