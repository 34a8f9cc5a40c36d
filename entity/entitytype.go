package entity

import (
	"git.fiblab.net/general/common/v2/geometry"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/paulmach/orb"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/container"
)

// 方位常量
const (
	LEFT   = 0 // 左侧
	RIGHT  = 1 // 右侧
	BEFORE = 0 // 后方，等价于prev/behind
	AFTER  = 1 // 前方，等价于next/ahead
)

// NoLight 车道不受信号灯控制
const NoLight int32 = -1

// entity/vehicle/vehicle.go的依赖倒置
// 说明：车道在Prepare阶段读取的字段均来自车辆的snapshot
type IVehicle interface {
	ID() int32
	String() string

	Lane() ILane             // 所在车道
	S() float64              // 车道上的位置（车头）
	V() float64              // 速度
	Length() float64         // 车长
	MinGap() float64         // 最小停车间距
	IsYielding() bool        // 是否正在让行（预先或反应式）
	LaneChangeSource() ILane // 变道过程中的原车道，不在变道时为nil
	NextLane() ILane         // 已选定的下一条车道
}

// entity/crowd/pedestrian.go的依赖倒置
type IPedestrian interface {
	ID() int32
	String() string

	Lane() ILane           // 所在车道
	S() float64            // 车道上的位置
	V() float64            // 速率（非负）
	Length() float64       // 占用长度（直径）
	Radius() float64       // 半径
	IsForward() bool       // 是否沿车道正方向行走
	YieldingToLane() ILane // 正在为之让行的行车道，无则为nil
}

// 车辆链表节点类型
type VehicleNode = container.ListNode[IVehicle, struct{}]

// 车辆链表类型
type VehicleList = container.List[IVehicle, struct{}]

// 行人链表节点类型
type PedestrianNode = container.ListNode[IPedestrian, struct{}]

// 行人链表类型
type PedestrianList = container.List[IPedestrian, struct{}]

// entity/lane/lane.go的依赖倒置
type ILane interface {
	ILaneTrafficLightSetter
	ILaneAnnotator

	String() string

	// 静态属性

	Index() LaneIndex     // 车道数组下标
	ID() int32            // Lane ID
	Length() float64      // 长度
	Width() float64       // 宽度
	Type() mapv2.LaneType // 类型
	Turn() mapv2.LaneTurn // 转向类型
	MaxV() float64        // 限速
	ParentID() int32      // 所在道路/路口ID
	Tags() LaneTag        // 标签集合
	IsIntersection() bool // 是否为路口内车道
	IsCrosswalk() bool    // 是否为人行横道
	IsTrunk() bool        // 是否为主干道
	TurnsLeft() bool      // 是否左转（含掉头）
	TurnsRight() bool     // 是否右转

	// 拓扑

	Links() []Link                                               // 全部连接
	LinkedLanes(typ LinkType, include, exclude LinkFlag) []ILane // 按类型与标记筛选连接车道
	FirstLinkedLane(typ LinkType, include, exclude LinkFlag) ILane
	Successors() []ILane              // 后继
	Predecessors() []ILane            // 前驱
	LeftLane() ILane                  // 左侧相邻车道
	RightLane() ILane                 // 右侧相邻车道
	NeighborLane(side int) ILane      // 根据side获取左(side=0)/右(side=1)侧的Lane
	MergingLanes() []ILane            // 与本车道汇入同一后继的车道
	SplittingLanes() []ILane          // 与本车道从同一前驱分出的车道
	HasTransverseLaneAdjacency() bool // 本应属于汇入/分出组但有横向相邻车道
	ConflictLanes() []ILane           // 路口内冲突车道（交叠与汇入）
	CrossedCrosswalks() []ILane       // 车道穿过的人行横道

	// 几何

	Line() []geometry.Point                                // 中心线
	GetPositionByS(s float64) geometry.Point               // s坐标转xy坐标
	GetOffsetPositionByS(s, offset float64) geometry.Point // s坐标向右侧平移offset后的xy坐标
	GetDirectionByS(s float64) geometry.PolylineDirection  // s处切向
	ProjectToLane(pos geometry.Point) float64              // xy坐标投影为s坐标
	ProjectFromLane(other ILane, otherS float64) float64   // 按长度比例换算other上的s坐标
	StartPoint() orb.Point                                 // 起点
	EndPoint() orb.Point                                   // 终点
	Midpoint() orb.Point                                   // 中点（按长度）
	StartDirection() orb.Point                             // 起点处单位切向
	EndDirection() orb.Point                               // 终点处单位切向
	Bound() orb.Bound                                      // 包围盒
	// 本车道与other车道（按宽度展开）交叉的进入与离开距离
	EnterAndExitDistances(other ILane) (enter, exit float64, ok bool)

	// 占用

	Vehicles() *VehicleList       // 车道上的车辆（按S升序）
	Pedestrians() *PedestrianList // 车道上的行人（按S升序）
	AddVehicle(node *VehicleNode)
	RemoveVehicle(node *VehicleNode)
	AddPedestrian(node *PedestrianNode)
	RemovePedestrian(node *PedestrianNode)
	// 查找位置s后方与前方最近的车辆，遍历超过上限时ok=false
	FindNearbyVehiclesRelativeToDistance(s float64) (behind, ahead *VehicleNode, ok bool)
	// 查找与车辆node相邻的前后车辆，遍历超过上限时ok=false
	FindNearbyVehiclesRelativeToVehicle(node *VehicleNode) (behind, ahead *VehicleNode, ok bool)
	// 从from出发沿链表遍历，fn返回false时停止，遍历超过上限时返回false
	MarchVehicles(from *VehicleNode, forward bool, fn func(*VehicleNode) bool) bool

	// 实时统计（Prepare阶段计算，Update阶段只读）

	VehicleCount() int                           // 车辆数
	SpaceAvailable() float64                     // 剩余空间
	FunctionalDensity() float64                  // 占用密度[0,1]
	DownstreamFlowDensity() float64              // 下游流密度
	NumVehiclesApproachingFromIntersection() int // 从上游路口车道驶来的车辆数
	LaneChangingOnCount() int                    // 正在变道驶入的车辆数
	LaneChangingOffCount() int                   // 正在变道驶出的车辆数
	YieldingVehicleCount() int                   // 正在让行的车辆数
	IsReadyToUse() bool                          // 车道上有车或即将有车驶入
	IsYieldingToLane(vehicleLane ILane) bool     // 人行横道上是否有行人正在为vehicleLane让行

	// 信号灯

	Light() (state mapv2.LightState, totalTime float64, remainingTime float64)
	IsOpen() bool // 车辆/行人是否可以进入（绿灯或不受控）
}

// 车道的信控接口
type ILaneTrafficLightSetter interface {
	GetPressure() float64                                                      // 车道压力，用于信号灯控制
	SetLight(state mapv2.LightState, totalTime float64, remainingTime float64) // 设置信号灯状态
	IsWalkLane() bool                                                          // 是否是人行道
}

// 路口构建写入车道的唯一接口
type ILaneAnnotator interface {
	AnnotateIntersection(junctionID int32, sign SignType) // 标记车道所在路口与进口边标志
	AnnotateTrafficLight(lightIndex int32)                // 标记控制车道的信号灯
	IntersectionSign() (sign SignType, ok bool)           // 进口边标志，未标记时ok=false
	TrafficLightIndex() int32                             // 控制车道的信号灯，无则为NoLight
	IsTrafficLightControlled() bool
}

// entity/junction/junction.go的依赖倒置
type IJunction interface {
	ID() int32              // 获取Junction ID
	Lanes() map[int32]ILane // 获取Junction内的所有车道（Lane ID -> Lane）
	HasTrafficLight() bool  // 判断是否有信号灯
	PeriodCount() int       // 生成的相位数
}
