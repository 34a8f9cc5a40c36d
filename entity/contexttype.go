package entity

import (
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/clock"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/config"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/metrics"
)

// ITaskContext 实体通过它访问时钟、其他管理器与配置，由task.Context实现
type ITaskContext interface {
	Clock() *clock.Clock
	LaneManager() ILaneManager
	JunctionManager() IJunctionManager
	VehicleManager() IVehicleManager
	CrowdManager() ICrowdManager
	RuntimeConfig() *config.RuntimeConfig
	Metrics() *metrics.Collector // 未启用指标时为nil，Collector的方法对nil安全
}
