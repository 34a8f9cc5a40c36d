package lane

import (
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/container"
)

func (l *Lane) marchLimit() int {
	return l.ctx.RuntimeConfig().T.Lane.MarchLimit
}

func (l *Lane) marchOverrun(from string) {
	log.Warnf("%v: vehicle list march exceeds %d steps from %s, list may be corrupted", l, l.marchLimit(), from)
	l.ctx.Metrics().MarchOverrun()
}

// FindNearbyVehiclesRelativeToDistance 查找位置s后方（S<=s）与前方（S>s）最近的车辆
// 说明：遍历超过上限时记录告警并返回ok=false，调用方应按最保守的方式处理
func (l *Lane) FindNearbyVehiclesRelativeToDistance(s float64) (behind, ahead *entity.VehicleNode, ok bool) {
	behind, ahead, ok = l.vehicles.list.Around(s, l.marchLimit())
	if !ok {
		l.marchOverrun("distance")
	}
	return
}

// FindNearbyVehiclesRelativeToVehicle 查找与车辆node相邻的前后车辆
// 说明：node不在本车道时按长度比例将其位置换算到本车道后查找，结果不含node自身
func (l *Lane) FindNearbyVehiclesRelativeToVehicle(node *entity.VehicleNode) (behind, ahead *entity.VehicleNode, ok bool) {
	if node.Parent() == l.vehicles.list {
		return node.Prev(), node.Next(), true
	}
	s := node.S
	if lane := node.Value.Lane(); lane != nil && lane.Index() != l.index {
		s = l.ProjectFromLane(lane, node.S)
	}
	behind, ahead, ok = l.FindNearbyVehiclesRelativeToDistance(s)
	if !ok {
		return
	}
	if behind == node {
		behind = behind.Prev()
	}
	if ahead == node {
		ahead = ahead.Next()
	}
	return
}

// MarchVehicles 从node出发沿链表遍历，fn返回false时停止
// 返回：遍历是否在上限内正常结束
func (l *Lane) MarchVehicles(from *entity.VehicleNode, forward bool, fn func(*entity.VehicleNode) bool) bool {
	if container.March(from, forward, l.marchLimit(), fn) {
		return true
	}
	l.marchOverrun("vehicle")
	return false
}
