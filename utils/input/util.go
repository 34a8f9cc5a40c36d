package input

import (
	"os"

	"git.fiblab.net/general/common/v2/geometry"
	geov2 "git.fiblab.net/sim/protos/v2/go/city/geo/v2"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
)

// mapIDs 地图车道ID与长度，用于校验人员初始位置
type mapIDs struct {
	drivingLanes map[int32]float64 // 行车道ID -> 长度
	walkingLanes map[int32]float64 // 人行道ID -> 长度
}

func newMapIDs(m *mapv2.Map) mapIDs {
	ids := mapIDs{
		drivingLanes: make(map[int32]float64),
		walkingLanes: make(map[int32]float64),
	}
	for _, v := range m.Lanes {
		switch v.Type {
		case mapv2.LaneType_LANE_TYPE_DRIVING:
			ids.drivingLanes[v.Id] = polylineLength(v.GetCenterLine().GetNodes())
		case mapv2.LaneType_LANE_TYPE_WALKING:
			ids.walkingLanes[v.Id] = polylineLength(v.GetCenterLine().GetNodes())
		}
	}
	return ids
}

func polylineLength(nodes []*geov2.XYPosition) float64 {
	if len(nodes) == 0 {
		return 0
	}
	line := make([]geometry.Point, len(nodes))
	for i, node := range nodes {
		line[i] = geometry.NewPointFromPb(node)
	}
	lengths := geometry.GetPolylineLengths2D(line)
	return lengths[len(lengths)-1]
}

// checkHomeValid 检查人员初始位置
// 功能：初始位置必须是行车道或人行道上的车道坐标，且位置不超出车道长度
// 说明：AOI坐标无法直接放置车辆或行人，视为非法
func checkHomeValid(pos *geov2.Position, ids mapIDs) bool {
	if pos == nil || pos.LanePosition == nil || pos.AoiPosition != nil {
		return false
	}
	lp := pos.LanePosition
	length, ok := ids.drivingLanes[lp.LaneId]
	if !ok {
		length, ok = ids.walkingLanes[lp.LaneId]
	}
	return ok && lp.S >= 0 && lp.S <= length
}

// preCheckCache 预检查缓存目录
// 返回：缓存目录存在且为文件夹时返回true
func preCheckCache(cacheDir string) bool {
	if cacheDir == "" {
		log.Info("disable input cache")
		return false
	}
	if stat, err := os.Stat(cacheDir); err == nil && stat.IsDir() {
		log.Infof("enable input cache at %s", cacheDir)
		return true
	}
	log.Errorf("disable input cache because invalid dir %s (not exist or file)", cacheDir)
	return false
}
