package entity

import (
	"fmt"
	"strings"

	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/config"
)

// LaneIndex 车道在车道数组中的下标，构建完成后稳定不变
type LaneIndex int32

// NoLane 无效车道下标
const NoLane LaneIndex = -1

// Valid 是否为有效下标
func (i LaneIndex) Valid() bool {
	return i >= 0
}

// LaneTag 车道标签位集合
type LaneTag uint8

const (
	TagVehicle      LaneTag = 1 << iota // 行车道
	TagPedestrian                       // 人行道
	TagIntersection                     // 路口内车道
	TagCrosswalk                        // 人行横道（路口内人行道）
	TagTrunk                            // 主干道
	TagFreeway                          // 快速路
)

var tagNames = []struct {
	tag  LaneTag
	name string
}{
	{TagVehicle, "vehicle"},
	{TagPedestrian, "pedestrian"},
	{TagIntersection, "intersection"},
	{TagCrosswalk, "crosswalk"},
	{TagTrunk, "trunk"},
	{TagFreeway, "freeway"},
}

// Has 是否包含o中的全部标签
func (t LaneTag) Has(o LaneTag) bool {
	return t&o == o
}

func (t LaneTag) String() string {
	names := make([]string, 0, len(tagNames))
	for _, n := range tagNames {
		if t.Has(n.tag) {
			names = append(names, n.name)
		}
	}
	return "[" + strings.Join(names, ",") + "]"
}

// ParseLaneTag 根据名称解析单个标签
func ParseLaneTag(name string) (LaneTag, error) {
	for _, n := range tagNames {
		if n.name == name {
			return n.tag, nil
		}
	}
	return 0, fmt.Errorf("unknown lane tag %q", name)
}

func parseLaneTags(names []string) (LaneTag, error) {
	var t LaneTag
	for _, name := range names {
		tag, err := ParseLaneTag(name)
		if err != nil {
			return 0, err
		}
		t |= tag
	}
	return t, nil
}

// LaneTagFilter 车道标签过滤器
// 说明：Any为空时不限制，All中的标签必须全部含有，Not中的标签一个都不能含有
type LaneTagFilter struct {
	Any LaneTag
	All LaneTag
	Not LaneTag
}

// Pass 标签集合是否通过过滤器
func (f LaneTagFilter) Pass(t LaneTag) bool {
	return (f.Any == 0 || t&f.Any != 0) && t.Has(f.All) && t&f.Not == 0
}

// ParseLaneTagFilter 将配置中的过滤器转换为位集合形式
func ParseLaneTagFilter(c config.LaneTagFilter) (f LaneTagFilter, err error) {
	if f.Any, err = parseLaneTags(c.Any); err != nil {
		return
	}
	if f.All, err = parseLaneTags(c.All); err != nil {
		return
	}
	f.Not, err = parseLaneTags(c.Not)
	return
}

// LinkType 车道连接类型
type LinkType uint8

const (
	LinkOutgoing LinkType = iota // 后继
	LinkIncoming                 // 前驱
	LinkAdjacent                 // 横向相邻
)

// LinkFlag 横向相邻连接的附加标记
type LinkFlag uint8

const (
	LinkLeft      LinkFlag = 1 << iota // 左侧同向车道
	LinkRight                          // 右侧同向车道
	LinkMerging                        // 与本车道汇入同一后继
	LinkSplitting                      // 与本车道从同一前驱分出
)

// Link 车道间的一条连接
type Link struct {
	Type  LinkType
	Flags LinkFlag
	Lane  ILane
}

// SignType 路口进口边的控制标志
type SignType uint8

const (
	SignNone          SignType = iota // 未找到标志，按停车让行处理
	SignYield                         // 减速让行
	SignStop                          // 停车让行
	SignRoadCrosswalk                 // 路段人行横道
)

func (s SignType) String() string {
	switch s {
	case SignYield:
		return "yield"
	case SignStop:
		return "stop"
	case SignRoadCrosswalk:
		return "road_crosswalk"
	}
	return "none"
}

// RequiresStop 车辆是否必须在停车线前完全停车
func (s SignType) RequiresStop() bool {
	return s == SignNone || s == SignStop
}
