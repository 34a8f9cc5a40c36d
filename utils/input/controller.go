package input

import (
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"gopkg.in/yaml.v2"
)

// 标志牌类型
const (
	SignYield = "yield"
	SignStop  = "stop"
)

// Point YAML中的平面坐标
type Point struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// Orb 转换为orb.Point
func (p Point) Orb() orb.Point {
	return orb.Point{p.X, p.Y}
}

// LightType 信号灯型号
type LightType struct {
	Name     string `yaml:"name"`
	NumLanes int    `yaml:"num_lanes,omitempty"` // 适用的进口车道数，0表示不限
}

// LightInstance 信号灯实例
type LightInstance struct {
	Position               Point `yaml:"position"`                 // 安装位置
	ControlledSideMidpoint Point `yaml:"controlled_side_midpoint"` // 采集数据时所控制进口边的中点
	TypeIndex              int   `yaml:"type_index"`               // 信号灯型号下标，可能因型号表变更而失效
}

// SignInstance 标志牌实例
type SignInstance struct {
	Position               Point  `yaml:"position"`
	ControlledSideMidpoint Point  `yaml:"controlled_side_midpoint"`
	Type                   string `yaml:"type"` // yield|stop
}

// Controllers 信控设施布设
// 说明：信号灯与标志牌在切片中的下标即其控制器编号
type Controllers struct {
	LightTypes []LightType     `yaml:"light_types,omitempty"`
	Lights     []LightInstance `yaml:"lights,omitempty"`
	Signs      []SignInstance  `yaml:"signs,omitempty"`

	RoadCrosswalks []int32 `yaml:"road_crosswalks,omitempty"` // 路段人行横道所在的路口ID，其进口边按减速让行处理
}

// ParseControllers 解析信控设施YAML并校验标志牌类型
// 说明：信号灯型号下标不在此处校验，失效的下标由路口构建时处理
func ParseControllers(data []byte) (*Controllers, error) {
	var c Controllers
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, err
	}
	for i, s := range c.Signs {
		if s.Type != SignYield && s.Type != SignStop {
			return nil, fmt.Errorf("sign %d has unknown type %q", i, s.Type)
		}
	}
	return &c, nil
}

// LoadControllers 从文件读取信控设施
func LoadControllers(path string) (*Controllers, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseControllers(data)
}
