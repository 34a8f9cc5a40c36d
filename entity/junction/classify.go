package junction

// Topology 路口的相位模板类别
type Topology int

const (
	Unclassifiable        Topology = iota // 无法归类，不生成相位
	SignControlled                        // 标志牌控制，不生成相位
	TwoSided                              // 两条进口边
	Square                                // 近似正交的十字路口
	TShape                                // 丁字路口
	GeneralWithLights                     // 其他形状，有信号灯
	GeneralStopControlled                 // 其他形状，全向停车让行
)

func (t Topology) String() string {
	switch t {
	case SignControlled:
		return "sign"
	case TwoSided:
		return "two_sided"
	case Square:
		return "square"
	case TShape:
		return "t_shape"
	case GeneralWithLights:
		return "general_lights"
	case GeneralStopControlled:
		return "general_stop"
	}
	return "unclassifiable"
}

// HasPeriods 该类别是否生成相位
func (t Topology) HasPeriods() bool {
	return t != Unclassifiable && t != SignControlled
}

// ClassifyTopology 按优先顺序判定路口类别，先匹配者优先
// 参数：d-已Build的路口，allWayStop-是否为全向停车让行路口
func ClassifyTopology(d *Detail, allWayStop bool) Topology {
	n := len(d.Sides)
	switch {
	case n == 0:
		return Unclassifiable
	case !d.HasTrafficLights && !allWayStop:
		return SignControlled
	case n == 2 && !d.HasHiddenSides():
		return TwoSided
	case d.IsMostlySquare() && !d.HasHiddenSides() && !d.HasSideWithInboundLanesFromFreeway():
		return Square
	case n == 3:
		return TShape
	case d.HasTrafficLights:
		return GeneralWithLights
	default:
		return GeneralStopControlled
	}
}
