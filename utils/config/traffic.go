package config

// Range 闭区间[Min, Max]，按车辆的随机分数插值取值
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Lerp 按比例t在区间内插值
func (r Range) Lerp(t float64) float64 {
	return r.Min + (r.Max-r.Min)*t
}

// TurnFractions 按转向区分的车道长度比例
type TurnFractions struct {
	Left     float64 `yaml:"left"`
	Right    float64 `yaml:"right"`
	Straight float64 `yaml:"straight"`
}

// LaneTagFilter 车道标签过滤器的YAML形式，标签名见entity.ParseLaneTag
type LaneTagFilter struct {
	Any []string `yaml:"any,omitempty"` // 至少含有其一
	All []string `yaml:"all,omitempty"` // 必须全部含有
	Not []string `yaml:"not,omitempty"` // 不能含有
}

// Intersection 路口构建参数
type Intersection struct {
	SquareAngleDeg     float64 `yaml:"square_angle_deg,omitempty"`      // 相邻进口方向夹角不小于该值时认为路口近似方形
	ConnectionAngleDeg float64 `yaml:"connection_angle_deg,omitempty"`  // 车道终点沿出口边方向的最小夹角
	HiddenSideAngleDeg float64 `yaml:"hidden_side_angle_deg,omitempty"` // 车道出口方向与已知进口方向的最小夹角，超过则认为是隐藏出口边

	LightSearchDistance     float64 `yaml:"light_search_distance,omitempty"`     // 信号灯搜索半径（米）
	SignSearchDistance      float64 `yaml:"sign_search_distance,omitempty"`      // 标志牌搜索半径（米）
	CrosswalkSearchDistance float64 `yaml:"crosswalk_search_distance,omitempty"` // 人行横道到进口边中点的最大距离（米）
	GridCellSize            float64 `yaml:"grid_cell_size,omitempty"`            // 空间网格最小单元（米）

	StandardGoSeconds         float64 `yaml:"standard_go_seconds,omitempty"`          // 标准放行时长
	MinimumGoSeconds          float64 `yaml:"minimum_go_seconds,omitempty"`           // 全向停车路口的最短放行时长
	CrosswalkHeadStartSeconds float64 `yaml:"crosswalk_head_start_seconds,omitempty"` // 行人提前放行时长
	CrosswalkGoSeconds        float64 `yaml:"crosswalk_go_seconds,omitempty"`         // 行人放行时长
	UnidirectionalGoSeconds   float64 `yaml:"unidirectional_go_seconds,omitempty"`    // 单边独占（保护左转）放行时长
	FreewayGoScale            float64 `yaml:"freeway_go_scale,omitempty"`             // 快速路进口的放行时长倍率
	YellowSeconds             float64 `yaml:"yellow_seconds,omitempty"`               // 相位结束前的黄灯时长
}

// Lane 车道标注与占用统计参数
type Lane struct {
	TrunkSpeed         float64 `yaml:"trunk_speed,omitempty"`           // 限速不低于该值(m/s)的行车道标记为主干道
	FreewaySpeed       float64 `yaml:"freeway_speed,omitempty"`         // 限速不低于该值(m/s)的行车道标记为快速路
	MarchLimit         int     `yaml:"march_limit,omitempty"`           // 沿车道链表遍历的最大步数
	ReadyToUseDistance float64 `yaml:"ready_to_use_distance,omitempty"` // 上游车道上距终点该距离内的车辆视为即将驶入路口车道
}

// LaneChange 变道决策参数
type LaneChange struct {
	MinDistanceRange         Range                      `yaml:"min_distance_range,omitempty"`         // 变道所需最小跟车距离区间
	TransverseSpreadFraction float64                    `yaml:"transverse_spread_fraction,omitempty"` // 横向相邻车道上变道位置的分散比例
	RetrySeconds             float64                    `yaml:"retry_seconds,omitempty"`              // 普通变道失败后再次尝试的间隔
	RetrySoonSeconds         float64                    `yaml:"retry_soon_seconds,omitempty"`         // 横向相邻车道变道失败后再次尝试的间隔
	MinDurationSeconds       float64                    `yaml:"min_duration_seconds,omitempty"`       // 变道过程最短时长
	MaxDurationSeconds       float64                    `yaml:"max_duration_seconds,omitempty"`       // 变道过程最长时长
	PriorityFilters          map[string][]LaneTagFilter `yaml:"priority_filters,omitempty"`           // 按车辆类别(class标签)配置的车道优先级过滤器，越靠前优先级越高
	TrunkOnlyClasses         []string                   `yaml:"trunk_only_classes,omitempty"`         // 只能行驶在主干道上的车辆类别
}

// Yield 路口让行参数
type Yield struct {
	MaxPreemptiveDistance    float64       `yaml:"max_preemptive_distance,omitempty"`     // 距车道终点该距离内才开始预先让行
	PreemptiveRollOutSeconds float64       `yaml:"preemptive_roll_out_seconds,omitempty"` // 驶入路口后无条件等待时长
	PreemptiveWaitSeconds    float64       `yaml:"preemptive_wait_seconds,omitempty"`     // 无条件等待后按反应式判断继续等待的时长
	ResumeFractions          TurnFractions `yaml:"resume_fractions,omitempty"`            // 冲突车道上的车辆驶过该比例后恢复通行
	CutoffFractions          TurnFractions `yaml:"cutoff_fractions,omitempty"`            // 本车驶过路口车道该比例后不再反应式让行
	CrosswalkLookAhead       float64       `yaml:"crosswalk_look_ahead,omitempty"`        // 人行横道冲突检测的时间视野
	CrosswalkTimeBuffer      float64       `yaml:"crosswalk_time_buffer,omitempty"`       // 人车通过时间窗的缓冲
	PedestrianBufferDistance float64       `yaml:"pedestrian_buffer_distance,omitempty"`  // 行人已在车道上时车辆需保持的距离
}

// Merge 路口汇入参数
type Merge struct {
	LookAheadSeconds      float64 `yaml:"look_ahead_seconds,omitempty"`       // 汇入冲突检测的时间视野
	TestHorizonSeconds    float64 `yaml:"test_horizon_seconds,omitempty"`     // 冲突车辆到达路口的时间超过该值时不予考虑
	TimeBufferSeconds     float64 `yaml:"time_buffer_seconds,omitempty"`      // 汇入时间窗的缓冲
	EnterTimeEpsilon      float64 `yaml:"enter_time_epsilon,omitempty"`       // 到达时间近似相等的阈值
	StopLineTolerance     float64 `yaml:"stop_line_tolerance,omitempty"`      // 距停车线该距离内视为已到达停车线
	StoppingDistanceRange Range   `yaml:"stopping_distance_range,omitempty"`  // 停车线前停车距离区间
	StopSignWaitSeconds   float64 `yaml:"stop_sign_wait_seconds,omitempty"`   // 停车让行标志前完全停车的时长
	StopSpeedThreshold    float64 `yaml:"stop_speed_threshold,omitempty"`     // 低于该速度视为停车
}

// Vehicle 车辆默认属性（输入数据缺失时使用）与随机生成参数
type Vehicle struct {
	RandomCount              int     `yaml:"random_count,omitempty"` // 随机生成的车辆数
	Length                   float64 `yaml:"length,omitempty"`
	Width                    float64 `yaml:"width,omitempty"`
	MaxSpeed                 float64 `yaml:"max_speed,omitempty"`
	MaxAcceleration          float64 `yaml:"max_acceleration,omitempty"`
	MaxBrakingAcceleration   float64 `yaml:"max_braking_acceleration,omitempty"`
	UsualAcceleration        float64 `yaml:"usual_acceleration,omitempty"`
	UsualBrakingAcceleration float64 `yaml:"usual_braking_acceleration,omitempty"`
	Headway                  float64 `yaml:"headway,omitempty"`
	MinGap                   float64 `yaml:"min_gap,omitempty"`
}

// Pedestrian 行人默认属性与随机生成参数
type Pedestrian struct {
	RandomCount int     `yaml:"random_count,omitempty"` // 随机生成的行人数
	Speed       float64 `yaml:"speed,omitempty"`
	Radius      float64 `yaml:"radius,omitempty"`
}

// Traffic 交通行为相关的全部可调参数
type Traffic struct {
	Intersection Intersection `yaml:"intersection,omitempty"`
	Lane         Lane         `yaml:"lane,omitempty"`
	LaneChange   LaneChange   `yaml:"lane_change,omitempty"`
	Yield        Yield        `yaml:"yield,omitempty"`
	Merge        Merge        `yaml:"merge,omitempty"`
	Vehicle      Vehicle      `yaml:"vehicle,omitempty"`
	Pedestrian   Pedestrian   `yaml:"pedestrian,omitempty"`
}

// DefaultTraffic 默认交通参数
func DefaultTraffic() Traffic {
	return Traffic{
		Intersection: Intersection{
			SquareAngleDeg:            75,
			ConnectionAngleDeg:        75,
			HiddenSideAngleDeg:        80,
			LightSearchDistance:       4,
			SignSearchDistance:        4,
			CrosswalkSearchDistance:   5,
			GridCellSize:              20,
			StandardGoSeconds:         20,
			MinimumGoSeconds:          5,
			CrosswalkHeadStartSeconds: 4,
			CrosswalkGoSeconds:        10,
			UnidirectionalGoSeconds:   10,
			FreewayGoScale:            1.5,
			YellowSeconds:             3,
		},
		Lane: Lane{
			TrunkSpeed:         60 / 3.6,
			FreewaySpeed:       80 / 3.6,
			MarchLimit:         200,
			ReadyToUseDistance: 10,
		},
		LaneChange: LaneChange{
			MinDistanceRange:         Range{Min: 1, Max: 3},
			TransverseSpreadFraction: 0.5,
			RetrySeconds:             2,
			RetrySoonSeconds:         0.5,
			MinDurationSeconds:       1,
			MaxDurationSeconds:       4,
		},
		Yield: Yield{
			MaxPreemptiveDistance:    10,
			PreemptiveRollOutSeconds: 1,
			PreemptiveWaitSeconds:    2,
			ResumeFractions:          TurnFractions{Left: 0.8, Right: 0.9, Straight: 0.4},
			CutoffFractions:          TurnFractions{Left: 0.1, Right: 0.1, Straight: 0.2},
			CrosswalkLookAhead:       2,
			CrosswalkTimeBuffer:      4,
			PedestrianBufferDistance: 2,
		},
		Merge: Merge{
			LookAheadSeconds:      2,
			TestHorizonSeconds:    4,
			TimeBufferSeconds:     1,
			EnterTimeEpsilon:      0.1,
			StopLineTolerance:     1,
			StoppingDistanceRange: Range{Min: 1, Max: 3},
			StopSignWaitSeconds:   1.5,
			StopSpeedThreshold:    0.1,
		},
		Vehicle: Vehicle{
			Length:                   5,
			Width:                    2,
			MaxSpeed:                 15,
			MaxAcceleration:          3,
			MaxBrakingAcceleration:   -10,
			UsualAcceleration:        2,
			UsualBrakingAcceleration: -4.5,
			Headway:                  1.5,
			MinGap:                   1,
		},
		Pedestrian: Pedestrian{
			Speed:  1.34,
			Radius: 0.3,
		},
	}
}

func orFloat(v *float64, d float64) {
	if *v == 0 {
		*v = d
	}
}

func orRange(v *Range, d Range) {
	if v.Min == 0 && v.Max == 0 {
		*v = d
	}
}

func orFractions(v *TurnFractions, d TurnFractions) {
	if v.Left == 0 && v.Right == 0 && v.Straight == 0 {
		*v = d
	}
}

// WithDefaults 用默认值填充未配置（零值）的参数
func (t Traffic) WithDefaults() Traffic {
	d := DefaultTraffic()

	i := &t.Intersection
	orFloat(&i.SquareAngleDeg, d.Intersection.SquareAngleDeg)
	orFloat(&i.ConnectionAngleDeg, d.Intersection.ConnectionAngleDeg)
	orFloat(&i.HiddenSideAngleDeg, d.Intersection.HiddenSideAngleDeg)
	orFloat(&i.LightSearchDistance, d.Intersection.LightSearchDistance)
	orFloat(&i.SignSearchDistance, d.Intersection.SignSearchDistance)
	orFloat(&i.CrosswalkSearchDistance, d.Intersection.CrosswalkSearchDistance)
	orFloat(&i.GridCellSize, d.Intersection.GridCellSize)
	orFloat(&i.StandardGoSeconds, d.Intersection.StandardGoSeconds)
	orFloat(&i.MinimumGoSeconds, d.Intersection.MinimumGoSeconds)
	orFloat(&i.CrosswalkHeadStartSeconds, d.Intersection.CrosswalkHeadStartSeconds)
	orFloat(&i.CrosswalkGoSeconds, d.Intersection.CrosswalkGoSeconds)
	orFloat(&i.UnidirectionalGoSeconds, d.Intersection.UnidirectionalGoSeconds)
	orFloat(&i.FreewayGoScale, d.Intersection.FreewayGoScale)
	orFloat(&i.YellowSeconds, d.Intersection.YellowSeconds)

	l := &t.Lane
	orFloat(&l.TrunkSpeed, d.Lane.TrunkSpeed)
	orFloat(&l.FreewaySpeed, d.Lane.FreewaySpeed)
	orFloat(&l.ReadyToUseDistance, d.Lane.ReadyToUseDistance)
	if l.MarchLimit <= 0 {
		l.MarchLimit = d.Lane.MarchLimit
	}

	lc := &t.LaneChange
	orRange(&lc.MinDistanceRange, d.LaneChange.MinDistanceRange)
	orFloat(&lc.TransverseSpreadFraction, d.LaneChange.TransverseSpreadFraction)
	orFloat(&lc.RetrySeconds, d.LaneChange.RetrySeconds)
	orFloat(&lc.RetrySoonSeconds, d.LaneChange.RetrySoonSeconds)
	orFloat(&lc.MinDurationSeconds, d.LaneChange.MinDurationSeconds)
	orFloat(&lc.MaxDurationSeconds, d.LaneChange.MaxDurationSeconds)

	y := &t.Yield
	orFloat(&y.MaxPreemptiveDistance, d.Yield.MaxPreemptiveDistance)
	orFloat(&y.PreemptiveRollOutSeconds, d.Yield.PreemptiveRollOutSeconds)
	orFloat(&y.PreemptiveWaitSeconds, d.Yield.PreemptiveWaitSeconds)
	orFractions(&y.ResumeFractions, d.Yield.ResumeFractions)
	orFractions(&y.CutoffFractions, d.Yield.CutoffFractions)
	orFloat(&y.CrosswalkLookAhead, d.Yield.CrosswalkLookAhead)
	orFloat(&y.CrosswalkTimeBuffer, d.Yield.CrosswalkTimeBuffer)
	orFloat(&y.PedestrianBufferDistance, d.Yield.PedestrianBufferDistance)

	m := &t.Merge
	orFloat(&m.LookAheadSeconds, d.Merge.LookAheadSeconds)
	orFloat(&m.TestHorizonSeconds, d.Merge.TestHorizonSeconds)
	orFloat(&m.TimeBufferSeconds, d.Merge.TimeBufferSeconds)
	orFloat(&m.EnterTimeEpsilon, d.Merge.EnterTimeEpsilon)
	orFloat(&m.StopLineTolerance, d.Merge.StopLineTolerance)
	orRange(&m.StoppingDistanceRange, d.Merge.StoppingDistanceRange)
	orFloat(&m.StopSignWaitSeconds, d.Merge.StopSignWaitSeconds)
	orFloat(&m.StopSpeedThreshold, d.Merge.StopSpeedThreshold)

	v := &t.Vehicle
	orFloat(&v.Length, d.Vehicle.Length)
	orFloat(&v.Width, d.Vehicle.Width)
	orFloat(&v.MaxSpeed, d.Vehicle.MaxSpeed)
	orFloat(&v.MaxAcceleration, d.Vehicle.MaxAcceleration)
	orFloat(&v.MaxBrakingAcceleration, d.Vehicle.MaxBrakingAcceleration)
	orFloat(&v.UsualAcceleration, d.Vehicle.UsualAcceleration)
	orFloat(&v.UsualBrakingAcceleration, d.Vehicle.UsualBrakingAcceleration)
	orFloat(&v.Headway, d.Vehicle.Headway)
	orFloat(&v.MinGap, d.Vehicle.MinGap)

	p := &t.Pedestrian
	orFloat(&p.Speed, d.Pedestrian.Speed)
	orFloat(&p.Radius, d.Pedestrian.Radius)
	return t
}
