package config

// RuntimeConfig 运行时配置
// 功能：存储仿真运行时的配置信息
// 说明：将YAML配置转换为运行时可用的配置对象，交通参数已填充默认值
type RuntimeConfig struct {
	All Config  // 全部配置
	C   Control // 全局控制配置
	T   Traffic // 交通行为参数（已填充默认值）
}

// NewRuntimeConfig 根据配置初始化全局变量
// 功能：创建运行时配置对象，进行配置验证和默认值填充
// 参数：config-原始配置对象
// 返回：初始化的运行时配置指针
// 算法说明：
// 1. 子循环数未指定时默认为1
// 2. 信控策略未指定时默认为fixed，非法取值panic
// 3. 交通参数零值字段使用默认值
func NewRuntimeConfig(config Config) *RuntimeConfig {
	rc := &RuntimeConfig{}

	if config.Control.Step.Subloop <= 0 {
		config.Control.Step.Subloop = 1
	}
	switch config.Control.LightPolicy {
	case "":
		config.Control.LightPolicy = LightPolicyFixed
	case LightPolicyFixed, LightPolicyMaxPressure:
	default:
		log.Panicf("unknown light policy %q", config.Control.LightPolicy)
	}
	config.Traffic = config.Traffic.WithDefaults()

	rc.All = config
	rc.C = config.Control
	rc.T = config.Traffic

	return rc
}
