package clock

import (
	"context"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	clockv1 "git.fiblab.net/sim/protos/v2/go/city/clock/v1"
	"git.fiblab.net/sim/protos/v2/go/city/clock/v1/clockv1connect"
	"git.fiblab.net/sim/syncer/v3"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/config"
)

// Clock 仿真时钟
// 功能：管理仿真时间推进，一个外部步内部拆分为SUBLOOP个内部步
type Clock struct {
	clockv1connect.UnimplementedClockServiceHandler

	DT         float64 // 内部步时间间隔（秒）
	SUBLOOP    int32   // 每个外部步的内部步数
	START_STEP int32   // 起始内部步
	END_STEP   int32   // 结束内部步，模拟区间[START, END)

	T            float64 // 当前时间（秒）
	InternalStep int32   // 当前内部步数
}

// New 根据配置创建时钟
// 参数：stepConfig-控制步配置，Subloop未指定（<=0）时按1处理
// 说明：dt = interval / subloop，起止步数按subloop放大
func New(stepConfig config.ControlStep) *Clock {
	subloop := stepConfig.Subloop
	if subloop <= 0 {
		subloop = 1
	}
	c := &Clock{
		DT:         stepConfig.Interval / float64(subloop),
		SUBLOOP:    subloop,
		START_STEP: stepConfig.Start * subloop,
		END_STEP:   (stepConfig.Start + stepConfig.Total) * subloop,
	}
	c.Init()
	return c
}

// Init 重置到起始步
func (c *Clock) Init() {
	c.InternalStep = c.START_STEP
	c.T = float64(c.InternalStep) * c.DT
}

// Tick 前进一个内部步
func (c *Clock) Tick() {
	c.InternalStep++
	c.T = float64(c.InternalStep) * c.DT
}

// Done 是否已到达结束步
func (c *Clock) Done() bool {
	return c.InternalStep >= c.END_STEP
}

// ExternalStep 按原始interval计算的步数
func (c *Clock) ExternalStep() int32 {
	return c.InternalStep / c.SUBLOOP
}

// ExternalStartStep 按原始interval计算的起始步数
func (c *Clock) ExternalStartStep() int32 {
	return c.START_STEP / c.SUBLOOP
}

// NoInSubloop 当前内部步是否为外部步的边界
// 说明：只有在边界上才与外部同步
func (c *Clock) NoInSubloop() bool {
	return c.InternalStep%c.SUBLOOP == 0
}

// String 格式化为HH:MM:SS
func (c *Clock) String() string {
	h, m, s := c.GetHourMinuteSecond()
	return fmt.Sprintf("%02d:%02d:%02d", h, m, int(s))
}

// GetHourMinuteSecond 当前时间的时、分、秒
func (c *Clock) GetHourMinuteSecond() (int, int, float64) {
	hour := int(c.T) / 3600
	minute := int(c.T) % 3600 / 60
	second := c.T - float64(hour*3600+minute*60)
	return hour, minute, second
}

// Register 提供ClockService，外部程序据此对齐仿真时间
func (c *Clock) Register(sidecar *syncer.Sidecar) {
	sidecar.Register(
		clockv1connect.ClockServiceName,
		func(opts ...connect.HandlerOption) (string, http.Handler) {
			return clockv1connect.NewClockServiceHandler(c, opts...)
		},
	)
}

func (c *Clock) Now(_ context.Context, _ *connect.Request[clockv1.NowRequest]) (*connect.Response[clockv1.NowResponse], error) {
	return connect.NewResponse(&clockv1.NowResponse{T: c.T}), nil
}
