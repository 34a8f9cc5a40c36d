// Prometheus指标：路口构建结果、车辆决策计数与仿真步耗时
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector 交通仿真的全部Prometheus指标
// 说明：所有方法对nil接收者安全，未启用指标时可以直接传nil
type Collector struct {
	gatherer prometheus.Gatherer

	IntersectionsBuilt   *prometheus.CounterVec
	PeriodsSynthesized   prometheus.Counter
	IntersectionsPruned  prometheus.Counter
	TopologyDefects      *prometheus.CounterVec
	LaneChanges          *prometheus.CounterVec
	LaneChangesBlocked   prometheus.Counter
	YieldDecisions       *prometheus.CounterVec
	MarchOverruns        prometheus.Counter
	VehiclesActive       prometheus.Gauge
	PedestriansActive    prometheus.Gauge
	StepDurationsSeconds prometheus.Histogram
}

// NewCollector 在reg上注册全部指标，reg为nil时使用全局注册表
// 说明：同名指标已注册时复用已有的collector
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &Collector{gatherer: gatherer}
	var err error

	if c.IntersectionsBuilt, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "traffic_intersections_built_total",
		Help: "Intersections built at load, labeled by classified topology.",
	}, []string{"topology"})); err != nil {
		return nil, err
	}
	if c.PeriodsSynthesized, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "traffic_periods_synthesized_total",
		Help: "Traffic-control periods synthesized across all intersections.",
	})); err != nil {
		return nil, err
	}
	if c.IntersectionsPruned, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "traffic_intersections_pruned_total",
		Help: "Intersections dropped after synthesis because they need no traffic control.",
	})); err != nil {
		return nil, err
	}
	if c.TopologyDefects, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "traffic_topology_defects_total",
		Help: "Malformed topology units skipped during construction, labeled by kind.",
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if c.LaneChanges, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "traffic_lane_changes_total",
		Help: "Lane changes started, labeled by recommendation level.",
	}, []string{"level"})); err != nil {
		return nil, err
	}
	if c.LaneChangesBlocked, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "traffic_lane_change_blocked_total",
		Help: "Lane changes chosen but rejected by the fit check.",
	})); err != nil {
		return nil, err
	}
	if c.YieldDecisions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "traffic_yield_decisions_total",
		Help: "Yields started by vehicles, labeled by yield kind.",
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if c.MarchOverruns, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "traffic_march_overruns_total",
		Help: "Occupancy-list walks aborted at the iteration cap.",
	})); err != nil {
		return nil, err
	}
	if c.VehiclesActive, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "traffic_vehicles_active",
		Help: "Vehicles currently driving.",
	})); err != nil {
		return nil, err
	}
	if c.PedestriansActive, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "traffic_pedestrians_active",
		Help: "Pedestrians currently walking.",
	})); err != nil {
		return nil, err
	}
	if c.StepDurationsSeconds, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "traffic_step_duration_seconds",
		Help:    "Wall time of one simulation step (prepare and update).",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})); err != nil {
		return nil, err
	}
	return c, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
			var zero C
			return zero, fmt.Errorf("collector %v already registered with incompatible type", are.ExistingCollector)
		}
		var zero C
		return zero, err
	}
	return c, nil
}

// Handler /metrics处理函数
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) IntersectionBuilt(topology string) {
	if c == nil {
		return
	}
	c.IntersectionsBuilt.WithLabelValues(topology).Inc()
}

func (c *Collector) AddPeriods(n int) {
	if c == nil {
		return
	}
	c.PeriodsSynthesized.Add(float64(n))
}

func (c *Collector) IntersectionPruned() {
	if c == nil {
		return
	}
	c.IntersectionsPruned.Inc()
}

func (c *Collector) TopologyDefect(kind string) {
	if c == nil {
		return
	}
	c.TopologyDefects.WithLabelValues(kind).Inc()
}

func (c *Collector) LaneChange(level string) {
	if c == nil {
		return
	}
	c.LaneChanges.WithLabelValues(level).Inc()
}

func (c *Collector) LaneChangeBlocked() {
	if c == nil {
		return
	}
	c.LaneChangesBlocked.Inc()
}

func (c *Collector) Yield(kind string) {
	if c == nil {
		return
	}
	c.YieldDecisions.WithLabelValues(kind).Inc()
}

func (c *Collector) MarchOverrun() {
	if c == nil {
		return
	}
	c.MarchOverruns.Inc()
}

// SetActive 更新在途车辆与行人数
func (c *Collector) SetActive(vehicles, pedestrians int) {
	if c == nil {
		return
	}
	c.VehiclesActive.Set(float64(vehicles))
	c.PedestriansActive.Set(float64(pedestrians))
}

// ObserveStep 记录一步仿真的耗时
func (c *Collector) ObserveStep(d time.Duration) {
	if c == nil {
		return
	}
	c.StepDurationsSeconds.Observe(d.Seconds())
}
