package lane

import (
	"math"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/entity"
)

// 折线求交的容差（米）
const crossingTolerance = 0.01

type crossingKey [2]entity.LaneIndex

type crossing struct {
	enter, exit float64
	ok          bool
}

// EnterAndExitDistances 计算本车道中心线进入与离开other车道（按other宽度向两侧展开）的距离
// 返回：enter/exit-本车道上的s坐标，ok-两者是否相交
// 算法说明：
// 1. 将other中心线向左右各平移width/2得到两条边界线
// 2. 分别求本车道中心线与两条边界线的第一个交点
// 3. 两个交点都存在时取(min, max)，只有一个时离开距离取本车道长度
// 说明：结果按(本车道, other)缓存，多线程安全
func (l *Lane) EnterAndExitDistances(other entity.ILane) (float64, float64, bool) {
	if l.manager == nil {
		c := computeCrossing(l, other)
		return c.enter, c.exit, c.ok
	}
	c, _ := l.manager.crossings.LoadOrCompute(crossingKey{l.index, other.Index()}, func() crossing {
		return computeCrossing(l, other)
	})
	return c.enter, c.exit, c.ok
}

func computeCrossing(l *Lane, other entity.ILane) crossing {
	half := other.Width() / 2
	left := offsetPolyline(other.Line(), -half)
	right := offsetPolyline(other.Line(), half)
	sL, okL := firstIntersection(l.line, l.lineLengths, left, crossingTolerance)
	sR, okR := firstIntersection(l.line, l.lineLengths, right, crossingTolerance)
	switch {
	case okL && okR:
		return crossing{enter: math.Min(sL, sR), exit: math.Max(sL, sR), ok: true}
	case okL:
		return crossing{enter: sL, exit: l.length, ok: true}
	case okR:
		return crossing{enter: sR, exit: l.length, ok: true}
	}
	return crossing{}
}

// offsetPolyline 将折线沿行进方向向右平移offset（负数向左）
// 说明：中间点使用前后两段法向的平均
func offsetPolyline(line []geometry.Point, offset float64) []geometry.Point {
	n := len(line)
	normals := make([][2]float64, n-1)
	for i := 0; i < n-1; i++ {
		dx, dy := line[i+1].X-line[i].X, line[i+1].Y-line[i].Y
		d := math.Hypot(dx, dy)
		if d > 0 {
			normals[i] = [2]float64{dy / d, -dx / d}
		}
	}
	res := make([]geometry.Point, n)
	for i, p := range line {
		var nx, ny float64
		switch {
		case i == 0:
			nx, ny = normals[0][0], normals[0][1]
		case i == n-1:
			nx, ny = normals[n-2][0], normals[n-2][1]
		default:
			nx, ny = normals[i-1][0]+normals[i][0], normals[i-1][1]+normals[i][1]
			if d := math.Hypot(nx, ny); d > 0 {
				nx, ny = nx/d, ny/d
			}
		}
		res[i] = geometry.Point{X: p.X + nx*offset, Y: p.Y + ny*offset, Z: p.Z}
	}
	return res
}

// firstIntersection 折线line（累计长度lengths）与折线other的第一个交点在line上的s坐标
func firstIntersection(line []geometry.Point, lengths []float64, other []geometry.Point, tolerance float64) (float64, bool) {
	for i := 0; i < len(line)-1; i++ {
		best := math.Inf(1)
		for j := 0; j < len(other)-1; j++ {
			if t, ok := segmentIntersection(line[i], line[i+1], other[j], other[j+1], tolerance); ok && t < best {
				best = t
			}
		}
		if !math.IsInf(best, 1) {
			return lengths[i] + best*(lengths[i+1]-lengths[i]), true
		}
	}
	return 0, false
}

// segmentIntersection 线段ab与cd的交点在ab上的比例t∈[0,1]
// 说明：两端按tolerance米放宽，平行或重合视为不相交
func segmentIntersection(a, b, c, d geometry.Point, tolerance float64) (float64, bool) {
	rx, ry := b.X-a.X, b.Y-a.Y
	sx, sy := d.X-c.X, d.Y-c.Y
	denom := rx*sy - ry*sx
	if math.Abs(denom) < 1e-12 {
		return 0, false
	}
	qx, qy := c.X-a.X, c.Y-a.Y
	t := (qx*sy - qy*sx) / denom
	u := (qx*ry - qy*rx) / denom
	tolT := tolerance / math.Hypot(rx, ry)
	tolU := tolerance / math.Hypot(sx, sy)
	if t < -tolT || t > 1+tolT || u < -tolU || u > 1+tolU {
		return 0, false
	}
	return math.Max(0, math.Min(1, t)), true
}
