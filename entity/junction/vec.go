package junction

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/paulmach/orb"
)

// vec orb.Point视为二维向量
func vec(p orb.Point) r2.Point {
	return r2.Point{X: p[0], Y: p[1]}
}

func point(v r2.Point) orb.Point {
	return orb.Point{v.X, v.Y}
}

func average(points []orb.Point) r2.Point {
	var sum r2.Point
	if len(points) == 0 {
		return sum
	}
	for _, p := range points {
		sum = sum.Add(vec(p))
	}
	return sum.Mul(1 / float64(len(points)))
}

func cosDeg(deg float64) float64 {
	return math.Cos(deg * math.Pi / 180)
}
