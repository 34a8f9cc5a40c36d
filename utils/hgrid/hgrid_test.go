package hgrid

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
)

func box(x0, y0, x1, y1 float64) orb.Bound {
	return orb.Bound{Min: orb.Point{x0, y0}, Max: orb.Point{x1, y1}}
}

func TestInsertAndQuery(t *testing.T) {
	g := New[int](10)
	g.Insert(1, box(0, 0, 1, 1))
	g.Insert(2, box(50, 50, 51, 51))
	g.Insert(3, box(-200, -200, 300, 300)) // 大对象落在高层
	g.Insert(4, orb.Point{-5, -5}.Bound())

	assert.Equal(t, 4, g.Len())
	assert.Equal(t, []int{1, 3}, g.QueryBox(box(0.5, 0.5, 2, 2)))
	assert.Equal(t, []int{2, 3}, g.QueryBox(box(49, 49, 50.5, 50.5)))
	assert.Equal(t, []int{3, 4}, g.QueryRadius(orb.Point{-5, -4}, 2))
	assert.Empty(t, g.QueryBox(box(1000, 1000, 1001, 1001)))
}

func TestEveryInsertedBoxIsFound(t *testing.T) {
	g := New[int](3)
	var boxes []orb.Bound
	for i := 0; i < 50; i++ {
		x := float64(i*7%41) - 20
		y := float64(i*11%37) - 18
		w := float64(i%9) * 1.5
		b := box(x, y, x+w, y+w/2)
		boxes = append(boxes, b)
		g.Insert(i, b)
	}
	for i, b := range boxes {
		assert.Contains(t, g.QueryBox(b), i)
		assert.Contains(t, g.QueryBox(b.Center().Bound()), i)
	}
}

func TestNearest(t *testing.T) {
	g := New[int](4)
	pts := []orb.Point{{0, 0}, {3, 0}, {10, 0}}
	for i, p := range pts {
		g.Insert(i, p.Bound())
	}
	dist := func(q orb.Point) func(int) float64 {
		return func(id int) float64 { return planar.Distance(pts[id], q) }
	}

	id, ok := g.Nearest(orb.Point{2, 0}, 4, dist(orb.Point{2, 0}))
	assert.True(t, ok)
	assert.Equal(t, 1, id)

	_, ok = g.Nearest(orb.Point{6.5, 0}, 3, dist(orb.Point{6.5, 0}))
	assert.False(t, ok)

	// 正方形角落处的对象距离大于r，仍然返回
	id, ok = g.Nearest(orb.Point{7.5, 2.5}, 3, dist(orb.Point{7.5, 2.5}))
	assert.True(t, ok)
	assert.Equal(t, 2, id)
	assert.Greater(t, planar.Distance(pts[2], orb.Point{7.5, 2.5}), 3.)
}
