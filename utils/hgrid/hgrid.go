// 分层二维哈希网格，用于按轴对齐包围盒快速查找附近的对象
package hgrid

import (
	"math"
	"slices"

	"github.com/paulmach/orb"
)

const maxLevel = 16

type cellKey struct {
	level int
	x, y  int64
}

type entry[T comparable] struct {
	id  T
	box orb.Bound
	seq int
}

// Grid 分层二维哈希网格
// 功能：第k层的单元边长为cellSize*2^k，对象插入到刚好能容纳其包围盒的层中，
// 因此每个对象最多覆盖该层的2x2个单元
// 说明：非线程安全，在构建阶段单线程写入，之后可以并发读取
type Grid[T comparable] struct {
	cellSize float64
	cells    map[cellKey][]*entry[T]
	levels   [maxLevel + 1]int // 每层的对象数，查询时跳过空层
	n        int
}

// New 创建网格
// 参数：cellSize-最底层的单元边长（米），非正数时使用1
func New[T comparable](cellSize float64) *Grid[T] {
	if cellSize <= 0 {
		cellSize = 1
	}
	return &Grid[T]{
		cellSize: cellSize,
		cells:    make(map[cellKey][]*entry[T]),
	}
}

// Len 已插入的对象数
func (g *Grid[T]) Len() int {
	return g.n
}

func (g *Grid[T]) levelFor(b orb.Bound) int {
	size := math.Max(b.Max.X()-b.Min.X(), b.Max.Y()-b.Min.Y())
	level := 0
	for s := g.cellSize; s < size && level < maxLevel; s *= 2 {
		level++
	}
	return level
}

func (g *Grid[T]) cellRange(level int, b orb.Bound) (x0, y0, x1, y1 int64) {
	s := g.cellSize * math.Exp2(float64(level))
	x0 = int64(math.Floor(b.Min.X() / s))
	y0 = int64(math.Floor(b.Min.Y() / s))
	x1 = int64(math.Floor(b.Max.X() / s))
	y1 = int64(math.Floor(b.Max.Y() / s))
	return
}

// Insert 插入对象
// 参数：id-对象标识，box-对象的包围盒
func (g *Grid[T]) Insert(id T, box orb.Bound) {
	e := &entry[T]{id: id, box: box, seq: g.n}
	g.n++
	level := g.levelFor(box)
	g.levels[level]++
	x0, y0, x1, y1 := g.cellRange(level, box)
	for x := x0; x <= x1; x++ {
		for y := y0; y <= y1; y++ {
			k := cellKey{level, x, y}
			g.cells[k] = append(g.cells[k], e)
		}
	}
}

// QueryBox 查询包围盒与box相交的全部对象，按插入顺序返回
func (g *Grid[T]) QueryBox(box orb.Bound) []T {
	found := make(map[*entry[T]]struct{})
	for level := 0; level <= maxLevel; level++ {
		if g.levels[level] == 0 {
			continue
		}
		x0, y0, x1, y1 := g.cellRange(level, box)
		for x := x0; x <= x1; x++ {
			for y := y0; y <= y1; y++ {
				for _, e := range g.cells[cellKey{level, x, y}] {
					if e.box.Intersects(box) {
						found[e] = struct{}{}
					}
				}
			}
		}
	}
	entries := make([]*entry[T], 0, len(found))
	for e := range found {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *entry[T]) int { return a.seq - b.seq })
	ids := make([]T, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids
}

// QueryRadius 查询包围盒与以p为中心、边长2r的正方形相交的对象
func (g *Grid[T]) QueryRadius(p orb.Point, r float64) []T {
	return g.QueryBox(p.Bound().Pad(r))
}

// Nearest 在以p为中心、边长2r的正方形内查询距离p最近的对象
// 参数：p-查询点，r-正方形半边长，distance-对象到p的距离函数
// 返回：最近的对象与是否找到
// 说明：候选集合即QueryRadius的结果，正方形角落处距离大于r的对象同样有效，距离相同时取先插入者
func (g *Grid[T]) Nearest(p orb.Point, r float64, distance func(T) float64) (best T, ok bool) {
	bestD := math.Inf(1)
	for _, id := range g.QueryRadius(p, r) {
		if d := distance(id); d < bestD {
			best, bestD, ok = id, d, true
		}
	}
	return
}
