package container_test

import (
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/container"
)

type item struct {
	container.IncrementalItemBase
	id int
}

func newItems(n int) []*item {
	return lo.Times(n, func(i int) *item { return &item{id: i} })
}

func checkIndexes(t *testing.T, a *container.IncrementalArray[*item]) {
	for i, x := range a.Data() {
		assert.Equal(t, i, x.Index())
	}
}

func ids(a *container.IncrementalArray[*item]) []int {
	return lo.Map(a.Data(), func(x *item, _ int) int { return x.id })
}

func TestIncrementalArrayAdd(t *testing.T) {
	a := container.NewIncrementalArray[*item]()
	for _, x := range newItems(5) {
		a.Add(x)
	}
	assert.Equal(t, 0, a.Len())
	a.Prepare()
	assert.Equal(t, 5, a.Len())
	checkIndexes(t, a)
}

func TestIncrementalArrayReplace(t *testing.T) {
	a := container.NewIncrementalArray[*item]()
	xs := newItems(5)
	for _, x := range xs {
		a.Add(x)
	}
	a.Prepare()
	a.Remove(xs[1])
	a.Add(&item{id: 10})
	a.Add(&item{id: 11})
	a.Prepare()
	assert.ElementsMatch(t, []int{0, 10, 2, 3, 4, 11}, ids(a))
	checkIndexes(t, a)
}

func TestIncrementalArrayRemoveTail(t *testing.T) {
	a := container.NewIncrementalArray[*item]()
	xs := newItems(6)
	for _, x := range xs {
		a.Add(x)
	}
	a.Prepare()
	// 末尾的元素同时被删除时不能用来填充空位
	a.Remove(xs[0])
	a.Remove(xs[5])
	a.Remove(xs[4])
	a.Remove(xs[2])
	a.Prepare()
	assert.ElementsMatch(t, []int{1, 3}, ids(a))
	checkIndexes(t, a)

	a.Remove(xs[1])
	a.Remove(xs[3])
	a.Prepare()
	assert.Zero(t, a.Len())
}
