package container_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/container"
)

func TestPriorityQueueOrder(t *testing.T) {
	q := container.NewPriorityQueue[string]()
	q.Push("c", 3)
	q.Push("a", -1)
	q.Push("b", 2)
	q.Heapify()
	q.HeapPush("z", 0)

	assert.Equal(t, 4, q.Len())
	assert.Equal(t, "a", q.First())

	var got []string
	for q.Len() > 0 {
		v, _ := q.HeapPop()
		got = append(got, v)
	}
	assert.Equal(t, []string{"a", "z", "b", "c"}, got)
}

func TestPriorityQueueTiesKeepInsertionOrder(t *testing.T) {
	q := container.NewPriorityQueue[int]()
	for i := 0; i < 5; i++ {
		q.Push(i, -1)
	}
	q.Push(9, -2)
	q.Heapify()
	q.HeapPush(7, -1)

	var got []int
	for q.Len() > 0 {
		v, _ := q.HeapPop()
		got = append(got, v)
	}
	assert.Equal(t, []int{9, 0, 1, 2, 3, 4, 7}, got)
}

type arrayItem struct {
	container.IncrementalItemBase
	id int
}

func TestIncrementalArrayPrepare(t *testing.T) {
	a := container.NewIncrementalArray[*arrayItem]()
	items := []*arrayItem{{id: 0}, {id: 1}, {id: 2}}
	for _, it := range items {
		a.Add(it)
	}
	assert.Equal(t, 0, a.Len())
	a.Prepare()
	assert.Equal(t, 3, a.Len())

	a.Remove(items[0])
	a.Prepare()
	assert.Equal(t, 2, a.Len())
	for i, it := range a.Data() {
		assert.Equal(t, i, it.Index())
		assert.NotEqual(t, 0, it.id)
	}
}
