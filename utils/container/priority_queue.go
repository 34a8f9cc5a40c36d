package container

import "container/heap"

type pqEntry[T any] struct {
	value    T
	priority float64
	seq      int // 插入序号，优先级相同时先插入者优先
}

type pqHeap[T any] []pqEntry[T]

func (h pqHeap[T]) Len() int { return len(h) }
func (h pqHeap[T]) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h pqHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *pqHeap[T]) Push(x any)   { *h = append(*h, x.(pqEntry[T])) }
func (h *pqHeap[T]) Pop() any {
	old := *h
	n := len(old) - 1
	e := old[n]
	old[n] = pqEntry[T]{}
	*h = old[:n]
	return e
}

// PriorityQueue 最小堆，优先级数值越小越先弹出，同优先级按插入顺序弹出
// 用法：批量Push后调用一次Heapify，之后使用HeapPush/HeapPop
type PriorityQueue[T any] struct {
	h   pqHeap[T]
	seq int
}

func NewPriorityQueue[T any]() *PriorityQueue[T] {
	return &PriorityQueue[T]{}
}

func (q *PriorityQueue[T]) Len() int {
	return len(q.h)
}

// First 堆顶元素，队列为空时panic
func (q *PriorityQueue[T]) First() T {
	return q.h[0].value
}

// Push 追加元素但不维护堆，需要随后调用Heapify
func (q *PriorityQueue[T]) Push(value T, priority float64) {
	q.h = append(q.h, pqEntry[T]{value: value, priority: priority, seq: q.seq})
	q.seq++
}

func (q *PriorityQueue[T]) Heapify() {
	heap.Init(&q.h)
}

func (q *PriorityQueue[T]) HeapPush(value T, priority float64) {
	heap.Push(&q.h, pqEntry[T]{value: value, priority: priority, seq: q.seq})
	q.seq++
}

func (q *PriorityQueue[T]) HeapPop() (value T, priority float64) {
	e := heap.Pop(&q.h).(pqEntry[T])
	return e.value, e.priority
}
