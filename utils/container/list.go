package container

import (
	"fmt"
	"log"
	"slices"
)

// IHasVAndLength 链表元素需要提供速度与长度
type IHasVAndLength interface {
	V() float64      // 速度
	Length() float64 // 长度
}

// ListNode 按S升序排列的双向链表节点
// 说明：S为元素在车道上的位置，First为S最小的节点（队尾），Last为S最大的节点（队首）
type ListNode[T IHasVAndLength, E any] struct {
	parent     *List[T, E]
	prev, next *ListNode[T, E]
	S          float64 // 位置
	Value      T       // 主要值
	Extra      E       // 额外信息
}

func (n *ListNode[T, E]) String() string {
	return fmt.Sprintf("Node{Key:%v, Value:%+v, Extra:%+v}", n.S, n.Value, n.Extra)
}

// Prev S更小的相邻节点（后方）
func (n *ListNode[T, E]) Prev() *ListNode[T, E] {
	return n.prev
}

// Next S更大的相邻节点（前方）
func (n *ListNode[T, E]) Next() *ListNode[T, E] {
	return n.next
}

// Parent 节点所在的链表，不在链表中时为nil
func (n *ListNode[T, E]) Parent() *List[T, E] {
	return n.parent
}

// V 节点值的速度
func (n *ListNode[T, E]) V() float64 {
	return n.Value.V()
}

// L 节点值的长度
func (n *ListNode[T, E]) L() float64 {
	return n.Value.Length()
}

// InsertBefore 在节点前插入新节点
func (n *ListNode[T, E]) InsertBefore(add *ListNode[T, E]) {
	if add.parent != nil {
		log.Panic("push back node who already in list")
	}
	add.parent = n.parent
	add.next = n
	add.prev = n.prev
	n.prev = add
	if add.prev != nil {
		add.prev.next = add
	} else {
		add.parent.head = add
	}
	n.parent.length++
}

// InsertAfter 在节点后插入新节点
func (n *ListNode[T, E]) InsertAfter(add *ListNode[T, E]) {
	if add.parent != nil {
		log.Panic("push back node who already in list")
	}
	add.parent = n.parent
	add.prev = n
	add.next = n.next
	n.next = add
	if add.next != nil {
		add.next.prev = add
	} else {
		add.parent.tail = add
	}
	n.parent.length++
}

// List 双向链表
// 功能：存储同一车道上的车辆或行人，按位置S升序排列
type List[T IHasVAndLength, E any] struct {
	ID         string
	head, tail *ListNode[T, E]
	length     int
}

func (l *List[T, E]) String() string {
	return fmt.Sprintf("List{ID:%v}", l.ID)
}

// Keys 按顺序返回所有节点的S
func (l *List[T, E]) Keys() []float64 {
	keys := make([]float64, 0, l.length)
	for node := l.head; node != nil; node = node.next {
		keys = append(keys, node.S)
	}
	return keys
}

// Values 按顺序返回所有节点的值
func (l *List[T, E]) Values() []T {
	values := make([]T, 0, l.length)
	for node := l.head; node != nil; node = node.next {
		values = append(values, node.Value)
	}
	return values
}

// Len 链表长度
func (l *List[T, E]) Len() int {
	return l.length
}

// PushFront 向链表头部插入节点
func (l *List[T, E]) PushFront(add *ListNode[T, E]) {
	if add.parent != nil {
		log.Panic("push back node who already in list")
	}
	add.next = nil
	add.prev = nil
	if l.head == nil {
		add.parent = l
		l.head = add
		l.tail = add
		l.length++
	} else {
		l.head.InsertBefore(add)
	}
}

// PushBack 向链表尾部插入节点
func (l *List[T, E]) PushBack(add *ListNode[T, E]) {
	if add.parent != nil {
		log.Panic("push back node who already in list")
	}
	add.next = nil
	add.prev = nil
	if l.tail == nil {
		add.parent = l
		l.head = add
		l.tail = add
		l.length++
	} else {
		l.tail.InsertAfter(add)
	}
}

// Remove 从链表中移除节点
func (l *List[T, E]) Remove(node *ListNode[T, E]) {
	if node.parent != l {
		log.Panic("remove node from wrong list")
	}
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		l.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		l.tail = node.prev
	}
	node.prev = nil
	node.next = nil
	node.parent = nil
	l.length--
}

// First S最小的节点
func (l *List[T, E]) First() *ListNode[T, E] {
	return l.head
}

// Last S最大的节点
func (l *List[T, E]) Last() *ListNode[T, E] {
	return l.tail
}

// PopUnsorted 移除并返回所有比前驱节点S更小的节点
func (l *List[T, E]) PopUnsorted() (unsorted []*ListNode[T, E]) {
	for node := l.head; node != nil; {
		next := node.next
		if node.prev != nil && node.prev.S > node.S {
			l.Remove(node)
			unsorted = append(unsorted, node)
		}
		node = next
	}
	return unsorted
}

// Merge 批量插入节点并保持升序
func (l *List[T, E]) Merge(adds []*ListNode[T, E]) {
	slices.SortStableFunc(adds, func(a, b *ListNode[T, E]) int {
		switch {
		case a.S < b.S:
			return -1
		case a.S > b.S:
			return 1
		}
		return 0
	})
	node := l.head
	for _, add := range adds {
		for node != nil && node.S < add.S {
			node = node.next
		}
		if node != nil {
			node.InsertBefore(add)
		} else {
			l.PushBack(add)
		}
	}
}

// Around 查找位置s前后最近的节点
// 功能：沿链表从尾部向前遍历，找到S<=s的最后一个节点与S>s的第一个节点
// 参数：s-查询位置，limit-最大遍历步数
// 返回：behind-后方节点（可能为nil），ahead-前方节点（可能为nil），ok-遍历是否在limit步内完成
// 说明：超过limit视为链表链接损坏，返回ok=false且不给出任何节点
func (l *List[T, E]) Around(s float64, limit int) (behind, ahead *ListNode[T, E], ok bool) {
	steps := 0
	for node := l.head; node != nil; node = node.next {
		if steps >= limit {
			return nil, nil, false
		}
		steps++
		if node.S > s {
			return node.prev, node, true
		}
	}
	return l.tail, nil, true
}

// March 从节点出发沿链表单向遍历
// 参数：from-起点（不含），forward-true时向S增大方向，limit-最大遍历步数，fn-返回false时停止
// 返回：遍历是否在limit步内正常结束
func March[T IHasVAndLength, E any](from *ListNode[T, E], forward bool, limit int, fn func(*ListNode[T, E]) bool) bool {
	if from == nil {
		return true
	}
	step := func(n *ListNode[T, E]) *ListNode[T, E] {
		if forward {
			return n.next
		}
		return n.prev
	}
	steps := 0
	for node := step(from); node != nil; node = step(node) {
		if steps >= limit {
			return false
		}
		steps++
		if !fn(node) {
			return true
		}
	}
	return true
}
