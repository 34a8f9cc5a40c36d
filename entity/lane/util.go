package lane

import (
	"sync"

	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/container"
)

// laneList 车道上的人车链表
// 说明：Update阶段的增删先写入缓冲区，在prepare阶段统一生效，链表本身只在prepare阶段修改
type laneList[T container.IHasVAndLength, E any] struct {
	list *container.List[T, E]

	addBuffer      []*container.ListNode[T, E]
	addBufferMutex sync.Mutex

	removeBuffer      []*container.ListNode[T, E]
	removeBufferMutex sync.Mutex
}

func newLaneList[T container.IHasVAndLength, E any](id string) laneList[T, E] {
	return laneList[T, E]{list: &container.List[T, E]{ID: id}}
}

// prepare 先删除、再把位置倒序的节点取出与新增节点一起归并回链表
func (l *laneList[T, E]) prepare() {
	if l.list == nil {
		return
	}
	for _, node := range l.removeBuffer {
		l.list.Remove(node)
	}
	unsorted := l.list.PopUnsorted()
	l.list.Merge(append(l.addBuffer, unsorted...))
	clear(l.removeBuffer)
	clear(l.addBuffer)
	l.removeBuffer = l.removeBuffer[:0]
	l.addBuffer = l.addBuffer[:0]
}

func (l *laneList[T, E]) add(node *container.ListNode[T, E]) {
	if node.Parent() != nil {
		log.Panicf("add node %v who has parent", node)
	}
	l.addBufferMutex.Lock()
	defer l.addBufferMutex.Unlock()
	l.addBuffer = append(l.addBuffer, node)
}

func (l *laneList[T, E]) remove(node *container.ListNode[T, E]) {
	if node.Parent() != l.list {
		log.Panicf("remove node %v (parent=%v) from wrong list %v", node, node.Parent(), l.list)
	}
	l.removeBufferMutex.Lock()
	defer l.removeBufferMutex.Unlock()
	l.removeBuffer = append(l.removeBuffer, node)
}
