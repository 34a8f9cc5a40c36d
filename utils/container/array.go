package container

import (
	"sync"
)

// IIncrementalItem 记录自身在增量数组中下标的元素
type IIncrementalItem interface {
	Index() int
	SetIndex(index int)
}

// IncrementalItemBase 可嵌入的IIncrementalItem实现
type IncrementalItemBase struct {
	index int
}

func (b *IncrementalItemBase) Index() int {
	return b.index
}

func (b *IncrementalItemBase) SetIndex(index int) {
	b.index = index
}

// IncrementalArray 增量数组
// 功能：Update阶段并发登记增删，Prepare阶段统一生效，用于维护在途车辆与行人
type IncrementalArray[T IIncrementalItem] struct {
	data        []T
	add         []T // 待添加
	remove      []T // 待删除
	addMutex    sync.Mutex
	removeMutex sync.Mutex
}

func NewIncrementalArray[T IIncrementalItem]() *IncrementalArray[T] {
	return &IncrementalArray[T]{}
}

// Len 已生效的元素数
func (a *IncrementalArray[T]) Len() int {
	return len(a.data)
}

// Data 已生效的元素，调用方不应修改
func (a *IncrementalArray[T]) Data() []T {
	return a.data
}

// Add 登记添加，Prepare时生效
func (a *IncrementalArray[T]) Add(value T) {
	a.addMutex.Lock()
	defer a.addMutex.Unlock()
	a.add = append(a.add, value)
}

// Remove 登记删除，Prepare时生效
func (a *IncrementalArray[T]) Remove(value T) {
	a.removeMutex.Lock()
	defer a.removeMutex.Unlock()
	a.remove = append(a.remove, value)
}

// Prepare 执行增量操作
// 算法说明：
// 1. 待删除元素的位置优先由待添加元素填充
// 2. 添加有剩余时追加到末尾
// 3. 删除有剩余时用末尾未被删除的元素填充空位，再截断
// 说明：元素顺序不保持，同一元素在一次Prepare中只能Remove一次
func (a *IncrementalArray[T]) Prepare() {
	n := min(len(a.add), len(a.remove))
	for i := 0; i < n; i++ {
		ind := a.remove[i].Index()
		a.data[ind] = a.add[i]
		a.data[ind].SetIndex(ind)
	}
	for _, x := range a.add[n:] {
		x.SetIndex(len(a.data))
		a.data = append(a.data, x)
	}
	if rest := a.remove[n:]; len(rest) > 0 {
		newLen := len(a.data) - len(rest)
		removed := make(map[int]struct{}, len(rest))
		for _, x := range rest {
			removed[x.Index()] = struct{}{}
		}
		tail := len(a.data) - 1
		for _, x := range rest {
			ind := x.Index()
			if ind >= newLen {
				continue
			}
			// 末尾的元素也可能正在被删除
			for {
				if _, ok := removed[tail]; !ok {
					break
				}
				tail--
			}
			a.data[ind] = a.data[tail]
			a.data[ind].SetIndex(ind)
			tail--
		}
		clear(a.data[newLen:])
		a.data = a.data[:newLen]
	}

	a.add = a.add[:0]
	a.remove = a.remove[:0]
}
