package download

import (
	"container/heap"
	"time"

	"qce/internal/element"
	"qce/internal/message"
)

// Task 一次资源取数任务。
type Task struct {
	Resource *message.ResourceInfo // 编排器持有的副本
	MsgID    int64
	MsgTime  int64 // 所属消息时间戳，越新优先级越高
	Dest     string

	Attempts     int       // 已消耗的重试次数（首跑不计）
	NextEligible time.Time // 退避后的下次可执行时刻

	order int64 // 入队序号，平局时 FIFO
	index int   // heap 位置
}

// kindRank 用户可见程度：图片最优先，文件殿后。
func kindRank(k element.Kind) int {
	switch k {
	case element.KindImage:
		return 0
	case element.KindVideo, element.KindAudio:
		return 1
	default:
		return 2
	}
}

// less 任务排序：消息越新越先，声明尺寸越小越先（先完成小传输拉高
// 吞吐），图片类先于后台文件类，余下按入队序 FIFO。
func less(a, b *Task) bool {
	if a.MsgTime != b.MsgTime {
		return a.MsgTime > b.MsgTime
	}
	if a.Resource.Size != b.Resource.Size {
		return a.Resource.Size < b.Resource.Size
	}
	ra, rb := kindRank(a.Resource.Kind), kindRank(b.Resource.Kind)
	if ra != rb {
		return ra < rb
	}
	return a.order < b.order
}

// taskQueue 优先级队列，非并发安全，由编排器的单个派发循环消费。
type taskQueue struct {
	items taskHeap
	seq   int64
}

func newTaskQueue() *taskQueue {
	return &taskQueue{}
}

// Push 入队并分配 FIFO 序号。
func (q *taskQueue) Push(t *Task) {
	t.order = q.seq
	q.seq++
	heap.Push(&q.items, t)
}

// Pop 取最高优先级任务，空队列返回 nil。
func (q *taskQueue) Pop() *Task {
	if q.items.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.items).(*Task)
}

// Len returns the number of queued tasks.
func (q *taskQueue) Len() int { return q.items.Len() }

type taskHeap []*Task

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return less(h[i], h[j]) }
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
