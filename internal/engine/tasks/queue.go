package tasks

import "container/heap"

// task is one scheduled unit of work.
type task struct {
	id         string
	work       Work
	onComplete func(Result)
	priority   int
	hint       Hint
	seq        uint64
}

// pendingQueue orders tasks by ascending priority, FIFO within a priority.
type pendingQueue []*task

func (q pendingQueue) Len() int { return len(q) }

func (q pendingQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q pendingQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *pendingQueue) Push(x any) { *q = append(*q, x.(*task)) }

func (q *pendingQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}

func (q *pendingQueue) push(t *task) { heap.Push(q, t) }

func (q *pendingQueue) pop() *task { return heap.Pop(q).(*task) }
