package domain

import "container/heap"

// readyTask is a task whose dependencies have completed, tagged with its
// position in the optimized order.
type readyTask struct {
	task *Task
	rank int
}

// readyQueue implements heap.Interface; the lowest rank pops first.
type readyQueue []*readyTask

func (q readyQueue) Len() int { return len(q) }

func (q readyQueue) Less(i, j int) bool { return q[i].rank < q[j].rank }

func (q readyQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

// Push and Pop use pointer receivers because they modify the slice's length.
func (q *readyQueue) Push(x interface{}) {
	*q = append(*q, x.(*readyTask))
}

func (q *readyQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	*q = old[:n-1]
	return item
}

func (q *readyQueue) push(task *Task, rank int) {
	heap.Push(q, &readyTask{task: task, rank: rank})
}

func (q *readyQueue) pop() *Task {
	return heap.Pop(q).(*readyTask).task
}
