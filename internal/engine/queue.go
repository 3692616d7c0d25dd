package engine

// queueItem is one queued submission awaiting dispatch. The sequence number
// is assigned at submission and survives requeueing, so FIFO order within a
// priority level is stable.
type queueItem struct {
	task *liveTask
	seq  uint64
}

// taskQueue is a max-heap ordered by priority descending, breaking ties by
// submission sequence ascending. Used with container/heap under the engine
// mutex.
type taskQueue []*queueItem

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].task.priority != q[j].task.priority {
		return q[i].task.priority > q[j].task.priority
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
}

func (q *taskQueue) Push(x any) {
	*q = append(*q, x.(*queueItem))
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}
