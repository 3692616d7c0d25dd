package engine

import (
	"sync"

	"github.com/seantiz/taskforge/internal/model"
)

// subscriberBufferSize is the channel buffer for each progress subscriber.
// Reports are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// ProgressBroker fans per-task progress reports out to subscribers.
// It is safe for concurrent use.
//
// Closed topics are retained as markers so that late subscribers (those
// subscribing after a task finishes) receive a closed channel instead of
// blocking forever. Each marker is a few bytes, which is acceptable for the
// expected task volume.
type ProgressBroker struct {
	mu     sync.Mutex
	topics map[string]*progressTopic
}

type progressTopic struct {
	subs   map[int]chan model.Progress
	nextID int
	closed bool
}

// NewProgressBroker creates a new progress broker.
func NewProgressBroker() *ProgressBroker {
	return &ProgressBroker{
		topics: make(map[string]*progressTopic),
	}
}

// Subscribe returns a channel that receives progress reports for the given
// task and an unsubscribe function. If the task has already finished (Close
// was called), the returned channel is immediately closed.
func (b *ProgressBroker) Subscribe(taskID string) (<-chan model.Progress, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[taskID]
	if !ok {
		t = &progressTopic{subs: make(map[int]chan model.Progress)}
		b.topics[taskID] = t
	}

	ch := make(chan model.Progress, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends a progress report to all subscribers of the given task.
// Reports are dropped for subscribers whose buffers are full.
func (b *ProgressBroker) Publish(taskID string, p model.Progress) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[taskID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- p:
		default:
			// Drop for slow subscribers rather than blocking the body.
		}
	}
}

// Close signals that no more progress will be published for the given task.
// All subscriber channels are closed and future Subscribe calls return a
// closed channel.
func (b *ProgressBroker) Close(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[taskID]
	if !ok {
		// Create a closed marker so late subscribers get a closed channel.
		b.topics[taskID] = &progressTopic{subs: make(map[int]chan model.Progress), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
