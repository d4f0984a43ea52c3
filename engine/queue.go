package engine

import "sync"

// Queue is a FIFO queue of task ids.
type Queue struct {
	mu  sync.Mutex
	ids []string
}

// NewQueue creates a new empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends id to the back of the queue.
func (q *Queue) Enqueue(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
}

// Requeue puts ids back at the front of the queue in order.
func (q *Queue) Requeue(ids []string) {
	if len(ids) < 1 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(append(make([]string, 0, len(ids)+len(q.ids)), ids...), q.ids...)
}

// Drain removes and returns every queued id in order.
func (q *Queue) Drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := q.ids
	q.ids = nil
	return ids
}

// Len returns the number of queued ids.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}
