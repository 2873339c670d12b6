package playback

import (
	"sync"
)

// Queue is the ordered hand-off between the transport's reorder flush and
// the playback callback. Each item is a compressed payload followed by one
// volume byte. There is exactly one producer and one consumer.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  [][]byte
	closed bool
	paused bool
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends a batch under a single lock and wakes the consumer once.
// Items pushed after Close are discarded.
func (q *Queue) Push(items ...[]byte) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, items...)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Next blocks while the queue is empty. Once woken it pops and returns the
// oldest item if more than one is queued; a single item is kept back as
// lookahead and nil is returned. waited reports whether the call blocked.
// Next returns nil without blocking while the queue is paused or closed.
func (q *Queue) Next() (item []byte, waited bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed && !q.paused {
		waited = true
		q.cond.Wait()
	}
	if q.closed || q.paused || len(q.items) <= 1 {
		return nil, waited
	}

	item = q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return item, waited
}

// Pause releases a consumer blocked in Next and keeps later calls from
// blocking until Resume. Queued items are kept.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Resume undoes Pause.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
}

// Close discards queued items, releases any waiting consumer and makes
// future pushes no-ops.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.cond.Broadcast()
}
