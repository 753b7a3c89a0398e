package keeper

import "sync"

// Queue is a deduplicated FIFO of plan ids awaiting an execution attempt.
// The push listener, both poll loops and the retry requeue path all enqueue
// concurrently, so every operation takes the lock.
//
// A plan's position is a discovery-time artifact only — there is no priority.
type Queue struct {
	mu      sync.Mutex
	ids     []string
	present map[string]struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{present: make(map[string]struct{})}
}

// Enqueue appends the id unless it is already queued.
// Returns true if the id was added.
func (q *Queue) Enqueue(id string) bool {
	if id == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.present[id]; ok {
		return false
	}
	q.present[id] = struct{}{}
	q.ids = append(q.ids, id)
	return true
}

// Contains reports whether the id is currently queued.
func (q *Queue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.present[id]
	return ok
}

// Remove deletes the id from the queue if present.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.present[id]; !ok {
		return false
	}
	delete(q.present, id)
	for i, qid := range q.ids {
		if qid == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			break
		}
	}
	return true
}

// DequeueBatch removes and returns up to maxN ids in FIFO order.
func (q *Queue) DequeueBatch(maxN int) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := maxN
	if n > len(q.ids) {
		n = len(q.ids)
	}
	if n <= 0 {
		return nil
	}

	batch := make([]string, n)
	copy(batch, q.ids[:n])
	q.ids = q.ids[n:]
	for _, id := range batch {
		delete(q.present, id)
	}
	return batch
}

// Len returns the number of queued ids.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}
