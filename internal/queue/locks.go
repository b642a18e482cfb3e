package queue

import "sync"

// lockRegistry hands out one mutex per queue id so that position-mutating
// operations on the same queue serialize while different queues proceed in
// parallel. Entries are never evicted; a queue's mutex is a few words and the
// id space is bounded by the number of queues ever touched by this process.
type lockRegistry struct {
	locks sync.Map
}

func (r *lockRegistry) forQueue(queueID string) *sync.Mutex {
	if existing, ok := r.locks.Load(queueID); ok {
		return existing.(*sync.Mutex)
	}
	created, _ := r.locks.LoadOrStore(queueID, &sync.Mutex{})
	return created.(*sync.Mutex)
}
