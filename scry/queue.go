package scry

import (
	"sort"
	"sync"
)

type entry struct {
	seq uint64
	ev  Event
}

// queue is the shared FIFO. Entries carry a monotonically increasing
// sequence number so a waiter can resume scanning after the last entry it
// examined; entries it skipped stay in place for the others.
type queue struct {
	mu       sync.Mutex
	items    []entry
	seq      uint64
	capacity int
	changed  chan struct{}
}

func newQueue(capacity int) *queue {
	return &queue{capacity: capacity, changed: make(chan struct{})}
}

// push appends ev and wakes every waiter. When the queue is at capacity the
// oldest entry is evicted and returned.
func (q *queue) push(ev Event) (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var (
		evicted Event
		full    bool
	)
	if q.capacity > 0 && len(q.items) >= q.capacity {
		evicted, full = q.items[0].ev, true
		q.items = q.items[1:]
	}
	q.seq++
	q.items = append(q.items, entry{seq: q.seq, ev: ev})
	close(q.changed)
	q.changed = make(chan struct{})
	return evicted, full
}

// since returns the entries after cursor and a channel closed on the next
// push.
func (q *queue) since(cursor uint64) ([]entry, <-chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := sort.Search(len(q.items), func(i int) bool { return q.items[i].seq > cursor })
	out := make([]entry, len(q.items)-i)
	copy(out, q.items[i:])
	return out, q.changed
}

// take removes the entry with seq, reporting false if another waiter got to
// it first or it was purged.
func (q *queue) take(seq uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := sort.Search(len(q.items), func(i int) bool { return q.items[i].seq >= seq })
	if i == len(q.items) || q.items[i].seq != seq {
		return false
	}
	q.items = append(q.items[:i], q.items[i+1:]...)
	return true
}

// mark is the sequence number of the last push, purged or not.
func (q *queue) mark() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.seq
}

func (q *queue) purge() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
