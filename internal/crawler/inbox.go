package crawler

import (
	"container/heap"
	"context"
	"sync"

	"rccrawler/internal/models"
)

// Priority orders an inbox. Lower values are handled first.
type Priority int

const (
	PriorityDefault Priority = 0
	PriorityRetry   Priority = 1
	PriorityStopper Priority = 20
)

type message struct {
	priority Priority
	seq      uint64
	// nil for the stopper
	target *models.Target
}

type messageHeap []message

func (h messageHeap) Len() int { return len(h) }
func (h messageHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h messageHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *messageHeap) Push(x any)   { *h = append(*h, x.(message)) }
func (h *messageHeap) Pop() any {
	old := *h
	n := len(old)
	m := old[n-1]
	*h = old[:n-1]
	return m
}

// Inbox is an unbounded priority queue of targets, FIFO within a priority
type Inbox struct {
	mu     sync.Mutex
	items  messageHeap
	seq    uint64
	notify chan struct{}
}

func NewInbox() *Inbox {
	return &Inbox{notify: make(chan struct{}, 1)}
}

// Put enqueues target. A nil target is a stopper.
func (in *Inbox) Put(p Priority, target *models.Target) {
	in.mu.Lock()
	in.seq++
	heap.Push(&in.items, message{priority: p, seq: in.seq, target: target})
	in.mu.Unlock()

	select {
	case in.notify <- struct{}{}:
	default:
	}
}

// Get blocks until a message is available or ctx is done. A done ctx wins
// over queued messages.
func (in *Inbox) Get(ctx context.Context) (Priority, *models.Target, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}
		in.mu.Lock()
		if len(in.items) > 0 {
			m := heap.Pop(&in.items).(message)
			in.mu.Unlock()
			return m.priority, m.target, nil
		}
		in.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		case <-in.notify:
		}
	}
}

// Len returns the number of queued messages
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.items)
}
